package pairing

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultLocale is used when a key is missing from the requested locale.
const DefaultLocale = "en"

//go:embed locales/*.yaml
var localeFS embed.FS

// Catalog holds flattened translation keys per locale.
//
// Thread Safety:
//   - A Catalog is immutable after loading and safe for concurrent use.
type Catalog struct {
	locales map[string]map[string]string
}

// LoadCatalog loads the embedded locale files.
func LoadCatalog() (*Catalog, error) {
	return loadCatalog(localeFS, "locales")
}

func loadCatalog(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading locales: %w", err)
	}
	c := &Catalog{locales: make(map[string]map[string]string)}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading locale %s: %w", e.Name(), err)
		}
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("parsing locale %s: %w", e.Name(), err)
		}
		keys := make(map[string]string)
		flatten("", tree, keys)
		c.locales[strings.TrimSuffix(e.Name(), ".yaml")] = keys
	}
	if _, ok := c.locales[DefaultLocale]; !ok {
		return nil, fmt.Errorf("locale %q missing", DefaultLocale)
	}
	return c, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case string:
			out[key] = val
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// Translate returns the text for key in locale, falling back to the
// default locale. The second result is false when neither has the key.
func (c *Catalog) Translate(locale, key string) (string, bool) {
	if c == nil {
		return "", false
	}
	if s, ok := c.locales[locale][key]; ok && s != "" {
		return s, true
	}
	if s, ok := c.locales[DefaultLocale][key]; ok && s != "" {
		return s, true
	}
	return "", false
}

// Locales returns the loaded locale names, sorted.
func (c *Catalog) Locales() []string {
	out := make([]string, 0, len(c.locales))
	for l := range c.locales {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
