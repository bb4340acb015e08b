package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/thermostat"
)

// Validation constants.
const (
	maxNameLength         = 100
	maxSlugLength         = 50
	maxThermostatIDLength = 16
	maxStateKeys          = 32
	maxHostLength         = 253 + len(":65535")
	slugPattern           = `^[a-z0-9]+(?:-[a-z0-9]+)*$`
)

var slugRegex = regexp.MustCompile(slugPattern)

// ValidateDevice checks a device before it is persisted.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidDevice)
	}
	if d.ID == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidDevice)
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if err := ValidateSlug(d.Slug); err != nil {
		return err
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, d.Kind)
	}
	if err := ValidateAddress(d.Kind, d.Address); err != nil {
		return err
	}
	if id := strings.TrimSpace(d.ThermostatID); id == "" || len(id) > maxThermostatIDLength {
		return fmt.Errorf("%w: thermostat id %q", ErrInvalidDevice, d.ThermostatID)
	}
	if err := ValidateSettings(d.Settings); err != nil {
		return err
	}
	if len(d.State) > maxStateKeys {
		return fmt.Errorf("%w: state has %d keys (max %d)", ErrInvalidDevice, len(d.State), maxStateKeys)
	}
	if d.HealthStatus != "" {
		if err := ValidateHealthStatus(d.HealthStatus); err != nil {
			return err
		}
	}
	return nil
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateSlug checks if a slug format is valid.
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("%w: slug cannot be empty", ErrInvalidSlug)
	}
	if len(slug) > maxSlugLength {
		return fmt.Errorf("%w: slug exceeds %d characters", ErrInvalidSlug, maxSlugLength)
	}
	if !slugRegex.MatchString(slug) {
		return fmt.Errorf("%w: slug must be lowercase alphanumeric with hyphens", ErrInvalidSlug)
	}
	return nil
}

// ValidateAddress checks that address parses and that its scheme matches
// the driver: Modbus devices need a modbus-tcp address, service devices a
// service address carrying a system id.
func ValidateAddress(kind thermostat.Kind, address string) error {
	a, err := ngbs.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	switch kind {
	case thermostat.KindModbusThermostat:
		if a.Scheme != ngbs.SchemeModbusTCP {
			return fmt.Errorf("%w: %s needs a %s address", ErrInvalidAddress, kind, ngbs.SchemeModbusTCP)
		}
	case thermostat.KindThermostat:
		if a.Scheme != ngbs.SchemeService {
			return fmt.Errorf("%w: %s needs a %s address", ErrInvalidAddress, kind, ngbs.SchemeService)
		}
		if a.SysID == "" {
			return fmt.Errorf("%w: %q has no system id", ErrInvalidAddress, address)
		}
	}
	return nil
}

// ValidateSettings checks user-editable settings.
func ValidateSettings(s Settings) error {
	host := strings.TrimSpace(s.Host)
	if host == "" {
		return nil
	}
	if len(host) > maxHostLength {
		return fmt.Errorf("%w: host too long", ErrInvalidSettings)
	}
	if strings.ContainsAny(host, " /@?#") {
		return fmt.Errorf("%w: host %q must be a bare host or host:port", ErrInvalidSettings, host)
	}
	return nil
}

// ValidateHealthStatus checks if a health status is valid.
func ValidateHealthStatus(status HealthStatus) error {
	for _, s := range AllHealthStatuses() {
		if s == status {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidHealthStatus, status)
}

// GenerateSlug creates a URL-safe slug from a name.
func GenerateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "_", "-")

	var b strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	slug = strings.Trim(b.String(), "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		slug = "thermostat"
	}
	return slug
}

// GenerateID creates a new UUID for a device.
func GenerateID() string {
	return uuid.New().String()
}
