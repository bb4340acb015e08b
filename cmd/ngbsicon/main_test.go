package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/config"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvConfigPath, "")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()
	want := []string{"run", "scan", "pair", "migrate", "version"}
	for _, name := range want {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "ngbsicon "+version) {
		t.Errorf("version output = %q", out)
	}
}

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	_, err := execute(t, "run", "--config", "/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("run should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when the database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
database:
  path: ""
`)
	_, err := execute(t, "run", "--config", path)
	if err == nil {
		t.Fatal("run should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error = %v, want database.path complaint", err)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd) //nolint:errcheck // test cleanup

	t.Run("defaults when optional and absent", func(t *testing.T) {
		o := &rootOptions{logLevel: "debug"}
		cfg, err := o.loadConfig(false)
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
		}
		if cfg.Bridge.ID == "" {
			t.Error("defaults not applied")
		}
	})

	t.Run("required file missing", func(t *testing.T) {
		o := &rootOptions{}
		if _, err := o.loadConfig(true); err == nil {
			t.Error("loadConfig(true) should fail without a file")
		}
	})

	t.Run("explicit path must exist", func(t *testing.T) {
		o := &rootOptions{configPath: filepath.Join(dir, "missing.yaml")}
		if _, err := o.loadConfig(false); err == nil {
			t.Error("loadConfig() should fail for a missing explicit path")
		}
	})

	t.Run("file values", func(t *testing.T) {
		path := writeConfig(t, `
bridge:
  id: test-bridge
locale: hu
`)
		o := &rootOptions{configPath: path}
		cfg, err := o.loadConfig(true)
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Bridge.ID != "test-bridge" || cfg.Locale != "hu" {
			t.Errorf("cfg = %+v", cfg.Bridge)
		}
	})
}

func TestControllerOptions(t *testing.T) {
	opts := controllerOptions(config.ControllersConfig{
		Modbus:  config.ModbusConfig{Port: 5020, UnitID: 3},
		Service: config.ServiceConfig{Port: 8000},
		Timeout: 2 * time.Second,
	})
	if opts.ModbusPort != 5020 || opts.UnitID != 3 || opts.ServicePort != 8000 || opts.Timeout != 2*time.Second {
		t.Errorf("controllerOptions() = %+v", opts)
	}

	defaults := controllerOptions(config.ControllersConfig{})
	if defaults.ModbusPort != 502 || defaults.UnitID != 1 || defaults.ServicePort != 7992 {
		t.Errorf("controllerOptions(zero) = %+v, want factory defaults", defaults)
	}
}

func TestMigrateCmd(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ngbs.db")
	path := writeConfig(t, "database:\n  path: "+dbPath+"\n")

	out, err := execute(t, "migrate", "status", "--config", path)
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("fresh database should list pending migrations, got:\n%s", out)
	}

	if _, err := execute(t, "migrate", "up", "--config", path); err != nil {
		t.Fatalf("migrate up error = %v", err)
	}
	out, err = execute(t, "migrate", "status", "--config", path)
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if !strings.Contains(out, "applied") || strings.Contains(out, "pending") {
		t.Errorf("after up, got:\n%s", out)
	}

	if _, err := execute(t, "migrate", "down", "--config", path); err != nil {
		t.Fatalf("migrate down error = %v", err)
	}
}

func TestPairCmd_RejectsUnknownKind(t *testing.T) {
	_, err := execute(t, "pair", "--kind", "boiler", "--host", "10.0.0.7")
	if err == nil {
		t.Fatal("pair should reject an unknown kind")
	}
}
