package device

import (
	"errors"
	"strings"
	"testing"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/thermostat"
)

func TestValidateDevice(t *testing.T) {
	valid := func() *Device { return testDevice("a", "Living room", "1") }

	tests := []struct {
		name    string
		mutate  func(*Device)
		wantErr error
	}{
		{"valid", func(*Device) {}, nil},
		{"empty id", func(d *Device) { d.ID = "" }, ErrInvalidDevice},
		{"blank name", func(d *Device) { d.Name = "  " }, ErrInvalidName},
		{"bad slug", func(d *Device) { d.Slug = "Living Room" }, ErrInvalidSlug},
		{"unknown kind", func(d *Device) { d.Kind = "knx" }, ErrInvalidKind},
		{"unparseable address", func(d *Device) { d.Address = "nonsense" }, ErrInvalidAddress},
		{"service without sysid", func(d *Device) { d.Address = "service://192.168.1.20" }, ErrInvalidAddress},
		{"modbus kind on service address", func(d *Device) { d.Kind = thermostat.KindModbusThermostat }, ErrInvalidAddress},
		{"modbus ok", func(d *Device) {
			d.Kind = thermostat.KindModbusThermostat
			d.Address = testModbus
		}, nil},
		{"empty thermostat id", func(d *Device) { d.ThermostatID = "" }, ErrInvalidDevice},
		{"long thermostat id", func(d *Device) { d.ThermostatID = strings.Repeat("1", 17) }, ErrInvalidDevice},
		{"bad host", func(d *Device) { d.Settings.Host = "a b" }, ErrInvalidSettings},
		{"bad health", func(d *Device) { d.HealthStatus = "flaky" }, ErrInvalidHealthStatus},
		{"too much state", func(d *Device) {
			d.State = State{}
			for i := 0; i <= maxStateKeys; i++ {
				d.State[strings.Repeat("k", i+1)] = i
			}
		}, ErrInvalidDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(d)
			err := ValidateDevice(d)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDevice() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDevice() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateDevice(nil); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("ValidateDevice(nil) error = %v", err)
	}
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		host string
		ok   bool
	}{
		{"", true},
		{"192.168.1.50", true},
		{"192.168.1.50:7992", true},
		{"icon.local", true},
		{"[fe80::1]:502", true},
		{"http://icon.local", false},
		{"user@icon.local", false},
		{"icon.local/path", false},
		{"icon local", false},
		{strings.Repeat("a", maxHostLength+1), false},
	}
	for _, tt := range tests {
		err := ValidateSettings(Settings{Host: tt.host})
		if (err == nil) != tt.ok {
			t.Errorf("ValidateSettings(%q) error = %v, want ok=%v", tt.host, err, tt.ok)
		}
	}
}

func TestValidateName(t *testing.T) {
	if err := ValidateName("Living room"); err != nil {
		t.Errorf("ValidateName() error = %v", err)
	}
	if err := ValidateName(strings.Repeat("x", maxNameLength+1)); !errors.Is(err, ErrInvalidName) {
		t.Errorf("long name error = %v", err)
	}
}

func TestValidateSlug(t *testing.T) {
	for _, s := range []string{"living-room", "thermostat-2", "a"} {
		if err := ValidateSlug(s); err != nil {
			t.Errorf("ValidateSlug(%q) error = %v", s, err)
		}
	}
	for _, s := range []string{"", "-lead", "trail-", "a--b", "UPPER", strings.Repeat("a", maxSlugLength+1)} {
		if err := ValidateSlug(s); !errors.Is(err, ErrInvalidSlug) {
			t.Errorf("ValidateSlug(%q) error = %v", s, err)
		}
	}
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Living Room", "living-room"},
		{"Thermostat 2", "thermostat-2"},
		{"kids_room", "kids-room"},
		{"  Fürdőszoba  ", "frdszoba"},
		{"--weird -- name--", "weird-name"},
		{"!!!", "thermostat"},
		{"", "thermostat"},
	}
	for _, tt := range tests {
		if got := GenerateSlug(tt.name); got != tt.want {
			t.Errorf("GenerateSlug(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}

	long := GenerateSlug(strings.Repeat("ab ", 40))
	if len(long) > maxSlugLength || strings.HasSuffix(long, "-") {
		t.Errorf("long slug = %q", long)
	}
	if err := ValidateSlug(long); err != nil {
		t.Errorf("generated slug invalid: %v", err)
	}
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b || len(a) != 36 {
		t.Errorf("GenerateID() = %q, %q", a, b)
	}
}

func TestDeepCopy(t *testing.T) {
	var nilDevice *Device
	if nilDevice.DeepCopy() != nil {
		t.Error("nil DeepCopy should be nil")
	}

	d := testDevice("a", "Living room", "1")
	d.State = State{"range": map[string]any{"min": 5.0}, "list": []any{1, 2}}
	cpy := d.DeepCopy()
	cpy.State["range"].(map[string]any)["min"] = 9.0
	cpy.State["list"].([]any)[0] = 7
	if d.State["range"].(map[string]any)["min"] != 5.0 || d.State["list"].([]any)[0] != 1 {
		t.Error("DeepCopy shares nested values")
	}
}
