package device

import (
	"time"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/thermostat"
)

// Device is a paired thermostat.
// This matches the devices table in migrations/20260301_090000_paired_devices.up.sql.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`

	// Kind selects the driver: shared service connection or polled Modbus.
	Kind thermostat.Kind `json:"kind"`

	// Address is the controller address recorded at pairing; the host may
	// be overridden by Settings.Host.
	Address      string `json:"address"`
	ThermostatID string `json:"thermostat_id"`

	Settings Settings `json:"settings"`

	// Last published capability values.
	State          State      `json:"state"`
	StateUpdatedAt *time.Time `json:"state_updated_at,omitempty"`

	HealthStatus   HealthStatus `json:"health_status"`
	HealthReason   string       `json:"health_reason,omitempty"`
	HealthLastSeen *time.Time   `json:"health_last_seen,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Settings are the user-editable device settings.
type Settings struct {
	// Host replaces the host (and port) of the paired address.
	Host string `json:"host,omitempty"`
}

// State maps capability names to their last value.
type State map[string]any

// HealthStatus mirrors device availability.
type HealthStatus string

// HealthStatus constants.
const (
	HealthStatusAvailable   HealthStatus = "available"
	HealthStatusUnavailable HealthStatus = "unavailable"
	HealthStatusUnknown     HealthStatus = "unknown"
)

// AllHealthStatuses returns all valid health status values.
func AllHealthStatuses() []HealthStatus {
	return []HealthStatus{HealthStatusAvailable, HealthStatusUnavailable, HealthStatusUnknown}
}

// DeepCopy returns an independent copy of d. The cache hands out copies
// so callers can modify them freely.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.State = deepCopyMap(d.State)
	if d.StateUpdatedAt != nil {
		t := *d.StateUpdatedAt
		cpy.StateUpdatedAt = &t
	}
	if d.HealthLastSeen != nil {
		t := *d.HealthLastSeen
		cpy.HealthLastSeen = &t
	}
	return &cpy
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case State:
		return State(deepCopyMap(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
