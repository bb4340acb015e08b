package ngbs

import (
	"context"
	"time"
)

// Thermostat is the status record of one climate zone served by a controller.
type Thermostat struct {
	ID            string  `json:"id"`
	Name          string  `json:"name,omitempty"`
	Temperature   float64 `json:"temperature"`
	Humidity      float64 `json:"humidity"`
	Target        float64 `json:"target"`
	Valve         bool    `json:"valve"`
	Cooling       bool    `json:"cooling"`
	Eco           bool    `json:"eco"`
	ParentalLock  bool    `json:"parental_lock"`
	DewProtection bool    `json:"dew_protection"`
	Midpoint      float64 `json:"midpoint"`
	Limit         float64 `json:"limit"`
}

// ControllerConfig is the controller identity and tunables block.
// It changes rarely and is only included in a State when explicitly requested.
type ControllerConfig struct {
	SysID      string  `json:"sysid"`
	Hysteresis float64 `json:"hysteresis"`
	Version    string  `json:"version,omitempty"`
}

// State is a snapshot of a controller.
type State struct {
	// Config is nil unless the fetch included the config block.
	Config      *ControllerConfig `json:"config,omitempty"`
	Thermostats []Thermostat      `json:"thermostats"`
}

// Thermostat returns the record with the given id.
func (s *State) Thermostat(id string) (Thermostat, bool) {
	if s == nil {
		return Thermostat{}, false
	}
	for _, t := range s.Thermostats {
		if t.ID == id {
			return t, true
		}
	}
	return Thermostat{}, false
}

// Client is a connection to one controller.
//
// Every mutating call returns the controller state observed after the write.
// Implementations must be safe for concurrent use.
type Client interface {
	GetState(ctx context.Context, forceConfig bool) (*State, error)
	SetThermostatTarget(ctx context.Context, id string, target float64) (*State, error)
	SetThermostatCooling(ctx context.Context, id string, cooling bool) (*State, error)
	SetThermostatEco(ctx context.Context, id string, eco bool) (*State, error)
	SetThermostatParentalLock(ctx context.Context, id string, lock bool) (*State, error)
	Close() error
}

// Options holds transport defaults used when an address carries no port.
type Options struct {
	ModbusPort  int
	UnitID      byte
	ServicePort int
	Timeout     time.Duration
}

// DefaultOptions returns the factory transport settings of an NGBS Icon controller.
func DefaultOptions() Options {
	return Options{
		ModbusPort:  502,
		UnitID:      1,
		ServicePort: 7992,
		Timeout:     5 * time.Second,
	}
}
