package thermostat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/broadcast"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
)

// Sentinel errors.
var (
	ErrModeUnsupported    = errors.New("thermostat: mode not supported")
	ErrModePerThermostat  = errors.New("thermostat: can not set mode per thermostat")
	ErrInvalidMode        = errors.New("thermostat: invalid mode")
	ErrNotInitialized     = errors.New("thermostat: device not initialised")
	ErrAlreadyInitialized = errors.New("thermostat: device already initialised")
	ErrNoStatus           = errors.New("thermostat: no status for thermostat")
	ErrNoConfig           = errors.New("thermostat: controller config unavailable")
)

// Kind selects how a device receives controller results.
type Kind string

const (
	// KindThermostat shares one connection per controller and receives
	// whole-controller results through the broadcaster.
	KindThermostat Kind = "thermostat"

	// KindModbusThermostat is polled per thermostat and has no per-device mode.
	KindModbusThermostat Kind = "modbus_thermostat"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindThermostat || k == KindModbusThermostat
}

// SupportsMode reports whether devices of kind k accept mode commands.
func (k Kind) SupportsMode() bool { return k == KindThermostat }

// Capability names published for every device.
const (
	CapTargetTemperature  = "target_temperature"
	CapMeasureTemperature = "measure_temperature"
	CapMeasureHumidity    = "measure_humidity"
	CapAlarmDew           = "alarm_dew"
	CapThermostatMode     = "thermostat_mode"
	CapEcoMode            = "eco_mode"
	CapParentalLock       = "parental_lock"
)

// Thermostat modes.
const (
	ModeOff  = "off"
	ModeHeat = "heat"
	ModeCool = "cool"
	ModeAuto = "auto"
)

// State is the lifecycle state of a device.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateAvailable
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAvailable:
		return "available"
	case StateUnavailable:
		return "unavailable"
	default:
		return "uninitialized"
	}
}

// RangeOptions bounds a settable capability.
type RangeOptions struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Capabilities is where a device publishes its observable state.
type Capabilities interface {
	SetCapabilityValue(ctx context.Context, name string, value any) error
	SetCapabilityOptions(ctx context.Context, name string, opts RangeOptions) error
	SetAvailable(ctx context.Context) error
	SetUnavailable(ctx context.Context, message string) error
}

// Recorder receives every fresh thermostat record (telemetry).
type Recorder interface {
	RecordThermostat(deviceID string, t ngbs.Thermostat)
}

// Logger is the logging interface used by devices.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// sinkTimeout bounds capability publishing triggered by a result.
const sinkTimeout = 5 * time.Second

// Config describes one paired thermostat.
type Config struct {
	// DeviceID identifies the device towards the platform.
	DeviceID string

	Kind Kind

	// Address is the controller address recorded at pairing.
	Address string

	// ThermostatID is the zone id on the controller.
	ThermostatID string

	// HostOverride replaces the host of Address when set (user setting).
	HostOverride string

	// SettleDelay is the wait before re-reading state after a target
	// change. Zero disables the re-read.
	SettleDelay time.Duration

	Feed         Feed
	Capabilities Capabilities
	Recorder     Recorder
	Logger       Logger
}

// Device keeps one platform device in sync with its thermostat and turns
// capability commands into controller calls.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Commands are serialised; results may arrive concurrently from the
//     poller and from commands of other devices on the same controller.
type Device struct {
	deviceID     string
	kind         Kind
	pairedAddr   string
	thermostatID string
	settleDelay  time.Duration
	feed         Feed
	caps         Capabilities
	recorder     Recorder
	logger       Logger

	// cmdMu serialises commands, settings changes and lifecycle calls.
	cmdMu sync.Mutex

	mu           sync.Mutex
	state        State
	address      string
	hostOverride string
	client       ngbs.Client
	status       *ngbs.Thermostat
	config       *ngbs.ControllerConfig
	unavailable  string
}

// New creates a device. Call Init to connect it.
func New(cfg Config) (*Device, error) {
	if cfg.Feed == nil {
		return nil, fmt.Errorf("thermostat: feed is required")
	}
	if cfg.Capabilities == nil {
		return nil, fmt.Errorf("thermostat: capabilities sink is required")
	}
	if cfg.ThermostatID == "" {
		return nil, fmt.Errorf("thermostat: thermostat id is required")
	}
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("thermostat: unknown kind %q", cfg.Kind)
	}
	if _, err := ngbs.ParseAddress(cfg.Address); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Device{
		deviceID:     cfg.DeviceID,
		kind:         cfg.Kind,
		pairedAddr:   cfg.Address,
		thermostatID: cfg.ThermostatID,
		settleDelay:  cfg.SettleDelay,
		feed:         cfg.Feed,
		caps:         cfg.Capabilities,
		recorder:     cfg.Recorder,
		logger:       logger,
		hostOverride: cfg.HostOverride,
	}, nil
}

// ID returns the device id.
func (d *Device) ID() string { return d.deviceID }

// Kind returns the device kind.
func (d *Device) Kind() Kind { return d.kind }

// ThermostatID returns the zone id on the controller.
func (d *Device) ThermostatID() string { return d.thermostatID }

// State returns the lifecycle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Address returns the address the device is attached to (empty before Init).
func (d *Device) Address() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.address
}

// Status returns the last known thermostat record.
func (d *Device) Status() (ngbs.Thermostat, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == nil {
		return ngbs.Thermostat{}, false
	}
	return *d.status, true
}

// UnavailableReason returns the message shown while unavailable.
func (d *Device) UnavailableReason() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unavailable
}

// resolveAddress applies a host override to the paired address.
func resolveAddress(paired, host string) (string, error) {
	if host == "" {
		return paired, nil
	}
	return ngbs.ReplaceHost(paired, host)
}

// Init attaches the device to its controller and requests a first state.
// A failing first fetch does not fail Init; it arrives as an error result.
func (d *Device) Init(ctx context.Context) error {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	d.mu.Lock()
	if d.state != StateUninitialized {
		d.mu.Unlock()
		return ErrAlreadyInitialized
	}
	address, err := resolveAddress(d.pairedAddr, d.hostOverride)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.state = StateInitializing
	d.address = address
	d.mu.Unlock()

	d.logger.Info("initialising thermostat", "device_id", d.deviceID, "address", address, "thermostat", d.thermostatID)

	client, err := d.feed.Attach(address, d.thermostatID, d.handleResult)
	if err != nil {
		d.mu.Lock()
		d.state = StateUninitialized
		d.address = ""
		d.mu.Unlock()
		return fmt.Errorf("attaching %s: %w", address, err)
	}

	d.mu.Lock()
	d.client = client
	optimistic := d.state == StateInitializing
	if optimistic {
		d.state = StateAvailable
	}
	d.mu.Unlock()
	if optimistic {
		if err := d.caps.SetAvailable(ctx); err != nil {
			d.logger.Warn("publishing availability", "device_id", d.deviceID, "error", err)
		}
	}

	state, err := client.GetState(ctx, true)
	if err != nil {
		d.logger.Warn("initial state fetch failed", "device_id", d.deviceID, "error", err)
		d.feed.Publish(address, broadcast.Failed(err))
		return nil
	}
	d.feed.Publish(address, broadcast.OK(state))
	d.logger.Info("thermostat initialised", "device_id", d.deviceID)
	return nil
}

// Uninit detaches the device. Results arriving afterwards are ignored.
func (d *Device) Uninit() error {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	d.mu.Lock()
	if d.state == StateUninitialized {
		d.mu.Unlock()
		return nil
	}
	address := d.address
	d.state = StateUninitialized
	d.client = nil
	d.mu.Unlock()

	if address == "" {
		return nil
	}
	if err := d.feed.Detach(address, d.thermostatID); err != nil {
		d.logger.Error("detaching thermostat", "device_id", d.deviceID, "address", address, "error", err)
		return err
	}
	d.logger.Info("thermostat uninitialised", "device_id", d.deviceID)
	return nil
}

// handleResult applies a controller result to the device.
func (d *Device) handleResult(r broadcast.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateUninitialized {
		return
	}
	if r.Failed() {
		d.markUnavailableLocked(ctx, r.Err.Message)
		return
	}
	if r.State == nil {
		return
	}
	if r.State.Config != nil {
		cfg := *r.State.Config
		d.config = &cfg
	}
	t, ok := r.State.Thermostat(d.thermostatID)
	if !ok {
		missing := ngbs.NewError(ngbs.CodeThermostatMissing,
			fmt.Errorf("%w: %s", ngbs.ErrThermostatNotFound, d.thermostatID))
		d.markUnavailableLocked(ctx, missing.Message)
		return
	}

	// A result can land between Attach and the optimistic switch in Init.
	// Every transition into Available publishes, so Init never skips it.
	if d.state != StateAvailable {
		d.state = StateAvailable
		d.unavailable = ""
		if err := d.caps.SetAvailable(ctx); err != nil {
			d.logger.Warn("publishing availability", "device_id", d.deviceID, "error", err)
		}
	}

	for _, u := range diffStatus(d.status, t) {
		var err error
		if u.options != nil {
			err = d.caps.SetCapabilityOptions(ctx, u.name, *u.options)
		} else {
			err = d.caps.SetCapabilityValue(ctx, u.name, u.value)
		}
		if err != nil {
			d.logger.Warn("publishing capability", "device_id", d.deviceID, "capability", u.name, "error", err)
		}
	}
	d.status = &t

	if d.recorder != nil {
		d.recorder.RecordThermostat(d.deviceID, t)
	}
}

func (d *Device) markUnavailableLocked(ctx context.Context, message string) {
	if d.state == StateUnavailable {
		return
	}
	d.state = StateUnavailable
	d.unavailable = message
	d.logger.Warn("thermostat unavailable", "device_id", d.deviceID, "reason", message)
	if err := d.caps.SetUnavailable(ctx, message); err != nil {
		d.logger.Warn("publishing availability", "device_id", d.deviceID, "error", err)
	}
}

// capabilityUpdate is one pending sink call.
type capabilityUpdate struct {
	name    string
	value   any
	options *RangeOptions
}

// ModeOf derives the platform mode from the valve and cooling flags.
func ModeOf(t ngbs.Thermostat) string {
	switch {
	case !t.Valve:
		return ModeOff
	case t.Cooling:
		return ModeCool
	default:
		return ModeHeat
	}
}

func rangeOf(t ngbs.Thermostat) RangeOptions {
	return RangeOptions{Min: t.Midpoint - t.Limit, Max: t.Midpoint + t.Limit}
}

// diffStatus lists the capability updates needed to go from prev to next.
// A nil prev yields every capability. Humidity is compared rounded.
func diffStatus(prev *ngbs.Thermostat, next ngbs.Thermostat) []capabilityUpdate {
	var out []capabilityUpdate
	first := prev == nil
	if first {
		prev = &ngbs.Thermostat{}
	}

	if first || prev.Target != next.Target {
		out = append(out, capabilityUpdate{name: CapTargetTemperature, value: next.Target})
	}
	if first || prev.Temperature != next.Temperature {
		out = append(out, capabilityUpdate{name: CapMeasureTemperature, value: next.Temperature})
	}
	if h := math.Round(next.Humidity); first || math.Round(prev.Humidity) != h {
		out = append(out, capabilityUpdate{name: CapMeasureHumidity, value: h})
	}
	if first || prev.DewProtection != next.DewProtection {
		out = append(out, capabilityUpdate{name: CapAlarmDew, value: next.DewProtection})
	}
	if m := ModeOf(next); first || ModeOf(*prev) != m {
		out = append(out, capabilityUpdate{name: CapThermostatMode, value: m})
	}
	if r := rangeOf(next); first || rangeOf(*prev) != r {
		out = append(out, capabilityUpdate{name: CapTargetTemperature, options: &r})
	}
	if first || prev.Eco != next.Eco {
		out = append(out, capabilityUpdate{name: CapEcoMode, value: next.Eco})
	}
	if first || prev.ParentalLock != next.ParentalLock {
		out = append(out, capabilityUpdate{name: CapParentalLock, value: next.ParentalLock})
	}
	return out
}

// session returns the client and address for a command.
func (d *Device) session() (ngbs.Client, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil || d.state == StateUninitialized || d.state == StateInitializing {
		return nil, "", ErrNotInitialized
	}
	return d.client, d.address, nil
}

// SetTarget sets the target temperature. With a settle delay configured,
// the state is re-read after the delay so the valve change is observed.
func (d *Device) SetTarget(ctx context.Context, target float64) error {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	client, address, err := d.session()
	if err != nil {
		return err
	}
	d.logger.Info("setting target temperature", "device_id", d.deviceID, "target", target)

	state, err := client.SetThermostatTarget(ctx, d.thermostatID, target)
	if err != nil {
		return ngbs.AsError(err)
	}
	d.feed.Publish(address, broadcast.OK(state))

	if d.settleDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(d.settleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	state, err = client.GetState(ctx, false)
	if err != nil {
		return ngbs.AsError(err)
	}
	d.feed.Publish(address, broadcast.OK(state))
	return nil
}

// SetEco switches eco mode.
func (d *Device) SetEco(ctx context.Context, eco bool) error {
	return d.command(ctx, "setting eco mode", eco, func(c ngbs.Client) (*ngbs.State, error) {
		return c.SetThermostatEco(ctx, d.thermostatID, eco)
	})
}

// SetParentalLock switches the parental lock.
func (d *Device) SetParentalLock(ctx context.Context, lock bool) error {
	return d.command(ctx, "setting parental lock", lock, func(c ngbs.Client) (*ngbs.State, error) {
		return c.SetThermostatParentalLock(ctx, d.thermostatID, lock)
	})
}

func (d *Device) command(ctx context.Context, what string, value any, call func(ngbs.Client) (*ngbs.State, error)) error {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	client, address, err := d.session()
	if err != nil {
		return err
	}
	d.logger.Info(what, "device_id", d.deviceID, "value", value)

	state, err := call(client)
	if err != nil {
		return ngbs.AsError(err)
	}
	d.feed.Publish(address, broadcast.OK(state))
	return nil
}

// SetMode switches between off, heat and cool by adjusting the cooling
// flag and, when needed, moving the target past the current temperature
// by the controller hysteresis so the valve follows.
func (d *Device) SetMode(ctx context.Context, mode string) error {
	if !d.kind.SupportsMode() {
		return ErrModePerThermostat
	}
	switch mode {
	case ModeOff, ModeHeat, ModeCool:
	case ModeAuto:
		return fmt.Errorf("%w: %s", ErrModeUnsupported, mode)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	client, address, err := d.session()
	if err != nil {
		return err
	}
	d.logger.Info("setting mode", "device_id", d.deviceID, "mode", mode)

	status, hysteresis, err := d.modeInputs(ctx, client, address)
	if err != nil {
		return err
	}

	var last *ngbs.State
	switch mode {
	case ModeOff:
		if !status.Valve {
			return nil
		}
		last, err = client.SetThermostatTarget(ctx, d.thermostatID, offTarget(status, hysteresis))
		if err != nil {
			return ngbs.AsError(err)
		}

	case ModeHeat, ModeCool:
		cooling := mode == ModeCool
		if status.Cooling != cooling {
			last, err = client.SetThermostatCooling(ctx, d.thermostatID, cooling)
			if err != nil {
				return ngbs.AsError(err)
			}
			if t, ok := last.Thermostat(d.thermostatID); ok {
				status = t
			} else {
				status.Cooling = cooling
			}
		}
		if !status.Valve && wrongSide(status, cooling) {
			last, err = client.SetThermostatTarget(ctx, d.thermostatID, activateTarget(status, hysteresis))
			if err != nil {
				if last != nil {
					d.feed.Publish(address, broadcast.OK(last))
				}
				return ngbs.AsError(err)
			}
		}
	}

	if last != nil {
		d.feed.Publish(address, broadcast.OK(last))
	}
	return nil
}

// modeInputs returns the current status and hysteresis, fetching state
// with config first when either is unknown.
func (d *Device) modeInputs(ctx context.Context, client ngbs.Client, address string) (ngbs.Thermostat, float64, error) {
	d.mu.Lock()
	known := d.status != nil && d.config != nil
	d.mu.Unlock()

	if !known {
		state, err := client.GetState(ctx, true)
		if err != nil {
			return ngbs.Thermostat{}, 0, ngbs.AsError(err)
		}
		d.feed.Publish(address, broadcast.OK(state))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == nil {
		return ngbs.Thermostat{}, 0, ErrNoStatus
	}
	if d.config == nil {
		return ngbs.Thermostat{}, 0, ErrNoConfig
	}
	return *d.status, d.config.Hysteresis, nil
}

// offTarget moves the target just past the current temperature so the
// valve closes: up for cooling, down for heating, on half degrees.
func offTarget(t ngbs.Thermostat, hysteresis float64) float64 {
	if t.Cooling {
		return math.Ceil((t.Temperature+hysteresis)*2) / 2
	}
	return math.Floor((t.Temperature-hysteresis)*2) / 2
}

// activateTarget moves the target past the current temperature so the
// valve opens. The rounding is not the mirror of offTarget; controllers
// in the field depend on it.
func activateTarget(t ngbs.Thermostat, hysteresis float64) float64 {
	if t.Cooling {
		return math.Ceil((t.Temperature-hysteresis)*2) / 2
	}
	return math.Floor((t.Temperature+hysteresis)*2) / 2
}

// wrongSide reports whether the current temperature keeps the valve closed
// for the requested direction.
func wrongSide(t ngbs.Thermostat, cooling bool) bool {
	if cooling {
		return t.Temperature <= t.Target
	}
	return t.Temperature >= t.Target
}

// OnSettings moves the device to host. The new address is probed first;
// on failure the current connection and subscription stay untouched.
func (d *Device) OnSettings(ctx context.Context, host string) error {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	d.mu.Lock()
	if d.state == StateUninitialized {
		d.hostOverride = host
		d.mu.Unlock()
		return nil
	}
	oldAddress := d.address
	d.mu.Unlock()

	newAddress, err := resolveAddress(d.pairedAddr, host)
	if err != nil {
		d.logger.Error("invalid address setting", "device_id", d.deviceID, "host", host, "error", err)
		return err
	}
	if newAddress == oldAddress {
		d.mu.Lock()
		d.hostOverride = host
		d.mu.Unlock()
		return nil
	}

	state, err := d.feed.Probe(ctx, newAddress)
	if err != nil {
		d.logger.Error("new address rejected", "device_id", d.deviceID, "address", newAddress, "error", err)
		return ngbs.AsError(err)
	}
	if _, ok := state.Thermostat(d.thermostatID); !ok {
		err := ngbs.NewError(ngbs.CodeThermostatMissing,
			fmt.Errorf("%w: %s at %s", ngbs.ErrThermostatNotFound, d.thermostatID, newAddress))
		d.logger.Error("new address rejected", "device_id", d.deviceID, "address", newAddress, "error", err)
		return err
	}

	client, err := d.feed.Attach(newAddress, d.thermostatID, d.handleResult)
	if err != nil {
		d.logger.Error("attaching new address", "device_id", d.deviceID, "address", newAddress, "error", err)
		return err
	}
	if err := d.feed.Detach(oldAddress, d.thermostatID); err != nil {
		d.logger.Error("detaching old address", "device_id", d.deviceID, "address", oldAddress, "error", err)
	}

	d.mu.Lock()
	d.address = newAddress
	d.client = client
	d.hostOverride = host
	d.mu.Unlock()

	d.logger.Info("thermostat moved", "device_id", d.deviceID, "from", oldAddress, "to", newAddress)
	d.feed.Publish(newAddress, broadcast.OK(state))
	return nil
}
