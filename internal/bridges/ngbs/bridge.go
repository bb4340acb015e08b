package ngbs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/device"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/mqtt"
	icon "github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/thermostat"
)

const (
	// commandTimeout bounds one command, excluding the settle delay.
	commandTimeout = 10 * time.Second

	// initTimeout bounds the first state fetch of a device at start.
	initTimeout = 30 * time.Second
)

// MQTTClient is the MQTT surface the bridge needs. Satisfied by *mqtt.Client.
type MQTTClient interface {
	Topics() mqtt.Topics
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// DeviceStore persists paired devices and their last published state.
// Satisfied by *device.Registry.
type DeviceStore interface {
	ListDevices(ctx context.Context) ([]device.Device, error)
	UpdateSettings(ctx context.Context, id string, settings device.Settings) (*device.Device, error)
	SetDeviceState(ctx context.Context, id string, state device.State) error
	SetDeviceHealth(ctx context.Context, id string, status device.HealthStatus, reason string) error
}

// ConnectionCounter reports live controller clients.
// Satisfied by *clients.Registry.
type ConnectionCounter interface {
	Len() int
}

// Observer receives bridge metrics. Satisfied by *metrics.Metrics.
type Observer interface {
	CommandCompleted(command string, err error)
	SetDeviceAvailable(deviceID string, available bool)
	ForgetDevice(deviceID string)
}

// CommandRecorder stores command outcomes as telemetry.
// Satisfied by *influxdb.Client.
type CommandRecorder interface {
	RecordCommand(deviceID, command, code string, elapsed time.Duration)
}

// Logger is the logging interface used by the bridge and its devices.
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

// Options holds bridge dependencies.
type Options struct {
	BridgeID string
	Version  string

	// HealthInterval between health reports. Default: 30s.
	HealthInterval time.Duration

	// SettleDelay before re-reading state after a target change.
	SettleDelay time.Duration

	MQTTClient MQTTClient
	Store      DeviceStore

	// Feeds selects how devices of each kind receive controller results.
	Feeds map[thermostat.Kind]thermostat.Feed

	// Optional.
	Connections ConnectionCounter
	Recorder    thermostat.Recorder
	Commands    CommandRecorder
	Observer    Observer
	Logger      Logger
}

type managedDevice struct {
	dev    *thermostat.Device
	sink   *capabilitySink
	record device.Device
}

// Bridge runs every paired thermostat and connects it to MQTT:
//   - capability values, options and availability go out retained,
//   - commands come in on {prefix}/command/{device_id} and are acknowledged,
//   - requests on {prefix}/request/{request_id} are answered,
//   - health is reported periodically.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	opts   Options
	topics mqtt.Topics
	health *HealthReporter

	devices   map[string]*managedDevice
	devicesMu sync.RWMutex

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger Logger
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if len(opts.Feeds) == 0 {
		return nil, fmt.Errorf("at least one feed is required")
	}
	if opts.BridgeID == "" {
		opts.BridgeID = "ngbs"
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	b := &Bridge{
		opts:      opts,
		topics:    opts.MQTTClient.Topics(),
		devices:   make(map[string]*managedDevice),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    logger,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Source:    b,
	})
	b.health.SetLogger(logger)
	return b, nil
}

// Start initialises every stored device, subscribes to commands and
// requests, and starts health reporting. A device that fails to
// initialise is logged and skipped.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	b.loadDevices(ctx)

	if err := b.opts.MQTTClient.Subscribe(b.topics.AllCommands(), qosAtLeastOnce, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	if err := b.opts.MQTTClient.Subscribe(b.topics.AllRequests(), qosAtLeastOnce, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logger.Warn("failed to publish health", "error", err)
	}

	managed, _ := b.DeviceCounts()
	b.logger.Info("bridge started", "bridge_id", b.opts.BridgeID, "devices", managed)
	return nil
}

// Stop detaches every device and stops health reporting. In-flight
// commands are cancelled. Retained state stays on the broker.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.wg.Wait()

		b.devicesMu.Lock()
		devices := b.devices
		b.devices = make(map[string]*managedDevice)
		b.devicesMu.Unlock()

		for id, md := range devices {
			if err := md.dev.Uninit(); err != nil {
				b.logger.Error("uninit device", "device_id", id, "error", err)
			}
		}

		b.health.Stop()
		b.logger.Info("bridge stopped")
	})
}

func (b *Bridge) loadDevices(ctx context.Context) {
	devices, err := b.opts.Store.ListDevices(ctx)
	if err != nil {
		b.logger.Error("failed to load devices", "error", err)
		return
	}
	for _, d := range devices {
		initCtx, cancel := context.WithTimeout(ctx, initTimeout)
		err := b.AddDevice(initCtx, d)
		cancel()
		if err != nil {
			b.logger.Error("failed to start device", "device_id", d.ID, "error", err)
		}
	}
}

// AddDevice builds and initialises the controller of a paired device.
// The first state fetch may fail; the device then starts unavailable.
func (b *Bridge) AddDevice(ctx context.Context, d device.Device) error {
	feed, ok := b.opts.Feeds[d.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoFeed, d.Kind)
	}

	b.devicesMu.RLock()
	_, exists := b.devices[d.ID]
	b.devicesMu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrDeviceManaged, d.ID)
	}

	sink := &capabilitySink{
		deviceID: d.ID,
		mqtt:     b.opts.MQTTClient,
		topics:   b.topics,
		store:    b.opts.Store,
		observer: b.opts.Observer,
		now:      func() time.Time { return time.Now().UTC() },
	}
	dev, err := thermostat.New(thermostat.Config{
		DeviceID:     d.ID,
		Kind:         d.Kind,
		Address:      d.Address,
		ThermostatID: d.ThermostatID,
		HostOverride: d.Settings.Host,
		SettleDelay:  b.opts.SettleDelay,
		Feed:         feed,
		Capabilities: sink,
		Recorder:     b.opts.Recorder,
		Logger:       b.logger,
	})
	if err != nil {
		return err
	}
	if err := dev.Init(ctx); err != nil {
		return err
	}

	b.devicesMu.Lock()
	if _, exists := b.devices[d.ID]; exists {
		b.devicesMu.Unlock()
		_ = dev.Uninit()
		return fmt.Errorf("%w: %s", ErrDeviceManaged, d.ID)
	}
	b.devices[d.ID] = &managedDevice{dev: dev, sink: sink, record: d}
	b.devicesMu.Unlock()

	b.logger.Info("device started", "device_id", d.ID, "name", d.Name, "kind", d.Kind)
	return nil
}

// RemoveDevice detaches a device and clears its retained MQTT state.
func (b *Bridge) RemoveDevice(id string) error {
	b.devicesMu.Lock()
	md, ok := b.devices[id]
	delete(b.devices, id)
	b.devicesMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotManaged, id)
	}

	err := md.dev.Uninit()
	if cerr := md.sink.clearRetained(); cerr != nil {
		b.logger.Warn("clearing retained state", "device_id", id, "error", cerr)
	}
	if b.opts.Observer != nil {
		b.opts.Observer.ForgetDevice(id)
	}
	b.logger.Info("device removed", "device_id", id)
	return err
}

// UpdateSettings applies new user settings. A running device first moves
// to the new host; if the controller there does not answer, nothing is
// changed or stored. If storing fails the device moves back.
func (b *Bridge) UpdateSettings(ctx context.Context, id string, settings device.Settings) (*device.Device, error) {
	settings.Host = strings.TrimSpace(settings.Host)
	if err := device.ValidateSettings(settings); err != nil {
		return nil, err
	}

	b.devicesMu.RLock()
	md, ok := b.devices[id]
	var oldHost string
	if ok {
		oldHost = md.record.Settings.Host
	}
	b.devicesMu.RUnlock()
	if ok {
		if err := md.dev.OnSettings(ctx, settings.Host); err != nil {
			return nil, err
		}
	}

	updated, err := b.opts.Store.UpdateSettings(ctx, id, settings)
	if err != nil {
		// The stored host wins on restart, so the running device follows it.
		if ok && oldHost != settings.Host {
			if rbErr := md.dev.OnSettings(ctx, oldHost); rbErr != nil {
				b.logger.Error("restoring previous host", "device_id", id, "host", oldHost, "error", rbErr)
			}
		}
		return nil, err
	}
	if ok {
		b.devicesMu.Lock()
		if cur, still := b.devices[id]; still {
			cur.record = *updated
		}
		b.devicesMu.Unlock()
	}
	return updated, nil
}

func (b *Bridge) managed(id string) (*managedDevice, error) {
	b.devicesMu.RLock()
	defer b.devicesMu.RUnlock()
	md, ok := b.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotManaged, id)
	}
	return md, nil
}

// Execute runs a capability command on a device.
func (b *Bridge) Execute(ctx context.Context, deviceID, command string, params map[string]any) error {
	md, err := b.managed(deviceID)
	if err == nil {
		start := time.Now()
		err = b.execute(ctx, md.dev, command, params)
		b.recordCommand(deviceID, command, err, time.Since(start))
	}
	if err != nil {
		b.logger.Warn("command failed", "device_id", deviceID, "command", command, "error", err)
		return err
	}
	b.logger.Info("command executed", "device_id", deviceID, "command", command)
	return nil
}

func (b *Bridge) execute(ctx context.Context, dev *thermostat.Device, command string, params map[string]any) error {
	switch command {
	case CommandSetTarget:
		target, err := floatParam(params, "target")
		if err != nil {
			return err
		}
		return dev.SetTarget(ctx, target)
	case CommandSetMode:
		mode, err := stringParam(params, "mode")
		if err != nil {
			return err
		}
		return dev.SetMode(ctx, mode)
	case CommandSetEco:
		eco, err := boolParam(params, "eco")
		if err != nil {
			return err
		}
		return dev.SetEco(ctx, eco)
	case CommandSetParentalLock:
		locked, err := boolParam(params, "locked")
		if err != nil {
			return err
		}
		return dev.SetParentalLock(ctx, locked)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
}

func (b *Bridge) recordCommand(deviceID, command string, err error, elapsed time.Duration) {
	if b.opts.Observer != nil {
		b.opts.Observer.CommandCompleted(command, err)
	}
	if b.opts.Commands != nil {
		b.opts.Commands.RecordCommand(deviceID, command, icon.CodeOf(err), elapsed)
	}
}

func floatParam(params map[string]any, key string) (float64, error) {
	switch v := params[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			break
		}
		return v, nil
	case int:
		return float64(v), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q must be a number", ErrInvalidParameters, key)
}

func boolParam(params map[string]any, key string) (bool, error) {
	v, ok := params[key].(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q must be a boolean", ErrInvalidParameters, key)
	}
	return v, nil
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidParameters, key)
	}
	return v, nil
}

// Snapshot returns the live view of a running device.
func (b *Bridge) Snapshot(id string) (DeviceSnapshot, error) {
	md, err := b.managed(id)
	if err != nil {
		return DeviceSnapshot{}, err
	}
	return snapshotOf(md), nil
}

// Snapshots returns the live view of every running device, ordered by id.
func (b *Bridge) Snapshots() []DeviceSnapshot {
	b.devicesMu.RLock()
	out := make([]DeviceSnapshot, 0, len(b.devices))
	for _, md := range b.devices {
		out = append(out, snapshotOf(md))
	}
	b.devicesMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func snapshotOf(md *managedDevice) DeviceSnapshot {
	s := DeviceSnapshot{
		DeviceID:     md.record.ID,
		Kind:         md.dev.Kind(),
		Address:      md.dev.Address(),
		ThermostatID: md.dev.ThermostatID(),
		State:        md.dev.State().String(),
		Reason:       md.dev.UnavailableReason(),
	}
	if t, ok := md.dev.Status(); ok {
		s.Status = map[string]any{
			thermostat.CapTargetTemperature:  t.Target,
			thermostat.CapMeasureTemperature: t.Temperature,
			thermostat.CapMeasureHumidity:    math.Round(t.Humidity),
			thermostat.CapAlarmDew:           t.DewProtection,
			thermostat.CapThermostatMode:     thermostat.ModeOf(t),
			thermostat.CapEcoMode:            t.Eco,
			thermostat.CapParentalLock:       t.ParentalLock,
		}
	}
	return s
}

// DeviceCounts returns the running and the unavailable device count.
func (b *Bridge) DeviceCounts() (managed, unavailable int) {
	b.devicesMu.RLock()
	defer b.devicesMu.RUnlock()
	for _, md := range b.devices {
		if md.dev.State() == thermostat.StateUnavailable {
			unavailable++
		}
	}
	return len(b.devices), unavailable
}

// Connections returns the number of live controller clients.
func (b *Bridge) Connections() int {
	if b.opts.Connections == nil {
		return 0
	}
	return b.opts.Connections.Len()
}

// handleMQTTMessage routes command and request messages. Work runs on its
// own goroutine so a slow controller does not stall the MQTT client.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	category, rest, ok := b.topics.Parse(topic)
	if !ok {
		return fmt.Errorf("invalid topic %q", topic)
	}

	select {
	case <-b.done:
		return nil
	default:
	}

	switch category {
	case mqtt.CategoryCommand:
		var cmd CommandMessage
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("parse command: %w", err)
		}
		if cmd.DeviceID == "" {
			cmd.DeviceID = rest[0]
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleCommand(cmd)
		}()
	case mqtt.CategoryRequest:
		var req RequestMessage
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("parse request: %w", err)
		}
		if req.RequestID == "" {
			req.RequestID = rest[0]
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleRequest(req)
		}()
	default:
		return fmt.Errorf("unexpected message category %q", category)
	}
	return nil
}

func (b *Bridge) handleCommand(cmd CommandMessage) {
	b.logger.Info("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout+b.opts.SettleDelay)
	defer cancel()

	ack := NewAckMessage(cmd)
	if err := b.Execute(ctx, cmd.DeviceID, cmd.Command, cmd.Parameters); err != nil {
		ack = NewAckError(cmd, errorCode(err), errorMessage(err))
	}
	b.publish(b.topics.Ack(cmd.DeviceID), ack)
}

func (b *Bridge) handleRequest(req RequestMessage) {
	b.logger.Info("received request",
		"request_id", req.RequestID,
		"action", req.Action,
		"device_id", req.DeviceID)

	var resp ResponseMessage
	switch req.Action {
	case ActionReadState:
		snap, err := b.Snapshot(req.DeviceID)
		if err != nil {
			resp = newResponseError(req, errorCode(err), err.Error())
			break
		}
		resp = newResponse(req, map[string]any{"device": snap})
	case ActionReadAll:
		resp = newResponse(req, map[string]any{"devices": b.Snapshots()})
	case ActionUpdateSettings:
		resp = b.handleUpdateSettings(req)
	default:
		resp = newResponseError(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}
	b.publish(b.topics.Response(req.RequestID), resp)
}

func (b *Bridge) handleUpdateSettings(req RequestMessage) ResponseMessage {
	var settings device.Settings
	if v, ok := req.Parameters["host"]; ok {
		host, isString := v.(string)
		if !isString {
			return newResponseError(req, ErrCodeInvalidParameters, `"host" must be a string`)
		}
		settings.Host = host
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	updated, err := b.UpdateSettings(ctx, req.DeviceID, settings)
	if err != nil {
		return newResponseError(req, errorCode(err), errorMessage(err))
	}
	return newResponse(req, map[string]any{"device": updated})
}

func (b *Bridge) publish(topic string, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal message", "topic", topic, "error", err)
		return
	}
	if err := b.opts.MQTTClient.Publish(topic, payload, qosAtLeastOnce, b.topics.Retained(topic)); err != nil {
		b.logger.Error("failed to publish message", "topic", topic, "error", err)
	}
}

// errorCode maps an error onto the ack/response error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrDeviceNotManaged), errors.Is(err, device.ErrDeviceNotFound):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrUnknownCommand),
		errors.Is(err, thermostat.ErrModeUnsupported),
		errors.Is(err, thermostat.ErrModePerThermostat),
		errors.Is(err, thermostat.ErrInvalidMode):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, device.ErrInvalidSettings):
		return ErrCodeInvalidParameters
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, thermostat.ErrNotInitialized):
		return ErrCodeDeviceUnreachable
	}

	var ngbsErr *icon.Error
	if !errors.As(err, &ngbsErr) {
		return ErrCodeBridgeError
	}
	switch ngbsErr.Code {
	case icon.CodeTimeout:
		return ErrCodeTimeout
	case icon.CodeUnreachable:
		return ErrCodeDeviceUnreachable
	case icon.CodeProtocol, icon.CodeThermostatMissing, icon.CodeInvalidSysID:
		return ErrCodeProtocolError
	default:
		return ErrCodeBridgeError
	}
}

func errorMessage(err error) string {
	var ngbsErr *icon.Error
	if errors.As(err, &ngbsErr) && ngbsErr.Message != "" {
		return ngbsErr.Message
	}
	return err.Error()
}
