package thermostat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/broadcast"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/clients"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs/ngbstest"
)

// sinkCall is one recorded capability publication.
type sinkCall struct {
	Kind  string // value, options, available, unavailable
	Name  string
	Value any
}

// mockSink records capability publications.
type mockSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *mockSink) SetCapabilityValue(_ context.Context, name string, value any) error {
	s.record(sinkCall{Kind: "value", Name: name, Value: value})
	return nil
}

func (s *mockSink) SetCapabilityOptions(_ context.Context, name string, opts RangeOptions) error {
	s.record(sinkCall{Kind: "options", Name: name, Value: opts})
	return nil
}

func (s *mockSink) SetAvailable(context.Context) error {
	s.record(sinkCall{Kind: "available"})
	return nil
}

func (s *mockSink) SetUnavailable(_ context.Context, message string) error {
	s.record(sinkCall{Kind: "unavailable", Value: message})
	return nil
}

func (s *mockSink) record(c sinkCall) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
}

func (s *mockSink) take() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.calls
	s.calls = nil
	return out
}

func (s *mockSink) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// harness wires a device to a real registry and broadcaster over fake controllers.
type harness struct {
	registry    *clients.Registry
	broadcaster *broadcast.Broadcaster
	feed        *BroadcastFeed
	controllers map[string]*ngbstest.Client
}

func newHarness() *harness {
	h := &harness{controllers: make(map[string]*ngbstest.Client)}
	h.registry = clients.New(func(address string) (ngbs.Client, error) {
		c, ok := h.controllers[address]
		if !ok {
			return nil, ngbs.NewError(ngbs.CodeUnreachable, errors.New("no route to "+address))
		}
		return c, nil
	})
	h.broadcaster = broadcast.New()
	h.feed = NewBroadcastFeed(h.registry, h.broadcaster)
	return h
}

const controllerAddr = "service://123456@10.0.0.7"

func living() ngbs.Thermostat {
	return ngbs.Thermostat{
		ID: "a", Name: "Living room",
		Temperature: 21.3, Humidity: 45.4, Target: 22,
		Valve: true, Cooling: false, Midpoint: 22, Limit: 3,
	}
}

func (h *harness) controller(address string, ts ...ngbs.Thermostat) *ngbstest.Client {
	c := ngbstest.NewClient(ngbs.ControllerConfig{SysID: "123456", Hysteresis: 0.5}, ts...)
	h.controllers[address] = c
	return c
}

func (h *harness) device(t *testing.T, sink *mockSink, mutate ...func(*Config)) *Device {
	t.Helper()
	cfg := Config{
		DeviceID:     "dev-a",
		Kind:         KindThermostat,
		Address:      controllerAddr,
		ThermostatID: "a",
		Feed:         h.feed,
		Capabilities: sink,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	d, err := New(cfg)
	require.NoError(t, err)
	return d
}

func TestInit_PublishesFullStatus(t *testing.T) {
	h := newHarness()
	h.controller(controllerAddr, living())
	sink := &mockSink{}
	d := h.device(t, sink)

	require.NoError(t, d.Init(context.Background()))

	assert.Equal(t, StateAvailable, d.State())
	assert.Equal(t, 1, h.registry.Users(controllerAddr))
	assert.Equal(t, 1, h.broadcaster.SubscriberCount(controllerAddr))

	calls := sink.take()
	assert.Equal(t, []sinkCall{
		{Kind: "available"},
		{Kind: "value", Name: CapTargetTemperature, Value: 22.0},
		{Kind: "value", Name: CapMeasureTemperature, Value: 21.3},
		{Kind: "value", Name: CapMeasureHumidity, Value: 45.0},
		{Kind: "value", Name: CapAlarmDew, Value: false},
		{Kind: "value", Name: CapThermostatMode, Value: ModeHeat},
		{Kind: "options", Name: CapTargetTemperature, Value: RangeOptions{Min: 19, Max: 25}},
		{Kind: "value", Name: CapEcoMode, Value: false},
		{Kind: "value", Name: CapParentalLock, Value: false},
	}, calls)

	assert.ErrorIs(t, d.Init(context.Background()), ErrAlreadyInitialized)
}

func TestInit_FirstFetchErrorMarksUnavailable(t *testing.T) {
	h := newHarness()
	c := h.controller(controllerAddr, living())
	c.SetError(ngbs.NewError(ngbs.CodeTimeout, errors.New("controller timeout")))
	sink := &mockSink{}
	d := h.device(t, sink)

	require.NoError(t, d.Init(context.Background()))

	assert.Equal(t, StateUnavailable, d.State())
	assert.Equal(t, "controller timeout", d.UnavailableReason())
	assert.Equal(t, []sinkCall{
		{Kind: "available"},
		{Kind: "unavailable", Value: "controller timeout"},
	}, sink.take())
}

// eagerFeed delivers a result from inside Attach, before Init regains control.
type eagerFeed struct {
	*BroadcastFeed
	controller *ngbstest.Client
}

func (f *eagerFeed) Attach(address, id string, onResult func(broadcast.Result)) (ngbs.Client, error) {
	client, err := f.BroadcastFeed.Attach(address, id, onResult)
	if err != nil {
		return nil, err
	}
	state, err := f.controller.GetState(context.Background(), true)
	if err != nil {
		return nil, err
	}
	onResult(broadcast.OK(state))
	return client, nil
}

func TestInit_ResultDuringAttachPublishesAvailable(t *testing.T) {
	h := newHarness()
	c := h.controller(controllerAddr, living())
	sink := &mockSink{}
	feed := &eagerFeed{BroadcastFeed: h.feed, controller: c}
	d := h.device(t, sink, func(cfg *Config) { cfg.Feed = feed })

	require.NoError(t, d.Init(context.Background()))

	assert.Equal(t, StateAvailable, d.State())
	calls := sink.take()
	require.NotEmpty(t, calls)
	assert.Equal(t, sinkCall{Kind: "available"}, calls[0])
	n := 0
	for _, call := range calls {
		if call.Kind == "available" {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestInit_AttachFailureRollsBack(t *testing.T) {
	h := newHarness()
	sink := &mockSink{}
	d := h.device(t, sink)

	err := d.Init(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateUninitialized, d.State())
	assert.Equal(t, 0, h.registry.Len())
	assert.Empty(t, sink.take())
}

func TestInit_HostOverrideKeepsSysID(t *testing.T) {
	h := newHarness()
	h.controller("service://123456@192.168.1.50", living())
	d := h.device(t, &mockSink{}, func(c *Config) { c.HostOverride = "192.168.1.50" })

	require.NoError(t, d.Init(context.Background()))
	assert.Equal(t, "service://123456@192.168.1.50", d.Address())
}

func TestStatusDiff_OnlyChangedFields(t *testing.T) {
	h := newHarness()
	h.controller(controllerAddr, living())
	sink := &mockSink{}
	d := h.device(t, sink)
	require.NoError(t, d.Init(context.Background()))
	sink.take()

	publish := func(t ngbs.Thermostat) {
		h.broadcaster.Publish(controllerAddr, broadcast.OK(&ngbs.State{Thermostats: []ngbs.Thermostat{t}}))
	}

	// Identical snapshot: nothing.
	publish(living())
	assert.Empty(t, sink.take())

	// Humidity moves but rounds the same: nothing.
	same := living()
	same.Humidity = 44.6
	publish(same)
	assert.Empty(t, sink.take())

	// Only humidity changes.
	humid := living()
	humid.Humidity = 52.2
	publish(humid)
	assert.Equal(t, []sinkCall{{Kind: "value", Name: CapMeasureHumidity, Value: 52.0}}, sink.take())

	// Only dew protection changes.
	dew := humid
	dew.DewProtection = true
	publish(dew)
	assert.Equal(t, []sinkCall{{Kind: "value", Name: CapAlarmDew, Value: true}}, sink.take())

	// Valve closes: mode only.
	closed := dew
	closed.Valve = false
	publish(closed)
	assert.Equal(t, []sinkCall{{Kind: "value", Name: CapThermostatMode, Value: ModeOff}}, sink.take())

	// Range changes: options only.
	ranged := closed
	ranged.Limit = 5
	publish(ranged)
	assert.Equal(t, []sinkCall{{Kind: "options", Name: CapTargetTemperature, Value: RangeOptions{Min: 17, Max: 27}}}, sink.take())
}

func TestErrorResult_FiresOncePerTransition(t *testing.T) {
	h := newHarness()
	h.controller(controllerAddr, living())
	sink := &mockSink{}
	d := h.device(t, sink)
	require.NoError(t, d.Init(context.Background()))
	sink.take()

	failure := broadcast.Failed(ngbs.NewError(ngbs.CodeUnreachable, errors.New("host unreachable")))
	h.broadcaster.Publish(controllerAddr, failure)
	h.broadcaster.Publish(controllerAddr, failure)
	h.broadcaster.Publish(controllerAddr, failure)

	assert.Equal(t, StateUnavailable, d.State())
	assert.Equal(t, []sinkCall{{Kind: "unavailable", Value: "host unreachable"}}, sink.take())

	// Recovery with an unchanged status only flips availability.
	h.broadcaster.Publish(controllerAddr, broadcast.OK(&ngbs.State{Thermostats: []ngbs.Thermostat{living()}}))
	h.broadcaster.Publish(controllerAddr, broadcast.OK(&ngbs.State{Thermostats: []ngbs.Thermostat{living()}}))
	assert.Equal(t, StateAvailable, d.State())
	assert.Equal(t, []sinkCall{{Kind: "available"}}, sink.take())
}

func TestMissingThermostat_TreatedAsError(t *testing.T) {
	h := newHarness()
	h.controller(controllerAddr, living())
	sink := &mockSink{}
	d := h.device(t, sink)
	require.NoError(t, d.Init(context.Background()))
	sink.take()

	h.broadcaster.Publish(controllerAddr, broadcast.OK(&ngbs.State{Thermostats: []ngbs.Thermostat{{ID: "b"}}}))

	assert.Equal(t, StateUnavailable, d.State())
	assert.Equal(t, 1, sink.count("unavailable"))
}

func TestUninit_DetachesAndIgnoresLateResults(t *testing.T) {
	h := newHarness()
	c := h.controller(controllerAddr, living())
	sink := &mockSink{}
	d := h.device(t, sink)
	require.NoError(t, d.Init(context.Background()))
	sink.take()

	require.NoError(t, d.Uninit())
	assert.Equal(t, StateUninitialized, d.State())
	assert.Equal(t, 0, h.registry.Len())
	assert.Equal(t, 1, c.Closed())
	assert.Equal(t, 0, h.broadcaster.SubscriberCount(controllerAddr))

	assert.NotPanics(t, func() {
		d.handleResult(broadcast.Failed(errors.New("late")))
		d.handleResult(broadcast.OK(&ngbs.State{Thermostats: []ngbs.Thermostat{living()}}))
	})
	assert.Empty(t, sink.take())
	assert.NoError(t, d.Uninit())
}

func TestSharedController_TwoDevicesOneConnection(t *testing.T) {
	h := newHarness()
	bedroom := living()
	bedroom.ID = "b"
	bedroom.Temperature = 19
	c := h.controller(controllerAddr, living(), bedroom)

	sinkA, sinkB := &mockSink{}, &mockSink{}
	a := h.device(t, sinkA)
	b := h.device(t, sinkB, func(cfg *Config) { cfg.DeviceID = "dev-b"; cfg.ThermostatID = "b" })
	require.NoError(t, a.Init(context.Background()))
	require.NoError(t, b.Init(context.Background()))
	assert.Equal(t, 2, h.registry.Users(controllerAddr))
	sinkA.take()
	sinkB.take()

	// A command on one device refreshes the other.
	c.Update(ngbs.Thermostat{ID: "b", Temperature: 19.5, Humidity: 45.4, Target: 22, Valve: true, Midpoint: 22, Limit: 3})
	require.NoError(t, a.SetEco(context.Background(), true))

	assert.Equal(t, []sinkCall{{Kind: "value", Name: CapEcoMode, Value: true}}, sinkA.take())
	assert.Equal(t, []sinkCall{{Kind: "value", Name: CapMeasureTemperature, Value: 19.5}}, sinkB.take())

	require.NoError(t, a.Uninit())
	assert.Equal(t, 0, c.Closed())
	require.NoError(t, b.Uninit())
	assert.Equal(t, 1, c.Closed())
}

func TestSetTarget_SettleDelayReReads(t *testing.T) {
	h := newHarness()
	c := h.controller(controllerAddr, living())
	sink := &mockSink{}
	d := h.device(t, sink, func(cfg *Config) { cfg.SettleDelay = 10 * time.Millisecond })
	require.NoError(t, d.Init(context.Background()))
	sink.take()
	getsBefore := c.Gets()

	c.OnSet(func(method string, th *ngbs.Thermostat) {
		// The valve reacts to the new target only after the command returns.
		go func() {
			time.Sleep(time.Millisecond)
			c.Update(ngbs.Thermostat{ID: "a", Temperature: 21.3, Humidity: 45.4, Target: 20, Valve: false, Midpoint: 22, Limit: 3})
		}()
	})

	require.NoError(t, d.SetTarget(context.Background(), 20))

	assert.Equal(t, getsBefore+1, c.Gets())
	assert.Equal(t, []sinkCall{
		{Kind: "value", Name: CapTargetTemperature, Value: 20.0},
		{Kind: "value", Name: CapThermostatMode, Value: ModeOff},
	}, sink.take())
}

func TestSetTarget_NoSettleDelay(t *testing.T) {
	h := newHarness()
	c := h.controller(controllerAddr, living())
	d := h.device(t, &mockSink{})
	require.NoError(t, d.Init(context.Background()))
	getsBefore := c.Gets()

	require.NoError(t, d.SetTarget(context.Background(), 23.5))
	assert.Equal(t, getsBefore, c.Gets())
	st, _ := d.Status()
	assert.InDelta(t, 23.5, st.Target, 1e-9)
}

func TestCommand_ErrorReturnedNotPublished(t *testing.T) {
	h := newHarness()
	c := h.controller(controllerAddr, living())
	sink := &mockSink{}
	d := h.device(t, sink)
	require.NoError(t, d.Init(context.Background()))
	sink.take()

	c.SetCommandError(ngbs.NewError(ngbs.CodeTimeout, errors.New("write timeout")))
	err := d.SetParentalLock(context.Background(), true)

	require.Error(t, err)
	assert.Equal(t, ngbs.CodeTimeout, ngbs.CodeOf(err))
	assert.Equal(t, StateAvailable, d.State())
	assert.Empty(t, sink.take())
}

func TestCommand_BeforeInit(t *testing.T) {
	h := newHarness()
	d := h.device(t, &mockSink{})
	assert.ErrorIs(t, d.SetEco(context.Background(), true), ErrNotInitialized)
	assert.ErrorIs(t, d.SetTarget(context.Background(), 20), ErrNotInitialized)
	assert.ErrorIs(t, d.SetMode(context.Background(), ModeOff), ErrNotInitialized)
}

func TestNew_Validation(t *testing.T) {
	h := newHarness()
	base := Config{Kind: KindThermostat, Address: controllerAddr, ThermostatID: "a", Feed: h.feed, Capabilities: &mockSink{}}

	_, err := New(base)
	require.NoError(t, err)

	bad := base
	bad.Kind = "icon"
	_, err = New(bad)
	assert.Error(t, err)

	bad = base
	bad.Address = "10.0.0.7"
	_, err = New(bad)
	assert.ErrorIs(t, err, ngbs.ErrUnknownScheme)

	bad = base
	bad.Feed = nil
	_, err = New(bad)
	assert.Error(t, err)
}
