package thermostat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/broadcast"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/clients"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs/ngbstest"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/poller"
)

const movedAddr = "service://123456@192.168.1.50"

func TestOnSettings_MovesToNewHost(t *testing.T) {
	h := newHarness()
	h.controller(controllerAddr, living())
	h.controller(movedAddr, living())
	sink := &mockSink{}
	d := h.device(t, sink)
	require.NoError(t, d.Init(context.Background()))
	sink.take()

	require.NoError(t, d.OnSettings(context.Background(), "192.168.1.50"))

	assert.Equal(t, movedAddr, d.Address())
	assert.Equal(t, 0, h.registry.Users(controllerAddr))
	assert.Equal(t, 1, h.registry.Users(movedAddr))
	assert.Equal(t, 0, h.broadcaster.SubscriberCount(controllerAddr))
	assert.Equal(t, 1, h.broadcaster.SubscriberCount(movedAddr))
	assert.Equal(t, StateAvailable, d.State())

	// Results now come from the new controller only.
	warm := living()
	warm.Temperature = 23
	h.broadcaster.Publish(controllerAddr, broadcast.OK(&ngbs.State{Thermostats: []ngbs.Thermostat{warm}}))
	assert.Empty(t, sink.take())
	h.broadcaster.Publish(movedAddr, broadcast.OK(&ngbs.State{Thermostats: []ngbs.Thermostat{warm}}))
	assert.Equal(t, []sinkCall{{Kind: "value", Name: CapMeasureTemperature, Value: 23.0}}, sink.take())

	// Clearing the override returns to the paired address.
	require.NoError(t, d.OnSettings(context.Background(), ""))
	assert.Equal(t, controllerAddr, d.Address())
	assert.Equal(t, 0, h.registry.Users(movedAddr))
}

func TestOnSettings_UnreachableHostKeepsConnection(t *testing.T) {
	h := newHarness()
	h.controller(controllerAddr, living())
	d := h.device(t, &mockSink{})
	require.NoError(t, d.Init(context.Background()))

	err := d.OnSettings(context.Background(), "192.168.1.99")
	require.Error(t, err)
	assert.Equal(t, ngbs.CodeUnreachable, ngbs.CodeOf(err))

	assert.Equal(t, controllerAddr, d.Address())
	assert.Equal(t, 1, h.registry.Len())
	assert.Equal(t, 1, h.registry.Users(controllerAddr))
	assert.Equal(t, 1, h.broadcaster.SubscriberCount(controllerAddr))
}

func TestOnSettings_ThermostatMissingAtNewHost(t *testing.T) {
	h := newHarness()
	h.controller(controllerAddr, living())
	other := h.controller(movedAddr, ngbs.Thermostat{ID: "z"})
	d := h.device(t, &mockSink{})
	require.NoError(t, d.Init(context.Background()))

	err := d.OnSettings(context.Background(), "192.168.1.50")
	require.Error(t, err)
	assert.Equal(t, ngbs.CodeThermostatMissing, ngbs.CodeOf(err))
	assert.Equal(t, controllerAddr, d.Address())
	assert.Equal(t, 0, h.registry.Users(movedAddr))
	// The probe reference was released.
	assert.Equal(t, 1, other.Closed())
}

func TestOnSettings_BeforeInitStoresOverride(t *testing.T) {
	h := newHarness()
	h.controller(movedAddr, living())
	d := h.device(t, &mockSink{})

	require.NoError(t, d.OnSettings(context.Background(), "192.168.1.50"))
	assert.Empty(t, d.Address())

	require.NoError(t, d.Init(context.Background()))
	assert.Equal(t, movedAddr, d.Address())
}

func TestOnSettings_SameHostIsNoop(t *testing.T) {
	h := newHarness()
	c := h.controller(controllerAddr, living())
	d := h.device(t, &mockSink{})
	require.NoError(t, d.Init(context.Background()))
	gets := c.Gets()

	require.NoError(t, d.OnSettings(context.Background(), "10.0.0.7"))
	assert.Equal(t, gets, c.Gets())
	assert.Equal(t, 1, h.registry.Users(controllerAddr))
}

type warnLogger struct {
	noopLogger
	mu    sync.Mutex
	warns []string
}

func (l *warnLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

const modbusAddr = "modbus-tcp:10.0.0.5"

func pollDevice(t *testing.T) (*Device, *poller.Poller, *clients.Registry, *ngbstest.Client, *mockSink, *warnLogger) {
	t.Helper()
	zone := ngbs.Thermostat{ID: "1", Temperature: 20.5, Humidity: 50, Target: 21, Valve: true, Midpoint: 22, Limit: 3}
	controller := ngbstest.NewClient(ngbs.ControllerConfig{SysID: "777"}, zone)
	registry := clients.New(func(address string) (ngbs.Client, error) {
		if address != modbusAddr {
			return nil, ngbs.NewError(ngbs.CodeUnreachable, errors.New("no route"))
		}
		return controller, nil
	})
	p, err := poller.New(poller.Config{Registry: registry})
	require.NoError(t, err)

	logger := &warnLogger{}
	sink := &mockSink{}
	d, err := New(Config{
		DeviceID:     "dev-1",
		Kind:         KindModbusThermostat,
		Address:      modbusAddr,
		ThermostatID: "1",
		Feed:         NewPollFeed(p, registry, logger),
		Capabilities: sink,
	})
	require.NoError(t, err)
	return d, p, registry, controller, sink, logger
}

func TestPollFeed_DeliversPerThermostat(t *testing.T) {
	d, p, registry, controller, sink, _ := pollDevice(t)

	require.NoError(t, d.Init(context.Background()))
	assert.Equal(t, StateAvailable, d.State())
	assert.Equal(t, 1, p.Registered(modbusAddr))
	assert.Equal(t, 1, registry.Users(modbusAddr))
	assert.Contains(t, sink.take(), sinkCall{Kind: "value", Name: CapMeasureTemperature, Value: 20.5})

	controller.Update(ngbs.Thermostat{ID: "1", Temperature: 21, Humidity: 50, Target: 21, Valve: true, Midpoint: 22, Limit: 3})
	require.NoError(t, p.PollAddress(context.Background(), modbusAddr))
	assert.Equal(t, []sinkCall{{Kind: "value", Name: CapMeasureTemperature, Value: 21.0}}, sink.take())

	require.NoError(t, d.SetEco(context.Background(), true))
	assert.Equal(t, []sinkCall{{Kind: "value", Name: CapEcoMode, Value: true}}, sink.take())

	require.NoError(t, d.Uninit())
	assert.Equal(t, 0, p.Registered(modbusAddr))
	assert.Equal(t, 0, registry.Len())
}

func TestPollFeed_ErrorsLeaveDeviceAvailable(t *testing.T) {
	d, p, _, controller, sink, logger := pollDevice(t)
	require.NoError(t, d.Init(context.Background()))
	sink.take()

	controller.SetError(ngbs.NewError(ngbs.CodeTimeout, errors.New("read timeout")))
	assert.Error(t, p.PollAddress(context.Background(), modbusAddr))
	assert.Equal(t, StateAvailable, d.State())
	assert.Empty(t, sink.take())

	d.feed.Publish(modbusAddr, broadcast.Failed(errors.New("read timeout")))
	assert.Equal(t, StateAvailable, d.State())
	logger.mu.Lock()
	assert.Equal(t, []string{"controller error not delivered to polled devices"}, logger.warns)
	logger.mu.Unlock()
}

func TestPollFeed_DuplicateAttach(t *testing.T) {
	d, p, registry, _, _, _ := pollDevice(t)
	require.NoError(t, d.Init(context.Background()))

	feed := d.feed
	_, err := feed.Attach(modbusAddr, "1", func(broadcast.Result) {})
	assert.ErrorIs(t, err, poller.ErrAlreadyRegistered)
	assert.Equal(t, 1, p.Registered(modbusAddr))
	assert.Equal(t, 1, registry.Users(modbusAddr))
}

func TestBroadcastFeed_AttachDetach(t *testing.T) {
	h := newHarness()
	h.controller(controllerAddr, living())

	_, err := h.feed.Attach(controllerAddr, "a", func(broadcast.Result) {})
	require.NoError(t, err)
	_, err = h.feed.Attach(controllerAddr, "a", func(broadcast.Result) {})
	assert.ErrorIs(t, err, ErrAlreadyAttached)
	assert.Equal(t, 1, h.registry.Users(controllerAddr))

	require.NoError(t, h.feed.Detach(controllerAddr, "a"))
	assert.ErrorIs(t, h.feed.Detach(controllerAddr, "a"), ErrNotAttached)
	assert.Equal(t, 0, h.registry.Len())
	assert.Equal(t, 0, h.broadcaster.SubscriberCount(controllerAddr))
}

func TestProbe_ReleasesReference(t *testing.T) {
	h := newHarness()
	c := h.controller(controllerAddr, living())
	c.SetError(errors.New("refused"))

	_, err := h.feed.Probe(context.Background(), controllerAddr)
	require.Error(t, err)
	assert.Equal(t, 0, h.registry.Len())

	c.SetError(nil)
	state, err := h.feed.Probe(context.Background(), controllerAddr)
	require.NoError(t, err)
	require.NotNil(t, state.Config)
	assert.Equal(t, 0.5, state.Config.Hysteresis)
	assert.Equal(t, 0, h.registry.Len())
}
