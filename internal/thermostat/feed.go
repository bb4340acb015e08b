package thermostat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/broadcast"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/poller"
)

// ErrAlreadyAttached is returned when a thermostat attaches twice to one address.
var ErrAlreadyAttached = errors.New("thermostat: already attached")

// ErrNotAttached is returned when detaching a thermostat that is not attached.
var ErrNotAttached = errors.New("thermostat: not attached")

// Feed connects a device to controller results for an address. Attach takes
// a registry reference and starts delivery; Detach undoes both.
type Feed interface {
	Attach(address, id string, onResult func(broadcast.Result)) (ngbs.Client, error)
	Detach(address, id string) error

	// Publish hands a state (or error) obtained by a device to every
	// device listening on address.
	Publish(address string, result broadcast.Result)

	// Probe fetches state from address through a temporary registry
	// reference that is always released.
	Probe(ctx context.Context, address string) (*ngbs.State, error)
}

// ClientRegistry is the reference-counted client store.
// Satisfied by *clients.Registry.
type ClientRegistry interface {
	Register(address string) (ngbs.Client, error)
	Unregister(address string) error
}

// Broadcaster is the publish/subscribe channel.
// Satisfied by *broadcast.Broadcaster.
type Broadcaster interface {
	Subscribe(address string, handler broadcast.Handler) *broadcast.Subscription
	Publish(address string, result broadcast.Result)
}

// Poller is the per-thermostat callback table.
// Satisfied by *poller.Poller.
type Poller interface {
	Register(address, id string, cb poller.Callback) (ngbs.Client, error)
	Unregister(address, id string) error
	Deliver(address string, state *ngbs.State)
}

type attachment struct {
	address string
	id      string
}

func probe(ctx context.Context, registry ClientRegistry, address string) (*ngbs.State, error) {
	client, err := registry.Register(address)
	if err != nil {
		return nil, err
	}
	defer func() { _ = registry.Unregister(address) }()
	return client.GetState(ctx, true)
}

// BroadcastFeed delivers whole-controller results through the broadcaster.
// Devices sharing a controller share one registry entry.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type BroadcastFeed struct {
	registry    ClientRegistry
	broadcaster Broadcaster

	mu   sync.Mutex
	subs map[attachment]*broadcast.Subscription
}

// NewBroadcastFeed creates a feed over registry and broadcaster.
func NewBroadcastFeed(registry ClientRegistry, broadcaster Broadcaster) *BroadcastFeed {
	return &BroadcastFeed{
		registry:    registry,
		broadcaster: broadcaster,
		subs:        make(map[attachment]*broadcast.Subscription),
	}
}

// Attach registers a client reference and subscribes onResult.
func (f *BroadcastFeed) Attach(address, id string, onResult func(broadcast.Result)) (ngbs.Client, error) {
	key := attachment{address: address, id: id}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[key]; ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrAlreadyAttached, id, address)
	}
	client, err := f.registry.Register(address)
	if err != nil {
		return nil, err
	}
	f.subs[key] = f.broadcaster.Subscribe(address, onResult)
	return client, nil
}

// Detach unsubscribes and releases the client reference.
func (f *BroadcastFeed) Detach(address, id string) error {
	key := attachment{address: address, id: id}

	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[key]
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrNotAttached, id, address)
	}
	delete(f.subs, key)
	sub.Unsubscribe()
	return f.registry.Unregister(address)
}

// Publish forwards result to the broadcaster.
func (f *BroadcastFeed) Publish(address string, result broadcast.Result) {
	f.broadcaster.Publish(address, result)
}

// Probe fetches state with config through a temporary reference.
func (f *BroadcastFeed) Probe(ctx context.Context, address string) (*ngbs.State, error) {
	return probe(ctx, f.registry, address)
}

// PollFeed delivers per-thermostat records through the poller. Errors are
// not fanned out: a failing poll leaves the devices as they are.
type PollFeed struct {
	poller   Poller
	registry ClientRegistry
	logger   Logger
}

// NewPollFeed creates a feed over poller. registry is used for probes.
func NewPollFeed(p Poller, registry ClientRegistry, logger Logger) *PollFeed {
	if logger == nil {
		logger = noopLogger{}
	}
	return &PollFeed{poller: p, registry: registry, logger: logger}
}

// Attach registers a poll callback that wraps each record into a state.
func (f *PollFeed) Attach(address, id string, onResult func(broadcast.Result)) (ngbs.Client, error) {
	return f.poller.Register(address, id, func(t ngbs.Thermostat) {
		onResult(broadcast.OK(&ngbs.State{Thermostats: []ngbs.Thermostat{t}}))
	})
}

// Detach removes the poll callback and its registry reference.
func (f *PollFeed) Detach(address, id string) error {
	return f.poller.Unregister(address, id)
}

// Publish hands successful states to the poll callbacks of address.
func (f *PollFeed) Publish(address string, result broadcast.Result) {
	if result.Failed() {
		f.logger.Warn("controller error not delivered to polled devices",
			"address", address, "code", result.Err.Code, "error", result.Err.Message)
		return
	}
	f.poller.Deliver(address, result.State)
}

// Probe fetches state with config through a temporary reference.
func (f *PollFeed) Probe(ctx context.Context, address string) (*ngbs.State, error) {
	return probe(ctx, f.registry, address)
}
