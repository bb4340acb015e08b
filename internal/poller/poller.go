package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/broadcast"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
)

// DefaultInterval is the refresh cadence when none is configured.
const DefaultInterval = 60 * time.Second

// defaultPollTimeout bounds one address fetch.
const defaultPollTimeout = 30 * time.Second

// Sentinel errors.
var (
	ErrAlreadyRegistered = errors.New("poller: thermostat already registered")
	ErrNotRegistered     = errors.New("poller: thermostat not registered")
	ErrNoClient          = errors.New("poller: no client for address")
)

// Callback receives the fresh record of one thermostat.
type Callback func(ngbs.Thermostat)

// ClientRegistry is the reference-counted client store.
// Satisfied by *clients.Registry.
type ClientRegistry interface {
	Register(address string) (ngbs.Client, error)
	Unregister(address string) error
	Client(address string) (ngbs.Client, bool)
}

// Publisher receives whole-controller results.
// Satisfied by *broadcast.Broadcaster.
type Publisher interface {
	Publish(address string, result broadcast.Result)
	Addresses() []string
}

// Observer is notified after every address fetch.
type Observer interface {
	PollCompleted(address string, elapsed time.Duration, err error)
}

// Logger is the logging interface used by the poller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds poller dependencies.
type Config struct {
	// Registry supplies clients. Required.
	Registry ClientRegistry

	// Publisher, when set, also refreshes every address that has broadcast
	// subscribers and publishes the outcome (success or error).
	Publisher Publisher

	// Interval between ticks. Default: 60s.
	Interval time.Duration

	// Timeout bounds a single address fetch. Default: 30s.
	Timeout time.Duration

	Observer Observer
	Logger   Logger
}

// Poller periodically re-reads controllers and feeds per-thermostat
// callbacks (and, optionally, the broadcaster).
//
// Callback registrations and registry references move in lockstep: every
// Register takes one registry reference, every Unregister releases one.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Callbacks run on the polling goroutine without internal locks held.
type Poller struct {
	registry  ClientRegistry
	publisher Publisher
	interval  time.Duration
	timeout   time.Duration
	observer  Observer

	mu        sync.Mutex
	callbacks map[string]map[string]Callback

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a poller. Call Start to begin ticking.
func New(cfg Config) (*Poller, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("poller: registry is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	return &Poller{
		registry:  cfg.Registry,
		publisher: cfg.Publisher,
		interval:  interval,
		timeout:   timeout,
		observer:  cfg.Observer,
		callbacks: make(map[string]map[string]Callback),
		done:      make(chan struct{}),
		logger:    cfg.Logger,
	}, nil
}

// Interval returns the tick interval.
func (p *Poller) Interval() time.Duration { return p.interval }

// SetLogger sets the logger for this poller.
func (p *Poller) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

// Register adds the callback for thermostat id on address and takes a
// registry reference. A duplicate id fails without changing anything.
func (p *Poller) Register(address, id string, cb Callback) (ngbs.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.callbacks[address][id]; dup {
		return nil, fmt.Errorf("%w: %s on %s", ErrAlreadyRegistered, id, address)
	}
	client, err := p.registry.Register(address)
	if err != nil {
		return nil, err
	}
	byID, ok := p.callbacks[address]
	if !ok {
		byID = make(map[string]Callback)
		p.callbacks[address] = byID
	}
	byID[id] = cb
	return client, nil
}

// Unregister removes the callback for thermostat id on address and
// releases its registry reference.
func (p *Poller) Unregister(address, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	byID, ok := p.callbacks[address]
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrNotRegistered, id, address)
	}
	if _, ok := byID[id]; !ok {
		return fmt.Errorf("%w: %s on %s", ErrNotRegistered, id, address)
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(p.callbacks, address)
	}
	return p.registry.Unregister(address)
}

// Registered returns the number of callbacks on address.
func (p *Poller) Registered(address string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.callbacks[address])
}

// Start begins periodic polling. Call Stop to shut down.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop halts polling and waits for an in-progress tick to finish.
// Safe to call multiple times.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one tick: every address with callbacks or broadcast
// subscribers is fetched once. A failing address is logged and skipped;
// the others still run.
func (p *Poller) Poll(ctx context.Context) {
	for _, address := range p.addresses() {
		if ctx.Err() != nil {
			return
		}
		_ = p.PollAddress(ctx, address)
	}
}

// PollAddress fetches one address and delivers the outcome.
func (p *Poller) PollAddress(ctx context.Context, address string) error {
	client, ok := p.registry.Client(address)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNoClient, address)
		p.logError("poll skipped", address, err)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	state, err := client.GetState(ctx, false)
	if p.observer != nil {
		p.observer.PollCompleted(address, time.Since(start), err)
	}
	if err != nil {
		p.logError("poll failed", address, err)
		p.publish(address, broadcast.Failed(err))
		return err
	}

	p.logDebug("poll succeeded", "address", address, "thermostats", len(state.Thermostats))
	p.Deliver(address, state)
	p.publish(address, broadcast.OK(state))
	return nil
}

// Deliver invokes every callback on address whose id appears in state.
// Used to fan out states obtained outside a tick, such as command replies.
func (p *Poller) Deliver(address string, state *ngbs.State) {
	p.mu.Lock()
	byID := make(map[string]Callback, len(p.callbacks[address]))
	for id, cb := range p.callbacks[address] {
		byID[id] = cb
	}
	p.mu.Unlock()

	for _, t := range state.Thermostats {
		if cb, ok := byID[t.ID]; ok {
			cb(t)
		}
	}
}

func (p *Poller) publish(address string, result broadcast.Result) {
	if p.publisher == nil {
		return
	}
	for _, a := range p.publisher.Addresses() {
		if a == address {
			p.publisher.Publish(address, result)
			return
		}
	}
}

// addresses returns the union of callback and subscriber addresses, sorted.
func (p *Poller) addresses() []string {
	set := make(map[string]struct{})
	p.mu.Lock()
	for a := range p.callbacks {
		set[a] = struct{}{}
	}
	p.mu.Unlock()
	if p.publisher != nil {
		for _, a := range p.publisher.Addresses() {
			set[a] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (p *Poller) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

func (p *Poller) logError(msg, address string, err error) {
	if logger := p.getLogger(); logger != nil {
		logger.Error(msg, "address", address, "error", err)
	}
}

func (p *Poller) logDebug(msg string, args ...any) {
	if logger := p.getLogger(); logger != nil {
		logger.Debug(msg, args...)
	}
}
