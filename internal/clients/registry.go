package clients

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
)

// ErrUnknownAddress is returned when releasing an address that holds no client.
var ErrUnknownAddress = errors.New("clients: no client for address")

// DialFunc builds a client for an address. It must not perform I/O.
type DialFunc func(address string) (ngbs.Client, error)

// Logger is the logging interface used by the registry.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type entry struct {
	client ngbs.Client
	users  int
}

// Registry owns one live client per controller address and counts the
// dependents sharing it. The client is created on the first Register and
// closed when the last dependent calls Unregister.
//
// A Registry lives for the whole process; construct one and pass it to
// every consumer.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Check-and-mutate happens under
//     a single mutex; closing a released client happens after unlocking.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	dial    DialFunc

	logger   Logger
	observer func(connections int)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver registers a function called with the number of live
// connections after every change.
func WithObserver(fn func(connections int)) Option {
	return func(r *Registry) { r.observer = fn }
}

// New creates a registry that builds clients with dial.
func New(dial DialFunc, opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		dial:    dial,
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewWithOptions creates a registry dialling through ngbs.Dial.
func NewWithOptions(dialOpts ngbs.Options, opts ...Option) *Registry {
	return New(func(address string) (ngbs.Client, error) {
		return ngbs.Dial(address, dialOpts)
	}, opts...)
}

// Register returns the client for address, creating it on first use.
// Every successful call must be balanced by exactly one Unregister.
func (r *Registry) Register(address string) (ngbs.Client, error) {
	r.mu.Lock()
	if e, ok := r.entries[address]; ok {
		e.users++
		users, n := e.users, len(r.entries)
		r.mu.Unlock()
		r.logger.Info("controller client shared", "address", address, "users", users)
		r.notify(n)
		return e.client, nil
	}

	client, err := r.dial(address)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("registering %s: %w", address, err)
	}
	r.entries[address] = &entry{client: client, users: 1}
	n := len(r.entries)
	r.mu.Unlock()

	r.logger.Info("controller client created", "address", address)
	r.notify(n)
	return client, nil
}

// Unregister releases one reference to address. The last release closes
// the client and removes the entry.
func (r *Registry) Unregister(address string) error {
	r.mu.Lock()
	e, ok := r.entries[address]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w %s", ErrUnknownAddress, address)
	}
	e.users--
	if e.users > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, address)
	n := len(r.entries)
	r.mu.Unlock()

	if err := e.client.Close(); err != nil {
		r.logger.Error("closing controller client", "address", address, "error", err)
	}
	r.logger.Info("controller client closed", "address", address)
	r.notify(n)
	return nil
}

// Client returns the live client for address without taking a reference.
func (r *Registry) Client(address string) (ngbs.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[address]
	if !ok {
		return nil, false
	}
	return e.client, true
}

// Users returns the reference count for address (0 when absent).
func (r *Registry) Users(address string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[address]; ok {
		return e.users
	}
	return 0
}

// Addresses returns every address holding a live client, sorted.
func (r *Registry) Addresses() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.entries))
	for addr := range r.entries {
		out = append(out, addr)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// Len returns the number of live clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) notify(n int) {
	if r.observer != nil {
		r.observer(n)
	}
}
