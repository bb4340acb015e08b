package broadcast

import (
	"fmt"
	"sort"
	"sync"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
)

// Result is the unit of delivery: a controller state or the error that
// prevented reading it. Exactly one of State and Err is set.
type Result struct {
	State *ngbs.State
	Err   *ngbs.Error
}

// OK wraps a successful state.
func OK(state *ngbs.State) Result { return Result{State: state} }

// Failed wraps an error, classifying it at the controller boundary.
func Failed(err error) Result { return Result{Err: ngbs.AsError(err)} }

// Failed reports whether the result carries an error.
func (r Result) Failed() bool { return r.Err != nil }

// Handler receives results published for an address.
type Handler func(Result)

// Logger is the logging interface used by the broadcaster.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	b       *Broadcaster
	address string
	id      uint64
	handler Handler
	once    sync.Once
}

// Address returns the address the subscription listens on.
func (s *Subscription) Address() string { return s.address }

// Unsubscribe stops delivery. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.b.remove(s) })
}

// Broadcaster fans results out to every subscriber of an address.
//
// One Broadcaster lives for the whole process; it has no teardown and
// relies on every subscriber unsubscribing.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Publish delivers synchronously, in subscription order, to the
//     subscribers present when it starts.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string][]*Subscription
	nextID uint64
	logger Logger
}

// New creates an empty broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string][]*Subscription),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used to report handler panics.
func (b *Broadcaster) SetLogger(l Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l == nil {
		b.logger = noopLogger{}
		return
	}
	b.logger = l
}

// Subscribe registers handler for results published on address.
func (b *Broadcaster) Subscribe(address string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{b: b, address: address, id: b.nextID, handler: handler}
	b.subs[address] = append(b.subs[address], s)
	return s
}

func (b *Broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[s.address]
	for i, cur := range list {
		if cur.id != s.id {
			continue
		}
		// Copy so snapshots taken by in-flight publishes stay intact.
		next := make([]*Subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, s.address)
		} else {
			b.subs[s.address] = next
		}
		return
	}
}

// Publish delivers result to every current subscriber of address.
// A panicking handler is logged and skipped.
func (b *Broadcaster) Publish(address string, result Result) {
	b.mu.Lock()
	snapshot := b.subs[address]
	logger := b.logger
	b.mu.Unlock()

	for _, s := range snapshot {
		deliver(logger, s, result)
	}
}

func deliver(logger Logger, s *Subscription, result Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("broadcast subscriber panicked",
				"address", s.address,
				"subscription", s.id,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	s.handler(result)
}

// Addresses returns every address with at least one subscriber, sorted.
func (b *Broadcaster) Addresses() []string {
	b.mu.Lock()
	out := make([]string, 0, len(b.subs))
	for addr := range b.subs {
		out = append(out, addr)
	}
	b.mu.Unlock()
	sort.Strings(out)
	return out
}

// SubscriberCount returns the number of subscribers on address.
func (b *Broadcaster) SubscriberCount(address string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[address])
}
