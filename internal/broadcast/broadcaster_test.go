package broadcast

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
)

// recorder collects delivered results.
type recorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *recorder) handle(res Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func (r *recorder) got() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

type mockLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func stateWith(id string) *ngbs.State {
	return &ngbs.State{Thermostats: []ngbs.Thermostat{{ID: id}}}
}

func TestPublish_OnlyAfterSubscribe(t *testing.T) {
	b := New()
	rec := &recorder{}

	b.Publish("X", OK(stateWith("before")))
	sub := b.Subscribe("X", rec.handle)
	b.Publish("X", OK(stateWith("1")))
	b.Publish("X", Failed(errors.New("offline")))
	b.Publish("X", OK(stateWith("2")))

	got := rec.got()
	require.Len(t, got, 3)
	assert.Equal(t, "1", got[0].State.Thermostats[0].ID)
	assert.True(t, got[1].Failed())
	assert.Equal(t, "offline", got[1].Err.Message)
	assert.Equal(t, ngbs.CodeOther, got[1].Err.Code)
	assert.Equal(t, "2", got[2].State.Thermostats[0].ID)

	sub.Unsubscribe()
	b.Publish("X", OK(stateWith("after")))
	assert.Len(t, rec.got(), 3)
}

func TestPublish_RegistrationOrder(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		b.Subscribe("X", func(Result) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	b.Publish("X", OK(stateWith("1")))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPublish_ScopedToAddress(t *testing.T) {
	b := New()
	x, y := &recorder{}, &recorder{}
	b.Subscribe("X", x.handle)
	b.Subscribe("Y", y.handle)

	b.Publish("X", OK(stateWith("1")))

	assert.Len(t, x.got(), 1)
	assert.Empty(t, y.got())
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	b := New()
	first, second := &recorder{}, &recorder{}
	s1 := b.Subscribe("X", first.handle)
	b.Subscribe("X", second.handle)

	s1.Unsubscribe()
	s1.Unsubscribe()
	assert.Equal(t, 1, b.SubscriberCount("X"))

	b.Publish("X", OK(stateWith("1")))
	assert.Empty(t, first.got())
	assert.Len(t, second.got(), 1)
}

func TestSubscribe_SameHandlerTwiceGetsTwoHandles(t *testing.T) {
	b := New()
	rec := &recorder{}
	s1 := b.Subscribe("X", rec.handle)
	b.Subscribe("X", rec.handle)

	s1.Unsubscribe()
	b.Publish("X", OK(stateWith("1")))
	assert.Len(t, rec.got(), 1, "only the remaining handle delivers")
}

func TestPublish_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	b := New()
	logger := &mockLogger{}
	b.SetLogger(logger)
	rec := &recorder{}

	b.Subscribe("X", func(Result) { panic("boom") })
	b.Subscribe("X", rec.handle)

	assert.NotPanics(t, func() { b.Publish("X", OK(stateWith("1"))) })
	assert.Len(t, rec.got(), 1)
	assert.Equal(t, []string{"broadcast subscriber panicked"}, logger.msgs)
}

func TestPublish_SubscribeDuringPublishNotDelivered(t *testing.T) {
	b := New()
	late := &recorder{}
	b.Subscribe("X", func(Result) {
		b.Subscribe("X", late.handle)
	})

	b.Publish("X", OK(stateWith("1")))
	assert.Empty(t, late.got())
	assert.Equal(t, 2, b.SubscriberCount("X"))
}

func TestAddresses_DropsEmpty(t *testing.T) {
	b := New()
	s := b.Subscribe("b", func(Result) {})
	b.Subscribe("a", func(Result) {})
	assert.Equal(t, []string{"a", "b"}, b.Addresses())

	s.Unsubscribe()
	assert.Equal(t, []string{"a"}, b.Addresses())
	assert.Equal(t, 0, b.SubscriberCount("b"))
}

func TestFailed_KeepsClassification(t *testing.T) {
	res := Failed(ngbs.NewError(ngbs.CodeTimeout, errors.New("i/o timeout")))
	assert.Equal(t, ngbs.CodeTimeout, res.Err.Code)
	assert.Nil(t, res.State)
}
