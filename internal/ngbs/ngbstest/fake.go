// Package ngbstest provides an in-memory ngbs.Client for tests.
package ngbstest

import (
	"context"
	"sync"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
)

// Call records one mutating request.
type Call struct {
	Method string
	ID     string
	Value  any
}

// Client is a scripted controller. Setters mutate the held state and
// return a copy of it, like a real controller would.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	mu     sync.Mutex
	state  ngbs.State
	config ngbs.ControllerConfig
	err    error
	setErr error
	calls  []Call
	gets   int
	closed int
	onGet  func()
	onSet  func(method string, t *ngbs.Thermostat)
}

// NewClient returns a controller serving thermostats with the given config.
func NewClient(cfg ngbs.ControllerConfig, thermostats ...ngbs.Thermostat) *Client {
	return &Client{
		config: cfg,
		state:  ngbs.State{Thermostats: append([]ngbs.Thermostat(nil), thermostats...)},
	}
}

// SetError makes every GetState fail with err (nil restores success).
func (c *Client) SetError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// SetCommandError makes every setter fail with err.
func (c *Client) SetCommandError(err error) {
	c.mu.Lock()
	c.setErr = err
	c.mu.Unlock()
}

// OnGet registers a hook run at the start of every GetState.
func (c *Client) OnGet(fn func()) {
	c.mu.Lock()
	c.onGet = fn
	c.mu.Unlock()
}

// OnSet registers a hook run after a setter changed a thermostat, letting
// tests model side effects such as the valve closing after a mode change.
func (c *Client) OnSet(fn func(method string, t *ngbs.Thermostat)) {
	c.mu.Lock()
	c.onSet = fn
	c.mu.Unlock()
}

// Update replaces the thermostat with the same id (or appends it).
func (c *Client) Update(t ngbs.Thermostat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.state.Thermostats {
		if c.state.Thermostats[i].ID == t.ID {
			c.state.Thermostats[i] = t
			return
		}
	}
	c.state.Thermostats = append(c.state.Thermostats, t)
}

// Remove drops the thermostat with id.
func (c *Client) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.state.Thermostats[:0]
	for _, t := range c.state.Thermostats {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	c.state.Thermostats = kept
}

// Calls returns the recorded mutating requests.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Gets returns how many GetState calls were made.
func (c *Client) Gets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets
}

// Closed returns how many times Close was called.
func (c *Client) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) GetState(ctx context.Context, forceConfig bool) (*ngbs.State, error) {
	c.mu.Lock()
	hook := c.onGet
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.err != nil {
		return nil, c.err
	}
	return c.snapshotLocked(forceConfig), nil
}

func (c *Client) SetThermostatTarget(_ context.Context, id string, target float64) (*ngbs.State, error) {
	return c.mutate("SetThermostatTarget", id, target, func(t *ngbs.Thermostat) { t.Target = target })
}

func (c *Client) SetThermostatCooling(_ context.Context, id string, cooling bool) (*ngbs.State, error) {
	return c.mutate("SetThermostatCooling", id, cooling, func(t *ngbs.Thermostat) { t.Cooling = cooling })
}

func (c *Client) SetThermostatEco(_ context.Context, id string, eco bool) (*ngbs.State, error) {
	return c.mutate("SetThermostatEco", id, eco, func(t *ngbs.Thermostat) { t.Eco = eco })
}

func (c *Client) SetThermostatParentalLock(_ context.Context, id string, lock bool) (*ngbs.State, error) {
	return c.mutate("SetThermostatParentalLock", id, lock, func(t *ngbs.Thermostat) { t.ParentalLock = lock })
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *Client) mutate(method, id string, value any, apply func(*ngbs.Thermostat)) (*ngbs.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Method: method, ID: id, Value: value})
	if c.setErr != nil {
		return nil, c.setErr
	}
	for i := range c.state.Thermostats {
		if c.state.Thermostats[i].ID == id {
			apply(&c.state.Thermostats[i])
			if c.onSet != nil {
				c.onSet(method, &c.state.Thermostats[i])
			}
			return c.snapshotLocked(false), nil
		}
	}
	return nil, ngbs.NewError(ngbs.CodeThermostatMissing, ngbs.ErrThermostatNotFound)
}

func (c *Client) snapshotLocked(withConfig bool) *ngbs.State {
	s := &ngbs.State{Thermostats: append([]ngbs.Thermostat(nil), c.state.Thermostats...)}
	if withConfig {
		cfg := c.config
		s.Config = &cfg
	}
	return s
}
