package ngbs

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// serviceRequest is one line of the service protocol.
type serviceRequest struct {
	SysID       string `json:"sysid"`
	Command     string `json:"cmd"`
	ID          string `json:"id,omitempty"`
	Value       any    `json:"value,omitempty"`
	ForceConfig bool   `json:"force_config,omitempty"`
}

type serviceResponse struct {
	OK    bool   `json:"ok"`
	State *State `json:"state,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Service protocol commands.
const (
	cmdGetState        = "get_state"
	cmdSetTarget       = "set_target"
	cmdSetCooling      = "set_cooling"
	cmdSetEco          = "set_eco"
	cmdSetParentalLock = "set_parental_lock"
)

// dialFunc opens a stream to the controller.
type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// serviceClient speaks the vendor service protocol: newline-delimited JSON,
// one request/response exchange per connection.
type serviceClient struct {
	addr    string
	sysid   string
	timeout time.Duration
	dial    dialFunc

	mu     sync.Mutex
	closed bool
}

func newServiceClient(addr, sysid string, opts Options) *serviceClient {
	d := &net.Dialer{Timeout: opts.Timeout}
	return &serviceClient{
		addr:    addr,
		sysid:   sysid,
		timeout: opts.Timeout,
		dial:    d.DialContext,
	}
}

func (c *serviceClient) GetState(ctx context.Context, forceConfig bool) (*State, error) {
	return c.do(ctx, serviceRequest{Command: cmdGetState, ForceConfig: forceConfig})
}

func (c *serviceClient) SetThermostatTarget(ctx context.Context, id string, target float64) (*State, error) {
	return c.do(ctx, serviceRequest{Command: cmdSetTarget, ID: id, Value: target})
}

func (c *serviceClient) SetThermostatCooling(ctx context.Context, id string, cooling bool) (*State, error) {
	return c.do(ctx, serviceRequest{Command: cmdSetCooling, ID: id, Value: cooling})
}

func (c *serviceClient) SetThermostatEco(ctx context.Context, id string, eco bool) (*State, error) {
	return c.do(ctx, serviceRequest{Command: cmdSetEco, ID: id, Value: eco})
}

func (c *serviceClient) SetThermostatParentalLock(ctx context.Context, id string, lock bool) (*State, error) {
	return c.do(ctx, serviceRequest{Command: cmdSetParentalLock, ID: id, Value: lock})
}

// Close marks the client closed; no connection is held between requests.
func (c *serviceClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *serviceClient) do(ctx context.Context, req serviceRequest) (*State, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	req.SysID = c.sysid
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dial(ctx, "tcp", c.addr)
	if err != nil {
		return nil, AsError(fmt.Errorf("connecting to %s: %w", c.addr, err))
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", req.Command, err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return nil, AsError(fmt.Errorf("sending %s: %w", req.Command, err))
	}

	reply, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, AsError(fmt.Errorf("reading %s reply: %w", req.Command, err))
	}
	var resp serviceResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, NewError(CodeProtocol, fmt.Errorf("decoding %s reply: %w", req.Command, err))
	}
	if !resp.OK {
		if resp.Error == nil {
			return nil, NewError(CodeProtocol, fmt.Errorf("%s rejected without reason", req.Command))
		}
		if resp.Error.Code == "" {
			resp.Error.Code = CodeOther
		}
		return nil, resp.Error
	}
	if resp.State == nil {
		return nil, NewError(CodeProtocol, fmt.Errorf("%s reply carries no state", req.Command))
	}
	return resp.State, nil
}
