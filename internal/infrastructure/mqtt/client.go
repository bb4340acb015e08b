package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/config"
)

// Errors returned by the client; match with errors.Is.
var (
	ErrNotConnected     = errors.New("mqtt: not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
	ErrInvalidTopic     = errors.New("mqtt: empty topic")
	ErrInvalidQoS       = errors.New("mqtt: qos must be 0, 1 or 2")
)

// Logger is the logging interface used by the client.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler handles one received message. Returned errors are logged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is the bridge's broker connection. It owns the topic namespace
// (see Topics), keeps the retained online/offline status current and
// restores subscriptions after every reconnect.
//
// Hooks and the logger are fixed at Connect. All methods are safe for
// concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	qos    byte

	connected atomic.Bool

	subMu sync.Mutex
	subs  map[string]subscription

	logger       Logger
	onConnect    func()
	onDisconnect func(error)
}

// Connect dials the broker and waits up to the connect timeout for the
// first session. Paho keeps reconnecting afterwards.
func Connect(cfg config.MQTTConfig, opts ...Option) (*Client, error) {
	c := newClient(cfg, opts...)
	c.paho = pahomqtt.NewClient(c.pahoOptions())

	token := c.paho.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// Stop the background retry loop started by ConnectRetry.
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %s:%d: no answer within %v",
			ErrConnectionFailed, cfg.Broker.Host, cfg.Broker.Port, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	// The on-connect handler may still be running; the session is up.
	c.connected.Store(true)
	return c, nil
}

// Topics returns the topic builders for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

func (c *Client) connectionUp() {
	c.connected.Store(true)
	c.resubscribe()
	c.paho.Publish(c.topics.SystemStatus(), statusQoS, true,
		statusPayload(c.cfg.Broker.ClientID, StatusOnline, ""))
	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *Client) connectionLost(err error) {
	c.connected.Store(false)
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

// Close marks the bridge offline (distinct from the Last Will) and
// disconnects. Safe on a nil or never connected client.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.paho.Publish(c.topics.SystemStatus(), statusQoS, true,
			statusPayload(c.cfg.Broker.ClientID, StatusOffline, ReasonShutdown))
		token.WaitTimeout(publishTimeout)
	}
	c.paho.Disconnect(disconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether a broker session is currently up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.connected.Load() && c.paho.IsConnected()
}

func (c *Client) log() Logger {
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}
