package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second

	// disconnectQuiesce lets pending publishes drain on Close (milliseconds).
	disconnectQuiesce = 1000

	maxQoS = 2
)

// Option configures a Client at Connect.
type Option func(*Client)

// WithLogger reports reconnects and handler failures to logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithOnConnect runs fn after every successful (re)connect, once
// subscriptions are restored and the online status is published.
func WithOnConnect(fn func()) Option {
	return func(c *Client) { c.onConnect = fn }
}

// WithOnDisconnect runs fn when the broker connection is lost.
func WithOnDisconnect(fn func(error)) Option {
	return func(c *Client) { c.onDisconnect = fn }
}

// pahoOptions translates the broker settings into paho options, with the
// Last Will on the status topic and the client's connection handlers.
func (c *Client) pahoOptions() *pahomqtt.ClientOptions {
	cfg := c.cfg
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(seconds(cfg.Reconnect.InitialDelay, time.Second)).
		SetMaxReconnectInterval(seconds(cfg.Reconnect.MaxDelay, time.Minute)).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(seconds(cfg.KeepAlive, time.Minute)).
		SetBinaryWill(c.topics.SystemStatus(),
			statusPayload(cfg.Broker.ClientID, StatusOffline, ReasonUnexpectedDisconnect),
			statusQoS, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Warn("MQTT reconnecting", "broker", cfg.Broker.Host)
	})
	return opts
}

// seconds converts a config value in seconds, falling back to def when unset.
func seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// newClient builds an unconnected client. Connect uses it; tests use it to
// inspect options without a broker.
func newClient(cfg config.MQTTConfig, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		topics: NewTopics(cfg.TopicPrefix),
		qos:    byte(cfg.QoS),
		subs:   make(map[string]subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
