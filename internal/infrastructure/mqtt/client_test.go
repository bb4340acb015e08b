package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/config"
)

// testConfig returns an MQTT configuration for a local broker.
// Tests that need a broker skip when none is reachable at 127.0.0.1:1883.
func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS:         1,
		TopicPrefix: "ngbs-test",
		KeepAlive:   30,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

var (
	brokerOnce sync.Once
	brokerErr  error
)

// connectOrSkip connects to the local broker or skips the test. The broker
// is probed once per test binary.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	brokerOnce.Do(func() {
		c, err := Connect(testConfig("ngbs-test-probe"))
		if err == nil {
			c.Close()
		}
		brokerErr = err
	})
	if brokerErr != nil {
		t.Skipf("no MQTT broker available: %v", brokerErr)
	}
	c, err := Connect(testConfig(clientID))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

// =============================================================================
// Topics
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name   string
		topics Topics
		got    func(Topics) string
		want   string
	}{
		{"zero value state", Topics{}, func(t Topics) string { return t.State("dev-1", "target_temperature") }, "ngbs/state/dev-1/target_temperature"},
		{"options", Topics{}, func(t Topics) string { return t.Options("dev-1", "target_temperature") }, "ngbs/options/dev-1/target_temperature"},
		{"availability", Topics{}, func(t Topics) string { return t.Availability("dev-1") }, "ngbs/availability/dev-1"},
		{"command", Topics{}, func(t Topics) string { return t.Command("dev-1") }, "ngbs/command/dev-1"},
		{"ack", Topics{}, func(t Topics) string { return t.Ack("dev-1") }, "ngbs/ack/dev-1"},
		{"request", Topics{}, func(t Topics) string { return t.Request("req-1") }, "ngbs/request/req-1"},
		{"response", Topics{}, func(t Topics) string { return t.Response("req-1") }, "ngbs/response/req-1"},
		{"health", Topics{}, func(t Topics) string { return t.Health() }, "ngbs/health"},
		{"system status", Topics{}, func(t Topics) string { return t.SystemStatus() }, "ngbs/system/status"},
		{"all commands", Topics{}, func(t Topics) string { return t.AllCommands() }, "ngbs/command/+"},
		{"all requests", Topics{}, func(t Topics) string { return t.AllRequests() }, "ngbs/request/+"},
		{"all", Topics{}, func(t Topics) string { return t.All() }, "ngbs/#"},
		{"custom prefix", NewTopics("site/heating"), func(t Topics) string { return t.Availability("dev-1") }, "site/heating/availability/dev-1"},
		{"slashes trimmed", NewTopics("/site/"), func(t Topics) string { return t.Health() }, "site/health"},
		{"empty prefix defaults", NewTopics(""), func(t Topics) string { return t.AllCommands() }, "ngbs/command/+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.got(tt.topics); got != tt.want {
				t.Errorf("topic = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTopicsParse(t *testing.T) {
	topics := NewTopics("site/heating")
	tests := []struct {
		topic    string
		category string
		rest     []string
		ok       bool
	}{
		{"site/heating/command/dev-1", CategoryCommand, []string{"dev-1"}, true},
		{"site/heating/state/dev-1/eco_mode", CategoryState, []string{"dev-1", "eco_mode"}, true},
		{"site/heating/request/req-9", CategoryRequest, []string{"req-9"}, true},
		{"site/heating/health", "", nil, false},
		{"ngbs/command/dev-1", "", nil, false},
		{"site/heatingx/command/dev-1", "", nil, false},
		{"site/heating/command/", "", nil, false},
		{"site/heating//dev-1", "", nil, false},
	}
	for _, tt := range tests {
		category, rest, ok := topics.Parse(tt.topic)
		if ok != tt.ok || category != tt.category || strings.Join(rest, "/") != strings.Join(tt.rest, "/") {
			t.Errorf("Parse(%q) = %q, %v, %v", tt.topic, category, rest, ok)
		}
	}
}

func TestTopicsRetained(t *testing.T) {
	topics := NewTopics("site")
	retained := []string{
		topics.State("d", "eco_mode"),
		topics.Options("d", "target_temperature"),
		topics.Availability("d"),
		topics.Health(),
		topics.SystemStatus(),
	}
	for _, topic := range retained {
		if !topics.Retained(topic) {
			t.Errorf("Retained(%q) = false", topic)
		}
	}
	transient := []string{
		topics.Command("d"),
		topics.Ack("d"),
		topics.Request("r"),
		topics.Response("r"),
		"ngbs/state/d/eco_mode",
	}
	for _, topic := range transient {
		if topics.Retained(topic) {
			t.Errorf("Retained(%q) = true", topic)
		}
	}
}

// =============================================================================
// Offline behaviour
// =============================================================================

func TestUnconnectedClient(t *testing.T) {
	c := newClient(testConfig("bridge-1"))

	if c.IsConnected() {
		t.Error("IsConnected() should be false for an unconnected client")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Publish(c.Topics().Health(), nil, 1, true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	handler := func(string, []byte) error { return nil }
	if err := c.Subscribe(c.Topics().AllCommands(), 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if got := c.Topics().Prefix(); got != "ngbs-test" {
		t.Errorf("Topics().Prefix() = %q", got)
	}

	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (&Client{}).HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{}
	if err := c.Publish("", nil, 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Publish("ngbs/health", nil, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("QoS 3 error = %v", err)
	}
	big := make([]byte, maxPayloadSize+1)
	if err := c.Publish("ngbs/health", big, 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversized payload error = %v", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{}
	handler := func(string, []byte) error { return nil }
	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("ngbs/#", 5, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("QoS 5 error = %v", err)
	}
	if err := c.Subscribe("ngbs/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
}

func TestDispatch_RecoversPanicsAndLogsErrors(t *testing.T) {
	logger := &recordingLogger{}
	c := newClient(testConfig("bridge-1"), WithLogger(logger))

	c.dispatch(func(string, []byte) error { panic("boom") }, "ngbs/command/x", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "ngbs/command/x", nil)
	c.dispatch(func(string, []byte) error { return nil }, "ngbs/command/x", nil)

	if len(logger.errors) != 1 || logger.errors[0] != "MQTT handler panic recovered" {
		t.Errorf("errors = %v", logger.errors)
	}
	if len(logger.warns) != 1 || logger.warns[0] != "MQTT handler returned error" {
		t.Errorf("warns = %v", logger.warns)
	}

	// No logger set: must not panic.
	(&Client{}).dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
}

func TestConnectionHooks(t *testing.T) {
	var lost error
	c := newClient(testConfig("bridge-1"), WithOnDisconnect(func(err error) { lost = err }))
	c.connected.Store(true)

	cause := errors.New("broker went away")
	c.connectionLost(cause)
	if c.connected.Load() {
		t.Error("still marked connected after connection loss")
	}
	if !errors.Is(lost, cause) {
		t.Errorf("disconnect hook got %v", lost)
	}
}

func TestStatusPayload(t *testing.T) {
	var s Status
	if err := json.Unmarshal(statusPayload("bridge-1", StatusOffline, ReasonShutdown), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Status != StatusOffline || s.ClientID != "bridge-1" || s.Reason != ReasonShutdown || s.Timestamp.IsZero() {
		t.Errorf("status = %+v", s)
	}

	online := string(statusPayload("bridge-1", StatusOnline, ""))
	if strings.Contains(online, "reason") {
		t.Errorf("online payload carries a reason: %s", online)
	}
}

func TestPahoOptions(t *testing.T) {
	cfg := testConfig("bridge-1")
	cfg.Broker.TLS = true
	cfg.Auth.Username = "ngbs"
	cfg.Auth.Password = "secret"
	cfg.TopicPrefix = "site/heating"

	opts := newClient(cfg).pahoOptions()
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "bridge-1" || opts.Username != "ngbs" || opts.Password != "secret" {
		t.Errorf("identity = %q/%q", opts.ClientID, opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("TLS not configured")
	}
	if opts.KeepAlive != 30 {
		t.Errorf("KeepAlive = %d, want 30", opts.KeepAlive)
	}
	if opts.WillTopic != "site/heating/system/status" || !opts.WillRetained || opts.WillQos != statusQoS {
		t.Errorf("will = %q retained=%v qos=%d", opts.WillTopic, opts.WillRetained, opts.WillQos)
	}
	var will Status
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if will.Status != StatusOffline || will.Reason != ReasonUnexpectedDisconnect {
		t.Errorf("will = %+v", will)
	}

	cfg.KeepAlive = 0
	if got := newClient(cfg).pahoOptions().KeepAlive; got != 60 {
		t.Errorf("default KeepAlive = %d, want 60", got)
	}
}

// =============================================================================
// Broker tests
// =============================================================================

func TestConnectAndClose(t *testing.T) {
	c := connectOrSkip(t, "ngbs-test-connect")
	if !c.IsConnected() {
		t.Fatal("IsConnected() = false after Connect")
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	c := connectOrSkip(t, "ngbs-test-roundtrip")
	topics := c.Topics()

	deviceID := fmt.Sprintf("test-%d", time.Now().UnixNano())
	received := make(chan string, 1)
	err := c.Subscribe(topics.AllCommands(), 1, func(topic string, payload []byte) error {
		if strings.HasSuffix(topic, deviceID) {
			received <- string(payload)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	command := topics.Command(deviceID)
	if err := c.Publish(command, []byte(`{"command":"set_eco"}`), 1, topics.Retained(command)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if !strings.Contains(got, "set_eco") {
			t.Errorf("payload = %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}
