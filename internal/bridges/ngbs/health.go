package ngbs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/mqtt"
)

// defaultHealthInterval is used when no interval is configured.
const defaultHealthInterval = 30 * time.Second

// HealthPublisher publishes health messages. Satisfied by *mqtt.Client.
type HealthPublisher interface {
	Topics() mqtt.Topics
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthSource reports the figures a health message carries.
type HealthSource interface {
	// DeviceCounts returns the running and the unavailable device count.
	DeviceCounts() (managed, unavailable int)

	// Connections returns the number of live controller clients.
	Connections() int
}

// HealthReporter publishes bridge health to the retained health topic periodically.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	source    HealthSource

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval between reports. Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher
	Source    HealthSource
}

// NewHealthReporter creates a health reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus is degraded when MQTT is down or any device is
// unavailable.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.source != nil {
		if _, unavailable := h.source.DeviceCounts(); unavailable > 0 {
			return HealthDegraded, "devices unavailable"
		}
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        h.bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.source != nil {
		msg.DevicesManaged, msg.DevicesUnavailable = h.source.DeviceCounts()
		msg.Connections = h.source.Connections()
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.publisher.Topics().Health(), payload, qosAtLeastOnce, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
