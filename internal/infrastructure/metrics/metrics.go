// Package metrics exposes bridge counters and gauges in Prometheus format.
//
// Metrics live in a private registry, so several instances (tests, multiple
// bridges) never collide on the default registerer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
)

const namespace = "ngbs"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds every collector of the bridge.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	polls        *prometheus.CounterVec
	pollDuration prometheus.Histogram
	commands     *prometheus.CounterVec
	connections  prometheus.Gauge
	available    *prometheus.GaugeVec
	scans        *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Controller state fetches by outcome and error code.",
		}, []string{"result", "code"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of controller state fetches.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Thermostat commands by command and outcome.",
		}, []string{"command", "result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_connections",
			Help:      "Live controller clients held by the registry.",
		}),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_available",
			Help:      "1 when the paired device is available, 0 otherwise.",
		}, []string{"device_id"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_scans_total",
			Help:      "Network discovery scans by outcome (found, none, error).",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.polls,
		m.pollDuration,
		m.commands,
		m.connections,
		m.available,
		m.scans,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// PollCompleted records one controller fetch. Satisfies poller.Observer.
func (m *Metrics) PollCompleted(_ string, elapsed time.Duration, err error) {
	m.pollDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.polls.WithLabelValues(ResultError, ngbs.CodeOf(err)).Inc()
		return
	}
	m.polls.WithLabelValues(ResultOK, "").Inc()
}

// CommandCompleted records one thermostat command.
func (m *Metrics) CommandCompleted(command string, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.commands.WithLabelValues(command, result).Inc()
}

// SetConnections records the live client count.
// Pass it to clients.WithObserver.
func (m *Metrics) SetConnections(n int) {
	m.connections.Set(float64(n))
}

// SetDeviceAvailable records the availability of a device.
func (m *Metrics) SetDeviceAvailable(deviceID string, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	m.available.WithLabelValues(deviceID).Set(v)
}

// ForgetDevice drops the availability series of a removed device.
func (m *Metrics) ForgetDevice(deviceID string) {
	m.available.DeleteLabelValues(deviceID)
}

// ScanCompleted records a discovery scan. found reports a hit.
func (m *Metrics) ScanCompleted(found bool, err error) {
	switch {
	case err != nil:
		m.scans.WithLabelValues(ResultError).Inc()
	case found:
		m.scans.WithLabelValues("found").Inc()
	default:
		m.scans.WithLabelValues("none").Inc()
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
