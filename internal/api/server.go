package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/device"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/discovery"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/config"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/logging"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/pairing"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/thermostat"

	bridge "github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/bridges/ngbs"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Bridge runs paired devices. Satisfied by *ngbs.Bridge.
type Bridge interface {
	AddDevice(ctx context.Context, d device.Device) error
	RemoveDevice(id string) error
	UpdateSettings(ctx context.Context, id string, settings device.Settings) (*device.Device, error)
	Execute(ctx context.Context, deviceID, command string, params map[string]any) error
	Snapshot(id string) (bridge.DeviceSnapshot, error)
	DeviceCounts() (managed, unavailable int)
}

// SessionFactory starts a pairing flow for one device kind.
type SessionFactory func(kind thermostat.Kind) (*pairing.Session, error)

// ScanObserver is told about every discovery scan. Satisfied by *metrics.Metrics.
type ScanObserver interface {
	ScanCompleted(found bool, err error)
}

// ConnectionChecker reports broker connectivity. Satisfied by *mqtt.Client.
type ConnectionChecker interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Bridge   Bridge

	// NewSession builds pairing sessions. Required.
	NewSession SessionFactory

	// Discoverer runs network scans; nil disables /discovery.
	Discoverer pairing.Discoverer

	// Optional.
	Metrics      http.Handler
	ScanObserver ScanObserver
	MQTT         ConnectionChecker
	Version      string
}

// Server is the HTTP API of the bridge: paired devices, the pairing
// wizard, network discovery, health and metrics.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	registry   *device.Registry
	bridge     Bridge
	newSession SessionFactory
	discoverer pairing.Discoverer
	metrics    http.Handler
	scans      ScanObserver
	mqtt       ConnectionChecker
	version    string

	sessions   map[string]*pairingSession
	sessionsMu sync.Mutex

	server *http.Server
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.NewSession == nil {
		return nil, fmt.Errorf("pairing session factory is required")
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		registry:   deps.Registry,
		bridge:     deps.Bridge,
		newSession: deps.NewSession,
		discoverer: deps.Discoverer,
		metrics:    deps.Metrics,
		scans:      deps.ScanObserver,
		mqtt:       deps.MQTT,
		version:    deps.Version,
		sessions:   make(map[string]*pairingSession),
	}, nil
}

// Handler returns the router without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.expireSessionsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close gracefully shuts down the API server. It waits up to 10 seconds for
// in-flight requests to complete.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	managed, unavailable := s.bridge.DeviceCounts()
	status := "ok"
	mqttConnected := s.mqtt != nil && s.mqtt.IsConnected()
	if !mqttConnected || unavailable > 0 {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              status,
		"version":             s.version,
		"mqtt_connected":      mqttConnected,
		"devices_managed":     managed,
		"devices_unavailable": unavailable,
	})
}

// scanTimeout bounds a full /24 scan.
const scanTimeout = 2 * time.Minute

// runScan runs a discovery scan and reports it to the scan observer.
func (s *Server) runScan(ctx context.Context, scan scanFunc, progress discovery.ProgressFunc) (*discovery.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	res, err := scan(ctx, progress)
	if s.scans != nil {
		s.scans.ScanCompleted(res != nil, err)
	}
	return res, err
}
