package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/discovery"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/thermostat"
)

// Codes raised by the session itself, next to the ngbs codes.
const (
	CodeMissingAddress = "missing_address"
	CodeMissingSysID   = "missing_sysid"
)

// errorKeyPrefix is the catalog key prefix of pairing error messages.
const errorKeyPrefix = "pair.address.errors."

// Sentinel errors.
var (
	ErrMissingAddress   = errors.New("pairing: no controller address set")
	ErrMissingSysID     = errors.New("pairing: no system id set")
	ErrSysIDUnsupported = errors.New("pairing: system id not used by this driver")
	ErrNoDiscovery      = errors.New("pairing: discovery not configured")
)

// Error is a pairing failure with a user-facing message.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Candidate is a thermostat offered for pairing.
type Candidate struct {
	Name string        `json:"name"`
	Kind string        `json:"kind"`
	Data CandidateData `json:"data"`
}

// CandidateData identifies the thermostat on its controller.
type CandidateData struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

// ClientRegistry supplies the probing client.
// Satisfied by *clients.Registry.
type ClientRegistry interface {
	Register(address string) (ngbs.Client, error)
	Unregister(address string) error
}

// Discoverer looks for a controller on the network.
// Satisfied by *discovery.Scanner.
type Discoverer interface {
	Scan(ctx context.Context, progress discovery.ProgressFunc) (*discovery.Result, error)
}

// Logger is the logging interface used by sessions.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds session dependencies.
type Config struct {
	Kind       thermostat.Kind
	Registry   ClientRegistry
	Discoverer Discoverer
	Catalog    *Catalog
	Locale     string
	Logger     Logger
}

// Session is one interactive pairing flow: collect the controller address
// (and system id for the service protocol), then list its thermostats.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Session struct {
	kind       thermostat.Kind
	registry   ClientRegistry
	discoverer Discoverer
	catalog    *Catalog
	locale     string
	logger     Logger

	mu    sync.Mutex
	host  string
	sysid string
}

// NewSession starts a pairing flow for devices of cfg.Kind.
func NewSession(cfg Config) (*Session, error) {
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("pairing: unknown kind %q", cfg.Kind)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("pairing: registry is required")
	}
	locale := cfg.Locale
	if locale == "" {
		locale = DefaultLocale
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Session{
		kind:       cfg.Kind,
		registry:   cfg.Registry,
		discoverer: cfg.Discoverer,
		catalog:    cfg.Catalog,
		locale:     locale,
		logger:     logger,
	}, nil
}

// Kind returns the driver kind being paired.
func (s *Session) Kind() thermostat.Kind { return s.kind }

// SetAddress records the controller host.
func (s *Session) SetAddress(host string) {
	host = strings.TrimSpace(host)
	s.mu.Lock()
	s.host = host
	s.mu.Unlock()
	s.logger.Info("pairing address set", "kind", s.kind, "host", host)
}

// SetSysID records the controller system id (service protocol only).
func (s *Session) SetSysID(sysid string) error {
	if s.kind != thermostat.KindThermostat {
		return ErrSysIDUnsupported
	}
	sysid = strings.TrimSpace(sysid)
	s.mu.Lock()
	s.sysid = sysid
	s.mu.Unlock()
	s.logger.Info("pairing system id set", "sysid", sysid)
	return nil
}

// Prefill scans the network and, on a hit, presets host and system id.
// It returns nil when nothing was found.
func (s *Session) Prefill(ctx context.Context, progress discovery.ProgressFunc) (*discovery.Result, error) {
	if s.discoverer == nil {
		return nil, ErrNoDiscovery
	}
	res, err := s.discoverer.Scan(ctx, progress)
	if err != nil {
		return nil, err
	}
	if res == nil {
		s.logger.Info("pairing prefill found no controller")
		return nil, nil
	}
	s.mu.Lock()
	s.host = res.Host
	if s.kind == thermostat.KindThermostat {
		s.sysid = res.SysID
	}
	s.mu.Unlock()
	s.logger.Info("pairing prefilled", "host", res.Host, "sysid", res.SysID)
	return res, nil
}

// Address returns the controller address built from the collected input.
func (s *Session) Address() (string, error) {
	s.mu.Lock()
	host, sysid := s.host, s.sysid
	s.mu.Unlock()

	if host == "" {
		return "", ngbs.NewError(CodeMissingAddress, ErrMissingAddress)
	}
	if s.kind == thermostat.KindModbusThermostat {
		return ngbs.ModbusAddress(host), nil
	}
	if sysid == "" {
		return "", ngbs.NewError(CodeMissingSysID, ErrMissingSysID)
	}
	return ngbs.ServiceAddress(sysid, host), nil
}

// ListDevices connects to the controller and returns one candidate per
// thermostat. The probing client is released whatever the outcome.
// Failures are returned as *Error with a localised message.
func (s *Session) ListDevices(ctx context.Context) ([]Candidate, error) {
	address, err := s.Address()
	if err != nil {
		return nil, s.fail(err)
	}
	s.logger.Info("connecting to controller", "address", address)

	client, err := s.registry.Register(address)
	if err != nil {
		return nil, s.fail(err)
	}
	defer func() {
		if err := s.registry.Unregister(address); err != nil {
			s.logger.Error("releasing pairing client", "address", address, "error", err)
		}
	}()

	state, err := client.GetState(ctx, false)
	if err != nil {
		return nil, s.fail(err)
	}

	candidates := make([]Candidate, 0, len(state.Thermostats))
	for i, t := range state.Thermostats {
		name := t.Name
		if name == "" {
			name = fmt.Sprintf("Thermostat %d", i+1)
		}
		candidates = append(candidates, Candidate{
			Name: name,
			Kind: string(s.kind),
			Data: CandidateData{URL: address, ID: t.ID},
		})
	}
	s.logger.Info("thermostats listed", "address", address, "count", len(candidates))
	return candidates, nil
}

func (s *Session) fail(err error) *Error {
	code := ngbs.CodeOf(err)
	msg := Message(s.catalog, s.locale, err)
	s.logger.Error("ngbs client error", "code", code, "message", msg, "error", err)
	return &Error{Code: code, Message: msg, Err: err}
}

// Message derives the user-facing text for err: the localised
// pair.address.errors.<code>, then the error message, then its JSON form,
// then its Go syntax representation.
func Message(catalog *Catalog, locale string, err error) string {
	if err == nil {
		return ""
	}
	if s, ok := catalog.Translate(locale, errorKeyPrefix+ngbs.CodeOf(err)); ok {
		return s
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	if b, jerr := json.Marshal(err); jerr == nil && len(b) > 0 && string(b) != "{}" {
		return string(b)
	}
	return fmt.Sprintf("%#v", err)
}
