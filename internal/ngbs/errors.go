package ngbs

import (
	"errors"
	"net"
	"syscall"
)

// Error classification codes. They double as localisation keys for pairing
// messages (pair.address.errors.<code>).
const (
	CodeOther             = "other"
	CodeTimeout           = "timeout"
	CodeUnreachable       = "unreachable"
	CodeInvalidSysID      = "invalid_sysid"
	CodeProtocol          = "protocol"
	CodeThermostatMissing = "thermostat_missing"
)

// Sentinel errors.
var (
	ErrUnknownScheme      = errors.New("ngbs: unknown address scheme")
	ErrInvalidAddress     = errors.New("ngbs: invalid address")
	ErrThermostatNotFound = errors.New("ngbs: thermostat not found")
	ErrClosed             = errors.New("ngbs: client closed")
)

// Error is the single classified error shape produced at the controller
// boundary. Code is always set.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error around err.
func NewError(code string, err error) *Error {
	if code == "" {
		code = CodeOther
	}
	e := &Error{Code: code, Err: err}
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

// AsError normalises any error into an *Error. An *Error anywhere in the
// chain is returned as is; transport failures are classified; everything
// else gets CodeOther. Returns nil for a nil error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(classify(err), err)
}

// CodeOf returns the classification code of err.
func CodeOf(err error) string {
	if e := AsError(err); e != nil {
		return e.Code
	}
	return ""
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrThermostatNotFound):
		return CodeThermostatMissing
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return CodeUnreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CodeUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeUnreachable
	}
	return CodeOther
}
