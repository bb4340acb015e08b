package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/device"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/pairing"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/thermostat"

	bridge "github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/bridges/ngbs"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// Reason is the controller classification (timeout, unreachable, ...)
	// when the failure came from the controller.
	Reason string `json:"reason,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeConflict          = "conflict"
	ErrCodeInternal          = "internal_error"
	ErrCodeValidation        = "validation_error"
	ErrCodeController        = "controller_error"
	ErrCodeTimeout           = "timeout"
	ErrCodeNotConfigured     = "not_configured"
	ErrCodeDeviceUnavailable = "device_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// errorResponse maps a domain error onto its HTTP form.
func errorResponse(err error) Error {
	status, code := http.StatusInternalServerError, ErrCodeInternal
	reason := ""

	switch {
	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, bridge.ErrDeviceNotManaged):
		status, code = http.StatusNotFound, ErrCodeNotFound

	case errors.Is(err, device.ErrDeviceExists),
		errors.Is(err, bridge.ErrDeviceManaged):
		status, code = http.StatusConflict, ErrCodeConflict

	case errors.Is(err, device.ErrInvalidDevice),
		errors.Is(err, device.ErrInvalidKind),
		errors.Is(err, device.ErrInvalidAddress),
		errors.Is(err, device.ErrInvalidName),
		errors.Is(err, device.ErrInvalidSlug),
		errors.Is(err, device.ErrInvalidSettings),
		errors.Is(err, bridge.ErrUnknownCommand),
		errors.Is(err, bridge.ErrInvalidParameters),
		errors.Is(err, thermostat.ErrModeUnsupported),
		errors.Is(err, thermostat.ErrModePerThermostat),
		errors.Is(err, thermostat.ErrInvalidMode),
		errors.Is(err, pairing.ErrMissingAddress),
		errors.Is(err, pairing.ErrMissingSysID),
		errors.Is(err, pairing.ErrSysIDUnsupported):
		status, code = http.StatusBadRequest, ErrCodeValidation

	case errors.Is(err, pairing.ErrNoDiscovery),
		errors.Is(err, bridge.ErrNoFeed):
		status, code = http.StatusServiceUnavailable, ErrCodeNotConfigured

	case errors.Is(err, thermostat.ErrNotInitialized):
		status, code = http.StatusServiceUnavailable, ErrCodeDeviceUnavailable

	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, ErrCodeTimeout

	default:
		var ne *ngbs.Error
		if errors.As(err, &ne) {
			reason = ne.Code
			status, code = http.StatusBadGateway, ErrCodeController
			if ne.Code == ngbs.CodeTimeout {
				status = http.StatusGatewayTimeout
			}
		}
	}

	return Error{Status: status, Code: code, Message: err.Error(), Reason: reason}
}

// writeDomainError writes err with the status its kind maps to.
func writeDomainError(w http.ResponseWriter, err error) {
	resp := errorResponse(err)
	if resp.Status == http.StatusInternalServerError {
		resp.Message = "internal server error"
	}
	writeJSON(w, resp.Status, resp)
}
