package ngbs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/thermostat"
)

// MQTT message types exchanged between the platform and the bridge.

// Command names accepted on ngbs/command/{device_id}.
const (
	CommandSetTarget       = "set_target"
	CommandSetMode         = "set_mode"
	CommandSetEco          = "set_eco"
	CommandSetParentalLock = "set_parental_lock"
)

// Request actions accepted on ngbs/request/{request_id}.
const (
	ActionReadState      = "read_state"
	ActionReadAll        = "read_all"
	ActionUpdateSettings = "update_settings"
)

// CommandMessage asks the bridge to change a thermostat.
// Topic: ngbs/command/{device_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgment.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// DeviceID defaults to the device id in the topic.
	DeviceID string `json:"device_id"`

	// Command is one of the Command* names.
	Command string `json:"command"`

	// Parameters:
	//   {"target": 21.5} for set_target
	//   {"mode": "heat"} for set_mode
	//   {"eco": true} for set_eco
	//   {"locked": true} for set_parental_lock
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("mqtt", "api").
	Source string `json:"source,omitempty"`
}

// UnmarshalJSON accepts a missing or RFC 3339 timestamp.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted indicates the controller applied the command.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the controller did not answer in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage acknowledges a command.
// Topic: ngbs/ack/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for failed commands and requests.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// NewAckMessage creates a successful acknowledgment.
func NewAckMessage(cmd CommandMessage) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Command:   cmd.Command,
		Status:    AckAccepted,
	}
}

// NewAckError creates a failed acknowledgment. A timeout code yields
// AckTimeout.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Command:   cmd.Command,
		Status:    status,
		Error:     &AckError{Code: code, Message: message},
	}
}

// CapabilityMessage carries one capability value.
// Topic: ngbs/state/{device_id}/{capability}, retained.
type CapabilityMessage struct {
	DeviceID   string    `json:"device_id"`
	Capability string    `json:"capability"`
	Value      any       `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// OptionsMessage carries the options of a settable capability.
// Topic: ngbs/options/{device_id}/{capability}, retained.
type OptionsMessage struct {
	DeviceID   string    `json:"device_id"`
	Capability string    `json:"capability"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	Timestamp  time.Time `json:"timestamp"`
}

// AvailabilityMessage reports whether a device can be controlled.
// Topic: ngbs/availability/{device_id}, retained.
type AvailabilityMessage struct {
	DeviceID  string    `json:"device_id"`
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: ngbs/health, retained. Interval: bridge.health_interval.
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// DevicesManaged is the number of running devices, DevicesUnavailable
	// how many of them are currently unavailable.
	DevicesManaged     int `json:"devices_managed"`
	DevicesUnavailable int `json:"devices_unavailable"`

	// Connections is the number of live controller clients.
	Connections int `json:"connections"`

	Reason string `json:"reason,omitempty"`
}

// RequestMessage asks the bridge for data or a settings change.
// Topic: ngbs/request/{request_id}
type RequestMessage struct {
	RequestID  string         `json:"request_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     string         `json:"action"`
	DeviceID   string         `json:"device_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseMessage answers a request.
// Topic: ngbs/response/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newResponse(req RequestMessage, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

func newResponseError(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// DeviceSnapshot is the live view of one running device.
type DeviceSnapshot struct {
	DeviceID     string          `json:"device_id"`
	Kind         thermostat.Kind `json:"kind"`
	Address      string          `json:"address"`
	ThermostatID string          `json:"thermostat_id"`
	State        string          `json:"state"`
	Reason       string          `json:"reason,omitempty"`
	Status       map[string]any  `json:"status,omitempty"`
}
