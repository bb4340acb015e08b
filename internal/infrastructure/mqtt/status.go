package mqtt

import (
	"encoding/json"
	"time"
)

// Bridge status values published on the system status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Reasons attached to an offline status.
const (
	ReasonUnexpectedDisconnect = "unexpected_disconnect"
	ReasonShutdown             = "graceful_shutdown"
)

// statusQoS is used for the status topic and the Last Will.
const statusQoS = 1

// Status is the retained payload of the system status topic.
type Status struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) []byte {
	// Status holds only strings and a time, so Marshal cannot fail.
	payload, _ := json.Marshal(Status{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	})
	return payload
}
