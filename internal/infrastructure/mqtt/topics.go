package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "ngbs"

// Topic categories (first level below the prefix).
const (
	CategoryState        = "state"
	CategoryOptions      = "options"
	CategoryAvailability = "availability"
	CategoryCommand      = "command"
	CategoryAck          = "ack"
	CategoryRequest      = "request"
	CategoryResponse     = "response"
	CategorySystem       = "system"
)

// Topics builds and parses the bridge topics under one prefix.
// The zero value uses DefaultTopicPrefix.
//
//	t := mqtt.NewTopics("site/heating")
//	t.State("3f2a", "target_temperature")
//	// "site/heating/state/3f2a/target_temperature"
type Topics struct {
	prefix string
}

// NewTopics returns topic builders rooted at prefix. Surrounding slashes
// are ignored.
func NewTopics(prefix string) Topics {
	return Topics{prefix: strings.Trim(prefix, "/")}
}

// Prefix returns the effective topic prefix.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

func (t Topics) join(levels ...string) string {
	return t.Prefix() + "/" + strings.Join(levels, "/")
}

// State is the retained topic of one capability value.
func (t Topics) State(deviceID, capability string) string {
	return t.join(CategoryState, deviceID, capability)
}

// Options is the retained topic of one capability's options.
func (t Topics) Options(deviceID, capability string) string {
	return t.join(CategoryOptions, deviceID, capability)
}

// Availability is the retained availability topic of a device.
func (t Topics) Availability(deviceID string) string {
	return t.join(CategoryAvailability, deviceID)
}

// Command is where commands for a device arrive.
func (t Topics) Command(deviceID string) string {
	return t.join(CategoryCommand, deviceID)
}

// Ack is where command acknowledgements for a device go out.
func (t Topics) Ack(deviceID string) string {
	return t.join(CategoryAck, deviceID)
}

// Request is the topic of one bridge request.
func (t Topics) Request(requestID string) string {
	return t.join(CategoryRequest, requestID)
}

// Response is where a request is answered.
func (t Topics) Response(requestID string) string {
	return t.join(CategoryResponse, requestID)
}

// Health is the retained bridge health topic.
func (t Topics) Health() string {
	return t.join("health")
}

// SystemStatus is the online/offline topic, also used for the Last Will.
func (t Topics) SystemStatus() string {
	return t.join(CategorySystem, "status")
}

// AllCommands matches commands for every device.
func (t Topics) AllCommands() string {
	return t.join(CategoryCommand, "+")
}

// AllRequests matches every bridge request.
func (t Topics) AllRequests() string {
	return t.join(CategoryRequest, "+")
}

// All matches all bridge traffic.
func (t Topics) All() string {
	return t.join("#")
}

// Parse splits a topic under the prefix into its category and the
// remaining levels. It returns false for foreign topics and for topics
// with empty levels.
//
//	NewTopics("ngbs").Parse("ngbs/command/abc") // "command", ["abc"], true
func (t Topics) Parse(topic string) (category string, rest []string, ok bool) {
	tail, found := strings.CutPrefix(topic, t.Prefix()+"/")
	if !found {
		return "", nil, false
	}
	parts := strings.Split(tail, "/")
	if len(parts) < 2 {
		return "", nil, false
	}
	for _, p := range parts {
		if p == "" {
			return "", nil, false
		}
	}
	return parts[0], parts[1:], true
}

// Retained reports whether messages on topic are published retained.
// Device state, options, availability, health and system status are
// retained so late subscribers see the current picture; commands, acks
// and request traffic are not.
func (t Topics) Retained(topic string) bool {
	if topic == t.Health() {
		return true
	}
	category, _, ok := t.Parse(topic)
	if !ok {
		return false
	}
	switch category {
	case CategoryState, CategoryOptions, CategoryAvailability, CategorySystem:
		return true
	}
	return false
}
