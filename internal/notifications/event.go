package notifications

import (
	"time"
)

// EventType represents the type of governance event.
type EventType string

const (
	// EventTypeRotated indicates a secret was rotated.
	EventTypeRotated EventType = "rotated"

	// EventTypeRotationFailed indicates a rotation attempt failed.
	EventTypeRotationFailed EventType = "rotation_failed"

	// EventTypeViolation indicates a policy violation was detected.
	EventTypeViolation EventType = "violation"
)

// Event is a governance event delivered to providers. It carries secret
// names and hashes only, never values.
type Event struct {
	Type           EventType         `json:"type"`
	SecretName     string            `json:"secret_name"`
	Classification string            `json:"classification,omitempty"`
	Environment    string            `json:"environment,omitempty"`
	Trigger        string            `json:"trigger,omitempty"`
	Severity       string            `json:"severity,omitempty"`
	Message        string            `json:"message"`
	Actor          string            `json:"actor,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// AllEventTypes returns all valid event types.
func AllEventTypes() []EventType {
	return []EventType{
		EventTypeRotated,
		EventTypeRotationFailed,
		EventTypeViolation,
	}
}
