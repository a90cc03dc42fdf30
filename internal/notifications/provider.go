// Package notifications delivers governance events to external sinks.
package notifications

import (
	"context"
)

// Provider defines the interface for sending governance notifications.
type Provider interface {
	// Name returns the provider name (e.g., "webhook", "log").
	Name() string

	// Send sends a notification for the given event.
	Send(ctx context.Context, event Event) error

	// SupportsEvent returns true if this provider handles the given event type.
	SupportsEvent(eventType EventType) bool

	// Validate checks if the provider configuration is valid.
	Validate(ctx context.Context) error
}

// Notifier accepts events for asynchronous delivery. *Manager implements it.
type Notifier interface {
	Send(event Event)
}
