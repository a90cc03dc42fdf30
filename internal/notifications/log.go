package notifications

import (
	"context"

	"github.com/systmms/secretgov/internal/logging"
)

// LogProvider writes events to the application log.
type LogProvider struct {
	logger *logging.Logger
	events []EventType
}

// NewLogProvider returns a provider logging the given event types, or all
// of them when none are given.
func NewLogProvider(logger *logging.Logger, events ...EventType) *LogProvider {
	return &LogProvider{logger: logger, events: events}
}

// Name returns the provider name.
func (p *LogProvider) Name() string { return "log" }

// SupportsEvent returns true if this provider handles the given event type.
func (p *LogProvider) SupportsEvent(eventType EventType) bool {
	if len(p.events) == 0 {
		return true
	}
	for _, e := range p.events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Validate implements Provider.
func (p *LogProvider) Validate(ctx context.Context) error { return nil }

// Send logs the event. Failures and violations are logged as warnings.
func (p *LogProvider) Send(ctx context.Context, event Event) error {
	l := p.logger.With("event", string(event.Type), "secret", event.SecretName)
	switch event.Type {
	case EventTypeRotationFailed, EventTypeViolation:
		l.Warn("%s", event.Message)
	default:
		l.Info("%s", event.Message)
	}
	return nil
}
