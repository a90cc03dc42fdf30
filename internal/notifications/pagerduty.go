package notifications

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// PagerDuty Events API v2 endpoint
const pagerDutyAPIURL = "https://events.pagerduty.com/v2/enqueue"

// PagerDutyConfig holds configuration for PagerDuty notifications.
type PagerDutyConfig struct {
	// IntegrationKey is the PagerDuty Events API v2 integration key.
	IntegrationKey string

	// Severity overrides the incident severity: critical, error, warning, info.
	// When empty it is derived from the event's classification.
	Severity string

	// Events specifies which events trigger notifications.
	// If empty, rotation failures and violations are sent.
	Events []string

	// AutoResolve resolves a secret's open incident when it is rotated.
	AutoResolve bool
}

// PagerDutyProvider opens incidents for failed rotations and violations.
type PagerDutyProvider struct {
	config PagerDutyConfig
	client *http.Client
	apiURL string
}

// NewPagerDutyProvider creates a new PagerDuty notification provider.
func NewPagerDutyProvider(config PagerDutyConfig) *PagerDutyProvider {
	return &PagerDutyProvider{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
		apiURL: pagerDutyAPIURL,
	}
}

// Name returns the provider name.
func (p *PagerDutyProvider) Name() string {
	return "pagerduty"
}

// SupportsEvent returns true if this provider handles the given event type.
// Successful rotations are only delivered when AutoResolve is set.
func (p *PagerDutyProvider) SupportsEvent(eventType EventType) bool {
	if len(p.config.Events) == 0 {
		return eventType != EventTypeRotated || p.config.AutoResolve
	}
	return eventSelected(p.config.Events, eventType)
}

// Validate checks if the provider configuration is valid.
func (p *PagerDutyProvider) Validate(ctx context.Context) error {
	if p.config.IntegrationKey == "" {
		return fmt.Errorf("integration key is required")
	}
	if p.config.Severity != "" {
		switch strings.ToLower(p.config.Severity) {
		case "critical", "error", "warning", "info":
		default:
			return fmt.Errorf("invalid severity: %s (must be critical, error, warning, or info)", p.config.Severity)
		}
	}
	for _, e := range p.config.Events {
		if !validEventType(e) {
			return fmt.Errorf("unknown event type: %s", e)
		}
	}
	return nil
}

// Send triggers or resolves the incident for the event's secret.
func (p *PagerDutyProvider) Send(ctx context.Context, event Event) error {
	action := "trigger"
	if event.Type == EventTypeRotated {
		if !p.config.AutoResolve {
			return nil
		}
		action = "resolve"
	}

	if err := postJSON(ctx, p.client, p.apiURL, p.buildPayload(event, action)); err != nil {
		return fmt.Errorf("pagerduty: %w", err)
	}
	return nil
}

func (p *PagerDutyProvider) buildPayload(event Event, action string) map[string]interface{} {
	details := map[string]interface{}{
		"secret":         event.SecretName,
		"classification": event.Classification,
		"environment":    event.Environment,
		"event_type":     string(event.Type),
		"timestamp":      event.Timestamp.Format(time.RFC3339),
	}
	if event.Trigger != "" {
		details["trigger"] = event.Trigger
	}
	if event.Actor != "" {
		details["actor"] = event.Actor
	}
	for k, v := range event.Metadata {
		details[k] = v
	}

	summary := fmt.Sprintf("secretgov %s: %s", strings.ReplaceAll(string(event.Type), "_", " "), event.SecretName)
	if event.Message != "" {
		summary += " - " + event.Message
	}
	// PagerDuty limit
	if len(summary) > 1024 {
		summary = summary[:1021] + "..."
	}

	payload := map[string]interface{}{
		"summary":        summary,
		"severity":       p.severity(event),
		"source":         "secretgov",
		"custom_details": details,
	}
	if !event.Timestamp.IsZero() {
		payload["timestamp"] = event.Timestamp.Format(time.RFC3339)
	}

	return map[string]interface{}{
		"routing_key":  p.config.IntegrationKey,
		"event_action": action,
		"dedup_key":    "secretgov-" + event.SecretName,
		"payload":      payload,
	}
}

func (p *PagerDutyProvider) severity(event Event) string {
	if p.config.Severity != "" {
		return strings.ToLower(p.config.Severity)
	}
	level := event.Severity
	if level == "" {
		level = event.Classification
	}
	switch strings.ToUpper(level) {
	case "CRITICAL":
		return "critical"
	case "HIGH":
		return "error"
	case "MODERATE":
		return "warning"
	case "LOW":
		return "info"
	default:
		return "error"
	}
}
