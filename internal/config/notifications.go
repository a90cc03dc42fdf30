package config

import (
	"context"
	"os"
	"time"

	dserrors "github.com/systmms/secretgov/internal/errors"
	"github.com/systmms/secretgov/internal/notifications"
)

// NotificationConfig holds configuration for governance notifications.
type NotificationConfig struct {
	// QueueSize bounds the async delivery queue (default: 100).
	QueueSize int `yaml:"queue_size,omitempty"`

	// Log writes every event to the application log.
	Log bool `yaml:"log,omitempty"`

	// Slack configuration for Slack notifications.
	Slack *SlackNotificationConfig `yaml:"slack,omitempty"`

	// PagerDuty configuration for incident creation.
	PagerDuty *PagerDutyNotificationConfig `yaml:"pagerduty,omitempty"`

	// Webhooks configuration for custom webhook notifications.
	Webhooks []WebhookNotificationConfig `yaml:"webhooks,omitempty"`
}

// SlackNotificationConfig holds configuration for Slack notifications.
type SlackNotificationConfig struct {
	// WebhookURL is the Slack incoming webhook URL.
	// Supports environment variable references like ${SLACK_WEBHOOK_URL}.
	WebhookURL string `yaml:"webhook_url"`

	// Channel overrides the webhook's default channel.
	Channel string `yaml:"channel,omitempty"`

	// Events specifies which events trigger notifications. Empty means all.
	Events []string `yaml:"events,omitempty"`

	// Mentions configures who to mention for specific events.
	Mentions *SlackMentionConfig `yaml:"mentions,omitempty"`
}

// SlackMentionConfig configures Slack mentions for events.
type SlackMentionConfig struct {
	OnFailure   []string `yaml:"on_failure,omitempty"`
	OnViolation []string `yaml:"on_violation,omitempty"`
}

// PagerDutyNotificationConfig holds configuration for PagerDuty notifications.
type PagerDutyNotificationConfig struct {
	// IntegrationKey is the Events API v2 routing key.
	// Supports environment variable references like ${PAGERDUTY_KEY}.
	IntegrationKey string `yaml:"integration_key"`

	// Severity overrides the severity derived from the secret classification.
	Severity string `yaml:"severity,omitempty"`

	// Events specifies which events open incidents.
	// Empty means rotation_failed and violation.
	Events []string `yaml:"events,omitempty"`

	// AutoResolve resolves a secret's incident when it is next rotated.
	AutoResolve bool `yaml:"auto_resolve,omitempty"`
}

// ToProviderConfig converts to the notifications package form.
func (s SlackNotificationConfig) ToProviderConfig() notifications.SlackConfig {
	cfg := notifications.SlackConfig{
		WebhookURL: os.ExpandEnv(s.WebhookURL),
		Channel:    s.Channel,
		Events:     s.Events,
	}
	if s.Mentions != nil {
		cfg.Mentions = &notifications.SlackMentions{
			OnFailure:   s.Mentions.OnFailure,
			OnViolation: s.Mentions.OnViolation,
		}
	}
	return cfg
}

// ToProviderConfig converts to the notifications package form.
func (p PagerDutyNotificationConfig) ToProviderConfig() notifications.PagerDutyConfig {
	return notifications.PagerDutyConfig{
		IntegrationKey: os.ExpandEnv(p.IntegrationKey),
		Severity:       p.Severity,
		Events:         p.Events,
		AutoResolve:    p.AutoResolve,
	}
}

// WebhookNotificationConfig holds configuration for custom webhook notifications.
type WebhookNotificationConfig struct {
	// Name is a human-readable name for this webhook.
	Name string `yaml:"name"`

	// URL is the webhook endpoint URL.
	URL string `yaml:"url"`

	// Method is the HTTP method to use (default: POST).
	Method string `yaml:"method,omitempty"`

	// Headers are additional HTTP headers to include.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Events specifies which events trigger notifications.
	// Valid values: rotated, rotation_failed, violation. Empty means all.
	Events []string `yaml:"events,omitempty"`

	// PayloadTemplate is a Go template for the request body.
	// If empty, the event is posted as JSON.
	PayloadTemplate string `yaml:"payload_template,omitempty"`

	// Retry configuration.
	Retry *WebhookRetryConfig `yaml:"retry,omitempty"`

	// Timeout in seconds (default: 10).
	TimeoutSeconds int `yaml:"timeout,omitempty"`
}

// WebhookRetryConfig holds retry configuration for webhooks.
type WebhookRetryConfig struct {
	// MaxAttempts is the maximum number of attempts (default: 3).
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// Backoff strategy: linear, exponential or fixed (default: exponential).
	Backoff string `yaml:"backoff,omitempty"`
}

// ToProviderConfig converts to the notifications package form.
func (w WebhookNotificationConfig) ToProviderConfig() notifications.WebhookConfig {
	cfg := notifications.WebhookConfig{
		Name:            w.Name,
		URL:             w.URL,
		Method:          w.Method,
		Headers:         w.Headers,
		Events:          w.Events,
		PayloadTemplate: w.PayloadTemplate,
	}
	if w.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(w.TimeoutSeconds) * time.Second
	}
	if w.Retry != nil {
		cfg.Retry = &notifications.RetryConfig{
			MaxAttempts: w.Retry.MaxAttempts,
			Backoff:     w.Retry.Backoff,
		}
	}
	return cfg
}

// Enabled reports whether any provider is configured.
func (n NotificationConfig) Enabled() bool {
	return n.Log || n.Slack != nil || n.PagerDuty != nil || len(n.Webhooks) > 0
}

// Providers builds every configured provider except the log provider,
// which needs the application logger.
func (n NotificationConfig) Providers() []notifications.Provider {
	var providers []notifications.Provider
	if n.Slack != nil {
		providers = append(providers, notifications.NewSlackProvider(n.Slack.ToProviderConfig()))
	}
	if n.PagerDuty != nil {
		providers = append(providers, notifications.NewPagerDutyProvider(n.PagerDuty.ToProviderConfig()))
	}
	for _, w := range n.Webhooks {
		providers = append(providers, notifications.NewWebhookProvider(w.ToProviderConfig()))
	}
	return providers
}

func (n NotificationConfig) validate() error {
	ctx := context.Background()
	if n.Slack != nil {
		if err := notifications.NewSlackProvider(n.Slack.ToProviderConfig()).Validate(ctx); err != nil {
			return dserrors.ConfigError{Field: "notifications.slack", Message: err.Error()}
		}
	}
	if n.PagerDuty != nil {
		if err := notifications.NewPagerDutyProvider(n.PagerDuty.ToProviderConfig()).Validate(ctx); err != nil {
			return dserrors.ConfigError{
				Field:      "notifications.pagerduty",
				Message:    err.Error(),
				Suggestion: "Set integration_key, e.g. integration_key: ${PAGERDUTY_INTEGRATION_KEY}",
			}
		}
	}
	for i, w := range n.Webhooks {
		if err := notifications.NewWebhookProvider(w.ToProviderConfig()).Validate(ctx); err != nil {
			return dserrors.ConfigError{
				Field:   "notifications.webhooks",
				Value:   i,
				Message: err.Error(),
			}
		}
	}
	return nil
}
