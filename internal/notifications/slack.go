package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SlackConfig holds configuration for Slack webhook notifications.
type SlackConfig struct {
	// WebhookURL is the Slack incoming webhook URL.
	WebhookURL string

	// Channel is the Slack channel to post to (optional, uses webhook default).
	Channel string

	// Events specifies which events trigger notifications.
	// If empty, all events are sent.
	Events []string

	// Mentions specifies who to mention for specific events.
	Mentions *SlackMentions
}

// SlackMentions defines who to mention for specific event types.
type SlackMentions struct {
	// OnFailure lists Slack handles to mention when a rotation fails.
	OnFailure []string

	// OnViolation lists Slack handles to mention when a violation is found.
	OnViolation []string
}

// SlackProvider sends governance notifications to Slack via webhooks.
type SlackProvider struct {
	config SlackConfig
	client *http.Client
}

// NewSlackProvider creates a new Slack notification provider.
func NewSlackProvider(config SlackConfig) *SlackProvider {
	return &SlackProvider{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the provider name.
func (p *SlackProvider) Name() string {
	return "slack"
}

// SupportsEvent returns true if this provider handles the given event type.
func (p *SlackProvider) SupportsEvent(eventType EventType) bool {
	return eventSelected(p.config.Events, eventType)
}

// Validate checks if the provider configuration is valid.
func (p *SlackProvider) Validate(ctx context.Context) error {
	if p.config.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	parsed, err := url.Parse(p.config.WebhookURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid webhook URL: %s", p.config.WebhookURL)
	}
	for _, e := range p.config.Events {
		if !validEventType(e) {
			return fmt.Errorf("unknown event type: %s", e)
		}
	}
	return nil
}

// Send posts a Block Kit message for the event.
func (p *SlackProvider) Send(ctx context.Context, event Event) error {
	if err := postJSON(ctx, p.client, p.config.WebhookURL, p.buildMessage(event)); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

func (p *SlackProvider) buildMessage(event Event) map[string]interface{} {
	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]interface{}{
				"type":  "plain_text",
				"text":  fmt.Sprintf("%s %s", slackEmoji(event.Type), slackTitle(event.Type)),
				"emoji": true,
			},
		},
		{
			"type": "section",
			"fields": []map[string]interface{}{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Secret:*\n%s", event.SecretName)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Classification:*\n%s", event.Classification)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Environment:*\n%s", event.Environment)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Trigger:*\n%s", orDash(event.Trigger))},
			},
		},
		{
			"type": "section",
			"text": map[string]interface{}{"type": "mrkdwn", "text": event.Message},
		},
	}

	if mentions := p.mentions(event.Type); mentions != "" {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": map[string]interface{}{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*Attention:* %s", mentions),
			},
		})
	}

	blocks = append(blocks,
		map[string]interface{}{
			"type": "context",
			"elements": []map[string]interface{}{
				{
					"type": "mrkdwn",
					"text": fmt.Sprintf("<!date^%d^{date_short_pretty} at {time}|%s>",
						event.Timestamp.Unix(), event.Timestamp.Format(time.RFC3339)),
				},
			},
		},
		map[string]interface{}{"type": "divider"},
	)

	message := map[string]interface{}{"blocks": blocks}
	if p.config.Channel != "" {
		message["channel"] = p.config.Channel
	}
	return message
}

func (p *SlackProvider) mentions(eventType EventType) string {
	if p.config.Mentions == nil {
		return ""
	}
	switch eventType {
	case EventTypeRotationFailed:
		return strings.Join(p.config.Mentions.OnFailure, " ")
	case EventTypeViolation:
		return strings.Join(p.config.Mentions.OnViolation, " ")
	default:
		return ""
	}
}

func slackEmoji(eventType EventType) string {
	switch eventType {
	case EventTypeRotated:
		return ":white_check_mark:"
	case EventTypeRotationFailed:
		return ":x:"
	case EventTypeViolation:
		return ":rotating_light:"
	default:
		return ":bell:"
	}
}

func slackTitle(eventType EventType) string {
	switch eventType {
	case EventTypeRotated:
		return "Secret Rotated"
	case EventTypeRotationFailed:
		return "Secret Rotation Failed"
	case EventTypeViolation:
		return "Governance Policy Violation"
	default:
		return "Secret Governance Event"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// eventSelected reports whether eventType is in the configured list; an
// empty list selects every event.
func eventSelected(events []string, eventType EventType) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if strings.EqualFold(e, string(eventType)) {
			return true
		}
	}
	return false
}

// postJSON posts v as JSON and treats any non-2xx status as an error.
func postJSON(ctx context.Context, client *http.Client, endpoint string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
