package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"
)

// RetryConfig holds retry configuration for webhooks.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (default: 3).
	MaxAttempts int

	// Backoff strategy: linear, exponential or fixed (default: exponential).
	Backoff string

	// InitialWait is the wait before the second attempt.
	InitialWait time.Duration
}

// WebhookConfig holds configuration for webhook notifications.
type WebhookConfig struct {
	Name    string
	URL     string
	Method  string
	Headers map[string]string

	// Events restricts delivery to these event types. Empty means all.
	Events []string

	// PayloadTemplate is a Go template for the request body.
	// If empty, the event is sent as JSON.
	PayloadTemplate string

	Retry   *RetryConfig
	Timeout time.Duration
}

// WebhookProvider posts governance events to an HTTP endpoint.
type WebhookProvider struct {
	config   WebhookConfig
	client   *http.Client
	template *template.Template
}

// NewWebhookProvider creates a webhook provider, filling in defaults.
// An unparsable payload template is reported by Validate.
func NewWebhookProvider(config WebhookConfig) *WebhookProvider {
	if config.Method == "" {
		config.Method = http.MethodPost
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Retry == nil {
		config.Retry = &RetryConfig{}
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = 3
	}
	if config.Retry.Backoff == "" {
		config.Retry.Backoff = "exponential"
	}
	if config.Retry.InitialWait == 0 {
		config.Retry.InitialWait = time.Second
	}

	provider := &WebhookProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
	if config.PayloadTemplate != "" {
		if tmpl, err := template.New("payload").Parse(config.PayloadTemplate); err == nil {
			provider.template = tmpl
		}
	}
	return provider
}

// Name returns the provider name.
func (p *WebhookProvider) Name() string {
	if p.config.Name != "" {
		return "webhook:" + p.config.Name
	}
	return "webhook"
}

// SupportsEvent returns true if this provider handles the given event type.
func (p *WebhookProvider) SupportsEvent(eventType EventType) bool {
	return eventSelected(p.config.Events, eventType)
}

// Validate checks if the provider configuration is valid.
func (p *WebhookProvider) Validate(ctx context.Context) error {
	if p.config.URL == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(p.config.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid URL: %s", p.config.URL)
	}

	switch strings.ToUpper(p.config.Method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return fmt.Errorf("invalid method: %s (must be POST, PUT, or PATCH)", p.config.Method)
	}

	switch strings.ToLower(p.config.Retry.Backoff) {
	case "linear", "exponential", "fixed":
	default:
		return fmt.Errorf("invalid backoff strategy: %s (must be linear, exponential, or fixed)", p.config.Retry.Backoff)
	}

	if p.config.PayloadTemplate != "" && p.template == nil {
		return fmt.Errorf("invalid payload template")
	}
	for _, e := range p.config.Events {
		if !validEventType(e) {
			return fmt.Errorf("unknown event type: %s", e)
		}
	}
	return nil
}

// Send delivers the event, retrying with backoff.
func (p *WebhookProvider) Send(ctx context.Context, event Event) error {
	payload, err := p.buildPayload(event)
	if err != nil {
		return fmt.Errorf("failed to build payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.config.Retry.MaxAttempts; attempt++ {
		err := p.doSend(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < p.config.Retry.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.calculateBackoff(attempt)):
			}
		}
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", p.config.Retry.MaxAttempts, lastErr)
}

func (p *WebhookProvider) doSend(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(p.config.Method), p.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range p.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *WebhookProvider) buildPayload(event Event) ([]byte, error) {
	if p.template != nil {
		var buf bytes.Buffer
		if err := p.template.Execute(&buf, event); err == nil {
			return buf.Bytes(), nil
		}
		// fall back to JSON on template error
	}
	return json.Marshal(event)
}

func (p *WebhookProvider) calculateBackoff(attempt int) time.Duration {
	initial := p.config.Retry.InitialWait

	switch strings.ToLower(p.config.Retry.Backoff) {
	case "linear":
		return initial * time.Duration(attempt)
	case "exponential":
		return initial * time.Duration(1<<(attempt-1))
	default:
		return initial
	}
}

func validEventType(s string) bool {
	for _, t := range AllEventTypes() {
		if strings.EqualFold(s, string(t)) {
			return true
		}
	}
	return false
}
