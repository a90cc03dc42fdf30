package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/secretgov/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secretgov.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg := &Config{Path: filepath.Join(t.TempDir(), "absent.yaml")}
	require.NoError(t, cfg.Load())

	def := cfg.Definition
	require.NotNil(t, def)
	assert.Equal(t, CurrentVersion, def.Version)
	assert.Equal(t, 10, def.Store.FlushEvery)
	assert.Equal(t, 10000, def.Store.MaxAccessLogs)
	assert.Equal(t, 1000, def.Store.ExportLogLimit)
	assert.Equal(t, PersistenceFile, def.Persistence.Type)
	assert.Equal(t, PepperNone, def.Hashing.Pepper)
	assert.Equal(t, 1000, def.Rotation.MaxHistory)
	assert.Equal(t, "/metrics", def.Metrics.Path)

	interval, err := def.RotationInterval()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, interval)
}

func TestLoad_FullDefinition(t *testing.T) {
	t.Setenv("SECRETGOV_TEST_DSN_PASSWORD", "hunter2")

	path := writeConfig(t, `
version: 1
store:
  flush_every: 5
  max_access_logs: 200
persistence:
  type: sql
  driver: postgres
  dsn: postgres://gov:${SECRETGOV_TEST_DSN_PASSWORD}@db/secrets
hashing:
  pepper: keyring
rotation:
  interval: 30m
  actor: nightly
metrics:
  enabled: true
  port: 9191
notifications:
  log: true
  webhooks:
    - name: ops
      url: https://hooks.example.com/governance
      events: [violation]
      timeout: 5
      retry:
        max_attempts: 2
        backoff: fixed
policies_file: policies.yaml
`)

	cfg := &Config{Path: path}
	require.NoError(t, cfg.Load())
	def := cfg.Definition

	assert.Equal(t, 5, def.Store.FlushEvery)
	assert.Equal(t, 200, def.Store.MaxAccessLogs)
	assert.Equal(t, 1000, def.Store.ExportLogLimit)
	assert.Equal(t, "postgres://gov:hunter2@db/secrets", def.Persistence.ExpandedDSN())
	assert.Equal(t, PepperKeyring, def.Hashing.Pepper)
	assert.Equal(t, "secretgov", def.Hashing.KeyringService)
	assert.Equal(t, "nightly", def.Rotation.Actor)
	assert.True(t, def.Metrics.Enabled)
	assert.Equal(t, 9191, def.Metrics.Port)
	assert.Equal(t, "policies.yaml", def.PoliciesFile)
	assert.True(t, def.Notifications.Enabled())

	require.Len(t, def.Notifications.Webhooks, 1)
	wh := def.Notifications.Webhooks[0].ToProviderConfig()
	assert.Equal(t, "ops", wh.Name)
	assert.Equal(t, 5*time.Second, wh.Timeout)
	require.NotNil(t, wh.Retry)
	assert.Equal(t, 2, wh.Retry.MaxAttempts)
	assert.Equal(t, "fixed", wh.Retry.Backoff)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "version: 1\nstore: [unclosed")

	err := (&Config{Path: path}).Load()
	require.Error(t, err)

	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Message, "invalid YAML")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Definition)
		field  string
	}{
		{"unsupported version", func(d *Definition) { d.Version = 2 }, "version"},
		{"negative flush", func(d *Definition) { d.Store.FlushEvery = -1 }, "store.flush_every"},
		{"unknown persistence", func(d *Definition) { d.Persistence.Type = "s3" }, "persistence.type"},
		{"sql without dsn", func(d *Definition) {
			d.Persistence.Type = PersistenceSQL
			d.Persistence.Driver = "mysql"
		}, "persistence"},
		{"unknown pepper", func(d *Definition) { d.Hashing.Pepper = "vault" }, "hashing.pepper"},
		{"bad interval", func(d *Definition) { d.Rotation.Interval = "soon" }, "rotation.interval"},
		{"zero interval", func(d *Definition) { d.Rotation.Interval = "0s" }, "rotation.interval"},
		{"port out of range", func(d *Definition) { d.Metrics.Port = 70000 }, "metrics.port"},
		{"relative metrics path", func(d *Definition) { d.Metrics.Path = "metrics" }, "metrics.path"},
		{"bad webhook", func(d *Definition) {
			d.Notifications.Webhooks = []WebhookNotificationConfig{{Name: "x", URL: "not a url"}}
		}, "notifications.webhooks"},
		{"pagerduty without key", func(d *Definition) {
			d.Notifications.PagerDuty = &PagerDutyNotificationConfig{}
		}, "notifications.pagerduty"},
		{"slack without url", func(d *Definition) {
			d.Notifications.Slack = &SlackNotificationConfig{}
		}, "notifications.slack"},
		{"unknown webhook event", func(d *Definition) {
			d.Notifications.Webhooks = []WebhookNotificationConfig{{
				Name: "x", URL: "https://example.com", Events: []string{"deleted"},
			}}
		}, "notifications.webhooks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := Default()
			tt.mutate(def)

			err := def.Validate()
			require.Error(t, err)

			var cfgErr dserrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestValidate_DefaultsPass(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestNotificationProviders(t *testing.T) {
	t.Setenv("SECRETGOV_TEST_PD_KEY", "routing-key")

	path := writeConfig(t, `
version: 1
notifications:
  slack:
    webhook_url: https://hooks.slack.test/T000
    channel: "#secops"
    mentions:
      on_violation: ["@secops"]
  pagerduty:
    integration_key: ${SECRETGOV_TEST_PD_KEY}
    auto_resolve: true
  webhooks:
    - name: audit
      url: https://audit.example.com/events
`)

	cfg := &Config{Path: path}
	require.NoError(t, cfg.Load())

	n := cfg.Definition.Notifications
	assert.True(t, n.Enabled())
	assert.Equal(t, "routing-key", n.PagerDuty.ToProviderConfig().IntegrationKey)
	assert.Equal(t, []string{"@secops"}, n.Slack.ToProviderConfig().Mentions.OnViolation)

	var names []string
	for _, p := range n.Providers() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"slack", "pagerduty", "webhook:audit"}, names)
}
