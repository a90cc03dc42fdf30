package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/secretgov/internal/errors"
	"github.com/systmms/secretgov/internal/logging"
)

// DefaultPath is the configuration file looked up when none is given.
const DefaultPath = "secretgov.yaml"

// CurrentVersion is the only supported configuration version.
const CurrentVersion = 1

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the secretgov.yaml structure
type Definition struct {
	Version       int                `yaml:"version"`
	Store         StoreConfig        `yaml:"store"`
	Persistence   PersistenceConfig  `yaml:"persistence"`
	Hashing       HashingConfig      `yaml:"hashing"`
	Rotation      RotationConfig     `yaml:"rotation"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Notifications NotificationConfig `yaml:"notifications"`

	// PoliciesFile is a YAML policy file. When empty the built-in baseline
	// policies are registered.
	PoliciesFile string `yaml:"policies_file,omitempty"`
}

// StoreConfig tunes the secret store.
type StoreConfig struct {
	FlushEvery     int `yaml:"flush_every,omitempty"`
	MaxAccessLogs  int `yaml:"max_access_logs,omitempty"`
	ExportLogLimit int `yaml:"export_log_limit,omitempty"`
}

// Persistence backends.
const (
	PersistenceFile = "file"
	PersistenceSQL  = "sql"
	PersistenceNone = "none"
)

// PersistenceConfig selects where metadata snapshots are stored.
type PersistenceConfig struct {
	// Type is file (default), sql or none.
	Type string `yaml:"type,omitempty"`

	// Dir is the file backend directory. SECRETGOV_DATA_DIR overrides the
	// default location when Dir is empty.
	Dir string `yaml:"dir,omitempty"`

	// Driver is postgres or mysql for the sql backend.
	Driver string `yaml:"driver,omitempty"`

	// DSN is the sql connection string. ${VAR} references are expanded
	// from the environment.
	DSN string `yaml:"dsn,omitempty"`
}

// Pepper sources.
const (
	PepperNone    = "none"
	PepperKeyring = "keyring"
)

// HashingConfig selects the pepper used for value hashes.
type HashingConfig struct {
	Pepper         string `yaml:"pepper,omitempty"`
	KeyringService string `yaml:"keyring_service,omitempty"`
	KeyringAccount string `yaml:"keyring_account,omitempty"`
}

// RotationConfig tunes the rotation engine and scheduler.
type RotationConfig struct {
	MaxHistory int `yaml:"max_history,omitempty"`

	// Interval is how often the daemon runs auto-rotation, e.g. "1h".
	Interval string `yaml:"interval,omitempty"`

	// Actor is recorded in the audit log for scheduled rotations.
	Actor string `yaml:"actor,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint served by the daemon.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// Default returns a definition with every default applied.
func Default() *Definition {
	def := &Definition{Version: CurrentVersion}
	def.applyDefaults()
	return def
}

func (d *Definition) applyDefaults() {
	if d.Version == 0 {
		d.Version = CurrentVersion
	}
	if d.Store.FlushEvery == 0 {
		d.Store.FlushEvery = 10
	}
	if d.Store.MaxAccessLogs == 0 {
		d.Store.MaxAccessLogs = 10000
	}
	if d.Store.ExportLogLimit == 0 {
		d.Store.ExportLogLimit = 1000
	}
	if d.Persistence.Type == "" {
		d.Persistence.Type = PersistenceFile
	}
	if d.Hashing.Pepper == "" {
		d.Hashing.Pepper = PepperNone
	}
	if d.Hashing.KeyringService == "" {
		d.Hashing.KeyringService = "secretgov"
	}
	if d.Hashing.KeyringAccount == "" {
		d.Hashing.KeyringAccount = "hash-pepper"
	}
	if d.Rotation.MaxHistory == 0 {
		d.Rotation.MaxHistory = 1000
	}
	if d.Rotation.Interval == "" {
		d.Rotation.Interval = "1h"
	}
	if d.Rotation.Actor == "" {
		d.Rotation.Actor = "secretgov-scheduler"
	}
	if d.Metrics.Port == 0 {
		d.Metrics.Port = 9090
	}
	if d.Metrics.Path == "" {
		d.Metrics.Path = "/metrics"
	}
	if d.Notifications.QueueSize == 0 {
		d.Notifications.QueueSize = 100
	}
}

// Validate checks field values after defaults have been applied.
func (d *Definition) Validate() error {
	if d.Version != CurrentVersion {
		return dserrors.ConfigError{
			Field:      "version",
			Value:      d.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 1' at the top of your secretgov.yaml file",
		}
	}
	for field, v := range map[string]int{
		"store.flush_every":        d.Store.FlushEvery,
		"store.max_access_logs":    d.Store.MaxAccessLogs,
		"store.export_log_limit":   d.Store.ExportLogLimit,
		"rotation.max_history":     d.Rotation.MaxHistory,
		"notifications.queue_size": d.Notifications.QueueSize,
	} {
		if v < 0 {
			return dserrors.ConfigError{Field: field, Value: v, Message: "must not be negative"}
		}
	}

	switch d.Persistence.Type {
	case PersistenceFile, PersistenceNone:
	case PersistenceSQL:
		if d.Persistence.Driver == "" || d.Persistence.DSN == "" {
			return dserrors.ConfigError{
				Field:      "persistence",
				Message:    "sql persistence requires driver and dsn",
				Suggestion: "Set persistence.driver to postgres or mysql and persistence.dsn to a connection string",
			}
		}
	default:
		return dserrors.ConfigError{
			Field:      "persistence.type",
			Value:      d.Persistence.Type,
			Message:    "unknown persistence type",
			Suggestion: "Use one of: file, sql, none",
		}
	}

	switch d.Hashing.Pepper {
	case PepperNone, PepperKeyring:
	default:
		return dserrors.ConfigError{
			Field:      "hashing.pepper",
			Value:      d.Hashing.Pepper,
			Message:    "unknown pepper source",
			Suggestion: "Use one of: none, keyring",
		}
	}

	if _, err := d.RotationInterval(); err != nil {
		return err
	}
	if d.Metrics.Port < 0 || d.Metrics.Port > 65535 {
		return dserrors.ConfigError{Field: "metrics.port", Value: d.Metrics.Port, Message: "port out of range"}
	}
	if !strings.HasPrefix(d.Metrics.Path, "/") {
		return dserrors.ConfigError{Field: "metrics.path", Value: d.Metrics.Path, Message: "path must start with '/'"}
	}
	return d.Notifications.validate()
}

// RotationInterval parses Rotation.Interval.
func (d *Definition) RotationInterval() (time.Duration, error) {
	interval, err := time.ParseDuration(d.Rotation.Interval)
	if err != nil || interval <= 0 {
		return 0, dserrors.ConfigError{
			Field:      "rotation.interval",
			Value:      d.Rotation.Interval,
			Message:    "invalid duration",
			Suggestion: "Use a positive Go duration such as 30m, 1h or 24h",
		}
	}
	return interval, nil
}

// ExpandedDSN returns the sql DSN with environment references expanded.
func (p PersistenceConfig) ExpandedDSN() string {
	return os.ExpandEnv(p.DSN)
}

// Load reads the configuration file. A missing file yields the defaults so
// every command works without one.
func (c *Config) Load() error {
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}

	data, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.Logger.Debug("No configuration at %s, using defaults", c.Path)
			c.Definition = Default()
			return nil
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}

	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return err
	}

	c.Definition = &def
	c.Logger.Debug("Loaded configuration from %s", c.Path)
	return nil
}
