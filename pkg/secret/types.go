package secret

import (
	"fmt"
	"strings"
	"time"
)

// CollectionWide is the secret name recorded on audit entries for
// operations that span every secret (list, export).
const CollectionWide = "*"

// Classification is the ordinal sensitivity tier of a secret.
// The zero value is not a valid classification.
type Classification int

const (
	ClassificationLow Classification = iota + 1
	ClassificationModerate
	ClassificationHigh
	ClassificationCritical
)

// Classifications lists every valid classification in ascending rank.
var Classifications = []Classification{
	ClassificationLow,
	ClassificationModerate,
	ClassificationHigh,
	ClassificationCritical,
}

func (c Classification) String() string {
	switch c {
	case ClassificationLow:
		return "LOW"
	case ClassificationModerate:
		return "MODERATE"
	case ClassificationHigh:
		return "HIGH"
	case ClassificationCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Classification(%d)", int(c))
	}
}

// Rank returns the ordinal used for comparisons; higher is more sensitive.
func (c Classification) Rank() int {
	return int(c)
}

// Valid reports whether c is one of the four defined tiers.
func (c Classification) Valid() bool {
	return c >= ClassificationLow && c <= ClassificationCritical
}

// ParseClassification parses a classification name case-insensitively.
func ParseClassification(s string) (Classification, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return ClassificationLow, nil
	case "MODERATE", "MEDIUM":
		return ClassificationModerate, nil
	case "HIGH":
		return ClassificationHigh, nil
	case "CRITICAL":
		return ClassificationCritical, nil
	}
	return 0, fmt.Errorf("unknown classification %q", s)
}

// MarshalText encodes the classification by name for JSON and YAML.
func (c Classification) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid classification %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText decodes a classification name.
func (c *Classification) UnmarshalText(text []byte) error {
	parsed, err := ParseClassification(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Environment is the deployment environment a secret belongs to.
type Environment string

const (
	EnvironmentDevelopment Environment = "DEVELOPMENT"
	EnvironmentStaging     Environment = "STAGING"
	EnvironmentProduction  Environment = "PRODUCTION"
	EnvironmentAll         Environment = "ALL"
)

// Environments lists every valid environment.
var Environments = []Environment{
	EnvironmentDevelopment,
	EnvironmentStaging,
	EnvironmentProduction,
	EnvironmentAll,
}

// ParseEnvironment parses an environment name case-insensitively.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEVELOPMENT", "DEV":
		return EnvironmentDevelopment, nil
	case "STAGING", "STG":
		return EnvironmentStaging, nil
	case "PRODUCTION", "PROD":
		return EnvironmentProduction, nil
	case "ALL":
		return EnvironmentAll, nil
	}
	return "", fmt.Errorf("unknown environment %q", s)
}

// Action is the kind of operation recorded in the access log.
type Action string

const (
	ActionRead   Action = "READ"
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionRotate Action = "ROTATE"
	ActionDelete Action = "DELETE"
	ActionList   Action = "LIST"
	ActionExport Action = "EXPORT"
)

// Record is the metadata kept for one named secret. It never holds the raw
// value, only its one-way hash.
type Record struct {
	Name                  string         `json:"name" yaml:"name"`
	ValueHash             string         `json:"value_hash" yaml:"value_hash"`
	CreatedAt             time.Time      `json:"created_at" yaml:"created_at"`
	LastRotated           time.Time      `json:"last_rotated" yaml:"last_rotated"`
	RotationsCount        int            `json:"rotations_count" yaml:"rotations_count"`
	Environment           Environment    `json:"environment" yaml:"environment"`
	Classification        Classification `json:"classification" yaml:"classification"`
	Owner                 string         `json:"owner,omitempty" yaml:"owner,omitempty"`
	Purpose               string         `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	RotationFrequencyDays int            `json:"rotation_frequency_days" yaml:"rotation_frequency_days"`
	IsActive              bool           `json:"is_active" yaml:"is_active"`
}

// ElapsedDays returns the number of whole days since the last rotation.
func (r Record) ElapsedDays(now time.Time) int {
	d := now.Sub(r.LastRotated)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// IsStale reports whether the record has gone threshold days or more
// without rotation. A threshold of zero means the record is exempt.
func (r Record) IsStale(now time.Time, threshold int) bool {
	if threshold <= 0 {
		return false
	}
	return r.ElapsedDays(now) >= threshold
}

// AccessLogEntry is one immutable audit record.
type AccessLogEntry struct {
	ID         string            `json:"id" yaml:"id"`
	Timestamp  time.Time         `json:"timestamp" yaml:"timestamp"`
	SecretName string            `json:"secret_name" yaml:"secret_name"`
	Actor      string            `json:"actor" yaml:"actor"`
	Action     Action            `json:"action" yaml:"action"`
	SourceIP   string            `json:"source_ip" yaml:"source_ip"`
	Success    bool              `json:"success" yaml:"success"`
	Reason     string            `json:"reason,omitempty" yaml:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}
