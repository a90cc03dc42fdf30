package rotation

import (
	"time"

	"github.com/systmms/secretgov/pkg/secret"
)

// Job names a batch rotation job. It is recorded as the trigger of every
// rotation the job performs.
type Job string

const (
	JobAll      Job = "all"
	JobCritical Job = "critical"
	JobAuto     Job = "auto"
)

// StaleInfo describes one stale secret.
type StaleInfo struct {
	Name              string                `json:"name" yaml:"name"`
	Classification    secret.Classification `json:"classification" yaml:"classification"`
	Environment       secret.Environment    `json:"environment" yaml:"environment"`
	Owner             string                `json:"owner,omitempty" yaml:"owner,omitempty"`
	LastRotated       time.Time             `json:"last_rotated" yaml:"last_rotated"`
	DaysSinceRotation int                   `json:"days_since_rotation" yaml:"days_since_rotation"`
	ThresholdDays     int                   `json:"threshold_days" yaml:"threshold_days"`
	DaysOverdue       int                   `json:"days_overdue" yaml:"days_overdue"`
}

// ItemStatus is the outcome of one item in a batch.
type ItemStatus string

const (
	StatusRotated ItemStatus = "rotated"
	StatusFailed  ItemStatus = "failed"
	StatusSkipped ItemStatus = "skipped"
)

// ItemResult is the per-secret detail of a batch.
type ItemResult struct {
	Name           string                `json:"name" yaml:"name"`
	Classification secret.Classification `json:"classification" yaml:"classification"`
	Status         ItemStatus            `json:"status" yaml:"status"`
	Reason         string                `json:"reason,omitempty" yaml:"reason,omitempty"`
	DaysOverdue    int                   `json:"days_overdue,omitempty" yaml:"days_overdue,omitempty"`
	RotationsCount int                   `json:"rotations_count,omitempty" yaml:"rotations_count,omitempty"`
}

// BatchResult summarizes a batch job.
type BatchResult struct {
	Job         Job          `json:"job" yaml:"job"`
	Total       int          `json:"total" yaml:"total"`
	Rotated     int          `json:"rotated" yaml:"rotated"`
	Failed      int          `json:"failed" yaml:"failed"`
	Skipped     int          `json:"skipped" yaml:"skipped"`
	Cancelled   bool         `json:"cancelled" yaml:"cancelled"`
	StartedAt   time.Time    `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time    `json:"completed_at" yaml:"completed_at"`
	Items       []ItemResult `json:"items" yaml:"items"`
}

// Names returns the names of items with the given status, in batch order.
func (b BatchResult) Names(status ItemStatus) []string {
	var out []string
	for _, it := range b.Items {
		if it.Status == status {
			out = append(out, it.Name)
		}
	}
	return out
}

func (b *BatchResult) add(it ItemResult) {
	b.Items = append(b.Items, it)
	b.Total++
	switch it.Status {
	case StatusRotated:
		b.Rotated++
	case StatusFailed:
		b.Failed++
	case StatusSkipped:
		b.Skipped++
	}
}

// Event is one rotation attempt kept in the engine's history.
type Event struct {
	ID             string                `json:"id" yaml:"id"`
	SecretName     string                `json:"secret_name" yaml:"secret_name"`
	Classification secret.Classification `json:"classification" yaml:"classification"`
	Trigger        Job                   `json:"trigger" yaml:"trigger"`
	Actor          string                `json:"actor" yaml:"actor"`
	Timestamp      time.Time             `json:"timestamp" yaml:"timestamp"`
	OldHash        string                `json:"old_hash" yaml:"old_hash"`
	NewHash        string                `json:"new_hash,omitempty" yaml:"new_hash,omitempty"`
	DaysOverdue    int                   `json:"days_overdue,omitempty" yaml:"days_overdue,omitempty"`
	Success        bool                  `json:"success" yaml:"success"`
	Reason         string                `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// ClassificationSummary counts secrets of one classification.
type ClassificationSummary struct {
	Total  int `json:"total" yaml:"total"`
	Active int `json:"active" yaml:"active"`
	Stale  int `json:"stale" yaml:"stale"`
}

// Report is the rotation status report.
type Report struct {
	GeneratedAt      time.Time                                       `json:"generated_at" yaml:"generated_at"`
	TotalSecrets     int                                             `json:"total_secrets" yaml:"total_secrets"`
	ActiveSecrets    int                                             `json:"active_secrets" yaml:"active_secrets"`
	StaleSecrets     int                                             `json:"stale_secrets" yaml:"stale_secrets"`
	ByClassification map[secret.Classification]ClassificationSummary `json:"by_classification" yaml:"by_classification"`
	Stale            []StaleInfo                                     `json:"stale" yaml:"stale"`
	RecentHistory    []Event                                         `json:"recent_history" yaml:"recent_history"`
	Recommendations  []string                                        `json:"recommendations" yaml:"recommendations"`
}

// RotationCount pairs a secret with its number of successful rotations.
type RotationCount struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

// Statistics aggregates the rotation history.
type Statistics struct {
	TotalEvents int             `json:"total_events" yaml:"total_events"`
	Successful  int             `json:"successful" yaml:"successful"`
	Failed      int             `json:"failed" yaml:"failed"`
	Last24h     int             `json:"last_24h" yaml:"last_24h"`
	Last7d      int             `json:"last_7d" yaml:"last_7d"`
	Last30d     int             `json:"last_30d" yaml:"last_30d"`
	ByTrigger   map[Job]int     `json:"by_trigger" yaml:"by_trigger"`
	MostRotated []RotationCount `json:"most_rotated" yaml:"most_rotated"`
}
