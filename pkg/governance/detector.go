package governance

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/systmms/secretgov/internal/logging"
	"github.com/systmms/secretgov/internal/metrics"
	"github.com/systmms/secretgov/internal/notifications"
	"github.com/systmms/secretgov/pkg/secret"
)

// NoPolicyID is the policy ID recorded on NO_POLICY_MATCH violations.
const NoPolicyID = "NONE"

// ViolationType names the rule a violation breaks.
type ViolationType string

const (
	ViolationClassificationMismatch ViolationType = "CLASSIFICATION_MISMATCH"
	ViolationRotationFrequency      ViolationType = "ROTATION_FREQUENCY_VIOLATION"
	ViolationStaleSecret            ViolationType = "STALE_SECRET"
	ViolationNoPolicyMatch          ViolationType = "NO_POLICY_MATCH"
)

// ViolationTypes lists every violation type.
var ViolationTypes = []ViolationType{
	ViolationClassificationMismatch,
	ViolationRotationFrequency,
	ViolationStaleSecret,
	ViolationNoPolicyMatch,
}

// Violation is a finding computed on demand. It is not an error.
type Violation struct {
	ID          string                `json:"id" yaml:"id"`
	SecretName  string                `json:"secret_name" yaml:"secret_name"`
	PolicyID    string                `json:"policy_id" yaml:"policy_id"`
	Type        ViolationType         `json:"type" yaml:"type"`
	Severity    secret.Classification `json:"severity" yaml:"severity"`
	Description string                `json:"description" yaml:"description"`
	DetectedAt  time.Time             `json:"detected_at" yaml:"detected_at"`
	Resolved    bool                  `json:"resolved" yaml:"resolved"`
}

// RecordSource supplies the secret records to evaluate.
type RecordSource interface {
	Records() []secret.Record
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock sets the clock used for staleness and timestamps.
func WithClock(c clock.Clock) Option {
	return func(d *Detector) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithNotifier sets where PublishViolations announces findings.
func WithNotifier(n notifications.Notifier) Option {
	return func(d *Detector) { d.notifier = n }
}

// Detector evaluates the registry's policies against live secret records.
type Detector struct {
	registry *Registry
	source   RecordSource
	clock    clock.Clock
	logger   *logging.Logger
	metrics  *metrics.Recorder
	notifier notifications.Notifier
}

// NewDetector creates a detector.
func NewDetector(registry *Registry, source RecordSource, opts ...Option) *Detector {
	d := &Detector{
		registry: registry,
		source:   source,
		clock:    clock.WallClock,
		logger:   logging.Nop(),
		metrics:  metrics.NewRecorder(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DetectPolicyViolations evaluates every active secret against every
// matching active policy.
func (d *Detector) DetectPolicyViolations() []Violation {
	return d.detect(d.clock.Now(), d.activeRecords())
}

func (d *Detector) activeRecords() []secret.Record {
	var active []secret.Record
	for _, r := range d.source.Records() {
		if r.IsActive {
			active = append(active, r)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	return active
}

func (d *Detector) detect(now time.Time, active []secret.Record) []Violation {
	violations := []Violation{}
	add := func(r secret.Record, policyID string, t ViolationType, sev secret.Classification, desc string) {
		violations = append(violations, Violation{
			ID:          uuid.NewString(),
			SecretName:  r.Name,
			PolicyID:    policyID,
			Type:        t,
			Severity:    sev,
			Description: desc,
			DetectedAt:  now,
		})
	}

	for _, r := range active {
		matching := d.registry.Matching(r.Name)
		if len(matching) == 0 {
			add(r, NoPolicyID, ViolationNoPolicyMatch, secret.ClassificationLow,
				fmt.Sprintf("Secret %s is not covered by any governance policy", r.Name))
			continue
		}

		stale := r.IsStale(now, r.RotationFrequencyDays)
		for _, p := range matching {
			if r.Classification.Rank() < p.RequiredClassification.Rank() {
				add(r, p.ID, ViolationClassificationMismatch, secret.ClassificationHigh,
					fmt.Sprintf("Secret %s is classified %s but policy %s requires %s",
						r.Name, r.Classification, p.ID, p.RequiredClassification))
			}
			if p.RotationFrequencyDays > 0 && r.RotationFrequencyDays > p.RotationFrequencyDays {
				add(r, p.ID, ViolationRotationFrequency, secret.ClassificationModerate,
					fmt.Sprintf("Secret %s rotates every %d days but policy %s requires %d",
						r.Name, r.RotationFrequencyDays, p.ID, p.RotationFrequencyDays))
			}
			if stale {
				sev := secret.ClassificationHigh
				if r.Classification == secret.ClassificationCritical {
					sev = secret.ClassificationCritical
				}
				add(r, p.ID, ViolationStaleSecret, sev,
					fmt.Sprintf("Secret %s was last rotated %d days ago (frequency %d days)",
						r.Name, r.ElapsedDays(now), r.RotationFrequencyDays))
			}
		}
	}
	return violations
}

// PublishViolations detects violations and sends every HIGH or CRITICAL
// finding to the notifier. It returns the number of findings published.
func (d *Detector) PublishViolations() int {
	violations := d.DetectPolicyViolations()
	if d.notifier == nil {
		return 0
	}
	published := 0
	for _, v := range violations {
		if v.Severity.Rank() < secret.ClassificationHigh.Rank() {
			continue
		}
		d.notifier.Send(notifications.Event{
			Type:       notifications.EventTypeViolation,
			SecretName: v.SecretName,
			Severity:   v.Severity.String(),
			Message:    v.Description,
			Timestamp:  v.DetectedAt,
			Metadata:   map[string]string{"policy_id": v.PolicyID, "type": string(v.Type)},
		})
		published++
	}
	d.logger.Debug("Published %d of %d policy violations", published, len(violations))
	return published
}
