package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store metrics
	secretOperationsTotal *prometheus.CounterVec
	flushTotal            *prometheus.CounterVec

	// Rotation metrics
	rotationsTotal        *prometheus.CounterVec
	rotationBatchDuration *prometheus.HistogramVec
	staleSecrets          prometheus.Gauge

	// Governance metrics
	policyViolations *prometheus.GaugeVec
	complianceRatio  prometheus.Gauge

	notificationsDroppedTotal prometheus.Counter

	metricsOnce       sync.Once
	metricsRegistered bool
)

// Recorder records secretgov metrics. All methods are no-ops until
// InitMetrics has been called, so components can hold a Recorder
// unconditionally.
type Recorder struct{}

// NewRecorder creates a new Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// InitMetrics registers all collectors with the default Prometheus registry.
// It is safe to call more than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		secretOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretgov_secret_operations_total",
				Help: "Total number of secret store operations by action and outcome",
			},
			[]string{"action", "success"},
		)

		flushTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretgov_flush_total",
				Help: "Total number of durable metadata flushes by outcome",
			},
			[]string{"status"},
		)

		rotationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretgov_rotations_total",
				Help: "Total number of secret rotations",
			},
			[]string{"classification", "trigger", "status"},
		)

		rotationBatchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secretgov_rotation_batch_duration_seconds",
				Help:    "Duration of batch rotation jobs in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
			},
			[]string{"job"},
		)

		staleSecrets = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "secretgov_stale_secrets",
				Help: "Number of active secrets past their rotation frequency at the last scan",
			},
		)

		policyViolations = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "secretgov_policy_violations",
				Help: "Policy violations found by the last governance scan",
			},
			[]string{"type", "severity"},
		)

		complianceRatio = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "secretgov_compliance_percentage",
				Help: "Percentage of active secrets without any policy violation",
			},
		)

		notificationsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "secretgov_notifications_dropped_total",
				Help: "Notifications dropped because the delivery queue was full",
			},
		)

		metricsRegistered = true
	})
}

// RecordOperation records one store operation.
func (r *Recorder) RecordOperation(action string, success bool) {
	if !metricsRegistered || secretOperationsTotal == nil {
		return
	}
	secretOperationsTotal.WithLabelValues(action, boolLabel(success)).Inc()
}

// RecordFlush records a durable flush attempt.
func (r *Recorder) RecordFlush(success bool) {
	if !metricsRegistered || flushTotal == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	flushTotal.WithLabelValues(status).Inc()
}

// RecordRotation records one rotation of a secret.
func (r *Recorder) RecordRotation(classification, trigger string, success bool) {
	if !metricsRegistered || rotationsTotal == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	rotationsTotal.WithLabelValues(classification, trigger, status).Inc()
}

// RecordBatch records the duration of a batch rotation job.
func (r *Recorder) RecordBatch(job string, durationSeconds float64) {
	if !metricsRegistered || rotationBatchDuration == nil {
		return
	}
	rotationBatchDuration.WithLabelValues(job).Observe(durationSeconds)
}

// SetStaleSecrets records the size of the last stale scan.
func (r *Recorder) SetStaleSecrets(n int) {
	if !metricsRegistered || staleSecrets == nil {
		return
	}
	staleSecrets.Set(float64(n))
}

// SetViolations replaces the violation gauge with counts keyed by
// violation type and severity.
func (r *Recorder) SetViolations(counts map[[2]string]int, compliance float64) {
	if !metricsRegistered || policyViolations == nil {
		return
	}
	policyViolations.Reset()
	for key, n := range counts {
		policyViolations.WithLabelValues(key[0], key[1]).Set(float64(n))
	}
	complianceRatio.Set(compliance)
}

// RecordNotificationDropped records a notification lost to a full queue.
func (r *Recorder) RecordNotificationDropped() {
	if !metricsRegistered || notificationsDroppedTotal == nil {
		return
	}
	notificationsDroppedTotal.Inc()
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
