// Package rotation detects stale secrets and rotates them in batches.
//
// The engine never sees secret values. A rotation here is bookkeeping: the
// store replaces the recorded hash, advances the rotation counter and
// resets the staleness clock. Obtaining a real replacement value from a
// vault is left to the caller, who would follow up with Store.Rotate.
//
// # Staleness
//
// A record is stale when the whole days elapsed since its last rotation
// reach its threshold. The threshold is the record's own
// RotationFrequencyDays unless the caller overrides it. A threshold of
// zero exempts the record permanently.
//
//	elapsed := floor((now - last_rotated) / 24h)
//	stale   := threshold > 0 && elapsed >= threshold
//	overdue := elapsed - threshold
//
// # Batch jobs
//
// RotateAll, RotateCriticalOnly and AutoRotateIfNeeded process one secret
// at a time. A failure on one secret is recorded and the batch moves on.
// When the context is cancelled the batch stops and every remaining item
// is reported as skipped with reason "cancelled".
//
// Each attempt is appended to a bounded in-memory history that feeds
// GenerateReport and Statistics, counted in Prometheus metrics and, when a
// notifier is configured, delivered as a notification.
//
// # Scheduling
//
// Scheduler runs AutoRotateIfNeeded on a fixed interval using a
// juju/clock timer, so tests can drive it with testclock.
package rotation
