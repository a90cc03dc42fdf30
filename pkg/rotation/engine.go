package rotation

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/systmms/secretgov/internal/logging"
	"github.com/systmms/secretgov/internal/metrics"
	"github.com/systmms/secretgov/internal/notifications"
	"github.com/systmms/secretgov/pkg/secret"
)

// DefaultMaxHistory bounds the in-memory rotation history.
const DefaultMaxHistory = 1000

// SecretStore is the part of the secret store the engine needs.
type SecretStore interface {
	Records() []secret.Record
	RegenerateHash(name, actor, ip, reason string, meta map[string]string) (secret.Record, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for staleness and timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNotifier sets where rotation outcomes are announced.
func WithNotifier(n notifications.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMaxHistory bounds the rotation history. Non-positive values keep the
// default.
func WithMaxHistory(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxHistory = n
		}
	}
}

// Engine detects stale secrets and performs batch rotations.
type Engine struct {
	store    SecretStore
	clock    clock.Clock
	logger   *logging.Logger
	metrics  *metrics.Recorder
	notifier notifications.Notifier

	mu         sync.RWMutex
	history    []Event
	maxHistory int
}

// NewEngine creates an engine over store.
func NewEngine(store SecretStore, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		clock:      clock.WallClock,
		logger:     logging.Nop(),
		metrics:    metrics.NewRecorder(),
		maxHistory: DefaultMaxHistory,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DetectStaleKeys returns every active stale secret, most overdue first.
// thresholdOverride, when non-nil, replaces each record's own frequency.
func (e *Engine) DetectStaleKeys(thresholdOverride *int) []StaleInfo {
	now := e.clock.Now()
	stale := []StaleInfo{}
	for _, r := range e.store.Records() {
		if !r.IsActive {
			continue
		}
		threshold := r.RotationFrequencyDays
		if thresholdOverride != nil {
			threshold = *thresholdOverride
		}
		if !r.IsStale(now, threshold) {
			continue
		}
		elapsed := r.ElapsedDays(now)
		stale = append(stale, StaleInfo{
			Name:              r.Name,
			Classification:    r.Classification,
			Environment:       r.Environment,
			Owner:             r.Owner,
			LastRotated:       r.LastRotated,
			DaysSinceRotation: elapsed,
			ThresholdDays:     threshold,
			DaysOverdue:       elapsed - threshold,
		})
	}

	sort.SliceStable(stale, func(i, j int) bool {
		if stale[i].DaysOverdue != stale[j].DaysOverdue {
			return stale[i].DaysOverdue > stale[j].DaysOverdue
		}
		return stale[i].Name < stale[j].Name
	})
	e.metrics.SetStaleSecrets(len(stale))
	return stale
}

// candidate is one secret considered by a batch. A non-empty skip reason
// means the secret is reported but not rotated.
type candidate struct {
	record      secret.Record
	skip        string
	reason      string
	daysOverdue int
}

// RotateAll rotates every active secret.
func (e *Engine) RotateAll(ctx context.Context, actor, ip string) BatchResult {
	var cands []candidate
	for _, r := range e.store.Records() {
		c := candidate{record: r, reason: "bulk rotation"}
		if !r.IsActive {
			c.skip = "inactive"
		}
		cands = append(cands, c)
	}
	return e.runBatch(ctx, JobAll, cands, actor, ip)
}

// RotateCriticalOnly rotates active CRITICAL and HIGH secrets. Others are
// reported as skipped.
func (e *Engine) RotateCriticalOnly(ctx context.Context, actor, ip string) BatchResult {
	var cands []candidate
	for _, r := range e.store.Records() {
		c := candidate{record: r, reason: "critical rotation"}
		switch {
		case !r.IsActive:
			c.skip = "inactive"
		case r.Classification.Rank() < secret.ClassificationHigh.Rank():
			c.skip = fmt.Sprintf("classification %s below HIGH", r.Classification)
		}
		cands = append(cands, c)
	}
	return e.runBatch(ctx, JobCritical, cands, actor, ip)
}

// AutoRotateIfNeeded rotates exactly the secrets DetectStaleKeys reports.
func (e *Engine) AutoRotateIfNeeded(ctx context.Context, actor, ip string) BatchResult {
	stale := e.DetectStaleKeys(nil)
	byName := make(map[string]secret.Record)
	for _, r := range e.store.Records() {
		byName[r.Name] = r
	}

	cands := make([]candidate, 0, len(stale))
	for _, s := range stale {
		cands = append(cands, candidate{
			record:      byName[s.Name],
			reason:      fmt.Sprintf("stale: %d days overdue", s.DaysOverdue),
			daysOverdue: s.DaysOverdue,
		})
	}
	return e.runBatch(ctx, JobAuto, cands, actor, ip)
}

func (e *Engine) runBatch(ctx context.Context, job Job, cands []candidate, actor, ip string) BatchResult {
	start := e.clock.Now()
	result := BatchResult{Job: job, StartedAt: start, Items: []ItemResult{}}

	for _, c := range cands {
		if result.Cancelled || ctx.Err() != nil {
			result.Cancelled = true
			result.add(ItemResult{Name: c.record.Name, Classification: c.record.Classification, Status: StatusSkipped, Reason: "cancelled"})
			continue
		}
		if c.skip != "" {
			result.add(ItemResult{Name: c.record.Name, Classification: c.record.Classification, Status: StatusSkipped, Reason: c.skip})
			continue
		}
		result.add(e.rotateOne(job, c, actor, ip))
	}

	result.CompletedAt = e.clock.Now()
	e.metrics.RecordBatch(string(job), result.CompletedAt.Sub(start).Seconds())
	e.logger.Info("Rotation job %s: %d rotated, %d failed, %d skipped of %d",
		job, result.Rotated, result.Failed, result.Skipped, result.Total)
	return result
}

// rotateOne rotates a single secret. A panic inside the store is contained
// and reported as a failed item.
func (e *Engine) rotateOne(job Job, c candidate, actor, ip string) (item ItemResult) {
	r := c.record
	item = ItemResult{Name: r.Name, Classification: r.Classification, DaysOverdue: c.daysOverdue, Reason: c.reason}
	ev := Event{
		ID:             uuid.NewString(),
		SecretName:     r.Name,
		Classification: r.Classification,
		Trigger:        job,
		Actor:          actor,
		OldHash:        r.ValueHash,
		DaysOverdue:    c.daysOverdue,
		Reason:         c.reason,
	}

	defer func() {
		if p := recover(); p != nil {
			item.Status = StatusFailed
			item.Reason = fmt.Sprintf("internal error: %v", p)
			ev.Success = false
			ev.Reason = item.Reason
			e.logger.Error("Rotation of %s panicked: %v", r.Name, p)
		}
		ev.Timestamp = e.clock.Now()
		e.record(ev)
	}()

	meta := map[string]string{"trigger": string(job)}
	if job == JobAuto {
		meta["days_overdue"] = strconv.Itoa(c.daysOverdue)
	}

	updated, err := e.store.RegenerateHash(r.Name, actor, ip, c.reason, meta)
	if err != nil {
		item.Status = StatusFailed
		item.Reason = err.Error()
		ev.Reason = err.Error()
		e.logger.Warn("Failed to rotate %s: %v", r.Name, err)
		return item
	}

	item.Status = StatusRotated
	item.RotationsCount = updated.RotationsCount
	ev.Success = true
	ev.NewHash = updated.ValueHash
	return item
}

// record appends ev to the bounded history and publishes it.
func (e *Engine) record(ev Event) {
	e.mu.Lock()
	e.history = append(e.history, ev)
	if over := len(e.history) - e.maxHistory; over > 0 {
		e.history = append([]Event(nil), e.history[over:]...)
	}
	e.mu.Unlock()

	e.metrics.RecordRotation(ev.Classification.String(), string(ev.Trigger), ev.Success)

	if e.notifier == nil {
		return
	}
	n := notifications.Event{
		Type:           notifications.EventTypeRotated,
		SecretName:     ev.SecretName,
		Classification: ev.Classification.String(),
		Trigger:        string(ev.Trigger),
		Actor:          ev.Actor,
		Timestamp:      ev.Timestamp,
		Message:        fmt.Sprintf("Secret %s rotated (%s)", ev.SecretName, ev.Reason),
	}
	if !ev.Success {
		n.Type = notifications.EventTypeRotationFailed
		n.Message = fmt.Sprintf("Rotation of %s failed: %s", ev.SecretName, ev.Reason)
	}
	e.notifier.Send(n)
}

// History returns the retained rotation events, oldest first.
func (e *Engine) History() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Event(nil), e.history...)
}
