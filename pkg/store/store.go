// Package store owns secret metadata, the transient value cache and the
// access audit log.
package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	dserrors "github.com/systmms/secretgov/internal/errors"
	"github.com/systmms/secretgov/internal/logging"
	"github.com/systmms/secretgov/internal/metrics"
	"github.com/systmms/secretgov/internal/persistence"
	"github.com/systmms/secretgov/internal/secure"
	"github.com/systmms/secretgov/pkg/secret"
)

// Config tunes persistence and audit retention.
type Config struct {
	// FlushEvery is the number of mutating operations between snapshots.
	FlushEvery int
	// MaxAccessLogs bounds the retained audit log; older entries are pruned
	// when a snapshot is taken.
	MaxAccessLogs int
	// ExportLogLimit bounds the audit entries carried by Export.
	ExportLogLimit int
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		FlushEvery:     10,
		MaxAccessLogs:  10000,
		ExportLogLimit: 1000,
	}
}

// SetOptions carries the optional attributes of Set. Zero values mean
// "infer" on creation and "keep" on update.
type SetOptions struct {
	Owner                 string
	Purpose               string
	Environment           secret.Environment
	Classification        secret.Classification
	RotationFrequencyDays *int
}

// Export is the metadata-only dump produced by Store.Export.
type Export struct {
	Secrets    []secret.Record         `json:"secrets" yaml:"secrets"`
	AccessLogs []secret.AccessLogEntry `json:"access_logs" yaml:"access_logs"`
	ExportedAt time.Time               `json:"exported_at" yaml:"exported_at"`
	ExportedBy string                  `json:"exported_by" yaml:"exported_by"`
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithStorage sets the durable metadata store.
func WithStorage(st persistence.Storage) Option {
	return func(s *Store) { s.storage = st }
}

// WithHasher sets the value hasher.
func WithHasher(h *secret.Hasher) Option {
	return func(s *Store) { s.hasher = h }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Store) { s.metrics = m }
}

// WithConfig overrides the default configuration. Non-positive fields keep
// their defaults.
func WithConfig(cfg Config) Option {
	return func(s *Store) {
		if cfg.FlushEvery > 0 {
			s.config.FlushEvery = cfg.FlushEvery
		}
		if cfg.MaxAccessLogs > 0 {
			s.config.MaxAccessLogs = cfg.MaxAccessLogs
		}
		if cfg.ExportLogLimit > 0 {
			s.config.ExportLogLimit = cfg.ExportLogLimit
		}
	}
}

// Store is the single owner of secret state. All methods are safe for
// concurrent use.
type Store struct {
	mu         sync.RWMutex
	records    map[string]secret.Record
	events     map[string][]secret.Event
	accessLogs []secret.AccessLogEntry
	seq        uint64
	dirty      int

	cache   *secure.ValueCache
	hasher  *secret.Hasher
	clock   clock.Clock
	storage persistence.Storage
	logger  *logging.Logger
	metrics *metrics.Recorder
	config  Config

	flusher *flusher
}

// New creates a Store and starts its background flusher. Call Load to
// restore persisted state and Close to stop it.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]secret.Record),
		events:  make(map[string][]secret.Event),
		cache:   secure.NewValueCache(),
		hasher:  secret.NewHasher(nil),
		clock:   clock.WallClock,
		storage: persistence.NopStorage{},
		logger:  logging.Nop(),
		metrics: metrics.NewRecorder(),
		config:  DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.flusher = newFlusher(s.storage, s.logger, s.metrics)
	go s.flusher.run()
	return s
}

// Load restores metadata and audit log from durable storage. Values are
// never persisted, so the value cache starts empty. A failure is returned
// as a persistence error and leaves the store empty and usable, but no
// snapshot is written afterwards so the stored state stays intact.
func (s *Store) Load(ctx context.Context) error {
	snap, err := s.storage.Load(ctx)
	if err != nil {
		s.logger.Warn("Failed to load persisted secret metadata: %v", err)
		s.flusher.hold(err)
		return dserrors.Persistence("load", err)
	}
	if snap == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range snap.Secrets {
		s.records[r.Name] = r
	}
	s.accessLogs = append([]secret.AccessLogEntry(nil), snap.AccessLogs...)
	s.seq = snap.Seq
	s.logger.Debug("Loaded %d secrets and %d access log entries", len(snap.Secrets), len(snap.AccessLogs))
	return nil
}

// Set creates or overwrites a secret. On an existing secret it records an
// update: the rotation counter advances only when the value changed, and a
// deactivated secret becomes active again.
func (s *Store) Set(ctx context.Context, name, value, actor, ip string, opts *SetOptions) error {
	const op = "set"
	if opts == nil {
		opts = &SetOptions{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.records[name]
	action := secret.ActionCreate
	if exists {
		action = secret.ActionUpdate
	}

	if err := ctx.Err(); err != nil {
		s.logLocked(name, actor, ip, action, false, "cancelled", nil)
		return err
	}
	if name == "" {
		s.logLocked(name, actor, ip, action, false, "empty name", nil)
		return dserrors.Validation(op, name, "secret name must not be empty")
	}
	if value == "" {
		s.logLocked(name, actor, ip, action, false, "empty value", nil)
		return dserrors.Validation(op, name, "secret value must not be empty")
	}
	if opts.Classification != 0 && !opts.Classification.Valid() {
		s.logLocked(name, actor, ip, action, false, "invalid classification", nil)
		return dserrors.Validation(op, name, "invalid classification")
	}
	if opts.RotationFrequencyDays != nil && *opts.RotationFrequencyDays < 0 {
		s.logLocked(name, actor, ip, action, false, "negative rotation frequency", nil)
		return dserrors.Validation(op, name, "rotation frequency must not be negative")
	}

	if err := s.cache.Put(name, value); err != nil {
		s.logLocked(name, actor, ip, action, false, "value cache failure", nil)
		return dserrors.Internal(op, name, err)
	}

	now := s.clock.Now()
	ev := secret.Event{
		Name:                  name,
		At:                    now,
		Actor:                 actor,
		ValueHash:             s.hasher.Hash(value),
		Environment:           opts.Environment,
		Classification:        opts.Classification,
		Owner:                 opts.Owner,
		Purpose:               opts.Purpose,
		RotationFrequencyDays: opts.RotationFrequencyDays,
	}

	meta := map[string]string{}
	if exists {
		ev.Kind = secret.EventUpdated
		meta["old_hash"] = existing.ValueHash
		meta["new_hash"] = ev.ValueHash
	} else {
		ev.Kind = secret.EventCreated
		if ev.Classification == 0 {
			ev.Classification = secret.InferClassification(name)
		}
		if ev.Environment == "" {
			ev.Environment = secret.InferEnvironment(name)
		}
		if ev.RotationFrequencyDays == nil {
			days := secret.DefaultRotationDays(ev.Classification)
			ev.RotationFrequencyDays = &days
		}
	}

	rec := s.applyLocked(ev)
	meta["classification"] = rec.Classification.String()
	meta["environment"] = string(rec.Environment)
	s.logLocked(name, actor, ip, action, true, "", meta)
	s.mutatedLocked()

	s.logger.Debug("Stored secret %s (%s, %s)", name, rec.Classification, rec.Environment)
	return nil
}

// Get returns the cached raw value of name. Values live only in the
// process-local cache, so a secret loaded from storage has no value until it
// is set again.
func (s *Store) Get(ctx context.Context, name, actor, ip string) (string, error) {
	const op = "get"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		s.logLocked(name, actor, ip, secret.ActionRead, false, "cancelled", nil)
		return "", err
	}

	value, ok, err := s.cache.Get(name)
	if err != nil {
		s.logLocked(name, actor, ip, secret.ActionRead, false, "value cache failure", nil)
		return "", dserrors.Internal(op, name, err)
	}
	if !ok {
		s.logLocked(name, actor, ip, secret.ActionRead, false, "not found", nil)
		return "", dserrors.NotFound(op, name)
	}
	s.logLocked(name, actor, ip, secret.ActionRead, true, "", nil)
	return value, nil
}

// Metadata returns the record for name without touching the value cache.
func (s *Store) Metadata(name string) (secret.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[name]
	if !ok {
		return secret.Record{}, dserrors.NotFound("metadata", name)
	}
	return r, nil
}

// ReadMetadata returns the record for name and logs a READ entry for the
// caller. The value cache is not touched.
func (s *Store) ReadMetadata(ctx context.Context, name, actor, ip string) (secret.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := map[string]string{"view": "metadata"}
	if err := ctx.Err(); err != nil {
		s.logLocked(name, actor, ip, secret.ActionRead, false, "cancelled", view)
		return secret.Record{}, err
	}
	r, ok := s.records[name]
	if !ok {
		s.logLocked(name, actor, ip, secret.ActionRead, false, "not found", view)
		return secret.Record{}, dserrors.NotFound("metadata", name)
	}
	s.logLocked(name, actor, ip, secret.ActionRead, true, "", view)
	return r, nil
}

// RecordFailure logs a failed attempt that was rejected before reaching the
// store. ActionCreate becomes ActionUpdate when name already exists.
func (s *Store) RecordFailure(name, actor, ip string, action secret.Action, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[name]; exists && action == secret.ActionCreate {
		action = secret.ActionUpdate
	}
	s.logLocked(name, actor, ip, action, false, reason, nil)
}

// Rotate replaces the value of an existing active secret.
func (s *Store) Rotate(ctx context.Context, name, newValue, actor, ip string) (secret.Record, error) {
	const op = "rotate"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		s.logLocked(name, actor, ip, secret.ActionRotate, false, "cancelled", nil)
		return secret.Record{}, err
	}
	existing, ok := s.records[name]
	if !ok {
		s.logLocked(name, actor, ip, secret.ActionRotate, false, "not found", nil)
		return secret.Record{}, dserrors.NotFound(op, name)
	}
	if !existing.IsActive {
		s.logLocked(name, actor, ip, secret.ActionRotate, false, "inactive", nil)
		return secret.Record{}, dserrors.Validation(op, name, "secret is inactive")
	}
	if newValue == "" {
		s.logLocked(name, actor, ip, secret.ActionRotate, false, "empty value", nil)
		return secret.Record{}, dserrors.Validation(op, name, "secret value must not be empty")
	}
	if err := s.cache.Put(name, newValue); err != nil {
		s.logLocked(name, actor, ip, secret.ActionRotate, false, "value cache failure", nil)
		return secret.Record{}, dserrors.Internal(op, name, err)
	}

	rec := s.rotateLocked(existing, s.hasher.Hash(newValue), actor, ip, "", nil)
	return rec, nil
}

// RegenerateHash performs a bookkeeping rotation of an active secret: the
// stored hash is replaced by a fresh one and the rotation counter and
// timestamp advance. The cached value, if any, is left untouched. meta is
// merged into the ROTATE audit entry.
func (s *Store) RegenerateHash(name, actor, ip, reason string, meta map[string]string) (secret.Record, error) {
	const op = "regenerate"

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[name]
	if !ok {
		s.logLocked(name, actor, ip, secret.ActionRotate, false, "not found", meta)
		return secret.Record{}, dserrors.NotFound(op, name)
	}
	if !existing.IsActive {
		s.logLocked(name, actor, ip, secret.ActionRotate, false, "inactive", meta)
		return secret.Record{}, dserrors.Validation(op, name, "secret is inactive")
	}

	fresh := s.hasher.Hash(existing.ValueHash + ":" + uuid.NewString())
	return s.rotateLocked(existing, fresh, actor, ip, reason, meta), nil
}

func (s *Store) rotateLocked(existing secret.Record, newHash, actor, ip, reason string, extra map[string]string) secret.Record {
	rec := s.applyLocked(secret.Event{
		Kind:      secret.EventRotated,
		Name:      existing.Name,
		At:        s.clock.Now(),
		Actor:     actor,
		ValueHash: newHash,
	})

	meta := map[string]string{
		"old_hash":        existing.ValueHash,
		"new_hash":        newHash,
		"rotations_count": strconv.Itoa(rec.RotationsCount),
	}
	for k, v := range extra {
		meta[k] = v
	}
	s.logLocked(existing.Name, actor, ip, secret.ActionRotate, true, reason, meta)
	s.mutatedLocked()
	s.logger.Debug("Rotated secret %s (rotation %d)", existing.Name, rec.RotationsCount)
	return rec
}

// Delete deactivates a secret and evicts its cached value. The record and
// its history are kept.
func (s *Store) Delete(ctx context.Context, name, actor, ip string) error {
	const op = "delete"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		s.logLocked(name, actor, ip, secret.ActionDelete, false, "cancelled", nil)
		return err
	}
	existing, ok := s.records[name]
	if !ok {
		s.logLocked(name, actor, ip, secret.ActionDelete, false, "not found", nil)
		return dserrors.NotFound(op, name)
	}

	s.cache.Remove(name)
	if existing.IsActive {
		s.applyLocked(secret.Event{
			Kind:  secret.EventDeactivated,
			Name:  name,
			At:    s.clock.Now(),
			Actor: actor,
		})
	}
	s.logLocked(name, actor, ip, secret.ActionDelete, true, "", nil)
	s.mutatedLocked()
	s.logger.Debug("Deactivated secret %s", name)
	return nil
}

// List returns records sorted by name, optionally including inactive ones.
// One collection-wide LIST entry is logged.
func (s *Store) List(ctx context.Context, includeInactive bool, actor, ip string) []secret.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		s.logLocked(secret.CollectionWide, actor, ip, secret.ActionList, false, "cancelled", nil)
		return []secret.Record{}
	}

	out := s.recordsLocked(includeInactive)
	s.logLocked(secret.CollectionWide, actor, ip, secret.ActionList, true, "", map[string]string{
		"count":            strconv.Itoa(len(out)),
		"include_inactive": strconv.FormatBool(includeInactive),
	})
	return out
}

// Export returns every record and the most recent audit entries. The
// EXPORT entry for this call is included.
func (s *Store) Export(ctx context.Context, actor, ip string) Export {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if err := ctx.Err(); err != nil {
		s.logLocked(secret.CollectionWide, actor, ip, secret.ActionExport, false, "cancelled", nil)
		return Export{Secrets: []secret.Record{}, AccessLogs: []secret.AccessLogEntry{}, ExportedAt: now, ExportedBy: actor}
	}

	secrets := s.recordsLocked(true)
	s.logLocked(secret.CollectionWide, actor, ip, secret.ActionExport, true, "", map[string]string{
		"count": strconv.Itoa(len(secrets)),
	})
	return Export{
		Secrets:    secrets,
		AccessLogs: s.tailLocked(s.config.ExportLogLimit),
		ExportedAt: now,
		ExportedBy: actor,
	}
}

// AccessLogs returns up to limit of the most recent audit entries, oldest
// first. A non-positive limit returns all retained entries.
func (s *Store) AccessLogs(limit int) []secret.AccessLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tailLocked(limit)
}

// Records returns every record, active or not, sorted by name.
func (s *Store) Records() []secret.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordsLocked(true)
}

// History returns the lifecycle events recorded for name since the store
// was loaded.
func (s *Store) History(name string) ([]secret.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.records[name]; !ok {
		return nil, dserrors.NotFound("history", name)
	}
	return append([]secret.Event(nil), s.events[name]...), nil
}

// Flush synchronously writes a snapshot of the current state.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	return s.flusher.save(ctx, snap)
}

// Close stops the background flusher, writes a final snapshot and closes
// the storage. The value cache is purged.
func (s *Store) Close(ctx context.Context) error {
	s.flusher.stop()
	err := s.Flush(ctx)
	s.cache.Purge()
	if cerr := s.storage.Close(); cerr != nil && err == nil {
		err = dserrors.Persistence("close", cerr)
	}
	return err
}

func (s *Store) applyLocked(ev secret.Event) secret.Record {
	s.seq++
	ev.Seq = s.seq
	rec := s.records[ev.Name].Apply(ev)
	s.records[ev.Name] = rec
	s.events[ev.Name] = append(s.events[ev.Name], ev)
	return rec
}

func (s *Store) logLocked(name, actor, ip string, action secret.Action, success bool, reason string, meta map[string]string) {
	var md map[string]string
	if len(meta) > 0 {
		md = make(map[string]string, len(meta))
		for k, v := range meta {
			md[k] = v
		}
	}
	s.seq++
	s.accessLogs = append(s.accessLogs, secret.AccessLogEntry{
		ID:         uuid.NewString(),
		Timestamp:  s.clock.Now(),
		SecretName: name,
		Actor:      actor,
		Action:     action,
		SourceIP:   ip,
		Success:    success,
		Reason:     reason,
		Metadata:   md,
	})
	s.metrics.RecordOperation(string(action), success)
	if !success {
		s.logger.Debug("%s of %s by %s failed: %s", action, name, actor, reason)
	}
}

// mutatedLocked counts a mutating operation and schedules a snapshot once
// FlushEvery operations have accumulated.
func (s *Store) mutatedLocked() {
	s.dirty++
	if s.dirty < s.config.FlushEvery {
		return
	}
	s.dirty = 0
	s.flusher.schedule(s.snapshotLocked())
}

func (s *Store) snapshotLocked() *persistence.Snapshot {
	if limit := s.config.MaxAccessLogs; limit > 0 && len(s.accessLogs) > limit {
		pruned := len(s.accessLogs) - limit
		s.accessLogs = append([]secret.AccessLogEntry(nil), s.accessLogs[pruned:]...)
		s.logger.Debug("Pruned %d access log entries", pruned)
	}
	return &persistence.Snapshot{
		Version:    persistence.SnapshotVersion,
		Seq:        s.seq,
		SavedAt:    s.clock.Now(),
		Secrets:    s.recordsLocked(true),
		AccessLogs: append([]secret.AccessLogEntry(nil), s.accessLogs...),
	}
}

func (s *Store) recordsLocked(includeInactive bool) []secret.Record {
	out := make([]secret.Record, 0, len(s.records))
	for _, r := range s.records {
		if !includeInactive && !r.IsActive {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) tailLocked(limit int) []secret.AccessLogEntry {
	start := 0
	if limit > 0 && len(s.accessLogs) > limit {
		start = len(s.accessLogs) - limit
	}
	return append([]secret.AccessLogEntry{}, s.accessLogs[start:]...)
}
