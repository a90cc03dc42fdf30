// Package service is the caller-facing facade over the secret store, the
// rotation engine and the governance detector. Every method returns a result
// envelope; failures are reported through Success and Error, never through a
// panic escaping the call.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"

	dserrors "github.com/systmms/secretgov/internal/errors"
	"github.com/systmms/secretgov/internal/logging"
	"github.com/systmms/secretgov/pkg/governance"
	"github.com/systmms/secretgov/pkg/rotation"
	"github.com/systmms/secretgov/pkg/secret"
	"github.com/systmms/secretgov/pkg/store"
)

// Health statuses reported by HealthCheck.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Status is embedded in every envelope.
type Status struct {
	Success   bool   `json:"success" yaml:"success"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`

	cause error
}

// Err returns the typed error behind a failed envelope, or nil.
func (s Status) Err() error {
	if s.Success {
		return nil
	}
	return s.cause
}

func (s *Status) fail(err error) {
	s.Success = false
	s.cause = err
	s.Error = err.Error()
	s.ErrorKind = dserrors.KindOf(err).String()
}

func (s *Status) ok() { s.Success = true }

// SetResult is returned by SetSecret and DeleteSecret.
type SetResult struct {
	Status `yaml:",inline"`
	Name   string `json:"name" yaml:"name"`
}

// MetadataResult is returned by GetSecretMetadata.
type MetadataResult struct {
	Status   `yaml:",inline"`
	Metadata *secret.Record `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ValueResult is returned by GetSecret.
type ValueResult struct {
	Status `yaml:",inline"`
	Name   string         `json:"name" yaml:"name"`
	Value  logging.Secret `json:"value,omitempty" yaml:"value,omitempty"`
}

// RotateResult is returned by RotateSecret.
type RotateResult struct {
	Status         `yaml:",inline"`
	Name           string    `json:"name" yaml:"name"`
	RotationsCount int       `json:"rotations_count" yaml:"rotations_count"`
	LastRotated    time.Time `json:"last_rotated" yaml:"last_rotated"`
}

// ListResult is returned by ListSecrets.
type ListResult struct {
	Status  `yaml:",inline"`
	Count   int             `json:"count" yaml:"count"`
	Secrets []secret.Record `json:"secrets" yaml:"secrets"`
}

// ExportResult is returned by ExportMetadata.
type ExportResult struct {
	Status       `yaml:",inline"`
	store.Export `yaml:",inline"`
}

// GovernanceResult is returned by GetGovernanceReport.
type GovernanceResult struct {
	Status `yaml:",inline"`
	Report *governance.Report `json:"report,omitempty" yaml:"report,omitempty"`
}

// ViolationsResult is returned by DetectPolicyViolations.
type ViolationsResult struct {
	Status     `yaml:",inline"`
	Count      int                    `json:"count" yaml:"count"`
	Violations []governance.Violation `json:"violations" yaml:"violations"`
}

// AccessResult is returned by CheckAccess.
type AccessResult struct {
	Status   `yaml:",inline"`
	Name     string   `json:"name" yaml:"name"`
	Role     string   `json:"role" yaml:"role"`
	Allowed  bool     `json:"allowed" yaml:"allowed"`
	Policies []string `json:"matching_policies" yaml:"matching_policies"`
}

// StaleResult is returned by DetectStaleKeys.
type StaleResult struct {
	Status       `yaml:",inline"`
	Count        int                  `json:"count" yaml:"count"`
	StaleSecrets []rotation.StaleInfo `json:"stale_secrets" yaml:"stale_secrets"`
}

// BatchResult is returned by the batch rotation jobs.
type BatchResult struct {
	Status               `yaml:",inline"`
	rotation.BatchResult `yaml:",inline"`
}

// RotationReportResult is returned by GetRotationReport.
type RotationReportResult struct {
	Status     `yaml:",inline"`
	Report     *rotation.Report     `json:"report,omitempty" yaml:"report,omitempty"`
	Statistics *rotation.Statistics `json:"statistics,omitempty" yaml:"statistics,omitempty"`
}

// AccessLogsResult is returned by GetAccessLogs.
type AccessLogsResult struct {
	Status `yaml:",inline"`
	Count  int                     `json:"count" yaml:"count"`
	Logs   []secret.AccessLogEntry `json:"logs" yaml:"logs"`
}

// HistoryResult is returned by GetSecretHistory.
type HistoryResult struct {
	Status `yaml:",inline"`
	Name   string         `json:"name" yaml:"name"`
	Events []secret.Event `json:"events" yaml:"events"`
}

// HealthResult is returned by HealthCheck.
type HealthResult struct {
	Status          `yaml:",inline"`
	Health          string    `json:"status" yaml:"status"`
	TotalSecrets    int       `json:"total_secrets" yaml:"total_secrets"`
	ActiveSecrets   int       `json:"active_secrets" yaml:"active_secrets"`
	StaleSecrets    int       `json:"stale_secrets" yaml:"stale_secrets"`
	CriticalSecrets int       `json:"critical_secrets" yaml:"critical_secrets"`
	CriticalStale   int       `json:"critical_stale" yaml:"critical_stale"`
	TotalAccessLogs int       `json:"total_access_logs" yaml:"total_access_logs"`
	CheckedAt       time.Time `json:"checked_at" yaml:"checked_at"`
}

// SetRequest carries the arguments of SetSecret.
type SetRequest struct {
	Name           string
	Value          string
	Actor          string
	IP             string
	Owner          string
	Purpose        string
	Environment    string
	Classification string

	// RotationFrequencyDays overrides the classification default when set.
	RotationFrequencyDays *int
}

// Service wires the store, engine and governance components together.
type Service struct {
	store    *store.Store
	engine   *rotation.Engine
	registry *governance.Registry
	detector *governance.Detector
	clock    clock.Clock
	logger   *logging.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for health timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger used to report recovered panics.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates the facade.
func New(st *store.Store, engine *rotation.Engine, registry *governance.Registry, detector *governance.Detector, opts ...Option) *Service {
	s := &Service{
		store:    st,
		engine:   engine,
		registry: registry,
		detector: detector,
		clock:    clock.WallClock,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// failer is implemented by every envelope through its embedded Status.
type failer interface {
	fail(err error)
}

// guard converts a panic in op into a failed envelope. Audit hooks record
// the failed attempt for operations made on behalf of a caller.
func (s *Service) guard(op string, out failer, audit ...func(reason string)) {
	if r := recover(); r != nil {
		s.logger.Error("Recovered panic in %s: %v", op, r)
		out.fail(dserrors.Internal(op, "", fmt.Errorf("unexpected failure: %v", r)))
		for _, record := range audit {
			record("internal error")
		}
	}
}

func (s *Service) auditFailure(name, actor, ip string, action secret.Action) func(reason string) {
	return func(reason string) {
		s.store.RecordFailure(name, actor, ip, action, reason)
	}
}

// SetSecret creates or updates a secret.
func (s *Service) SetSecret(ctx context.Context, req SetRequest) (res SetResult) {
	res.Name = req.Name
	audit := s.auditFailure(req.Name, req.Actor, req.IP, secret.ActionCreate)
	defer s.guard("set", &res, audit)

	opts := &store.SetOptions{
		Owner:                 req.Owner,
		Purpose:               req.Purpose,
		RotationFrequencyDays: req.RotationFrequencyDays,
	}
	if req.Environment != "" {
		env, err := secret.ParseEnvironment(req.Environment)
		if err != nil {
			audit("invalid environment")
			res.fail(dserrors.Validation("set", req.Name, err.Error()))
			return res
		}
		opts.Environment = env
	}
	if req.Classification != "" {
		c, err := secret.ParseClassification(req.Classification)
		if err != nil {
			audit("invalid classification")
			res.fail(dserrors.Validation("set", req.Name, err.Error()))
			return res
		}
		opts.Classification = c
	}

	if err := s.store.Set(ctx, req.Name, req.Value, req.Actor, req.IP, opts); err != nil {
		res.fail(err)
		return res
	}
	res.ok()
	return res
}

// GetSecret returns the cached value of a secret. Values live only for the
// lifetime of the process that set them.
func (s *Service) GetSecret(ctx context.Context, name, actor, ip string) (res ValueResult) {
	res.Name = name
	defer s.guard("get", &res, s.auditFailure(name, actor, ip, secret.ActionRead))

	value, err := s.store.Get(ctx, name, actor, ip)
	if err != nil {
		res.fail(err)
		return res
	}
	res.Value = logging.Secret(value)
	res.ok()
	return res
}

// GetSecretMetadata returns the record for name. The lookup is audited as a
// READ of the metadata only.
func (s *Service) GetSecretMetadata(ctx context.Context, name, actor, ip string) (res MetadataResult) {
	defer s.guard("metadata", &res, s.auditFailure(name, actor, ip, secret.ActionRead))

	rec, err := s.store.ReadMetadata(ctx, name, actor, ip)
	if err != nil {
		res.fail(err)
		return res
	}
	res.Metadata = &rec
	res.ok()
	return res
}

// RotateSecret replaces the value of an existing secret.
func (s *Service) RotateSecret(ctx context.Context, name, newValue, actor, ip string) (res RotateResult) {
	res.Name = name
	defer s.guard("rotate", &res, s.auditFailure(name, actor, ip, secret.ActionRotate))

	rec, err := s.store.Rotate(ctx, name, newValue, actor, ip)
	if err != nil {
		res.fail(err)
		return res
	}
	res.RotationsCount = rec.RotationsCount
	res.LastRotated = rec.LastRotated
	res.ok()
	return res
}

// DeleteSecret deactivates a secret.
func (s *Service) DeleteSecret(ctx context.Context, name, actor, ip string) (res SetResult) {
	res.Name = name
	defer s.guard("delete", &res, s.auditFailure(name, actor, ip, secret.ActionDelete))

	if err := s.store.Delete(ctx, name, actor, ip); err != nil {
		res.fail(err)
		return res
	}
	res.ok()
	return res
}

// ListSecrets returns the metadata of every secret.
func (s *Service) ListSecrets(ctx context.Context, includeInactive bool, actor, ip string) (res ListResult) {
	defer s.guard("list", &res, s.auditFailure(secret.CollectionWide, actor, ip, secret.ActionList))

	res.Secrets = s.store.List(ctx, includeInactive, actor, ip)
	res.Count = len(res.Secrets)
	res.ok()
	return res
}

// ExportMetadata returns a metadata-only dump with a bounded audit tail.
func (s *Service) ExportMetadata(ctx context.Context, actor, ip string) (res ExportResult) {
	defer s.guard("export", &res, s.auditFailure(secret.CollectionWide, actor, ip, secret.ActionExport))

	res.Export = s.store.Export(ctx, actor, ip)
	res.ok()
	return res
}

// GetSecretHistory returns the lifecycle events recorded for name.
func (s *Service) GetSecretHistory(name string) (res HistoryResult) {
	res.Name = name
	defer s.guard("history", &res)

	events, err := s.store.History(name)
	if err != nil {
		res.fail(err)
		return res
	}
	res.Events = events
	res.ok()
	return res
}

// GetGovernanceReport evaluates every active policy against every active
// secret.
func (s *Service) GetGovernanceReport() (res GovernanceResult) {
	defer s.guard("governance report", &res)

	report := s.detector.GovernanceReport()
	res.Report = &report
	res.ok()
	return res
}

// DetectPolicyViolations returns the current violations.
func (s *Service) DetectPolicyViolations() (res ViolationsResult) {
	defer s.guard("violations", &res)

	res.Violations = s.detector.DetectPolicyViolations()
	res.Count = len(res.Violations)
	res.ok()
	return res
}

// CheckAccess reports whether role may access name under the active
// policies. Names matching no policy are allowed.
func (s *Service) CheckAccess(name, role string) (res AccessResult) {
	res.Name = name
	res.Role = role
	defer s.guard("check access", &res)

	res.Policies = []string{}
	for _, p := range s.registry.Matching(name) {
		res.Policies = append(res.Policies, p.ID)
	}
	res.Allowed = s.registry.CheckAccessAllowed(name, role)
	res.ok()
	return res
}

// DetectStaleKeys lists active secrets overdue for rotation. A nil threshold
// uses each secret's own frequency.
func (s *Service) DetectStaleKeys(thresholdDays *int) (res StaleResult) {
	defer s.guard("stale", &res)

	if thresholdDays != nil && *thresholdDays < 0 {
		res.fail(dserrors.Validation("stale", "", "threshold must not be negative"))
		return res
	}
	res.StaleSecrets = s.engine.DetectStaleKeys(thresholdDays)
	res.Count = len(res.StaleSecrets)
	res.ok()
	return res
}

// RotateAll regenerates the hash of every active secret.
func (s *Service) RotateAll(ctx context.Context, actor, ip string) BatchResult {
	return s.batch("rotate all", func() rotation.BatchResult { return s.engine.RotateAll(ctx, actor, ip) })
}

// RotateCriticalOnly rotates active secrets classified HIGH or above.
func (s *Service) RotateCriticalOnly(ctx context.Context, actor, ip string) BatchResult {
	return s.batch("rotate critical", func() rotation.BatchResult { return s.engine.RotateCriticalOnly(ctx, actor, ip) })
}

// AutoRotateIfNeeded rotates only stale secrets.
func (s *Service) AutoRotateIfNeeded(ctx context.Context, actor, ip string) BatchResult {
	return s.batch("auto rotate", func() rotation.BatchResult { return s.engine.AutoRotateIfNeeded(ctx, actor, ip) })
}

// batch runs job; the envelope succeeds when no item failed.
func (s *Service) batch(op string, job func() rotation.BatchResult) (res BatchResult) {
	defer s.guard(op, &res)

	res.BatchResult = job()
	if res.Failed > 0 {
		res.fail(dserrors.Internal(op, "", fmt.Errorf("%d of %d rotation(s) failed", res.Failed, res.Total)))
		return res
	}
	res.ok()
	return res
}

// GetRotationReport summarises staleness and rotation history.
func (s *Service) GetRotationReport() (res RotationReportResult) {
	defer s.guard("rotation report", &res)

	report := s.engine.GenerateReport()
	stats := s.engine.Statistics()
	res.Report = &report
	res.Statistics = &stats
	res.ok()
	return res
}

// GetAccessLogs returns the most recent audit entries, oldest first.
func (s *Service) GetAccessLogs(limit int) (res AccessLogsResult) {
	defer s.guard("access logs", &res)

	res.Logs = s.store.AccessLogs(limit)
	res.Count = len(res.Logs)
	res.ok()
	return res
}

// HealthCheck summarises the store. The status is degraded while any
// CRITICAL secret is stale.
func (s *Service) HealthCheck() (res HealthResult) {
	defer s.guard("health", &res)

	records := s.store.Records()
	res.TotalSecrets = len(records)
	for _, rec := range records {
		if !rec.IsActive {
			continue
		}
		res.ActiveSecrets++
		if rec.Classification == secret.ClassificationCritical {
			res.CriticalSecrets++
		}
	}

	stale := s.engine.DetectStaleKeys(nil)
	res.StaleSecrets = len(stale)
	for _, info := range stale {
		if info.Classification == secret.ClassificationCritical {
			res.CriticalStale++
		}
	}

	res.TotalAccessLogs = len(s.store.AccessLogs(0))
	res.CheckedAt = s.clock.Now().UTC()
	res.Health = StatusHealthy
	if res.CriticalStale > 0 {
		res.Health = StatusDegraded
	}
	res.ok()
	return res
}

// Healthy reports whether HealthCheck currently returns StatusHealthy.
func (s *Service) Healthy() bool {
	return s.HealthCheck().Health == StatusHealthy
}
