package governance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/secretgov/internal/errors"
	"github.com/systmms/secretgov/internal/notifications"
	"github.com/systmms/secretgov/pkg/secret"
	"github.com/systmms/secretgov/pkg/store"
)

var t0 = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

type staticRecords []secret.Record

func (s staticRecords) Records() []secret.Record { return s }

type captureNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (c *captureNotifier) Send(ev notifications.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func record(name string, c secret.Classification, days int) secret.Record {
	return secret.Record{
		Name:                  name,
		Classification:        c,
		Environment:           secret.InferEnvironment(name),
		RotationFrequencyDays: days,
		CreatedAt:             t0,
		LastRotated:           t0,
		IsActive:              true,
	}
}

func newRegistry(t *testing.T, policies ...Policy) *Registry {
	t.Helper()
	r := NewRegistry(testclock.NewClock(t0))
	require.NoError(t, r.RegisterAll(policies))
	return r
}

func TestRegistry_RegisterValidation(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testclock.NewClock(t0))

	tests := []struct {
		name   string
		policy Policy
		kind   error
	}{
		{"empty id", Policy{Pattern: "X", RequiredClassification: secret.ClassificationLow}, dserrors.ErrValidation},
		{"empty pattern", Policy{ID: "p", RequiredClassification: secret.ClassificationLow}, dserrors.ErrValidation},
		{"bad regex", Policy{ID: "p", Pattern: "PROD_(", RequiredClassification: secret.ClassificationLow}, dserrors.ErrValidation},
		{"no classification", Policy{ID: "p", Pattern: "X"}, dserrors.ErrValidation},
		{"negative days", Policy{ID: "p", Pattern: "X", RequiredClassification: secret.ClassificationLow, RotationFrequencyDays: -1}, dserrors.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.policy)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}

	ok := Policy{ID: "p", Pattern: "X", RequiredClassification: secret.ClassificationLow}
	require.NoError(t, r.Register(ok))
	assert.True(t, errors.Is(r.Register(ok), dserrors.ErrConflict))

	got, err := r.Get("p")
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, t0, got.CreatedAt)
}

func TestRegistry_PatternIsAnchored(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, Policy{ID: "prod", Pattern: "PROD_.*", RequiredClassification: secret.ClassificationHigh, IsActive: true})

	assert.Len(t, r.Matching("PROD_API_KEY"), 1)
	assert.Empty(t, r.Matching("NOT_PROD_API_KEY"))
	assert.Empty(t, r.Matching("prod_api_key"))
}

func TestRegistry_UpdateAndDeactivate(t *testing.T) {
	t.Parallel()
	clk := testclock.NewClock(t0)
	r := NewRegistry(clk)
	require.NoError(t, r.Register(Policy{ID: "db", Pattern: ".*_DB", RequiredClassification: secret.ClassificationHigh}))

	clk.Advance(time.Hour)
	critical := secret.ClassificationCritical
	pattern := ".*_DATABASE_.*"
	updated, err := r.Update("db", PolicyUpdate{
		Pattern:                &pattern,
		RequiredClassification: &critical,
		AllowedRoles:           []string{"dba"},
	})
	require.NoError(t, err)
	assert.Equal(t, critical, updated.RequiredClassification)
	assert.Equal(t, t0.Add(time.Hour), updated.UpdatedAt)
	assert.Equal(t, t0, updated.CreatedAt)
	assert.True(t, updated.Matches("PROD_DATABASE_MASTER"))

	bad := "("
	_, err = r.Update("db", PolicyUpdate{Pattern: &bad})
	assert.True(t, errors.Is(err, dserrors.ErrValidation))
	invalid := secret.Classification(9)
	_, err = r.Update("db", PolicyUpdate{RequiredClassification: &invalid})
	assert.True(t, errors.Is(err, dserrors.ErrValidation))
	unchanged, err := r.Get("db")
	require.NoError(t, err)
	assert.Equal(t, pattern, unchanged.Pattern)
	assert.Equal(t, critical, unchanged.RequiredClassification)

	_, err = r.Update("missing", PolicyUpdate{})
	assert.True(t, errors.Is(err, dserrors.ErrNotFound))

	require.NoError(t, r.Deactivate("db"))
	assert.Empty(t, r.List(true))
	assert.Len(t, r.List(false), 1)
	assert.Empty(t, r.Matching("PROD_DATABASE_MASTER"))
	assert.True(t, errors.Is(r.Deactivate("missing"), dserrors.ErrNotFound))
}

func TestCheckAccessAllowed_Asymmetry(t *testing.T) {
	t.Parallel()
	r := newRegistry(t,
		Policy{ID: "prod", Pattern: "PROD_.*", RequiredClassification: secret.ClassificationHigh, AllowedRoles: []string{"deployer"}, IsActive: true},
		Policy{ID: "db", Pattern: ".*_DATABASE_.*", RequiredClassification: secret.ClassificationCritical, AllowedRoles: []string{"dba"}, IsActive: true},
	)

	assert.True(t, r.CheckAccessAllowed("FEATURE_FLAG", "anyone"), "no matching policy allows access")
	assert.True(t, r.CheckAccessAllowed("PROD_API_KEY", "deployer"))
	assert.False(t, r.CheckAccessAllowed("PROD_API_KEY", "intern"), "a matching policy that excludes the role denies")
	assert.True(t, r.CheckAccessAllowed("PROD_DATABASE_MASTER", "dba"), "any matching policy may allow")
	assert.True(t, r.CheckAccessAllowed("PROD_DATABASE_MASTER", "deployer"))
	assert.False(t, r.CheckAccessAllowed("PROD_DATABASE_MASTER", "intern"))

	require.NoError(t, r.Deactivate("prod"))
	assert.True(t, r.CheckAccessAllowed("PROD_API_KEY", "intern"), "inactive policies do not match")
}

func TestScenarioC_EmptyStoreIsFullyCompliant(t *testing.T) {
	t.Parallel()
	d := NewDetector(newRegistry(t, DefaultPolicies()...), staticRecords(nil), WithClock(testclock.NewClock(t0)))

	report := d.GovernanceReport()
	assert.Equal(t, 100.0, report.CompliancePercentage)
	assert.Empty(t, report.Violations)
	assert.Len(t, report.Policies, 3)
	assert.Equal(t, []string{"All active secrets comply with governance policies"}, report.Recommendations)
}

func TestScenarioD_OverlappingPolicies(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t,
		Policy{ID: "prod", Pattern: "PROD_.*", RequiredClassification: secret.ClassificationHigh, IsActive: true},
		Policy{ID: "db", Pattern: ".*_DATABASE_.*", RequiredClassification: secret.ClassificationCritical, IsActive: true},
	)
	records := staticRecords{record("PROD_DATABASE_MASTER", secret.ClassificationHigh, 30)}
	d := NewDetector(reg, records, WithClock(testclock.NewClock(t0)))

	violations := d.DetectPolicyViolations()
	require.Len(t, violations, 1)
	v := violations[0]
	assert.Equal(t, ViolationClassificationMismatch, v.Type)
	assert.Equal(t, "db", v.PolicyID)
	assert.Equal(t, secret.ClassificationHigh, v.Severity)
	assert.Equal(t, "PROD_DATABASE_MASTER", v.SecretName)
	assert.NotEmpty(t, v.ID)
	assert.False(t, v.Resolved)
}

func TestDetectPolicyViolations_Rules(t *testing.T) {
	t.Parallel()
	clk := testclock.NewClock(t0)
	reg := newRegistry(t,
		Policy{ID: "prod", Pattern: "PROD_.*", RequiredClassification: secret.ClassificationHigh, RotationFrequencyDays: 30, IsActive: true},
	)
	inactive := record("PROD_OLD", secret.ClassificationLow, 365)
	inactive.IsActive = false
	records := staticRecords{
		record("FEATURE_FLAG", secret.ClassificationLow, 180),
		record("PROD_SLOW", secret.ClassificationHigh, 90),
		record("PROD_ROOT", secret.ClassificationCritical, 30),
		record("PROD_FINE", secret.ClassificationHigh, 30),
		inactive,
	}
	d := NewDetector(reg, records, WithClock(clk))
	clk.Advance(31 * 24 * time.Hour)

	byKey := make(map[string]Violation)
	for _, v := range d.DetectPolicyViolations() {
		byKey[v.SecretName+"/"+string(v.Type)] = v
	}
	assert.Len(t, byKey, 4)

	nomatch := byKey["FEATURE_FLAG/NO_POLICY_MATCH"]
	assert.Equal(t, NoPolicyID, nomatch.PolicyID)
	assert.Equal(t, secret.ClassificationLow, nomatch.Severity)

	assert.Equal(t, secret.ClassificationModerate, byKey["PROD_SLOW/ROTATION_FREQUENCY_VIOLATION"].Severity)
	assert.Equal(t, secret.ClassificationCritical, byKey["PROD_ROOT/STALE_SECRET"].Severity)
	assert.Equal(t, secret.ClassificationHigh, byKey["PROD_FINE/STALE_SECRET"].Severity)
	_, slowStale := byKey["PROD_SLOW/STALE_SECRET"]
	assert.False(t, slowStale, "90-day secret is not stale after 31 days")
	_, ok := byKey["PROD_OLD/CLASSIFICATION_MISMATCH"]
	assert.False(t, ok, "inactive secrets are not evaluated")
}

func TestGovernanceReport_Compliance(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t,
		Policy{ID: "prod", Pattern: "PROD_.*", RequiredClassification: secret.ClassificationHigh, RotationFrequencyDays: 30, IsActive: true},
	)
	records := staticRecords{
		record("PROD_API_KEY", secret.ClassificationHigh, 30),
		record("PROD_FLAG", secret.ClassificationLow, 30),
		record("PROD_TOKEN", secret.ClassificationCritical, 30),
		record("DEV_TOKEN", secret.ClassificationHigh, 30),
	}
	d := NewDetector(reg, records, WithClock(testclock.NewClock(t0)))

	report := d.GovernanceReport()
	assert.Equal(t, 4, report.ActiveSecrets)
	assert.Equal(t, 2, report.SecretsWithViolations)
	assert.Equal(t, 2, report.CompliantSecrets)
	assert.InDelta(t, 50.0, report.CompliancePercentage, 0.001)
	assert.Equal(t, ComplianceCount{Total: 3, Compliant: 2, WithViolations: 1}, report.ComplianceByEnvironment[secret.EnvironmentProduction])
	assert.Equal(t, ComplianceCount{Total: 1, WithViolations: 1}, report.ComplianceByEnvironment[secret.EnvironmentDevelopment])
	assert.Equal(t, ComplianceCount{Total: 1, WithViolations: 1}, report.ComplianceByClassification[secret.ClassificationLow])
	assert.Equal(t, 1, report.ViolationsByType[ViolationNoPolicyMatch])
	assert.Equal(t, 1, report.ViolationsByType[ViolationClassificationMismatch])
	assert.Equal(t, []string{
		"Reclassify secrets to resolve 1 classification mismatch(es)",
		"Extend policy coverage: 1 secret(s) match no governance policy",
	}, report.Recommendations)
}

func TestGovernanceReport_CriticalRecommendation(t *testing.T) {
	t.Parallel()
	clk := testclock.NewClock(t0)
	reg := newRegistry(t, DefaultPolicies()...)
	records := staticRecords{record("PROD_DATABASE_MASTER", secret.ClassificationCritical, 30)}
	d := NewDetector(reg, records, WithClock(clk))
	clk.Advance(40 * 24 * time.Hour)

	report := d.GovernanceReport()
	require.NotEmpty(t, report.Recommendations)
	assert.Equal(t, "IMMEDIATE ATTENTION: 2 critical violation(s) require remediation", report.Recommendations[0])
	assert.Zero(t, report.CompliancePercentage)
}

func TestPublishViolations(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t, Policy{ID: "db", Pattern: ".*_DATABASE_.*", RequiredClassification: secret.ClassificationCritical, IsActive: true})
	records := staticRecords{
		record("PROD_DATABASE_MASTER", secret.ClassificationHigh, 30),
		record("FEATURE_FLAG", secret.ClassificationLow, 30),
	}
	n := &captureNotifier{}
	d := NewDetector(reg, records, WithClock(testclock.NewClock(t0)), WithNotifier(n))

	assert.Equal(t, 1, d.PublishViolations(), "LOW severity findings are not published")
	require.Len(t, n.events, 1)
	assert.Equal(t, notifications.EventTypeViolation, n.events[0].Type)
	assert.Equal(t, "db", n.events[0].Metadata["policy_id"])
}

func TestDetector_WithStore(t *testing.T) {
	t.Parallel()
	clk := testclock.NewClock(t0)
	st := store.New(store.WithClock(clk))
	defer func() { _ = st.Close(context.Background()) }()
	high := secret.ClassificationHigh
	require.NoError(t, st.Set(context.Background(), "PROD_DATABASE_MASTER", "pw", "svc1", "", &store.SetOptions{Classification: high}))

	d := NewDetector(newRegistry(t, DefaultPolicies()...), st, WithClock(clk))
	var types []ViolationType
	for _, v := range d.DetectPolicyViolations() {
		types = append(types, v.Type)
	}
	assert.Equal(t, []ViolationType{ViolationClassificationMismatch}, types)
}

func TestParsePolicies(t *testing.T) {
	t.Parallel()

	doc := []byte(`
version: 1
policies:
  - id: prod
    pattern: "PROD_.*"
    required_classification: high
    allowed_roles: [deployer]
    rotation_frequency_days: 30
    compliance_frameworks: [SOC2]
  - id: legacy
    pattern: "LEGACY_.*"
    required_classification: MEDIUM
    active: false
`)
	policies, err := ParsePolicies(doc)
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, secret.ClassificationHigh, policies[0].RequiredClassification)
	assert.True(t, policies[0].IsActive)
	assert.Equal(t, secret.ClassificationModerate, policies[1].RequiredClassification)
	assert.False(t, policies[1].IsActive)

	reg := NewRegistry(testclock.NewClock(t0))
	require.NoError(t, reg.RegisterAll(policies))
	assert.Len(t, reg.List(true), 1)
	assert.Len(t, reg.List(false), 2)
}

func TestParsePolicies_SchemaErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"not yaml", "policies: [", "failed to parse"},
		{"missing policies", "version: 1", "policies is required"},
		{"unknown field", "policies:\n  - id: a\n    pattern: A\n    required_classification: LOW\n    colour: red", "schema validation failed"},
		{"bad classification", "policies:\n  - id: a\n    pattern: A\n    required_classification: ULTRA", "schema validation failed"},
		{"negative days", "policies:\n  - id: a\n    pattern: A\n    required_classification: LOW\n    rotation_frequency_days: -3", "schema validation failed"},
		{"duplicate id", "policies:\n  - {id: a, pattern: A, required_classification: LOW}\n  - {id: a, pattern: B, required_classification: LOW}", "duplicate policy id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicies([]byte(tt.doc))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadPolicyFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policies:\n  - {id: a, pattern: 'A_.*', required_classification: LOW}\n"), 0600))

	policies, err := LoadPolicyFile(path)
	require.NoError(t, err)
	require.Len(t, policies, 1)

	_, err = LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultPoliciesRegister(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t, DefaultPolicies()...)
	assert.Len(t, reg.Matching("PROD_DATABASE_MASTER"), 2)
	assert.Len(t, reg.Matching("STAGING_API_KEY"), 1)
}
