package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretgov/internal/logging/loggingtest"
	"github.com/systmms/secretgov/pkg/governance"
	"github.com/systmms/secretgov/pkg/rotation"
	"github.com/systmms/secretgov/pkg/secret"
	"github.com/systmms/secretgov/pkg/store"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(t0)

	st := store.New(store.WithClock(clk))
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	engine := rotation.NewEngine(st, rotation.WithClock(clk))
	registry := governance.NewRegistry(clk)
	require.NoError(t, registry.RegisterAll(governance.DefaultPolicies()))
	detector := governance.NewDetector(registry, st, governance.WithClock(clk))

	return New(st, engine, registry, detector, WithClock(clk)), clk
}

type panickingSource struct{}

func (panickingSource) Records() []secret.Record { panic("records unavailable") }

func (panickingSource) RegenerateHash(name, actor, ip, reason string, meta map[string]string) (secret.Record, error) {
	panic("unreachable")
}

func TestScenarioA_InferStaleAutoRotate(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	set := svc.SetSecret(ctx, SetRequest{Name: "PROD_API_KEY", Value: "abc123", Actor: "svc1", IP: "10.0.0.1"})
	require.True(t, set.Success, set.Error)

	meta := svc.GetSecretMetadata(ctx, "PROD_API_KEY", "svc1", "10.0.0.1")
	require.True(t, meta.Success)
	assert.Equal(t, secret.ClassificationHigh, meta.Metadata.Classification)
	assert.Equal(t, 30, meta.Metadata.RotationFrequencyDays)

	clk.Advance(31 * 24 * time.Hour)

	stale := svc.DetectStaleKeys(nil)
	require.True(t, stale.Success)
	require.Equal(t, 1, stale.Count)
	assert.Equal(t, "PROD_API_KEY", stale.StaleSecrets[0].Name)
	assert.Equal(t, 1, stale.StaleSecrets[0].DaysOverdue)

	batch := svc.AutoRotateIfNeeded(ctx, "scheduler", "127.0.0.1")
	require.True(t, batch.Success, batch.Error)
	assert.Equal(t, []string{"PROD_API_KEY"}, batch.Names(rotation.StatusRotated))

	meta = svc.GetSecretMetadata(ctx, "PROD_API_KEY", "svc1", "10.0.0.1")
	assert.Equal(t, 1, meta.Metadata.RotationsCount)
}

func TestScenarioB_DeleteUnknown(t *testing.T) {
	svc, _ := newTestService(t)

	res := svc.DeleteSecret(context.Background(), "UNKNOWN", "ops", "10.0.0.2")
	assert.False(t, res.Success)
	assert.Equal(t, "not found", res.ErrorKind)

	logs := svc.GetAccessLogs(0)
	require.Equal(t, 1, logs.Count)
	entry := logs.Logs[0]
	assert.Equal(t, "UNKNOWN", entry.SecretName)
	assert.Equal(t, secret.ActionDelete, entry.Action)
	assert.False(t, entry.Success)
}

func TestScenarioC_EmptyGovernanceReport(t *testing.T) {
	svc, _ := newTestService(t)

	res := svc.GetGovernanceReport()
	require.True(t, res.Success)
	assert.Equal(t, 100.0, res.Report.CompliancePercentage)
	assert.Empty(t, res.Report.Violations)
}

func TestSetSecret_RejectsBadAttributes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		req    SetRequest
		reason string
	}{
		{"empty name", SetRequest{Value: "v", Actor: "svc1"}, "empty name"},
		{"empty value", SetRequest{Name: "DEV_TOKEN", Actor: "svc1"}, "empty value"},
		{"bad classification", SetRequest{Name: "DEV_TOKEN", Value: "v", Actor: "svc1", Classification: "TOP_SECRET"}, "invalid classification"},
		{"bad environment", SetRequest{Name: "DEV_TOKEN", Value: "v", Actor: "svc1", Environment: "MOON"}, "invalid environment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := svc.GetAccessLogs(0).Count

			res := svc.SetSecret(ctx, tt.req)
			assert.False(t, res.Success)
			assert.Equal(t, "validation", res.ErrorKind)

			logs := svc.GetAccessLogs(0)
			require.Equal(t, before+1, logs.Count, "rejected attempts are audited")
			last := logs.Logs[len(logs.Logs)-1]
			assert.Equal(t, secret.ActionCreate, last.Action)
			assert.Equal(t, "svc1", last.Actor)
			assert.False(t, last.Success)
			assert.Equal(t, tt.reason, last.Reason)
		})
	}
}

func TestSetSecret_BadAttributeOnExistingSecretIsUpdate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.True(t, svc.SetSecret(ctx, SetRequest{Name: "DEV_TOKEN", Value: "v", Actor: "svc1"}).Success)
	res := svc.SetSecret(ctx, SetRequest{Name: "DEV_TOKEN", Value: "w", Actor: "svc1", Classification: "TOP_SECRET"})
	require.False(t, res.Success)

	logs := svc.GetAccessLogs(0).Logs
	last := logs[len(logs)-1]
	assert.Equal(t, secret.ActionUpdate, last.Action)
	assert.False(t, last.Success)
}

func TestGetSecretMetadata_IsAudited(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.True(t, svc.SetSecret(ctx, SetRequest{Name: "PROD_API_KEY", Value: "abc123", Actor: "svc1"}).Success)

	found := svc.GetSecretMetadata(ctx, "PROD_API_KEY", "auditor", "10.0.0.9")
	require.True(t, found.Success)
	missing := svc.GetSecretMetadata(ctx, "NOPE", "auditor", "10.0.0.9")
	assert.False(t, missing.Success)
	assert.Equal(t, "not found", missing.ErrorKind)

	logs := svc.GetAccessLogs(0).Logs
	require.Len(t, logs, 3)
	for i, want := range []struct {
		name    string
		success bool
	}{{"PROD_API_KEY", true}, {"NOPE", false}} {
		e := logs[i+1]
		assert.Equal(t, want.name, e.SecretName)
		assert.Equal(t, secret.ActionRead, e.Action)
		assert.Equal(t, "auditor", e.Actor)
		assert.Equal(t, "10.0.0.9", e.SourceIP)
		assert.Equal(t, want.success, e.Success)
		assert.Equal(t, "metadata", e.Metadata["view"])
	}
}

func TestGuard_AuditsRecoveredPanic(t *testing.T) {
	svc, _ := newTestService(t)

	res := func() (res RotateResult) {
		defer svc.guard("rotate", &res, svc.auditFailure("PROD_API_KEY", "svc1", "10.0.0.1", secret.ActionRotate))
		panic("hash backend gone")
	}()
	assert.False(t, res.Success)
	assert.Equal(t, "internal", res.ErrorKind)

	logs := svc.GetAccessLogs(0).Logs
	require.Len(t, logs, 1)
	assert.Equal(t, secret.ActionRotate, logs[0].Action)
	assert.Equal(t, "svc1", logs[0].Actor)
	assert.False(t, logs[0].Success)
	assert.Equal(t, "internal error", logs[0].Reason)
}

func TestRotateSecret_ReportsCountAndTimestamp(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	require.True(t, svc.SetSecret(ctx, SetRequest{Name: "DEV_TOKEN", Value: "one", Actor: "dev"}).Success)
	clk.Advance(time.Hour)

	res := svc.RotateSecret(ctx, "DEV_TOKEN", "two", "dev", "")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.RotationsCount)
	assert.Equal(t, t0.Add(time.Hour), res.LastRotated.UTC())

	missing := svc.RotateSecret(ctx, "NOPE", "x", "dev", "")
	assert.False(t, missing.Success)
	assert.Equal(t, "not found", missing.ErrorKind)
}

func TestGetSecret_ValueIsRedactedWhenEncoded(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.True(t, svc.SetSecret(ctx, SetRequest{Name: "DEV_TOKEN", Value: "s3cr3t"}).Success)

	res := svc.GetSecret(ctx, "DEV_TOKEN", "dev", "")
	require.True(t, res.Success)
	assert.Equal(t, "s3cr3t", string(res.Value))

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s3cr3t")
	assert.Contains(t, string(data), "[REDACTED]")
}

func TestListExportAndHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.True(t, svc.SetSecret(ctx, SetRequest{Name: "B_TOKEN", Value: "1"}).Success)
	require.True(t, svc.SetSecret(ctx, SetRequest{Name: "A_TOKEN", Value: "2"}).Success)
	require.True(t, svc.DeleteSecret(ctx, "B_TOKEN", "ops", "").Success)

	active := svc.ListSecrets(ctx, false, "ops", "")
	require.True(t, active.Success)
	assert.Equal(t, 1, active.Count)

	all := svc.ListSecrets(ctx, true, "ops", "")
	require.Equal(t, 2, all.Count)
	assert.Equal(t, "A_TOKEN", all.Secrets[0].Name)

	export := svc.ExportMetadata(ctx, "auditor", "")
	require.True(t, export.Success)
	assert.Len(t, export.Secrets, 2)
	assert.Equal(t, "auditor", export.ExportedBy)

	history := svc.GetSecretHistory("B_TOKEN")
	require.True(t, history.Success)
	assert.Len(t, history.Events, 2)

	assert.False(t, svc.GetSecretHistory("NOPE").Success)
}

func TestCheckAccess_Asymmetry(t *testing.T) {
	clk := testclock.NewClock(t0)
	st := store.New(store.WithClock(clk))
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	registry := governance.NewRegistry(clk)
	require.NoError(t, registry.Register(governance.Policy{
		ID:                     "prod",
		Pattern:                "PROD_.*",
		RequiredClassification: secret.ClassificationHigh,
		AllowedRoles:           []string{"sre"},
		RotationFrequencyDays:  30,
	}))
	svc := New(st, rotation.NewEngine(st), registry, governance.NewDetector(registry, st))

	unmatched := svc.CheckAccess("DEV_TOKEN", "intern")
	assert.True(t, unmatched.Allowed)
	assert.Empty(t, unmatched.Policies)

	denied := svc.CheckAccess("PROD_TOKEN", "intern")
	assert.False(t, denied.Allowed)
	assert.Equal(t, []string{"prod"}, denied.Policies)

	assert.True(t, svc.CheckAccess("PROD_TOKEN", "sre").Allowed)
}

func TestHealthCheck_DegradedWhenCriticalStale(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	require.True(t, svc.SetSecret(ctx, SetRequest{Name: "PROD_DATABASE_MASTER", Value: "pw"}).Success)
	require.True(t, svc.SetSecret(ctx, SetRequest{Name: "DEV_NOTES", Value: "x"}).Success)

	health := svc.HealthCheck()
	require.True(t, health.Success)
	assert.Equal(t, StatusHealthy, health.Health)
	assert.Equal(t, 2, health.TotalSecrets)
	assert.Equal(t, 2, health.ActiveSecrets)
	assert.Equal(t, 1, health.CriticalSecrets)
	assert.Equal(t, 0, health.StaleSecrets)
	assert.Equal(t, 2, health.TotalAccessLogs)
	assert.True(t, svc.Healthy())

	clk.Advance(30 * 24 * time.Hour)

	health = svc.HealthCheck()
	assert.Equal(t, StatusDegraded, health.Health)
	assert.Equal(t, 1, health.StaleSecrets)
	assert.Equal(t, 1, health.CriticalStale)
	assert.False(t, svc.Healthy())
}

func TestDetectStaleKeys_NegativeThreshold(t *testing.T) {
	svc, _ := newTestService(t)
	negative := -1

	res := svc.DetectStaleKeys(&negative)
	assert.False(t, res.Success)
	assert.Equal(t, "validation", res.ErrorKind)
}

func TestPanicsBecomeFailedEnvelopes(t *testing.T) {
	clk := testclock.NewClock(t0)
	st := store.New(store.WithClock(clk))
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	logger, logs := loggingtest.New(false)
	registry := governance.NewRegistry(clk)
	svc := New(st, rotation.NewEngine(panickingSource{}), registry,
		governance.NewDetector(registry, panickingSource{}), WithLogger(logger))

	stale := svc.DetectStaleKeys(nil)
	assert.False(t, stale.Success)
	assert.Equal(t, "internal", stale.ErrorKind)
	assert.Contains(t, stale.Error, "records unavailable")

	health := svc.HealthCheck()
	assert.False(t, health.Success)

	report := svc.GetGovernanceReport()
	assert.False(t, report.Success)
	assert.Nil(t, report.Report)

	assert.GreaterOrEqual(t, logs.FilterMessageSnippet("Recovered panic").Len(), 3)
}
