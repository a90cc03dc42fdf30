package secret

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

func TestHasherDeterministicAndDistinct(t *testing.T) {
	t.Parallel()

	for _, h := range []*Hasher{NewHasher(nil), NewHasher([]byte("pepper"))} {
		assert.Equal(t, h.Hash("abc123"), h.Hash("abc123"))
		assert.NotEqual(t, h.Hash("abc123"), h.Hash("abc124"))
		assert.NotEqual(t, h.Hash(""), h.Hash("a"))
		assert.Len(t, h.Hash(""), 64)
		assert.NotContains(t, h.Hash("abc123"), "abc123")
	}

	plain := NewHasher(nil)
	keyed := NewHasher([]byte("pepper"))
	assert.False(t, plain.Keyed())
	assert.True(t, keyed.Keyed())
	assert.NotEqual(t, plain.Hash("abc123"), keyed.Hash("abc123"))
	// sha256("")
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", plain.Hash(""))
}

func TestKeyringPepperGeneratedOnce(t *testing.T) {
	keyring.MockInit()

	first, err := KeyringPepper("secretgov-test", "pepper")
	require.NoError(t, err)
	assert.Len(t, first, 32)

	second, err := KeyringPepper("secretgov-test", "pepper")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, keyring.Set("secretgov-test", "broken", "not-hex"))
	_, err = KeyringPepper("secretgov-test", "broken")
	assert.Error(t, err)
}

func TestInferClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want Classification
	}{
		{"PROD_API_KEY", ClassificationHigh},
		{"PROD_DATABASE_MASTER", ClassificationCritical},
		{"root_credentials", ClassificationCritical},
		{"ADMIN_PASSWORD", ClassificationCritical},
		{"GITHUB_TOKEN", ClassificationHigh},
		{"CLIENT_SECRET", ClassificationHigh},
		{"PROD_FEATURE_FLAG", ClassificationModerate},
		{"FEATURE_FLAG", ClassificationLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferClassification(tt.name))
		})
	}
}

func TestInferEnvironment(t *testing.T) {
	t.Parallel()

	assert.Equal(t, EnvironmentProduction, InferEnvironment("PROD_API_KEY"))
	assert.Equal(t, EnvironmentStaging, InferEnvironment("STAGING_DB"))
	assert.Equal(t, EnvironmentDevelopment, InferEnvironment("dev_token"))
	assert.Equal(t, EnvironmentAll, InferEnvironment("SHARED_KEY"))
}

func TestDefaultRotationDays(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 30, DefaultRotationDays(ClassificationHigh))
	assert.Equal(t, 30, DefaultRotationDays(ClassificationCritical))
	assert.Equal(t, 90, DefaultRotationDays(ClassificationModerate))
	assert.Equal(t, 180, DefaultRotationDays(ClassificationLow))
}

func TestClassificationOrderingAndEncoding(t *testing.T) {
	t.Parallel()

	assert.Less(t, ClassificationLow.Rank(), ClassificationModerate.Rank())
	assert.Less(t, ClassificationModerate.Rank(), ClassificationHigh.Rank())
	assert.Less(t, ClassificationHigh.Rank(), ClassificationCritical.Rank())
	assert.False(t, Classification(0).Valid())

	c, err := ParseClassification("medium")
	require.NoError(t, err)
	assert.Equal(t, ClassificationModerate, c)
	_, err = ParseClassification("ultra")
	assert.Error(t, err)

	data, err := json.Marshal(struct {
		C Classification `json:"c"`
	}{ClassificationCritical})
	require.NoError(t, err)
	assert.JSONEq(t, `{"c":"CRITICAL"}`, string(data))

	var decoded struct {
		C Classification `yaml:"c"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("c: high\n"), &decoded))
	assert.Equal(t, ClassificationHigh, decoded.C)
}

func TestParseEnvironment(t *testing.T) {
	t.Parallel()

	env, err := ParseEnvironment("prod")
	require.NoError(t, err)
	assert.Equal(t, EnvironmentProduction, env)
	_, err = ParseEnvironment("moon")
	assert.Error(t, err)
}

func TestStalenessBoundary(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	exactly30 := Record{LastRotated: now.Add(-30 * 24 * time.Hour), RotationFrequencyDays: 30}
	assert.True(t, exactly30.IsStale(now, 30))
	assert.Equal(t, 30, exactly30.ElapsedDays(now))

	only29 := Record{LastRotated: now.Add(-29 * 24 * time.Hour), RotationFrequencyDays: 30}
	assert.False(t, only29.IsStale(now, 30))

	exempt := Record{LastRotated: now.Add(-3650 * 24 * time.Hour)}
	assert.False(t, exempt.IsStale(now, 0))

	future := Record{LastRotated: now.Add(time.Hour)}
	assert.Equal(t, 0, future.ElapsedDays(now))
}

func TestProjectLifecycle(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	days := 30
	events := []Event{
		{Seq: 1, Kind: EventCreated, Name: "PROD_API_KEY", At: t0, ValueHash: "h1",
			Environment: EnvironmentProduction, Classification: ClassificationHigh, RotationFrequencyDays: &days},
		{Seq: 2, Kind: EventRotated, Name: "PROD_API_KEY", At: t0.Add(time.Hour), ValueHash: "h2"},
		{Seq: 3, Kind: EventUpdated, Name: "PROD_API_KEY", At: t0.Add(2 * time.Hour), ValueHash: "h2", Owner: "platform"},
		{Seq: 4, Kind: EventDeactivated, Name: "PROD_API_KEY", At: t0.Add(3 * time.Hour)},
	}

	r, ok := Project(events)
	require.True(t, ok)
	assert.Equal(t, "h2", r.ValueHash)
	assert.Equal(t, 1, r.RotationsCount, "an update with the same hash is not a rotation")
	assert.Equal(t, t0.Add(time.Hour), r.LastRotated)
	assert.Equal(t, t0, r.CreatedAt)
	assert.Equal(t, "platform", r.Owner)
	assert.Equal(t, 30, r.RotationFrequencyDays)
	assert.False(t, r.IsActive)

	reactivated := r.Apply(Event{Kind: EventUpdated, At: t0.Add(4 * time.Hour), ValueHash: "h3"})
	assert.True(t, reactivated.IsActive)
	assert.Equal(t, 2, reactivated.RotationsCount)
	assert.False(t, r.IsActive, "Apply must not mutate its receiver")

	_, ok = Project([]Event{{Kind: EventRotated, ValueHash: "x"}})
	assert.False(t, ok)
}
