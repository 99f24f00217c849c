package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "http://localhost:8765", p.RegistryURL)
	assert.Equal(t, "https://api.openai.com/v1", p.DecisionBaseURL)
	assert.Equal(t, "gpt-4o-mini", p.DecisionModel)
	assert.Equal(t, 5, p.MaxRounds)
	assert.Equal(t, 2*time.Second, p.RoundDelay)
	assert.Equal(t, int64(8), p.MaxConcurrent)
	assert.False(t, p.IsDecisionEnabled())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("DEALSENSE_REGISTRY_URL", "http://registry.internal:9000")
	t.Setenv("DEALSENSE_DECISION_API_KEY", "sk-test")
	t.Setenv("DEALSENSE_MAX_ROUNDS", "3")
	t.Setenv("DEALSENSE_ROUND_DELAY", "500ms")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "http://registry.internal:9000", p.RegistryURL)
	assert.Equal(t, 3, p.MaxRounds)
	assert.Equal(t, 500*time.Millisecond, p.RoundDelay)
	assert.True(t, p.IsDecisionEnabled())
}

func TestValidateFillsSQLiteDSN(t *testing.T) {
	p := &Profile{Mode: "dev", Driver: "sqlite", Data: t.TempDir()}
	require.NoError(t, p.Validate())
	assert.Contains(t, p.DSN, "dealsense_dev.db")
}

func TestValidateRejectsPostgresWithoutDSN(t *testing.T) {
	p := &Profile{Mode: "prod", Driver: "postgres", Data: t.TempDir()}
	require.Error(t, p.Validate())
}

func TestValidateNormalizesUnknownValues(t *testing.T) {
	p := &Profile{Mode: "whatever", Driver: "oracle", Data: t.TempDir(), MaxRounds: -1}
	require.NoError(t, p.Validate())
	assert.Equal(t, "demo", p.Mode)
	assert.Equal(t, "sqlite", p.Driver)
	assert.Equal(t, 5, p.MaxRounds)
}
