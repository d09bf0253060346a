package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Engine.SlippageToleranceBps = 10_000
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "slippage_tolerance_bps")
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestValidate_Markets(t *testing.T) {
	cfg := Defaults()
	cfg.Markets = []MarketConfig{
		{ID: "mkt-1", Outcomes: []string{"YES", "NO"}, Conditions: []string{"c1"}},
		{ID: "mkt-1", Outcomes: []string{"YES"}, Conditions: nil},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
	assert.Contains(t, err.Error(), "at least 2 outcomes")
	assert.Contains(t, err.Error(), "condition id is required")
}

func TestValidate_AuthPair(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.APIKeyHash = "deadbeef"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set together")

	cfg.Auth.APIKeySalt = "cafe"
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TICKBOOK_ENGINE_MAX_EXECUTIONS_PER_TRIGGER", "7")
	t.Setenv("TICKBOOK_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("TICKBOOK_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TICKBOOK_ENGINE_SWEEP_INTERVAL", "90s")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, 7, cfg.Engine.MaxExecutionsPerTrigger)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "90s", cfg.Engine.SweepInterval.Duration.String())
}
