package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/traderd/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	// Defaults require auth keys when auth is enabled; everything else must
	// hold on its own.
	cfg.Auth.Keys = []AuthKey{{Key: "k", Actor: "ops", Role: "admin"}}
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[server]
port = 9000

[trading]
mode = "paper"
mode_cooldown = "90s"

[risk]
max_daily_loss = 250.0
whitelist = ["TSLA"]

[strategies.ma_crossover]
enabled = false
symbols = ["NVDA", "AMD"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Trading.ModeCooldown.Duration)
	assert.Equal(t, 250.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, []string{"TSLA"}, cfg.Risk.Whitelist)
	assert.False(t, cfg.Strategies.MACrossover.Enabled)
	assert.Equal(t, []string{"NVDA", "AMD"}, cfg.Strategies.MACrossover.Symbols)

	// Untouched sections keep their defaults.
	assert.Equal(t, 2000.0, cfg.Risk.MaxPositionUsd)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "soft", cfg.KillSwitch.Mode)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[database]
host = "db.internal"
`)

	t.Setenv("TRADERD_DATABASE_PASSWORD", "hunter2")
	t.Setenv("TRADERD_BROKER_API_KEY", "PKTEST")
	t.Setenv("TRADERD_BROKER_API_SECRET", "shh")
	t.Setenv("TRADERD_RISK_MAX_DAILY_LOSS", "750.5")
	t.Setenv("TRADERD_RISK_MAX_TRADES_PER_DAY", "25")
	t.Setenv("TRADERD_REDIS_ENABLED", "false")
	t.Setenv("TRADERD_TRADING_MODE_COOLDOWN", "2m")
	t.Setenv("TRADERD_RISK_WHITELIST", "AAPL, MSFT ,SPY")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "hunter2", cfg.Database.Password)
	assert.Equal(t, "PKTEST", cfg.Broker.ApiKey)
	assert.Equal(t, "shh", cfg.Broker.ApiSecret)
	assert.Equal(t, 750.5, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, 25, cfg.Risk.MaxTradesPerDay)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Trading.ModeCooldown.Duration)
	assert.Equal(t, []string{"AAPL", "MSFT", "SPY"}, cfg.Risk.Whitelist)
}

func TestEnvAuthKeys(t *testing.T) {
	path := writeConfig(t, "")
	t.Setenv("TRADERD_AUTH_KEYS", "k1:alice:admin, k2:bob:viewer, malformed")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Auth.Keys, 2)
	assert.Equal(t, AuthKey{Key: "k1", Actor: "alice", Role: "admin"}, cfg.Auth.Keys[0])
	assert.Equal(t, AuthKey{Key: "k2", Actor: "bob", Role: "viewer"}, cfg.Auth.Keys[1])
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"
	cfg.Server.Port = 0
	cfg.Trading.Mode = "yolo"
	cfg.Risk.MaxDailyLoss = 0
	cfg.KillSwitch.Mode = "medium"
	cfg.Auth.Enabled = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "port must be 1-65535")
	assert.Contains(t, err.Error(), "mode must be paper or live")
	assert.Contains(t, err.Error(), "max_daily_loss")
	assert.Contains(t, err.Error(), "mode must be soft or hard")
}

func TestValidateBrokerPairing(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.Enabled = false

	cfg.Broker.ApiKey = "PKTEST"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key and api_secret must be set together")

	cfg.Broker.ApiSecret = "shh"
	require.NoError(t, cfg.Validate())
}

func TestValidateLiveModeNeedsCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.Enabled = false
	cfg.Trading.Mode = "live"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key is required for live mode")
}

func TestValidateAuthKeys(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one key")

	cfg.Auth.Keys = []AuthKey{{Key: "", Actor: "ops", Role: "root"}}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keys[0].key must not be empty")
	assert.Contains(t, err.Error(), "keys[0].role")
}

func TestRiskLimitsConversion(t *testing.T) {
	r := RiskConfig{
		MaxDailyLoss:        100,
		MaxPositionUsd:      200,
		MaxGrossExposureUsd: 300,
		MaxTradesPerDay:     4,
		MaxOrderSlippageBps: 5,
	}
	assert.Equal(t, domain.RiskLimits{
		MaxDailyLoss:        100,
		MaxPositionUsd:      200,
		MaxGrossExposureUsd: 300,
		MaxTradesPerDay:     4,
		MaxOrderSlippageBps: 5,
	}, r.RiskLimits())
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("5m")))
	assert.Equal(t, 5*time.Minute, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "5m0s", string(text))

	require.Error(t, d.UnmarshalText([]byte("soon")))
}
