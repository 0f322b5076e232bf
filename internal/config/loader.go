package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADERD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADERD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADERD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADERD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADERD_SERVER_CORS_ORIGINS")

	// ── Database ──
	setStr(&cfg.Database.DSN, "TRADERD_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "TRADERD_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "TRADERD_DATABASE_HOST")
	setInt(&cfg.Database.Port, "TRADERD_DATABASE_PORT")
	setStr(&cfg.Database.Database, "TRADERD_DATABASE_NAME")
	setStr(&cfg.Database.User, "TRADERD_DATABASE_USER")
	setStr(&cfg.Database.Password, "TRADERD_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "TRADERD_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "TRADERD_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "TRADERD_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "TRADERD_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADERD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADERD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADERD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADERD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADERD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADERD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADERD_REDIS_TLS_ENABLED")

	// ── Broker ──
	setStr(&cfg.Broker.ApiKey, "TRADERD_BROKER_API_KEY")
	setStr(&cfg.Broker.ApiSecret, "TRADERD_BROKER_API_SECRET")
	setStr(&cfg.Broker.BaseURL, "TRADERD_BROKER_BASE_URL")
	setStr(&cfg.Broker.DataURL, "TRADERD_BROKER_DATA_URL")

	// ── Trading ──
	setStr(&cfg.Trading.Mode, "TRADERD_TRADING_MODE")
	setBool(&cfg.Trading.AllowLiveOnBoot, "TRADERD_TRADING_ALLOW_LIVE_ON_BOOT")
	setDuration(&cfg.Trading.ModeCooldown, "TRADERD_TRADING_MODE_COOLDOWN")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxDailyLoss, "TRADERD_RISK_MAX_DAILY_LOSS")
	setFloat64(&cfg.Risk.MaxPositionUsd, "TRADERD_RISK_MAX_POSITION_USD")
	setFloat64(&cfg.Risk.MaxGrossExposureUsd, "TRADERD_RISK_MAX_GROSS_EXPOSURE_USD")
	setInt(&cfg.Risk.MaxTradesPerDay, "TRADERD_RISK_MAX_TRADES_PER_DAY")
	setFloat64(&cfg.Risk.MaxOrderSlippageBps, "TRADERD_RISK_MAX_ORDER_SLIPPAGE_BPS")
	setStringSlice(&cfg.Risk.Whitelist, "TRADERD_RISK_WHITELIST")

	// ── Kill switch ──
	setStr(&cfg.KillSwitch.Mode, "TRADERD_KILL_SWITCH_MODE")
	setDuration(&cfg.KillSwitch.HeartbeatInterval, "TRADERD_KILL_SWITCH_HEARTBEAT_INTERVAL")
	setDuration(&cfg.KillSwitch.DeadmanTimeout, "TRADERD_KILL_SWITCH_DEADMAN_TIMEOUT")
	setDuration(&cfg.KillSwitch.DeadmanInterval, "TRADERD_KILL_SWITCH_DEADMAN_INTERVAL")
	setDuration(&cfg.KillSwitch.BreachInterval, "TRADERD_KILL_SWITCH_BREACH_INTERVAL")

	// ── Market hours ──
	setBool(&cfg.MarketHours.Enforce, "TRADERD_MARKET_HOURS_ENFORCE")
	setStr(&cfg.MarketHours.Timezone, "TRADERD_MARKET_HOURS_TIMEZONE")
	setStr(&cfg.MarketHours.Open, "TRADERD_MARKET_HOURS_OPEN")
	setStr(&cfg.MarketHours.Close, "TRADERD_MARKET_HOURS_CLOSE")

	// ── Strategies ──
	setBool(&cfg.Strategies.Enabled, "TRADERD_STRATEGIES_ENABLED")
	setDuration(&cfg.Strategies.RunInterval, "TRADERD_STRATEGIES_RUN_INTERVAL")
	setBool(&cfg.Strategies.MACrossover.Enabled, "TRADERD_STRATEGIES_MA_CROSSOVER_ENABLED")
	setBool(&cfg.Strategies.RSIMeanRev.Enabled, "TRADERD_STRATEGIES_RSI_MEAN_REVERSION_ENABLED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADERD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADERD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADERD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADERD_NOTIFY_EVENTS")

	// ── Auth ──
	setBool(&cfg.Auth.Enabled, "TRADERD_AUTH_ENABLED")
	// TRADERD_AUTH_KEYS holds comma-separated key:actor:role triples.
	if v := os.Getenv("TRADERD_AUTH_KEYS"); v != "" {
		var keys []AuthKey
		for _, entry := range strings.Split(v, ",") {
			parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
			if len(parts) == 3 {
				keys = append(keys, AuthKey{Key: parts[0], Actor: parts[1], Role: parts[2]})
			}
		}
		if len(keys) > 0 {
			cfg.Auth.Keys = keys
		}
	}

	// ── Top-level ──
	setStr(&cfg.LogLevel, "TRADERD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
