// Package config defines the top-level configuration for the trading control
// plane and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADERD_* environment variables.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	Broker      BrokerConfig      `toml:"broker"`
	Trading     TradingConfig     `toml:"trading"`
	Risk        RiskConfig        `toml:"risk"`
	KillSwitch  KillSwitchConfig  `toml:"kill_switch"`
	MarketHours MarketHoursConfig `toml:"market_hours"`
	Strategies  StrategiesConfig  `toml:"strategies"`
	Notify      NotifyConfig      `toml:"notify"`
	Auth        AuthConfig        `toml:"auth"`
	LogLevel    string            `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional: quote
// caching, rate limiting, and symbol locks degrade gracefully without it.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// BrokerConfig holds Alpaca API credentials and endpoints.
type BrokerConfig struct {
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
	BaseURL   string `toml:"base_url"`
	DataURL   string `toml:"data_url"`
}

// TradingConfig holds the default trading mode and mode-switch policy.
type TradingConfig struct {
	// Mode is "paper" or "live". Startup is forced to paper unless
	// allow_live_on_boot is set.
	Mode            string   `toml:"mode"`
	AllowLiveOnBoot bool     `toml:"allow_live_on_boot"`
	ModeCooldown    duration `toml:"mode_cooldown"`
}

// RiskConfig holds the default risk limits, used to seed the database and as
// the fallback when limits cannot be read.
type RiskConfig struct {
	MaxDailyLoss        float64  `toml:"max_daily_loss"`
	MaxPositionUsd      float64  `toml:"max_position_usd"`
	MaxGrossExposureUsd float64  `toml:"max_gross_exposure_usd"`
	MaxTradesPerDay     int      `toml:"max_trades_per_day"`
	MaxOrderSlippageBps float64  `toml:"max_order_slippage_bps"`
	Whitelist           []string `toml:"whitelist"`
}

// KillSwitchConfig holds kill-switch mode and monitor cadences.
type KillSwitchConfig struct {
	// Mode is "soft" (block new orders) or "hard" (also cancel orders and
	// flatten positions on trigger).
	Mode              string   `toml:"mode"`
	HeartbeatInterval duration `toml:"heartbeat_interval"`
	DeadmanTimeout    duration `toml:"deadman_timeout"`
	DeadmanInterval   duration `toml:"deadman_interval"`
	BreachInterval    duration `toml:"breach_interval"`
}

// MarketHoursConfig gates order submission to regular trading hours.
type MarketHoursConfig struct {
	Enforce  bool   `toml:"enforce"`
	Timezone string `toml:"timezone"`
	Open     string `toml:"open"`  // "09:30"
	Close    string `toml:"close"` // "16:00"
}

// StrategiesConfig holds the strategy runner cadence and per-strategy config.
type StrategiesConfig struct {
	Enabled     bool             `toml:"enabled"`
	RunInterval duration         `toml:"run_interval"`
	MACrossover StrategyConfig   `toml:"ma_crossover"`
	RSIMeanRev  StrategyConfig   `toml:"rsi_mean_reversion"`
	Extra       []StrategyConfig `toml:"extra"`
}

// StrategyConfig holds one strategy's symbols and parameters.
type StrategyConfig struct {
	Enabled  bool           `toml:"enabled"`
	Symbols  []string       `toml:"symbols"`
	Schedule string         `toml:"schedule"`
	Params   map[string]any `toml:"params"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// AuthConfig maps static API keys to roles. Requests without a matching key
// are rejected; the resolved identity is attached to every audited mutation.
type AuthConfig struct {
	Enabled bool      `toml:"enabled"`
	Keys    []AuthKey `toml:"keys"`
}

// AuthKey binds one API key to an actor name and role.
type AuthKey struct {
	Key   string `toml:"key"`
	Actor string `toml:"actor"`
	Role  string `toml:"role"` // admin, operator, viewer
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// RiskLimits converts the configured defaults into the domain type.
func (r RiskConfig) RiskLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxDailyLoss:        r.MaxDailyLoss,
		MaxPositionUsd:      r.MaxPositionUsd,
		MaxGrossExposureUsd: r.MaxGrossExposureUsd,
		MaxTradesPerDay:     r.MaxTradesPerDay,
		MaxOrderSlippageBps: r.MaxOrderSlippageBps,
	}
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Database: DatabaseConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "traderd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Broker: BrokerConfig{
			BaseURL: "https://paper-api.alpaca.markets",
		},
		Trading: TradingConfig{
			Mode:            "paper",
			AllowLiveOnBoot: false,
			ModeCooldown:    duration{5 * time.Minute},
		},
		Risk: RiskConfig{
			MaxDailyLoss:        500,
			MaxPositionUsd:      2000,
			MaxGrossExposureUsd: 5000,
			MaxTradesPerDay:     10,
			MaxOrderSlippageBps: 50,
			Whitelist:           []string{"AAPL", "MSFT", "SPY", "QQQ"},
		},
		KillSwitch: KillSwitchConfig{
			Mode:              "soft",
			HeartbeatInterval: duration{10 * time.Second},
			DeadmanTimeout:    duration{30 * time.Second},
			DeadmanInterval:   duration{15 * time.Second},
			BreachInterval:    duration{30 * time.Second},
		},
		MarketHours: MarketHoursConfig{
			Enforce:  true,
			Timezone: "America/New_York",
			Open:     "09:30",
			Close:    "16:00",
		},
		Strategies: StrategiesConfig{
			Enabled:     true,
			RunInterval: duration{5 * time.Minute},
			MACrossover: StrategyConfig{
				Enabled: true,
				Symbols: []string{"SPY"},
				Params: map[string]any{
					"short_period":  10.0,
					"long_period":   30.0,
					"position_size": 1000.0,
				},
			},
			RSIMeanRev: StrategyConfig{
				Enabled: false,
				Symbols: []string{"QQQ"},
				Params: map[string]any{
					"period":        14.0,
					"oversold":      30.0,
					"overbought":    70.0,
					"position_size": 1000.0,
				},
			},
		},
		Notify: NotifyConfig{
			Events: []string{"kill_switch_triggered", "risk_breach", "order_rejected", "error"},
		},
		Auth: AuthConfig{
			Enabled: true,
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validRoles enumerates the accepted values for AuthKey.Role.
var validRoles = map[string]bool{
	"admin":    true,
	"operator": true,
	"viewer":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Trading
	mode := strings.ToLower(c.Trading.Mode)
	if mode != string(domain.TradingModePaper) && mode != string(domain.TradingModeLive) {
		errs = append(errs, fmt.Sprintf("trading: mode must be paper or live, got %q", c.Trading.Mode))
	}
	if c.Trading.ModeCooldown.Duration < 0 {
		errs = append(errs, "trading: mode_cooldown must not be negative")
	}

	// Broker — credentials must come in pairs.
	bk := c.Broker.ApiKey != ""
	bs := c.Broker.ApiSecret != ""
	if bk != bs {
		errs = append(errs, "broker: api_key and api_secret must be set together")
	}
	if mode == string(domain.TradingModeLive) && !bk {
		errs = append(errs, "broker: api_key is required for live mode")
	}

	// Risk
	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, "risk: max_daily_loss must be > 0")
	}
	if c.Risk.MaxPositionUsd <= 0 {
		errs = append(errs, "risk: max_position_usd must be > 0")
	}
	if c.Risk.MaxGrossExposureUsd <= 0 {
		errs = append(errs, "risk: max_gross_exposure_usd must be > 0")
	}
	if c.Risk.MaxTradesPerDay < 1 {
		errs = append(errs, "risk: max_trades_per_day must be >= 1")
	}
	if c.Risk.MaxOrderSlippageBps <= 0 {
		errs = append(errs, "risk: max_order_slippage_bps must be > 0")
	}

	// Kill switch
	ksMode := strings.ToLower(c.KillSwitch.Mode)
	if ksMode != string(domain.KillSwitchSoft) && ksMode != string(domain.KillSwitchHard) {
		errs = append(errs, fmt.Sprintf("kill_switch: mode must be soft or hard, got %q", c.KillSwitch.Mode))
	}
	if c.KillSwitch.HeartbeatInterval.Duration <= 0 {
		errs = append(errs, "kill_switch: heartbeat_interval must be > 0")
	}
	if c.KillSwitch.DeadmanTimeout.Duration <= c.KillSwitch.HeartbeatInterval.Duration {
		errs = append(errs, "kill_switch: deadman_timeout must exceed heartbeat_interval")
	}

	// Market hours
	if c.MarketHours.Enforce {
		if _, err := time.LoadLocation(c.MarketHours.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("market_hours: unknown timezone %q", c.MarketHours.Timezone))
		}
		for _, v := range []struct{ name, val string }{
			{"open", c.MarketHours.Open},
			{"close", c.MarketHours.Close},
		} {
			if _, err := time.Parse("15:04", v.val); err != nil {
				errs = append(errs, fmt.Sprintf("market_hours: %s must be HH:MM, got %q", v.name, v.val))
			}
		}
	}

	// Auth
	if c.Auth.Enabled {
		if len(c.Auth.Keys) == 0 {
			errs = append(errs, "auth: at least one key must be configured when enabled")
		}
		for i, k := range c.Auth.Keys {
			if k.Key == "" {
				errs = append(errs, fmt.Sprintf("auth: keys[%d].key must not be empty", i))
			}
			if !validRoles[strings.ToLower(k.Role)] {
				errs = append(errs, fmt.Sprintf("auth: keys[%d].role must be admin, operator, or viewer, got %q", i, k.Role))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
