package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/traderd/internal/broker"
	"github.com/alanyoungcy/traderd/internal/cache/redis"
	"github.com/alanyoungcy/traderd/internal/config"
	"github.com/alanyoungcy/traderd/internal/domain"
	"github.com/alanyoungcy/traderd/internal/notify"
	"github.com/alanyoungcy/traderd/internal/store/postgres"
)

// Dependencies bundles the infrastructure the services run on. It is built
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	OrderStore      domain.OrderStore
	FillLedger      domain.FillLedger
	PositionStore   domain.PositionStore
	RiskStore       domain.RiskStore
	KillSwitchStore domain.KillSwitchStore
	StrategyStore   domain.StrategyStore
	SignalStore     domain.SignalStore
	AuditStore      domain.AuditStore

	// Optional redis-backed components; nil when redis is disabled.
	QuoteCache  domain.QuoteCache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Broker is nil when no credentials are configured; the system then runs
	// degraded with submission rejected and market data unavailable.
	Broker broker.Broker

	Notifier *notify.Notifier

	// PG exposes Ping for health checks.
	PG *postgres.Client
	// Cache is the raw redis client, nil when disabled.
	Cache *redis.Client
}

// Wire constructs concrete implementations from configuration. Postgres is
// required; redis and the broker are optional and their absence degrades the
// corresponding features instead of failing startup.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PG = pgClient
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.FillLedger = postgres.NewFillStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.RiskStore = postgres.NewRiskStore(pool)
	deps.KillSwitchStore = postgres.NewKillSwitchStore(pool)
	deps.StrategyStore = postgres.NewStrategyStore(pool)
	deps.SignalStore = postgres.NewSignalStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			logger.WarnContext(ctx, "redis unavailable, running without cache, locks, and rate limits",
				slog.String("addr", cfg.Redis.Addr), slog.Any("error", err))
		} else {
			closers = append(closers, func() { _ = redisClient.Close() })
			deps.Cache = redisClient
			deps.QuoteCache = redis.NewQuoteCache(redisClient)
			deps.LockManager = redis.NewLockManager(redisClient)
			deps.RateLimiter = redis.NewRateLimiter(redisClient)
		}
	}

	// --- Broker (optional) ---
	if cfg.Broker.ApiKey != "" && cfg.Broker.ApiSecret != "" {
		deps.Broker = broker.NewAlpacaBroker(broker.Config{
			APIKey:    cfg.Broker.ApiKey,
			APISecret: cfg.Broker.ApiSecret,
			BaseURL:   cfg.Broker.BaseURL,
			DataURL:   cfg.Broker.DataURL,
		}, logger)
	} else {
		logger.WarnContext(ctx, "no broker credentials configured, order submission disabled")
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
