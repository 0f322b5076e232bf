// Package app owns the application lifecycle for traderd. It wires stores,
// caches, the broker adapter, and services together, starts the background
// loops, and serves the HTTP control plane until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/traderd/internal/cache/redis"
	"github.com/alanyoungcy/traderd/internal/config"
	"github.com/alanyoungcy/traderd/internal/domain"
	"github.com/alanyoungcy/traderd/internal/server"
	"github.com/alanyoungcy/traderd/internal/server/handler"
	"github.com/alanyoungcy/traderd/internal/server/middleware"
	"github.com/alanyoungcy/traderd/internal/server/ws"
	"github.com/alanyoungcy/traderd/internal/service"
	"github.com/alanyoungcy/traderd/internal/strategy"
)

// App is the root application object.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from configuration.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, starts every background loop and the HTTP server,
// and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	mode := a.bootMode(ctx)
	a.logger.InfoContext(ctx, "starting traderd",
		slog.String("trading_mode", string(mode)),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// --- Services ---
	riskEngine, err := service.NewRiskEngine(deps.RiskStore, deps.PositionStore, deps.QuoteCache, deps.Broker,
		service.RiskEngineConfig{
			Defaults:           a.cfg.Risk.RiskLimits(),
			Mode:               mode,
			ModeCooldown:       a.cfg.Trading.ModeCooldown.Duration,
			EnforceMarketHours: a.cfg.MarketHours.Enforce,
			Timezone:           a.cfg.MarketHours.Timezone,
			MarketOpen:         a.cfg.MarketHours.Open,
			MarketClose:        a.cfg.MarketHours.Close,
		}, a.logger)
	if err != nil {
		return fmt.Errorf("app: risk engine: %w", err)
	}
	a.recordBootMode(ctx, deps.RiskStore, mode)

	killSwitch := service.NewKillSwitch(deps.KillSwitchStore, deps.RiskStore, deps.AuditStore, deps.Broker,
		deps.Notifier, service.KillSwitchConfig{
			DefaultMode:       domain.KillSwitchMode(a.cfg.KillSwitch.Mode),
			HeartbeatInterval: a.cfg.KillSwitch.HeartbeatInterval.Duration,
			DeadmanTimeout:    a.cfg.KillSwitch.DeadmanTimeout.Duration,
			DeadmanInterval:   a.cfg.KillSwitch.DeadmanInterval.Duration,
			BreachInterval:    a.cfg.KillSwitch.BreachInterval.Duration,
			RiskDefaults:      a.cfg.Risk.RiskLimits(),
		}, a.logger)

	router := service.NewOrderRouter(killSwitch, riskEngine, deps.Broker, deps.OrderStore,
		deps.LockManager, deps.RateLimiter, service.OrderRouterConfig{}, a.logger)

	fillHandler := service.NewFillHandler(deps.FillLedger, deps.OrderStore, deps.PositionStore,
		deps.Broker, deps.QuoteCache, 5*time.Second, a.logger)

	positions := service.NewPositionManager(deps.PositionStore, deps.Broker, deps.QuoteCache,
		deps.AuditStore, a.logger)
	killSwitch.SetReconciler(positions)

	// --- Strategies ---
	registry := strategy.NewRegistry(deps.StrategyStore, a.logger)
	if err := a.registerStrategies(ctx, registry); err != nil {
		return fmt.Errorf("app: register strategies: %w", err)
	}
	if err := registry.LoadPersisted(ctx); err != nil {
		a.logger.WarnContext(ctx, "persisted strategy configs unavailable, using registered defaults",
			slog.Any("error", err))
	}
	runner := strategy.NewRunner(registry, deps.Broker, deps.SignalStore, router,
		a.cfg.Strategies.RunInterval.Duration, a.logger)

	// --- Event stream + HTTP server ---
	hub := ws.NewHub(a.logger)
	router.SetBroadcaster(hub)
	fillHandler.SetBroadcaster(hub)
	killSwitch.SetBroadcaster(hub)

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.PG, cachePinger(deps.Cache), deps.Broker, a.logger),
		Orders:     handler.NewOrderHandler(router, deps.OrderStore, a.logger),
		Positions:  handler.NewPositionHandler(positions, a.logger),
		Risk:       handler.NewRiskHandler(deps.RiskStore, riskEngine, a.cfg.Risk.RiskLimits(), a.logger),
		KillSwitch: handler.NewKillSwitchHandler(killSwitch, a.logger),
		Strategies: handler.NewStrategyHandler(registry, runner, deps.AuditStore, a.logger),
		Audit:      handler.NewAuditHandler(deps.AuditStore, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AuthEnabled: a.cfg.Auth.Enabled,
		AuthKeys:    authKeys(a.cfg.Auth.Keys),
		RateLimiter: deps.RateLimiter,
		RateLimit:   120,
		RateWindow:  time.Minute,
	}, handlers, hub, a.logger)

	// --- Background loops ---
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return killSwitch.RunHeartbeat(ctx) })
	g.Go(func() error { return killSwitch.RunDeadman(ctx) })
	g.Go(func() error { return killSwitch.RunBreachMonitor(ctx) })
	g.Go(func() error { return fillHandler.Run(ctx) })

	if a.cfg.Strategies.Enabled {
		g.Go(func() error { return runner.Run(ctx) })
	} else {
		a.logger.InfoContext(ctx, "strategy runner disabled")
	}

	if a.cfg.Server.Enabled {
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: %w", err)
	}
	return context.Canceled
}

// Close tears down resources in reverse registration order.
func (a *App) Close() {
	a.logger.Info("shutting down traderd")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// bootMode resolves the effective trading mode at startup. Live requires an
// explicit opt-in; without it the process boots in paper mode.
func (a *App) bootMode(ctx context.Context) domain.TradingMode {
	mode := domain.TradingMode(a.cfg.Trading.Mode)
	if mode == domain.TradingModeLive && !a.cfg.Trading.AllowLiveOnBoot {
		a.logger.WarnContext(ctx, "live mode configured without allow_live_on_boot, starting in paper mode")
		return domain.TradingModePaper
	}
	return mode
}

// recordBootMode writes a mode switch row when the effective boot mode
// differs from the last recorded one, so the mode lock covers restarts.
func (a *App) recordBootMode(ctx context.Context, store domain.RiskStore, mode domain.TradingMode) {
	last, err := store.LastModeSwitch(ctx)
	if err == nil && last.ToMode == mode {
		return
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.logger.WarnContext(ctx, "mode switch history unreadable", slog.Any("error", err))
		return
	}

	sw := domain.ModeSwitch{
		FromMode:   last.ToMode,
		ToMode:     mode,
		Actor:      "system",
		SwitchedAt: time.Now().UTC(),
	}
	if sw.FromMode == "" {
		sw.FromMode = domain.TradingModePaper
	}
	if err := store.RecordModeSwitch(ctx, sw); err != nil {
		a.logger.WarnContext(ctx, "boot mode switch not recorded", slog.Any("error", err))
	}
}

// registerStrategies registers the built-in strategies with their configured
// parameter bags.
func (a *App) registerStrategies(ctx context.Context, registry *strategy.Registry) error {
	ma := strategy.NewMACrossover(a.logger)
	if err := registry.Register(ctx, ma, domain.StrategyConfig{
		Enabled:  a.cfg.Strategies.MACrossover.Enabled,
		Symbols:  a.cfg.Strategies.MACrossover.Symbols,
		Schedule: a.cfg.Strategies.MACrossover.Schedule,
		Params:   a.cfg.Strategies.MACrossover.Params,
	}); err != nil {
		return err
	}

	rsi := strategy.NewRSIMeanReversion(a.logger)
	if err := registry.Register(ctx, rsi, domain.StrategyConfig{
		Enabled:  a.cfg.Strategies.RSIMeanRev.Enabled,
		Symbols:  a.cfg.Strategies.RSIMeanRev.Symbols,
		Schedule: a.cfg.Strategies.RSIMeanRev.Schedule,
		Params:   a.cfg.Strategies.RSIMeanRev.Params,
	}); err != nil {
		return err
	}
	return nil
}

// cachePinger keeps a disabled redis client out of the health handler; a
// typed nil pointer inside the interface would read as configured.
func cachePinger(c *redis.Client) handler.Pinger {
	if c == nil {
		return nil
	}
	return c
}

// authKeys converts configured API keys into middleware entries.
func authKeys(keys []config.AuthKey) []middleware.KeyEntry {
	out := make([]middleware.KeyEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, middleware.KeyEntry{
			Key:   k.Key,
			Actor: k.Actor,
			Role:  domain.Role(k.Role),
		})
	}
	return out
}
