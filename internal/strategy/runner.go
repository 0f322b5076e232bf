package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/traderd/internal/broker"
	"github.com/alanyoungcy/traderd/internal/domain"
)

const (
	defaultRunInterval = 5 * time.Minute
	barLookbackDays    = 90
	barLimit           = 100
)

// OrderSubmitter is the slice of the order router the runner needs.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, intent domain.OrderIntent, actor string) domain.OrderResult
}

// Runner drives the enabled strategies on a fixed tick. Each tick it pulls
// daily bars per strategy symbol, collects signals, and hands the resulting
// intents to the order router, which applies its own gates. A rejected
// intent is logged and never retried.
type Runner struct {
	registry *Registry
	broker   broker.Broker // optional
	signals  domain.SignalStore
	router   OrderSubmitter
	interval time.Duration
	logger   *slog.Logger
}

// NewRunner creates a Runner. interval <= 0 falls back to five minutes.
func NewRunner(
	registry *Registry,
	brk broker.Broker,
	signals domain.SignalStore,
	router OrderSubmitter,
	interval time.Duration,
	logger *slog.Logger,
) *Runner {
	if interval <= 0 {
		interval = defaultRunInterval
	}
	return &Runner{
		registry: registry,
		broker:   brk,
		signals:  signals,
		router:   router,
		interval: interval,
		logger:   logger.With(slog.String("component", "strategy_runner")),
	}
}

// Run ticks until ctx is cancelled. With no broker there is no market data,
// so the runner idles.
func (r *Runner) Run(ctx context.Context) error {
	if r.broker == nil {
		r.logger.Warn("no broker configured, strategy runner idle")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("strategy runner started", slog.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce evaluates every enabled strategy against fresh bars. It is also
// reachable from the API for a manual tick.
func (r *Runner) RunOnce(ctx context.Context) {
	enabled := r.registry.Enabled()
	if len(enabled) == 0 {
		return
	}

	bars := make(map[string][]domain.Bar)
	for _, s := range enabled {
		for _, symbol := range s.Config().Symbols {
			if _, ok := bars[symbol]; ok {
				continue
			}
			history, err := r.fetchBars(ctx, symbol)
			if err != nil {
				r.logger.WarnContext(ctx, "bar fetch failed",
					slog.String("symbol", symbol), slog.Any("error", err))
				continue
			}
			bars[symbol] = history
		}
	}

	for _, s := range enabled {
		r.runStrategy(ctx, s, bars)
	}
}

func (r *Runner) fetchBars(ctx context.Context, symbol string) ([]domain.Bar, error) {
	end := time.Now().UTC()
	return r.broker.GetBars(ctx, symbol, domain.BarParams{
		Start:     end.AddDate(0, 0, -barLookbackDays),
		End:       end,
		Timeframe: "1Day",
		Limit:     barLimit,
	})
}

func (r *Runner) runStrategy(ctx context.Context, s Strategy, bars map[string][]domain.Bar) {
	for _, symbol := range s.Config().Symbols {
		history, ok := bars[symbol]
		if !ok || len(history) == 0 {
			continue
		}

		signals, err := s.GenerateSignals(ctx, symbol, history)
		if err != nil {
			r.logger.WarnContext(ctx, "signal generation failed",
				slog.String("strategy", s.ID()),
				slog.String("symbol", symbol),
				slog.Any("error", err))
			continue
		}

		for _, sig := range signals {
			if r.signals != nil {
				if err := r.signals.Insert(ctx, sig); err != nil {
					r.logger.WarnContext(ctx, "signal not persisted",
						slog.String("signal", sig.SignalID), slog.Any("error", err))
				}
			}

			intent := s.SignalToIntent(sig)
			result := r.router.SubmitOrder(ctx, intent, s.ID())
			if !result.Success {
				r.logger.WarnContext(ctx, "strategy intent rejected",
					slog.String("strategy", s.ID()),
					slog.String("symbol", intent.Symbol),
					slog.String("reason", result.FailReason),
					slog.Bool("risk_check_passed", result.RiskCheckPassed))
				continue
			}
			r.logger.InfoContext(ctx, "strategy order submitted",
				slog.String("strategy", s.ID()),
				slog.String("symbol", intent.Symbol),
				slog.String("broker_order_id", result.BrokerOrderID))
		}
	}
}
