package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/traderd/internal/domain"
)

const (
	defaultRSIPeriod  = 14
	defaultOversold   = 30.0
	defaultOverbought = 70.0
)

// RSIMeanReversion buys oversold symbols and sells overbought ones. One
// signal per excursion: once a symbol leaves the neutral band, the strategy
// stays quiet on that side until the RSI has returned to neutral.
type RSIMeanReversion struct {
	mu           sync.Mutex
	cfg          domain.StrategyConfig
	period       int
	oversold     float64
	overbought   float64
	positionSize float64
	lastSignal   map[string]domain.OrderSide
	logger       *slog.Logger
}

// NewRSIMeanReversion creates the strategy with Wilder defaults (14, 30/70).
func NewRSIMeanReversion(logger *slog.Logger) *RSIMeanReversion {
	return &RSIMeanReversion{
		period:       defaultRSIPeriod,
		oversold:     defaultOversold,
		overbought:   defaultOverbought,
		positionSize: defaultPositionSize,
		lastSignal:   make(map[string]domain.OrderSide),
		logger:       logger.With(slog.String("strategy", "rsi_mean_reversion")),
	}
}

func (s *RSIMeanReversion) ID() string      { return "rsi_mean_reversion" }
func (s *RSIMeanReversion) Name() string    { return "RSI Mean Reversion" }
func (s *RSIMeanReversion) Version() string { return "1.0.0" }

func (s *RSIMeanReversion) Config() domain.StrategyConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Initialize reads period, oversold, overbought and position_size. The
// oversold threshold must sit below the overbought one.
func (s *RSIMeanReversion) Initialize(_ context.Context, cfg domain.StrategyConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.period = paramInt(cfg.Params, "period", defaultRSIPeriod)
	s.oversold = paramFloat(cfg.Params, "oversold", defaultOversold)
	s.overbought = paramFloat(cfg.Params, "overbought", defaultOverbought)
	s.positionSize = paramFloat(cfg.Params, "position_size", defaultPositionSize)
	if s.oversold >= s.overbought {
		return fmt.Errorf("rsi_mean_reversion: oversold %.1f must be below overbought %.1f", s.oversold, s.overbought)
	}
	s.cfg = cfg
	return nil
}

// GenerateSignals evaluates the latest RSI reading against the thresholds.
func (s *RSIMeanReversion) GenerateSignals(_ context.Context, symbol string, bars []domain.Bar) ([]domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(bars) <= s.period {
		return nil, nil
	}

	prices := make([]float64, len(bars))
	for i, b := range bars {
		prices[i] = b.Close
	}
	rsi := RSI(prices, s.period)
	current := rsi[len(rsi)-1]
	price := prices[len(prices)-1]

	var side domain.OrderSide
	var strength float64
	switch {
	case current <= s.oversold:
		side = domain.OrderSideBuy
		strength = (s.oversold - current) / s.oversold
	case current >= s.overbought:
		side = domain.OrderSideSell
		strength = (current - s.overbought) / (100 - s.overbought)
	default:
		// Back in the neutral band; arm both sides again.
		delete(s.lastSignal, symbol)
		return nil, nil
	}

	if s.lastSignal[symbol] == side {
		return nil, nil
	}
	s.lastSignal[symbol] = side
	strength = math.Min(strength, 1.0)

	sig := domain.Signal{
		SignalID:   uuid.NewString(),
		StrategyID: s.ID(),
		Symbol:     symbol,
		Side:       side,
		Strength:   strength,
		Price:      price,
		Reason:     fmt.Sprintf("RSI(%d)=%.1f %s threshold", s.period, current, side),
		Features: map[string]any{
			"rsi":        current,
			"oversold":   s.oversold,
			"overbought": s.overbought,
		},
		Timestamp: time.Now().UTC(),
	}

	s.logger.Info("rsi signal",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Float64("rsi", current),
		slog.Float64("strength", strength),
	)
	return []domain.Signal{sig}, nil
}

// SignalToIntent sizes a day limit order at the signal price. Mean reversion
// entries always trade at least one share.
func (s *RSIMeanReversion) SignalToIntent(sig domain.Signal) domain.OrderIntent {
	s.mu.Lock()
	size := s.positionSize
	s.mu.Unlock()

	qty := math.Max(1, math.Floor(size/sig.Price))
	return domain.OrderIntent{
		IntentID:    uuid.NewString(),
		StrategyID:  sig.StrategyID,
		SignalID:    sig.SignalID,
		Symbol:      sig.Symbol,
		Side:        sig.Side,
		Qty:         qty,
		OrderType:   domain.OrderTypeLimit,
		LimitPrice:  sig.Price,
		TimeInForce: domain.TimeInForceDay,
		SignalPrice: sig.Price,
		CreatedAt:   time.Now().UTC(),
	}
}

// Cleanup drops the per-symbol excursion memory.
func (s *RSIMeanReversion) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSignal = make(map[string]domain.OrderSide)
	return nil
}
