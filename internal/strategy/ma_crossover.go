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
	defaultShortPeriod  = 10
	defaultLongPeriod   = 30
	defaultPositionSize = 1000.0
)

// MACrossover emits a buy when the short moving average crosses above the
// long one and a sell on the opposite cross. Crosses are detected on the
// previous completed bar so a half-formed candle never triggers.
type MACrossover struct {
	mu           sync.Mutex
	cfg          domain.StrategyConfig
	shortPeriod  int
	longPeriod   int
	positionSize float64
	lastSignal   map[string]domain.OrderSide
	logger       *slog.Logger
}

// NewMACrossover creates the strategy with defaults. Initialize overrides
// them from the persisted config.
func NewMACrossover(logger *slog.Logger) *MACrossover {
	return &MACrossover{
		shortPeriod:  defaultShortPeriod,
		longPeriod:   defaultLongPeriod,
		positionSize: defaultPositionSize,
		lastSignal:   make(map[string]domain.OrderSide),
		logger:       logger.With(slog.String("strategy", "ma_crossover")),
	}
}

func (s *MACrossover) ID() string      { return "ma_crossover" }
func (s *MACrossover) Name() string    { return "Moving Average Crossover" }
func (s *MACrossover) Version() string { return "1.0.0" }

func (s *MACrossover) Config() domain.StrategyConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Initialize reads short_period, long_period and position_size from the
// persisted parameter bag. A short period at or above the long one is
// rejected.
func (s *MACrossover) Initialize(_ context.Context, cfg domain.StrategyConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shortPeriod = paramInt(cfg.Params, "short_period", defaultShortPeriod)
	s.longPeriod = paramInt(cfg.Params, "long_period", defaultLongPeriod)
	s.positionSize = paramFloat(cfg.Params, "position_size", defaultPositionSize)
	if s.shortPeriod >= s.longPeriod {
		return fmt.Errorf("ma_crossover: short period %d must be below long period %d", s.shortPeriod, s.longPeriod)
	}
	s.cfg = cfg
	return nil
}

// GenerateSignals looks for a cross between the last two completed bars.
// Repeated signals on the same side are suppressed until the opposite cross.
func (s *MACrossover) GenerateSignals(_ context.Context, symbol string, bars []domain.Bar) ([]domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(bars) < s.longPeriod+1 {
		return nil, nil
	}

	prices := make([]float64, len(bars))
	for i, b := range bars {
		prices[i] = b.Close
	}
	short := SMA(prices, s.shortPeriod)
	long := SMA(prices, s.longPeriod)

	last := len(prices) - 1
	prev := last - 1
	if long[prev] == 0 {
		return nil, nil
	}

	var side domain.OrderSide
	switch {
	case short[prev] <= long[prev] && short[last] > long[last]:
		side = domain.OrderSideBuy
	case short[prev] >= long[prev] && short[last] < long[last]:
		side = domain.OrderSideSell
	default:
		return nil, nil
	}

	if s.lastSignal[symbol] == side {
		return nil, nil
	}
	s.lastSignal[symbol] = side

	price := prices[last]
	separationPct := math.Abs(short[last]-long[last]) / long[last] * 100
	strength := math.Min(separationPct/2, 1.0)

	sig := domain.Signal{
		SignalID:   uuid.NewString(),
		StrategyID: s.ID(),
		Symbol:     symbol,
		Side:       side,
		Strength:   strength,
		Price:      price,
		Reason: fmt.Sprintf("MA cross %s: short(%d)=%.2f long(%d)=%.2f",
			side, s.shortPeriod, short[last], s.longPeriod, long[last]),
		Features: map[string]any{
			"short_ma":       short[last],
			"long_ma":        long[last],
			"separation_pct": separationPct,
		},
		Timestamp: time.Now().UTC(),
	}

	s.logger.Info("crossover signal",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("strength", strength),
	)
	return []domain.Signal{sig}, nil
}

// SignalToIntent sizes a day limit order at the signal price from the
// configured notional.
func (s *MACrossover) SignalToIntent(sig domain.Signal) domain.OrderIntent {
	s.mu.Lock()
	size := s.positionSize
	s.mu.Unlock()

	qty := math.Floor(size / sig.Price)
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

// Cleanup drops the per-symbol cross memory.
func (s *MACrossover) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSignal = make(map[string]domain.OrderSide)
	return nil
}
