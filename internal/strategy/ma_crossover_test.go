package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/traderd/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func barsFromCloses(closes ...float64) []domain.Bar {
	ts := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Symbol: "AAPL", Close: c, Timestamp: ts.AddDate(0, 0, i)}
	}
	return bars
}

func newTestMACrossover(t *testing.T) *MACrossover {
	t.Helper()
	s := NewMACrossover(testLogger())
	require.NoError(t, s.Initialize(context.Background(), domain.StrategyConfig{
		Params: map[string]any{"short_period": 2, "long_period": 3, "position_size": 1000.0},
	}))
	return s
}

func TestMACrossoverBuySignal(t *testing.T) {
	s := newTestMACrossover(t)

	// Short MA crosses above the long between the last two bars.
	signals, err := s.GenerateSignals(context.Background(), "AAPL", barsFromCloses(10, 9, 8, 7, 12))
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, "ma_crossover", sig.StrategyID)
	assert.Equal(t, domain.OrderSideBuy, sig.Side)
	assert.InDelta(t, 12, sig.Price, 1e-9)
	assert.Greater(t, sig.Strength, 0.0)
	assert.LessOrEqual(t, sig.Strength, 1.0)
	assert.NotEmpty(t, sig.SignalID)
}

func TestMACrossoverSellSignal(t *testing.T) {
	s := newTestMACrossover(t)

	signals, err := s.GenerateSignals(context.Background(), "AAPL", barsFromCloses(7, 8, 9, 10, 5))
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.OrderSideSell, signals[0].Side)
}

func TestMACrossoverNoCross(t *testing.T) {
	s := newTestMACrossover(t)

	// Monotonic trend: the short MA stays above the long throughout.
	signals, err := s.GenerateSignals(context.Background(), "AAPL", barsFromCloses(7, 8, 9, 10, 11))
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestMACrossoverInsufficientBars(t *testing.T) {
	s := newTestMACrossover(t)

	signals, err := s.GenerateSignals(context.Background(), "AAPL", barsFromCloses(10, 9, 8))
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestMACrossoverDeduplicatesSameSide(t *testing.T) {
	s := newTestMACrossover(t)
	ctx := context.Background()
	buyCross := barsFromCloses(10, 9, 8, 7, 12)

	signals, err := s.GenerateSignals(ctx, "AAPL", buyCross)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	// Same cross on the next tick: suppressed.
	signals, err = s.GenerateSignals(ctx, "AAPL", buyCross)
	require.NoError(t, err)
	assert.Empty(t, signals)

	// The opposite cross re-arms the buy side.
	signals, err = s.GenerateSignals(ctx, "AAPL", barsFromCloses(7, 8, 9, 10, 5))
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.OrderSideSell, signals[0].Side)

	// Per-symbol memory: another symbol still signals.
	signals, err = s.GenerateSignals(ctx, "MSFT", buyCross)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestMACrossoverCleanupResetsMemory(t *testing.T) {
	s := newTestMACrossover(t)
	ctx := context.Background()
	buyCross := barsFromCloses(10, 9, 8, 7, 12)

	_, err := s.GenerateSignals(ctx, "AAPL", buyCross)
	require.NoError(t, err)
	require.NoError(t, s.Cleanup())

	signals, err := s.GenerateSignals(ctx, "AAPL", buyCross)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestMACrossoverInitializeRejectsInvertedPeriods(t *testing.T) {
	s := NewMACrossover(testLogger())
	err := s.Initialize(context.Background(), domain.StrategyConfig{
		Params: map[string]any{"short_period": 30, "long_period": 10},
	})
	require.Error(t, err)
}

func TestMACrossoverSignalToIntent(t *testing.T) {
	s := newTestMACrossover(t)

	sig := domain.Signal{
		SignalID:   "sig-1",
		StrategyID: "ma_crossover",
		Symbol:     "AAPL",
		Side:       domain.OrderSideBuy,
		Price:      50,
	}
	intent := s.SignalToIntent(sig)

	assert.Equal(t, "sig-1", intent.SignalID)
	assert.Equal(t, "ma_crossover", intent.StrategyID)
	assert.Equal(t, "AAPL", intent.Symbol)
	assert.Equal(t, domain.OrderSideBuy, intent.Side)
	assert.InDelta(t, 20, intent.Qty, 1e-9) // floor(1000 / 50)
	assert.Equal(t, domain.OrderTypeLimit, intent.OrderType)
	assert.InDelta(t, 50, intent.LimitPrice, 1e-9)
	assert.InDelta(t, 50, intent.SignalPrice, 1e-9)
	assert.Equal(t, domain.TimeInForceDay, intent.TimeInForce)
	assert.NotEmpty(t, intent.IntentID)
}
