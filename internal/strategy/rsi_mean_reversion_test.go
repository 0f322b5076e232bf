package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/traderd/internal/domain"
)

func newTestRSI(t *testing.T) *RSIMeanReversion {
	t.Helper()
	s := NewRSIMeanReversion(testLogger())
	require.NoError(t, s.Initialize(context.Background(), domain.StrategyConfig{
		Params: map[string]any{"period": 3, "oversold": 30.0, "overbought": 70.0, "position_size": 1000.0},
	}))
	return s
}

func TestRSIMeanReversionOversoldBuys(t *testing.T) {
	s := newTestRSI(t)

	// Straight decline: RSI reads zero.
	signals, err := s.GenerateSignals(context.Background(), "AAPL", barsFromCloses(10, 9, 8, 7))
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, "rsi_mean_reversion", sig.StrategyID)
	assert.Equal(t, domain.OrderSideBuy, sig.Side)
	assert.InDelta(t, 7, sig.Price, 1e-9)
	assert.InDelta(t, 1.0, sig.Strength, 1e-9)
}

func TestRSIMeanReversionOverboughtSells(t *testing.T) {
	s := newTestRSI(t)

	signals, err := s.GenerateSignals(context.Background(), "AAPL", barsFromCloses(7, 8, 9, 10))
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.OrderSideSell, signals[0].Side)
	assert.InDelta(t, 1.0, signals[0].Strength, 1e-9)
}

func TestRSIMeanReversionNeutralIsQuiet(t *testing.T) {
	s := newTestRSI(t)

	// Mixed series sits between the thresholds.
	signals, err := s.GenerateSignals(context.Background(), "AAPL", barsFromCloses(10, 11, 10, 11))
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestRSIMeanReversionOneSignalPerExcursion(t *testing.T) {
	s := newTestRSI(t)
	ctx := context.Background()
	oversold := barsFromCloses(10, 9, 8, 7)

	signals, err := s.GenerateSignals(ctx, "AAPL", oversold)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	// Still oversold on the next tick: quiet.
	signals, err = s.GenerateSignals(ctx, "AAPL", oversold)
	require.NoError(t, err)
	assert.Empty(t, signals)

	// A pass through the neutral band re-arms the side.
	_, err = s.GenerateSignals(ctx, "AAPL", barsFromCloses(10, 11, 10, 11))
	require.NoError(t, err)

	signals, err = s.GenerateSignals(ctx, "AAPL", oversold)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestRSIMeanReversionInsufficientBars(t *testing.T) {
	s := newTestRSI(t)

	signals, err := s.GenerateSignals(context.Background(), "AAPL", barsFromCloses(10, 9, 8))
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestRSIMeanReversionInitializeRejectsInvertedThresholds(t *testing.T) {
	s := NewRSIMeanReversion(testLogger())
	err := s.Initialize(context.Background(), domain.StrategyConfig{
		Params: map[string]any{"oversold": 70.0, "overbought": 30.0},
	})
	require.Error(t, err)
}

func TestRSIMeanReversionSignalToIntentMinimumQty(t *testing.T) {
	s := newTestRSI(t)

	intent := s.SignalToIntent(domain.Signal{
		SignalID:   "sig-1",
		StrategyID: "rsi_mean_reversion",
		Symbol:     "BRK", // pretend it trades above the notional
		Side:       domain.OrderSideBuy,
		Price:      5000,
	})

	// floor(1000/5000) is zero; mean reversion still trades one share.
	assert.InDelta(t, 1, intent.Qty, 1e-9)
	assert.Equal(t, domain.OrderTypeLimit, intent.OrderType)
	assert.InDelta(t, 5000, intent.LimitPrice, 1e-9)
	assert.Equal(t, domain.TimeInForceDay, intent.TimeInForce)
}
