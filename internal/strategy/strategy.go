package strategy

import (
	"context"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// Strategy is the contract every trading strategy implements. Strategies are
// pure signal generators: they never touch the broker or the order router
// directly. The runner feeds them bars and forwards their intents downstream.
type Strategy interface {
	ID() string
	Name() string
	Version() string
	Config() domain.StrategyConfig

	// Initialize applies persisted parameters before the first run.
	Initialize(ctx context.Context, cfg domain.StrategyConfig) error

	// GenerateSignals inspects the bar history for one symbol and emits zero
	// or more signals. Bars are ordered oldest first.
	GenerateSignals(ctx context.Context, symbol string, bars []domain.Bar) ([]domain.Signal, error)

	// SignalToIntent converts one signal into exactly one order intent.
	SignalToIntent(signal domain.Signal) domain.OrderIntent

	Cleanup() error
}

// paramFloat reads a float parameter from a config bag, tolerating the
// json-decoded number types, and falls back to def when absent or malformed.
func paramFloat(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}

// paramInt reads an integer parameter the same way.
func paramInt(params map[string]any, key string, def int) int {
	v := paramFloat(params, key, float64(def))
	if v <= 0 {
		return def
	}
	return int(v)
}
