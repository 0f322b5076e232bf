package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/traderd/internal/broker"
	"github.com/alanyoungcy/traderd/internal/domain"
)

// fakeStrategyStore implements domain.StrategyStore in memory, optionally
// failing every call.
type fakeStrategyStore struct {
	err error

	mu      sync.Mutex
	configs map[string]domain.StrategyConfig
}

func (s *fakeStrategyStore) Upsert(_ context.Context, cfg domain.StrategyConfig) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configs == nil {
		s.configs = make(map[string]domain.StrategyConfig)
	}
	s.configs[cfg.StrategyID] = cfg
	return nil
}

func (s *fakeStrategyStore) SetEnabled(_ context.Context, strategyID string, enabled bool) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.configs[strategyID]
	cfg.Enabled = enabled
	s.configs[strategyID] = cfg
	return nil
}

func (s *fakeStrategyStore) UpdateParams(_ context.Context, strategyID string, params map[string]any) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.configs[strategyID]
	cfg.Params = params
	s.configs[strategyID] = cfg
	return nil
}

func (s *fakeStrategyStore) List(context.Context) ([]domain.StrategyConfig, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StrategyConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	return out, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	store := &fakeStrategyStore{}
	reg := NewRegistry(store, testLogger())
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, NewMACrossover(testLogger()), domain.StrategyConfig{
		Enabled: true,
		Symbols: []string{"AAPL"},
	}))

	s, err := reg.Get("ma_crossover")
	require.NoError(t, err)
	assert.Equal(t, "ma_crossover", s.ID())

	_, err = reg.Get("nope")
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Register stamped identity onto the persisted config.
	stored := store.configs["ma_crossover"]
	assert.Equal(t, "Moving Average Crossover", stored.Name)
	assert.Equal(t, "1.0.0", stored.Version)
	assert.Equal(t, []string{"AAPL"}, stored.Symbols)
}

func TestRegistryRegisterRejectsBadParams(t *testing.T) {
	reg := NewRegistry(nil, testLogger())

	err := reg.Register(context.Background(), NewMACrossover(testLogger()), domain.StrategyConfig{
		Params: map[string]any{"short_period": 50, "long_period": 10},
	})
	require.Error(t, err)

	_, err = reg.Get("ma_crossover")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistrySurvivesFailingStore(t *testing.T) {
	store := &fakeStrategyStore{err: errors.New("pg down")}
	reg := NewRegistry(store, testLogger())
	ctx := context.Background()

	// Persistence failure never blocks registration or flag changes.
	require.NoError(t, reg.Register(ctx, NewMACrossover(testLogger()), domain.StrategyConfig{}))
	require.NoError(t, reg.SetEnabled(ctx, "ma_crossover", true))
	require.NoError(t, reg.UpdateParams(ctx, "ma_crossover", map[string]any{"short_period": 5.0}))

	cfgs := reg.List()
	require.Len(t, cfgs, 1)
	assert.True(t, cfgs[0].Enabled)
	assert.Equal(t, 5.0, cfgs[0].Params["short_period"])
}

func TestRegistryListSorted(t *testing.T) {
	reg := NewRegistry(nil, testLogger())
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, NewRSIMeanReversion(testLogger()), domain.StrategyConfig{}))
	require.NoError(t, reg.Register(ctx, NewMACrossover(testLogger()), domain.StrategyConfig{}))

	cfgs := reg.List()
	require.Len(t, cfgs, 2)
	assert.Equal(t, "ma_crossover", cfgs[0].StrategyID)
	assert.Equal(t, "rsi_mean_reversion", cfgs[1].StrategyID)
}

func TestRegistryEnabled(t *testing.T) {
	reg := NewRegistry(nil, testLogger())
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, NewMACrossover(testLogger()), domain.StrategyConfig{Enabled: true}))
	require.NoError(t, reg.Register(ctx, NewRSIMeanReversion(testLogger()), domain.StrategyConfig{}))

	enabled := reg.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "ma_crossover", enabled[0].ID())

	require.NoError(t, reg.SetEnabled(ctx, "ma_crossover", false))
	assert.Empty(t, reg.Enabled())

	require.ErrorIs(t, reg.SetEnabled(ctx, "nope", true), domain.ErrNotFound)
}

func TestRegistryUpdateParamsMergesAndRollsBack(t *testing.T) {
	reg := NewRegistry(nil, testLogger())
	ctx := context.Background()

	ma := NewMACrossover(testLogger())
	require.NoError(t, reg.Register(ctx, ma, domain.StrategyConfig{
		Params: map[string]any{"short_period": 5.0, "long_period": 20.0},
	}))

	require.NoError(t, reg.UpdateParams(ctx, "ma_crossover", map[string]any{"position_size": 2500.0}))

	cfgs := reg.List()
	require.Len(t, cfgs, 1)
	assert.Equal(t, 5.0, cfgs[0].Params["short_period"])
	assert.Equal(t, 2500.0, cfgs[0].Params["position_size"])

	// An invalid update is rejected and leaves the previous params active.
	err := reg.UpdateParams(ctx, "ma_crossover", map[string]any{"short_period": 99.0})
	require.Error(t, err)

	cfgs = reg.List()
	assert.Equal(t, 5.0, cfgs[0].Params["short_period"])
	assert.Equal(t, 2500.0, cfgs[0].Params["position_size"])
}

func TestRegistryLoadPersisted(t *testing.T) {
	store := &fakeStrategyStore{
		configs: map[string]domain.StrategyConfig{
			"ma_crossover": {
				StrategyID: "ma_crossover",
				Enabled:    true,
				Params:     map[string]any{"short_period": 3.0, "long_period": 9.0},
				Symbols:    []string{"MSFT"},
				UpdatedAt:  time.Now().UTC(),
			},
			"retired_strategy": {StrategyID: "retired_strategy"},
		},
	}
	reg := NewRegistry(store, testLogger())
	ctx := context.Background()

	ma := NewMACrossover(testLogger())
	require.NoError(t, reg.Register(ctx, ma, domain.StrategyConfig{}))
	require.NoError(t, reg.LoadPersisted(ctx))

	cfgs := reg.List()
	require.Len(t, cfgs, 1)
	assert.True(t, cfgs[0].Enabled)
	assert.Equal(t, []string{"MSFT"}, cfgs[0].Symbols)
	assert.Equal(t, 3.0, cfgs[0].Params["short_period"])
}

// runnerBroker stubs just enough of broker.Broker to serve bars.
type runnerBroker struct {
	broker.Broker
	bars map[string][]domain.Bar

	mu      sync.Mutex
	fetches []string
}

func (b *runnerBroker) GetBars(_ context.Context, symbol string, _ domain.BarParams) ([]domain.Bar, error) {
	b.mu.Lock()
	b.fetches = append(b.fetches, symbol)
	b.mu.Unlock()
	return b.bars[symbol], nil
}

type captureSubmitter struct {
	mu      sync.Mutex
	intents []domain.OrderIntent
}

func (c *captureSubmitter) SubmitOrder(_ context.Context, intent domain.OrderIntent, _ string) domain.OrderResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intents = append(c.intents, intent)
	return domain.OrderResult{Success: true, IntentID: intent.IntentID}
}

type captureSignalStore struct {
	mu      sync.Mutex
	signals []domain.Signal
}

func (s *captureSignalStore) Insert(_ context.Context, sig domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	return nil
}

func TestRunnerRunOnce(t *testing.T) {
	reg := NewRegistry(nil, testLogger())
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, NewRSIMeanReversion(testLogger()), domain.StrategyConfig{
		Enabled: true,
		Symbols: []string{"AAPL"},
		Params:  map[string]any{"period": 3.0},
	}))

	brk := &runnerBroker{bars: map[string][]domain.Bar{
		"AAPL": barsFromCloses(10, 9, 8, 7), // oversold
	}}
	submitter := &captureSubmitter{}
	signals := &captureSignalStore{}

	runner := NewRunner(reg, brk, signals, submitter, time.Minute, testLogger())
	runner.RunOnce(ctx)

	require.Len(t, signals.signals, 1)
	assert.Equal(t, domain.OrderSideBuy, signals.signals[0].Side)

	require.Len(t, submitter.intents, 1)
	intent := submitter.intents[0]
	assert.Equal(t, "AAPL", intent.Symbol)
	assert.Equal(t, "rsi_mean_reversion", intent.StrategyID)
	assert.InDelta(t, 7, intent.SignalPrice, 1e-9)

	// Second tick on the same data is idempotent: still oversold, no new
	// signal, but the bars are fetched again.
	runner.RunOnce(ctx)
	assert.Len(t, submitter.intents, 1)
	assert.Equal(t, []string{"AAPL", "AAPL"}, brk.fetches)
}

func TestRunnerSharesBarFetchAcrossStrategies(t *testing.T) {
	reg := NewRegistry(nil, testLogger())
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, NewMACrossover(testLogger()), domain.StrategyConfig{
		Enabled: true,
		Symbols: []string{"AAPL"},
	}))
	require.NoError(t, reg.Register(ctx, NewRSIMeanReversion(testLogger()), domain.StrategyConfig{
		Enabled: true,
		Symbols: []string{"AAPL"},
	}))

	brk := &runnerBroker{bars: map[string][]domain.Bar{}}
	runner := NewRunner(reg, brk, &captureSignalStore{}, &captureSubmitter{}, time.Minute, testLogger())
	runner.RunOnce(ctx)

	// One fetch serves both strategies.
	assert.Equal(t, []string{"AAPL"}, brk.fetches)
}
