package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// Registry holds the registered strategies and their persisted configs. The
// database is the configuration of record; when it is unreachable the
// registry keeps serving from its in-memory copy and logs the divergence.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	configs    map[string]domain.StrategyConfig
	store      domain.StrategyStore // optional
	logger     *slog.Logger
}

// NewRegistry returns an empty registry. store may be nil; configuration is
// then memory-only.
func NewRegistry(store domain.StrategyStore, logger *slog.Logger) *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		configs:    make(map[string]domain.StrategyConfig),
		store:      store,
		logger:     logger.With(slog.String("component", "strategy_registry")),
	}
}

// Register adds a strategy under its ID, initializes it with cfg, and
// persists the config. A persistence failure does not unregister the
// strategy.
func (r *Registry) Register(ctx context.Context, s Strategy, cfg domain.StrategyConfig) error {
	cfg.StrategyID = s.ID()
	cfg.Name = s.Name()
	cfg.Version = s.Version()
	cfg.UpdatedAt = time.Now().UTC()

	if err := s.Initialize(ctx, cfg); err != nil {
		return fmt.Errorf("registry: initialize %s: %w", s.ID(), err)
	}

	r.mu.Lock()
	r.strategies[s.ID()] = s
	r.configs[s.ID()] = cfg
	r.mu.Unlock()

	r.persist(ctx, cfg)
	return nil
}

// Get returns the strategy registered under id.
func (r *Registry) Get(id string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	if !ok {
		return nil, fmt.Errorf("registry: strategy %q: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

// List returns the configs of all registered strategies, sorted by ID.
func (r *Registry) List() []domain.StrategyConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.StrategyConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out
}

// Enabled returns the registered strategies currently flagged enabled.
func (r *Registry) Enabled() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.configs))
	for id, cfg := range r.configs {
		if cfg.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]Strategy, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.strategies[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// SetEnabled flips a strategy's enabled flag in memory and in the store.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	cfg, ok := r.configs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: strategy %q: %w", id, domain.ErrNotFound)
	}
	cfg.Enabled = enabled
	cfg.UpdatedAt = time.Now().UTC()
	r.configs[id] = cfg
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SetEnabled(ctx, id, enabled); err != nil {
			r.logger.WarnContext(ctx, "strategy enable flag not persisted",
				slog.String("strategy", id), slog.Any("error", err))
		}
	}
	return nil
}

// UpdateParams re-initializes the strategy with the merged parameter bag and
// persists it. A failing Initialize rolls the in-memory config back.
func (r *Registry) UpdateParams(ctx context.Context, id string, params map[string]any) error {
	r.mu.Lock()
	s, ok := r.strategies[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: strategy %q: %w", id, domain.ErrNotFound)
	}
	cfg := r.configs[id]
	r.mu.Unlock()

	next := cfg
	next.Params = make(map[string]any, len(cfg.Params)+len(params))
	for k, v := range cfg.Params {
		next.Params[k] = v
	}
	for k, v := range params {
		next.Params[k] = v
	}
	next.UpdatedAt = time.Now().UTC()

	if err := s.Initialize(ctx, next); err != nil {
		if rbErr := s.Initialize(ctx, cfg); rbErr != nil {
			r.logger.ErrorContext(ctx, "strategy param rollback failed",
				slog.String("strategy", id), slog.Any("error", rbErr))
		}
		return fmt.Errorf("registry: update params %s: %w", id, err)
	}

	r.mu.Lock()
	r.configs[id] = next
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpdateParams(ctx, id, next.Params); err != nil {
			r.logger.WarnContext(ctx, "strategy params not persisted",
				slog.String("strategy", id), slog.Any("error", err))
		}
	}
	return nil
}

// LoadPersisted overlays stored configs onto registered strategies. Stored
// rows for unregistered IDs are skipped.
func (r *Registry) LoadPersisted(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	stored, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("registry: load persisted: %w", err)
	}

	for _, cfg := range stored {
		r.mu.RLock()
		s, ok := r.strategies[cfg.StrategyID]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		if err := s.Initialize(ctx, cfg); err != nil {
			r.logger.WarnContext(ctx, "persisted strategy config rejected",
				slog.String("strategy", cfg.StrategyID), slog.Any("error", err))
			continue
		}
		r.mu.Lock()
		r.configs[cfg.StrategyID] = cfg
		r.mu.Unlock()
	}
	return nil
}

func (r *Registry) persist(ctx context.Context, cfg domain.StrategyConfig) {
	if r.store == nil {
		return
	}
	if err := r.store.Upsert(ctx, cfg); err != nil {
		r.logger.WarnContext(ctx, "strategy config not persisted, serving from memory",
			slog.String("strategy", cfg.StrategyID), slog.Any("error", err))
	}
}
