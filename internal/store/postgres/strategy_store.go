package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// StrategyStore implements domain.StrategyStore using PostgreSQL.
type StrategyStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStore creates a new StrategyStore backed by the given connection pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

// Upsert inserts or updates one strategy configuration. Params are stored as JSONB.
func (s *StrategyStore) Upsert(ctx context.Context, cfg domain.StrategyConfig) error {
	paramsJSON, err := json.Marshal(cfg.Params)
	if err != nil {
		return fmt.Errorf("postgres: marshal strategy params %s: %w", cfg.StrategyID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO trd_strategy (strategy_id, name, version, enabled, params, symbols, schedule, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (strategy_id) DO UPDATE SET
			name       = EXCLUDED.name,
			version    = EXCLUDED.version,
			enabled    = EXCLUDED.enabled,
			params     = EXCLUDED.params,
			symbols    = EXCLUDED.symbols,
			schedule   = EXCLUDED.schedule,
			updated_at = NOW()`,
		cfg.StrategyID, cfg.Name, cfg.Version, cfg.Enabled,
		paramsJSON, cfg.Symbols, nullStr(cfg.Schedule),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert strategy %s: %w", cfg.StrategyID, err)
	}
	return nil
}

// SetEnabled flips one strategy's enabled flag.
func (s *StrategyStore) SetEnabled(ctx context.Context, strategyID string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trd_strategy SET enabled = $1, updated_at = NOW() WHERE strategy_id = $2`,
		enabled, strategyID,
	)
	if err != nil {
		return fmt.Errorf("postgres: set strategy enabled %s: %w", strategyID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateParams replaces one strategy's parameter bag.
func (s *StrategyStore) UpdateParams(ctx context.Context, strategyID string, params map[string]any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("postgres: marshal strategy params %s: %w", strategyID, err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE trd_strategy SET params = $1, updated_at = NOW() WHERE strategy_id = $2`,
		paramsJSON, strategyID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update strategy params %s: %w", strategyID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns all strategy configurations ordered by ID.
func (s *StrategyStore) List(ctx context.Context) ([]domain.StrategyConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT strategy_id, name, version, enabled, params, symbols, schedule, updated_at
		  FROM trd_strategy
		 ORDER BY strategy_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategies: %w", err)
	}
	defer rows.Close()

	var configs []domain.StrategyConfig
	for rows.Next() {
		var cfg domain.StrategyConfig
		var paramsJSON []byte
		var schedule *string

		if err := rows.Scan(&cfg.StrategyID, &cfg.Name, &cfg.Version, &cfg.Enabled,
			&paramsJSON, &cfg.Symbols, &schedule, &cfg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan strategy: %w", err)
		}
		if paramsJSON != nil {
			if err := json.Unmarshal(paramsJSON, &cfg.Params); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal strategy params: %w", err)
			}
		}
		if schedule != nil {
			cfg.Schedule = *schedule
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list strategies rows: %w", err)
	}
	return configs, nil
}

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// Insert appends one generated signal.
func (s *SignalStore) Insert(ctx context.Context, sig domain.Signal) error {
	featuresJSON, err := json.Marshal(sig.Features)
	if err != nil {
		return fmt.Errorf("postgres: marshal signal features: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO trd_signal (signal_id, strategy_id, symbol, side, strength, price, reason, features, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sig.SignalID, sig.StrategyID, sig.Symbol, string(sig.Side),
		sig.Strength, sig.Price, nullStr(sig.Reason), featuresJSON, sig.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert signal %s: %w", sig.SignalID, err)
	}
	return nil
}
