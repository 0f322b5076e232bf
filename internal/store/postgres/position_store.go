package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Snapshots
// are append-only rows; the current position per symbol is the latest row.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const snapshotSelectCols = `symbol, qty, avg_price, market_price, unrealized_pnl, ts`

func scanSnapshot(scanner interface{ Scan(dest ...any) error }) (domain.PositionSnapshot, error) {
	var s domain.PositionSnapshot
	err := scanner.Scan(&s.Symbol, &s.Qty, &s.AvgPrice, &s.MarketPrice, &s.UnrealizedPnL, &s.Ts)
	return s, err
}

// Latest returns the most recent snapshot for one symbol.
func (s *PositionStore) Latest(ctx context.Context, symbol string) (domain.PositionSnapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+snapshotSelectCols+` FROM trd_position_snapshot
		 WHERE symbol = $1
		 ORDER BY ts DESC, id DESC
		 LIMIT 1`, symbol)

	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PositionSnapshot{}, domain.ErrNotFound
		}
		return domain.PositionSnapshot{}, fmt.Errorf("postgres: latest position %s: %w", symbol, err)
	}
	return snap, nil
}

// LatestAll returns the most recent snapshot per symbol.
func (s *PositionStore) LatestAll(ctx context.Context) ([]domain.PositionSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (symbol) `+snapshotSelectCols+`
		  FROM trd_position_snapshot
		 ORDER BY symbol, ts DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest positions: %w", err)
	}
	defer rows.Close()

	var snaps []domain.PositionSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: latest positions rows: %w", err)
	}
	return snaps, nil
}

// History returns snapshots for one symbol, newest first.
func (s *PositionStore) History(ctx context.Context, symbol string, limit int) ([]domain.PositionSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+snapshotSelectCols+` FROM trd_position_snapshot
		 WHERE symbol = $1
		 ORDER BY ts DESC, id DESC
		 LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: position history %s: %w", symbol, err)
	}
	defer rows.Close()

	var snaps []domain.PositionSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position history: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: position history rows: %w", err)
	}
	return snaps, nil
}

// Append inserts a new snapshot row.
func (s *PositionStore) Append(ctx context.Context, snap domain.PositionSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trd_position_snapshot (symbol, qty, avg_price, market_price, unrealized_pnl, ts)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.Symbol, snap.Qty, snap.AvgPrice, snap.MarketPrice, snap.UnrealizedPnL, snap.Ts,
	)
	if err != nil {
		return fmt.Errorf("postgres: append position snapshot %s: %w", snap.Symbol, err)
	}
	return nil
}
