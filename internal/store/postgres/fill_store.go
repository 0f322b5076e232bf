package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// FillStore implements domain.FillLedger using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// ProcessWithLock opens a transaction, locks the order row, invokes fn with
// the order and the sum of locally recorded fill quantities, and applies the
// returned update atomically. Overlapping poll cycles for the same order
// serialize on the row lock, which keeps the cumulative-delta fill
// computation idempotent.
func (s *FillStore) ProcessWithLock(ctx context.Context, orderID string, fn func(ctx context.Context, order domain.Order, localFilledQty float64) (*domain.FillUpdate, error)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin fill tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM trd_order WHERE order_id = $1 FOR UPDATE`, orderID)
	order, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: lock order %s: %w", orderID, err)
	}

	var localQty float64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(qty), 0) FROM trd_fill WHERE order_id = $1`, orderID,
	).Scan(&localQty)
	if err != nil {
		return fmt.Errorf("postgres: sum fills for %s: %w", orderID, err)
	}

	update, err := fn(ctx, order, localQty)
	if err != nil {
		return err
	}
	if update == nil {
		return tx.Commit(ctx)
	}

	if update.Status != "" && update.Status != order.Status {
		if _, err := tx.Exec(ctx,
			`UPDATE trd_order SET status = $1, last_update_at = NOW() WHERE order_id = $2`,
			string(update.Status), orderID,
		); err != nil {
			return fmt.Errorf("postgres: update order status %s: %w", orderID, err)
		}
	}

	if update.Fill != nil {
		f := update.Fill

		// Realized P&L on a sell is measured against the average cost in
		// force before this fill, which is the latest stored snapshot.
		var realized float64
		if f.Side == domain.OrderSideSell {
			var prevAvg float64
			err := tx.QueryRow(ctx, `
				SELECT avg_price FROM trd_position_snapshot
				 WHERE symbol = $1
				 ORDER BY ts DESC, id DESC
				 LIMIT 1`, f.Symbol,
			).Scan(&prevAvg)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("postgres: read prior avg for %s: %w", f.Symbol, err)
			}
			realized = f.Qty * (f.Price - prevAvg)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO trd_fill (
				fill_id, order_id, broker_order_id, symbol, side,
				price, qty, fee, realized_pnl, fill_ts
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			f.FillID, f.OrderID, f.BrokerOrderID, f.Symbol, string(f.Side),
			f.Price, f.Qty, f.Fee, realized, f.FillTs,
		); err != nil {
			return fmt.Errorf("postgres: insert fill %s: %w", f.FillID, err)
		}
	}

	if update.Snapshot != nil {
		snap := update.Snapshot
		if _, err := tx.Exec(ctx, `
			INSERT INTO trd_position_snapshot (symbol, qty, avg_price, market_price, unrealized_pnl, ts)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			snap.Symbol, snap.Qty, snap.AvgPrice, snap.MarketPrice, snap.UnrealizedPnL, snap.Ts,
		); err != nil {
			return fmt.Errorf("postgres: insert position snapshot %s: %w", snap.Symbol, err)
		}
	}

	if update.AuditDiff != nil {
		diffJSON, err := json.Marshal(update.AuditDiff)
		if err != nil {
			return fmt.Errorf("postgres: marshal fill audit diff: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO trd_audit_log (actor, action, resource, diff)
			VALUES ('system', 'fill.record', $1, $2)`,
			"order/"+orderID, diffJSON,
		); err != nil {
			return fmt.Errorf("postgres: insert fill audit: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit fill tx: %w", err)
	}
	return nil
}

// ListByOrder returns all fills for an order, oldest first.
func (s *FillStore) ListByOrder(ctx context.Context, orderID string) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT fill_id, order_id, broker_order_id, symbol, side, price, qty, fee, fill_ts
		  FROM trd_fill
		 WHERE order_id = $1
		 ORDER BY fill_ts ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills for %s: %w", orderID, err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side string
		if err := rows.Scan(&f.FillID, &f.OrderID, &f.BrokerOrderID, &f.Symbol,
			&side, &f.Price, &f.Qty, &f.Fee, &f.FillTs); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.Side = domain.OrderSide(side)
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fills rows: %w", err)
	}
	return fills, nil
}
