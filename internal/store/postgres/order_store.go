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

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// RecordSubmission persists an intent, its accepted order, and one audit entry
// inside a single transaction. The broker has already accepted the order at
// this point; a failure here loses audit completeness, not the trade.
func (s *OrderStore) RecordSubmission(ctx context.Context, intent domain.OrderIntent, order domain.Order, auditDiff map[string]any) error {
	diffJSON, err := json.Marshal(auditDiff)
	if err != nil {
		return fmt.Errorf("postgres: marshal submission audit diff: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin submission tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertIntent = `
		INSERT INTO trd_order_intent (
			intent_id, strategy_id, signal_id, symbol, side, qty,
			order_type, limit_price, stop_price, time_in_force, signal_price, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = tx.Exec(ctx, insertIntent,
		intent.IntentID, nullStr(intent.StrategyID), nullStr(intent.SignalID),
		intent.Symbol, string(intent.Side), intent.Qty,
		string(intent.OrderType), nullFloat(intent.LimitPrice), nullFloat(intent.StopPrice),
		string(intent.TimeInForce), nullFloat(intent.SignalPrice), intent.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert intent %s: %w", intent.IntentID, err)
	}

	const insertOrder = `
		INSERT INTO trd_order (
			order_id, intent_id, broker_order_id, symbol, side, qty,
			status, submitted_at, last_update_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`

	_, err = tx.Exec(ctx, insertOrder,
		order.OrderID, order.IntentID, order.BrokerOrderID,
		order.Symbol, string(order.Side), order.Qty,
		string(order.Status), order.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert order %s: %w", order.OrderID, err)
	}

	const insertAudit = `
		INSERT INTO trd_audit_log (actor, action, resource, diff)
		VALUES ($1, 'order.submit', $2, $3)`

	actor, _ := auditDiff["actor"].(string)
	if actor == "" {
		actor = "system"
	}
	if _, err := tx.Exec(ctx, insertAudit, actor, "order/"+order.OrderID, diffJSON); err != nil {
		return fmt.Errorf("postgres: insert submission audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit submission tx: %w", err)
	}
	return nil
}

// MarkCancelled sets the local status to cancelled and appends an audit entry
// in one transaction. Callers must hold a broker-confirmed cancel.
func (s *OrderStore) MarkCancelled(ctx context.Context, brokerOrderID, actor string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin cancel tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var orderID string
	err = tx.QueryRow(ctx, `
		UPDATE trd_order
		   SET status = 'cancelled', last_update_at = NOW()
		 WHERE broker_order_id = $1
		 RETURNING order_id`, brokerOrderID,
	).Scan(&orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: mark order cancelled %s: %w", brokerOrderID, err)
	}

	diffJSON, err := json.Marshal(map[string]any{"brokerOrderId": brokerOrderID, "status": "cancelled"})
	if err != nil {
		return fmt.Errorf("postgres: marshal cancel audit diff: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO trd_audit_log (actor, action, resource, diff)
		VALUES ($1, 'order.cancel', $2, $3)`,
		actor, "order/"+orderID, diffJSON,
	); err != nil {
		return fmt.Errorf("postgres: insert cancel audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit cancel tx: %w", err)
	}
	return nil
}

const orderSelectCols = `order_id, intent_id, broker_order_id, symbol, side, qty,
	status, submitted_at, last_update_at`

func scanOrderFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var side, status string

	err := scanner.Scan(
		&o.OrderID, &o.IntentID, &o.BrokerOrderID, &o.Symbol,
		&side, &o.Qty, &status, &o.SubmittedAt, &o.LastUpdateAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByBrokerID retrieves a single order by its broker order ID.
func (s *OrderStore) GetByBrokerID(ctx context.Context, brokerOrderID string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM trd_order WHERE broker_order_id = $1`, brokerOrderID)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", brokerOrderID, err)
	}
	return o, nil
}

// ListOpen returns all orders whose status is not yet terminal, oldest first.
func (s *OrderStore) ListOpen(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM trd_order
		 WHERE status NOT IN ('filled', 'cancelled', 'rejected', 'expired')
		 ORDER BY submitted_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open orders: %w", err)
	}
	return orders, nil
}

// List returns orders newest first with pagination.
func (s *OrderStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM trd_order ORDER BY submitted_at DESC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders: %w", err)
	}
	return orders, nil
}

// nullStr maps the empty string onto SQL NULL.
func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullFloat maps zero onto SQL NULL. Optional prices use zero as "unset".
func nullFloat(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}
