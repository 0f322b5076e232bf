package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// RiskStore implements domain.RiskStore using PostgreSQL.
type RiskStore struct {
	pool *pgxpool.Pool
}

// NewRiskStore creates a new RiskStore backed by the given connection pool.
func NewRiskStore(pool *pgxpool.Pool) *RiskStore {
	return &RiskStore{pool: pool}
}

// Limits returns the stored limit rows merged over the given defaults.
// Unknown limit names are ignored; missing rows keep the default value.
func (s *RiskStore) Limits(ctx context.Context, defaults domain.RiskLimits) (domain.RiskLimits, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, value FROM trd_risk_limit`)
	if err != nil {
		return defaults, fmt.Errorf("postgres: read risk limits: %w", err)
	}
	defer rows.Close()

	limits := defaults
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return defaults, fmt.Errorf("postgres: scan risk limit: %w", err)
		}
		switch name {
		case "max_daily_loss":
			limits.MaxDailyLoss = value
		case "max_position_usd":
			limits.MaxPositionUsd = value
		case "max_gross_exposure_usd":
			limits.MaxGrossExposureUsd = value
		case "max_trades_per_day":
			limits.MaxTradesPerDay = int(value)
		case "max_order_slippage_bps":
			limits.MaxOrderSlippageBps = value
		}
	}
	if err := rows.Err(); err != nil {
		return defaults, fmt.Errorf("postgres: read risk limits rows: %w", err)
	}
	return limits, nil
}

// UpdateLimit upserts one named limit value.
func (s *RiskStore) UpdateLimit(ctx context.Context, name string, value float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trd_risk_limit (name, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		name, value,
	)
	if err != nil {
		return fmt.Errorf("postgres: update risk limit %s: %w", name, err)
	}
	return nil
}

// LogCheck appends one risk check row with the limits snapshot.
func (s *RiskStore) LogCheck(ctx context.Context, intentID string, res domain.RiskCheckResult) error {
	limitsJSON, err := json.Marshal(res.LimitsSnapshot)
	if err != nil {
		return fmt.Errorf("postgres: marshal limits snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO trd_risk_check (intent_id, passed, fail_reason, checks_passed, checks_failed, limits)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		intentID, res.Passed, nullStr(res.FailReason),
		res.ChecksPassed, res.ChecksFailed, limitsJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: log risk check %s: %w", intentID, err)
	}
	return nil
}

// WhitelistEntry looks up one symbol's whitelist row.
func (s *RiskStore) WhitelistEntry(ctx context.Context, symbol string) (domain.WhitelistEntry, error) {
	var e domain.WhitelistEntry
	var reason *string

	err := s.pool.QueryRow(ctx,
		`SELECT symbol, enabled, reason FROM trd_symbol_whitelist WHERE symbol = $1`, symbol,
	).Scan(&e.Symbol, &e.Enabled, &reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WhitelistEntry{}, domain.ErrNotFound
		}
		return domain.WhitelistEntry{}, fmt.Errorf("postgres: whitelist lookup %s: %w", symbol, err)
	}
	if reason != nil {
		e.Reason = *reason
	}
	return e, nil
}

// LastModeSwitch returns the most recent trading-mode transition.
func (s *RiskStore) LastModeSwitch(ctx context.Context) (domain.ModeSwitch, error) {
	var sw domain.ModeSwitch
	var from, to string

	err := s.pool.QueryRow(ctx, `
		SELECT from_mode, to_mode, actor, switched_at
		  FROM trd_mode_switch
		 ORDER BY switched_at DESC, id DESC
		 LIMIT 1`,
	).Scan(&from, &to, &sw.Actor, &sw.SwitchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ModeSwitch{}, domain.ErrNotFound
		}
		return domain.ModeSwitch{}, fmt.Errorf("postgres: last mode switch: %w", err)
	}

	sw.FromMode = domain.TradingMode(from)
	sw.ToMode = domain.TradingMode(to)
	return sw, nil
}

// RecordModeSwitch appends one mode transition row.
func (s *RiskStore) RecordModeSwitch(ctx context.Context, sw domain.ModeSwitch) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trd_mode_switch (from_mode, to_mode, actor, switched_at)
		VALUES ($1, $2, $3, $4)`,
		string(sw.FromMode), string(sw.ToMode), sw.Actor, sw.SwitchedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record mode switch: %w", err)
	}
	return nil
}

// TodayPnL aggregates today's realized P&L and fees from fills, unrealized
// P&L from the latest snapshot per symbol, and the trade count from orders
// submitted today. Absent data yields a zero-valued aggregate.
func (s *RiskStore) TodayPnL(ctx context.Context) (domain.DailyPnL, error) {
	var pnl domain.DailyPnL
	pnl.Date = time.Now().UTC().Format("2006-01-02")

	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT SUM(realized_pnl) FROM trd_fill WHERE fill_ts::date = CURRENT_DATE), 0),
			COALESCE((SELECT SUM(fee) FROM trd_fill WHERE fill_ts::date = CURRENT_DATE), 0),
			COALESCE((SELECT SUM(unrealized_pnl) FROM (
				SELECT DISTINCT ON (symbol) unrealized_pnl
				  FROM trd_position_snapshot
				 ORDER BY symbol, ts DESC, id DESC
			) latest), 0),
			(SELECT COUNT(*) FROM trd_order WHERE submitted_at::date = CURRENT_DATE)`,
	).Scan(&pnl.RealizedPnL, &pnl.Fees, &pnl.UnrealizedPnL, &pnl.TradeCount)
	if err != nil {
		return domain.DailyPnL{}, fmt.Errorf("postgres: today pnl: %w", err)
	}

	pnl.NetPnL = pnl.RealizedPnL + pnl.UnrealizedPnL - pnl.Fees
	return pnl, nil
}

// RollupToday upserts the current aggregate into trd_pnl_day. The breach
// monitor calls this so the daily table stays current for reporting.
func (s *RiskStore) RollupToday(ctx context.Context) error {
	pnl, err := s.TodayPnL(ctx)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO trd_pnl_day (day, realized_pnl, unrealized_pnl, fees, net_pnl, trade_count, updated_at)
		VALUES (CURRENT_DATE, $1, $2, $3, $4, $5, NOW())
		ON CONFLICT (day) DO UPDATE SET
			realized_pnl   = EXCLUDED.realized_pnl,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			fees           = EXCLUDED.fees,
			net_pnl        = EXCLUDED.net_pnl,
			trade_count    = EXCLUDED.trade_count,
			updated_at     = NOW()`,
		pnl.RealizedPnL, pnl.UnrealizedPnL, pnl.Fees, pnl.NetPnL, pnl.TradeCount,
	)
	if err != nil {
		return fmt.Errorf("postgres: rollup pnl day: %w", err)
	}
	return nil
}

// ListBreaches returns recent failed risk checks, newest first.
func (s *RiskStore) ListBreaches(ctx context.Context, limit int) ([]domain.RiskBreach, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT intent_id, fail_reason, limits, ts
		  FROM trd_risk_check
		 WHERE NOT passed
		 ORDER BY ts DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list breaches: %w", err)
	}
	defer rows.Close()

	var breaches []domain.RiskBreach
	for rows.Next() {
		var b domain.RiskBreach
		var reason *string
		var limitsJSON []byte

		if err := rows.Scan(&b.IntentID, &reason, &limitsJSON, &b.Ts); err != nil {
			return nil, fmt.Errorf("postgres: scan breach: %w", err)
		}
		if reason != nil {
			b.FailReason = *reason
		}
		if limitsJSON != nil {
			if err := json.Unmarshal(limitsJSON, &b.Limits); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal breach limits: %w", err)
			}
		}
		breaches = append(breaches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list breaches rows: %w", err)
	}
	return breaches, nil
}
