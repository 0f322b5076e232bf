package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/traderd/internal/broker"
	"github.com/alanyoungcy/traderd/internal/domain"
)

// reconcileTolerance absorbs floating-point noise when comparing internal
// quantities against the broker's.
const reconcileTolerance = 1e-6

// PositionManager serves position reads, exposure and portfolio aggregates,
// and the reconcile/sync recovery paths.
type PositionManager struct {
	positions domain.PositionStore
	broker    broker.Broker // optional
	quotes    domain.QuoteCache
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewPositionManager creates a PositionManager. brk may be nil; reconcile,
// sync, and portfolio value then return ErrNoBroker.
func NewPositionManager(
	positions domain.PositionStore,
	brk broker.Broker,
	quotes domain.QuoteCache,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PositionManager {
	return &PositionManager{
		positions: positions,
		broker:    brk,
		quotes:    quotes,
		audit:     audit,
		logger:    logger.With(slog.String("component", "position_manager")),
	}
}

// Current returns the derived position view for every symbol with a snapshot.
func (m *PositionManager) Current(ctx context.Context) ([]domain.Position, error) {
	snaps, err := m.positions.LatestAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_manager: latest positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(snaps))
	for _, snap := range snaps {
		positions = append(positions, domain.PositionFromSnapshot(snap))
	}
	return positions, nil
}

// Get returns one symbol's derived position view.
func (m *PositionManager) Get(ctx context.Context, symbol string) (domain.Position, error) {
	snap, err := m.positions.Latest(ctx, symbol)
	if err != nil {
		return domain.Position{}, err
	}
	return domain.PositionFromSnapshot(snap), nil
}

// History returns one symbol's snapshot time series, newest first.
func (m *PositionManager) History(ctx context.Context, symbol string, limit int) ([]domain.PositionSnapshot, error) {
	return m.positions.History(ctx, symbol, limit)
}

// Exposure aggregates current snapshots into gross/net/long/short values.
func (m *PositionManager) Exposure(ctx context.Context) (domain.Exposure, error) {
	snaps, err := m.positions.LatestAll(ctx)
	if err != nil {
		return domain.Exposure{}, fmt.Errorf("position_manager: latest positions: %w", err)
	}

	var exp domain.Exposure
	for _, snap := range snaps {
		value := snap.Qty * snap.MarketPrice
		exp.Net += value
		exp.Gross += math.Abs(value)
		if value > 0 {
			exp.Long += value
		} else {
			exp.Short += math.Abs(value)
		}
	}
	return exp, nil
}

// PortfolioValue combines snapshot market values with the broker's cash.
func (m *PositionManager) PortfolioValue(ctx context.Context) (domain.PortfolioValue, error) {
	if m.broker == nil {
		return domain.PortfolioValue{}, domain.ErrNoBroker
	}

	account, err := m.broker.GetAccount(ctx)
	if err != nil {
		return domain.PortfolioValue{}, fmt.Errorf("position_manager: broker account: %w", err)
	}

	snaps, err := m.positions.LatestAll(ctx)
	if err != nil {
		return domain.PortfolioValue{}, fmt.Errorf("position_manager: latest positions: %w", err)
	}

	pv := domain.PortfolioValue{Cash: account.Cash}
	for _, snap := range snaps {
		value := snap.Qty * snap.MarketPrice
		if value > 0 {
			pv.LongValue += value
		} else {
			pv.ShortValue += math.Abs(value)
		}
		pv.UnrealizedPnL += snap.UnrealizedPnL
	}
	pv.TotalValue = pv.Cash + pv.LongValue - pv.ShortValue
	return pv, nil
}

// Reconcile compares internal quantities against the broker's per symbol.
// Every symbol whose absolute difference exceeds the tolerance is reported
// with its signed difference.
func (m *PositionManager) Reconcile(ctx context.Context) (domain.ReconciliationReport, error) {
	if m.broker == nil {
		return domain.ReconciliationReport{}, domain.ErrNoBroker
	}

	brokerPositions, err := m.broker.GetPositions(ctx)
	if err != nil {
		return domain.ReconciliationReport{}, fmt.Errorf("position_manager: broker positions: %w", err)
	}

	snaps, err := m.positions.LatestAll(ctx)
	if err != nil {
		return domain.ReconciliationReport{}, fmt.Errorf("position_manager: latest positions: %w", err)
	}

	internal := make(map[string]float64, len(snaps))
	for _, snap := range snaps {
		internal[snap.Symbol] = snap.Qty
	}
	external := make(map[string]float64, len(brokerPositions))
	for _, bp := range brokerPositions {
		external[bp.Symbol] = bp.Qty
	}

	symbols := make(map[string]struct{}, len(internal)+len(external))
	for s := range internal {
		symbols[s] = struct{}{}
	}
	for s := range external {
		symbols[s] = struct{}{}
	}

	report := domain.ReconciliationReport{Matched: true, Total: len(symbols)}
	for symbol := range symbols {
		in := internal[symbol]
		ex := external[symbol]
		diff := in - ex
		if math.Abs(diff) > reconcileTolerance {
			report.Matched = false
			report.Mismatches = append(report.Mismatches, domain.ReconciliationEntry{
				Symbol:      symbol,
				InternalQty: in,
				BrokerQty:   ex,
				Difference:  diff,
			})
		} else {
			report.MatchCount++
		}
	}

	if !report.Matched {
		m.logger.WarnContext(ctx, "position reconciliation mismatch",
			slog.Int("mismatches", len(report.Mismatches)),
			slog.Int("total", report.Total),
		)
	}
	return report, nil
}

// SyncFromBroker writes a fresh snapshot per symbol straight from broker
// positions and quotes, bypassing the fill path. Used for recovery after an
// outage or at startup. Symbols held internally but flat at the broker are
// zeroed out.
func (m *PositionManager) SyncFromBroker(ctx context.Context, actor string) (int, error) {
	if m.broker == nil {
		return 0, domain.ErrNoBroker
	}

	brokerPositions, err := m.broker.GetPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("position_manager: broker positions: %w", err)
	}

	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(brokerPositions))
	synced := 0

	for _, bp := range brokerPositions {
		seen[bp.Symbol] = struct{}{}

		marketPrice := bp.CurrentPrice
		if marketPrice <= 0 {
			marketPrice = m.quotePrice(ctx, bp.Symbol)
		}

		snap := domain.PositionSnapshot{
			Symbol:        bp.Symbol,
			Qty:           bp.Qty,
			AvgPrice:      bp.AvgEntryPrice,
			MarketPrice:   marketPrice,
			UnrealizedPnL: bp.Qty * (marketPrice - bp.AvgEntryPrice),
			Ts:            now,
		}
		if err := m.positions.Append(ctx, snap); err != nil {
			return synced, fmt.Errorf("position_manager: append snapshot %s: %w", bp.Symbol, err)
		}
		synced++
	}

	// Zero out anything we hold locally that the broker says is flat.
	snaps, err := m.positions.LatestAll(ctx)
	if err == nil {
		for _, snap := range snaps {
			if _, ok := seen[snap.Symbol]; ok {
				continue
			}
			if snap.Qty == 0 {
				continue
			}
			zero := domain.PositionSnapshot{
				Symbol:      snap.Symbol,
				MarketPrice: snap.MarketPrice,
				Ts:          now,
			}
			if err := m.positions.Append(ctx, zero); err != nil {
				return synced, fmt.Errorf("position_manager: zero snapshot %s: %w", snap.Symbol, err)
			}
			synced++
		}
	}

	if err := m.audit.Log(ctx, actor, "position.sync", "positions",
		map[string]any{"synced": synced},
	); err != nil {
		m.logger.WarnContext(ctx, "failed to audit position sync", slog.Any("error", err))
	}

	m.logger.InfoContext(ctx, "positions synced from broker",
		slog.Int("count", synced),
		slog.String("actor", actor),
	)
	return synced, nil
}

func (m *PositionManager) quotePrice(ctx context.Context, symbol string) float64 {
	if m.quotes != nil {
		if q, _, err := m.quotes.GetQuote(ctx, symbol); err == nil && q.Last > 0 {
			return q.Last
		}
	}
	q, err := m.broker.GetQuote(ctx, symbol)
	if err != nil {
		return 0
	}
	if m.quotes != nil {
		if err := m.quotes.SetQuote(ctx, symbol, q, time.Now()); err != nil {
			m.logger.DebugContext(ctx, "quote cache write failed", slog.Any("error", err))
		}
	}
	return q.Last
}

// IsFlat reports whether the symbol has no current position.
func (m *PositionManager) IsFlat(ctx context.Context, symbol string) (bool, error) {
	snap, err := m.positions.Latest(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return math.Abs(snap.Qty) <= reconcileTolerance, nil
}
