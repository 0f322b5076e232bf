// Package service implements the trading control plane: risk evaluation,
// kill switch, order routing, fill recording, and position management.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/alanyoungcy/traderd/internal/broker"
	"github.com/alanyoungcy/traderd/internal/domain"
)

// Risk check names, in evaluation order.
const (
	CheckModeLock      = "mode_lock"
	CheckPositionLimit = "position_limit"
	CheckGrossExposure = "gross_exposure"
	CheckDailyLoss     = "daily_loss"
	CheckTradeCount    = "trade_count"
	CheckAllowedSymbol = "allowed_symbol"
	CheckMarketHours   = "market_hours"
	CheckSlippage      = "slippage"
	CheckOrderType     = "order_type"
)

var symbolPattern = regexp.MustCompile(`^[A-Z]{1,5}$`)

// RiskEngineConfig holds the risk engine's static configuration.
type RiskEngineConfig struct {
	Defaults     domain.RiskLimits
	Mode         domain.TradingMode
	ModeCooldown time.Duration

	EnforceMarketHours bool
	Timezone           string
	MarketOpen         string // "09:30"
	MarketClose        string // "16:00"
}

// RiskEngine evaluates order intents against nine ordered checks with
// short-circuit semantics: the first failing check aborts evaluation and no
// later check runs. Checks that depend on pricing or whitelist data pass with
// Degraded=true when their source is unavailable; the safety checks proper
// have no such escape hatch.
type RiskEngine struct {
	store     domain.RiskStore
	positions domain.PositionStore
	quotes    domain.QuoteCache // optional
	broker    broker.Broker     // optional
	logger    *slog.Logger

	defaults     domain.RiskLimits
	modeCooldown time.Duration

	enforceHours bool
	loc          *time.Location
	openMin      int
	closeMin     int

	mu   sync.RWMutex
	mode domain.TradingMode

	// now is swappable for market-hours and cooldown tests.
	now func() time.Time
}

// NewRiskEngine creates a RiskEngine. quotes and brk may be nil; the
// pricing-dependent checks then degrade to pass when no price is available.
func NewRiskEngine(
	store domain.RiskStore,
	positions domain.PositionStore,
	quotes domain.QuoteCache,
	brk broker.Broker,
	cfg RiskEngineConfig,
	logger *slog.Logger,
) (*RiskEngine, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("risk_engine: load timezone %q: %w", cfg.Timezone, err)
	}

	openMin, err := parseClock(cfg.MarketOpen)
	if err != nil {
		return nil, fmt.Errorf("risk_engine: parse market open: %w", err)
	}
	closeMin, err := parseClock(cfg.MarketClose)
	if err != nil {
		return nil, fmt.Errorf("risk_engine: parse market close: %w", err)
	}

	mode := cfg.Mode
	if mode == "" {
		mode = domain.TradingModePaper
	}
	cooldown := cfg.ModeCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return &RiskEngine{
		store:        store,
		positions:    positions,
		quotes:       quotes,
		broker:       brk,
		logger:       logger.With(slog.String("component", "risk_engine")),
		defaults:     cfg.Defaults,
		modeCooldown: cooldown,
		enforceHours: cfg.EnforceMarketHours,
		loc:          loc,
		openMin:      openMin,
		closeMin:     closeMin,
		mode:         mode,
		now:          time.Now,
	}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Mode returns the current trading mode.
func (e *RiskEngine) Mode() domain.TradingMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// SetMode switches the trading mode and records the transition so the
// mode-lock cooldown applies to subsequent live orders.
func (e *RiskEngine) SetMode(ctx context.Context, mode domain.TradingMode, actor string) error {
	if mode != domain.TradingModePaper && mode != domain.TradingModeLive {
		return fmt.Errorf("risk_engine: invalid trading mode %q", mode)
	}

	e.mu.Lock()
	from := e.mode
	e.mode = mode
	e.mu.Unlock()

	if from == mode {
		return nil
	}

	sw := domain.ModeSwitch{FromMode: from, ToMode: mode, Actor: actor, SwitchedAt: e.now().UTC()}
	if err := e.store.RecordModeSwitch(ctx, sw); err != nil {
		e.logger.WarnContext(ctx, "failed to record mode switch", slog.Any("error", err))
	}

	e.logger.InfoContext(ctx, "trading mode switched",
		slog.String("from", string(from)),
		slog.String("to", string(mode)),
		slog.String("actor", actor),
	)
	return nil
}

// CheckIntent evaluates the intent against all nine checks in order. Every
// evaluation writes one risk check row; persistence failure is non-fatal.
func (e *RiskEngine) CheckIntent(ctx context.Context, intent domain.OrderIntent) domain.RiskCheckResult {
	limits, err := e.store.Limits(ctx, e.defaults)
	if err != nil {
		e.logger.WarnContext(ctx, "risk limits unreadable, using defaults", slog.Any("error", err))
		limits = e.defaults
	}

	result := domain.RiskCheckResult{
		Passed:         true,
		ChecksPassed:   []string{},
		ChecksFailed:   []string{},
		LimitsSnapshot: limits,
	}

	checks := []struct {
		name string
		fn   func(ctx context.Context, intent domain.OrderIntent, limits domain.RiskLimits) domain.CheckResult
	}{
		{CheckModeLock, e.checkModeLock},
		{CheckPositionLimit, e.checkPositionLimit},
		{CheckGrossExposure, e.checkGrossExposure},
		{CheckDailyLoss, e.checkDailyLoss},
		{CheckTradeCount, e.checkTradeCount},
		{CheckAllowedSymbol, e.checkAllowedSymbol},
		{CheckMarketHours, e.checkMarketHours},
		{CheckSlippage, e.checkSlippage},
		{CheckOrderType, e.checkOrderType},
	}

	for _, c := range checks {
		res := c.fn(ctx, intent, limits)
		res.Name = c.name
		if !res.Passed {
			result.Passed = false
			result.FailReason = res.FailReason
			result.ChecksFailed = append(result.ChecksFailed, c.name)
			e.logger.WarnContext(ctx, "risk check failed",
				slog.String("check", c.name),
				slog.String("intent_id", intent.IntentID),
				slog.String("symbol", intent.Symbol),
				slog.String("reason", res.FailReason),
			)
			break
		}
		if res.Degraded {
			e.logger.WarnContext(ctx, "risk check passed degraded",
				slog.String("check", c.name),
				slog.String("intent_id", intent.IntentID),
			)
		}
		result.ChecksPassed = append(result.ChecksPassed, c.name)
	}

	if err := e.store.LogCheck(ctx, intent.IntentID, result); err != nil {
		e.logger.WarnContext(ctx, "failed to persist risk check",
			slog.String("intent_id", intent.IntentID),
			slog.Any("error", err),
		)
	}

	return result
}

// checkModeLock rejects live orders within the cooldown window after a switch
// into live mode. Paper mode always passes; a missing switch history passes.
func (e *RiskEngine) checkModeLock(ctx context.Context, _ domain.OrderIntent, _ domain.RiskLimits) domain.CheckResult {
	if e.Mode() == domain.TradingModePaper {
		return domain.CheckResult{Passed: true}
	}

	sw, err := e.store.LastModeSwitch(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.CheckResult{Passed: true}
		}
		return domain.CheckResult{Passed: true, Degraded: true}
	}

	if sw.ToMode == domain.TradingModeLive {
		elapsed := e.now().Sub(sw.SwitchedAt)
		if elapsed < e.modeCooldown {
			return domain.CheckResult{
				Passed: false,
				FailReason: fmt.Sprintf("Mode lock engaged: live mode entered %.0fs ago, cooldown %.0fs",
					elapsed.Seconds(), e.modeCooldown.Seconds()),
			}
		}
	}
	return domain.CheckResult{Passed: true}
}

// checkPositionLimit projects the post-order position value and rejects when
// it would exceed maxPositionUsd. With no determinable price the check passes
// degraded; the broker's own limits are the last line of defense.
func (e *RiskEngine) checkPositionLimit(ctx context.Context, intent domain.OrderIntent, limits domain.RiskLimits) domain.CheckResult {
	price := e.resolvePrice(ctx, intent)
	if price <= 0 {
		return domain.CheckResult{Passed: true, Degraded: true}
	}

	currentQty := 0.0
	if snap, err := e.positions.Latest(ctx, intent.Symbol); err == nil {
		currentQty = snap.Qty
	}

	projectedQty := currentQty
	if intent.Side == domain.OrderSideBuy {
		projectedQty += intent.Qty
	} else {
		projectedQty -= intent.Qty
	}

	projectedValue := abs(projectedQty) * price
	if projectedValue > limits.MaxPositionUsd {
		return domain.CheckResult{
			Passed: false,
			FailReason: fmt.Sprintf("Position limit exceeded: projected %s value $%.2f > max $%.2f",
				intent.Symbol, projectedValue, limits.MaxPositionUsd),
		}
	}
	return domain.CheckResult{Passed: true}
}

// checkGrossExposure sums the projected symbol value with the absolute market
// value of every other symbol's current position.
func (e *RiskEngine) checkGrossExposure(ctx context.Context, intent domain.OrderIntent, limits domain.RiskLimits) domain.CheckResult {
	price := e.resolvePrice(ctx, intent)
	if price <= 0 {
		return domain.CheckResult{Passed: true, Degraded: true}
	}

	snaps, err := e.positions.LatestAll(ctx)
	if err != nil {
		return domain.CheckResult{Passed: true, Degraded: true}
	}

	currentQty := 0.0
	others := 0.0
	for _, snap := range snaps {
		if snap.Symbol == intent.Symbol {
			currentQty = snap.Qty
			continue
		}
		others += abs(snap.Qty * snap.MarketPrice)
	}

	projectedQty := currentQty
	if intent.Side == domain.OrderSideBuy {
		projectedQty += intent.Qty
	} else {
		projectedQty -= intent.Qty
	}

	projectedGross := others + abs(projectedQty)*price
	if projectedGross > limits.MaxGrossExposureUsd {
		return domain.CheckResult{
			Passed: false,
			FailReason: fmt.Sprintf("Gross exposure limit exceeded: projected $%.2f > max $%.2f",
				projectedGross, limits.MaxGrossExposureUsd),
		}
	}
	return domain.CheckResult{Passed: true}
}

// checkDailyLoss rejects when today's net P&L is at or below the negative
// loss limit. Unreadable P&L fails closed.
func (e *RiskEngine) checkDailyLoss(ctx context.Context, _ domain.OrderIntent, limits domain.RiskLimits) domain.CheckResult {
	pnl, err := e.store.TodayPnL(ctx)
	if err != nil {
		return domain.CheckResult{
			Passed:     false,
			FailReason: "Daily loss limit unverifiable: " + err.Error(),
		}
	}

	if pnl.NetPnL <= -limits.MaxDailyLoss {
		return domain.CheckResult{
			Passed: false,
			FailReason: fmt.Sprintf("Daily loss limit reached: net P&L $%.2f <= -$%.2f",
				pnl.NetPnL, limits.MaxDailyLoss),
		}
	}
	return domain.CheckResult{Passed: true}
}

// checkTradeCount rejects once today's trade count has reached the limit.
// Unreadable count fails closed.
func (e *RiskEngine) checkTradeCount(ctx context.Context, _ domain.OrderIntent, limits domain.RiskLimits) domain.CheckResult {
	pnl, err := e.store.TodayPnL(ctx)
	if err != nil {
		return domain.CheckResult{
			Passed:     false,
			FailReason: "Trade count limit unverifiable: " + err.Error(),
		}
	}

	if pnl.TradeCount >= limits.MaxTradesPerDay {
		return domain.CheckResult{
			Passed: false,
			FailReason: fmt.Sprintf("Trade count limit reached: %d/%d trades today",
				pnl.TradeCount, limits.MaxTradesPerDay),
		}
	}
	return domain.CheckResult{Passed: true}
}

// checkAllowedSymbol requires a syntactically valid symbol present and
// enabled in the whitelist. An unreadable whitelist degrades to pass for
// valid symbols; an absent or disabled row fails.
func (e *RiskEngine) checkAllowedSymbol(ctx context.Context, intent domain.OrderIntent, _ domain.RiskLimits) domain.CheckResult {
	if !symbolPattern.MatchString(intent.Symbol) {
		return domain.CheckResult{
			Passed:     false,
			FailReason: fmt.Sprintf("Symbol %q is not a valid ticker", intent.Symbol),
		}
	}

	entry, err := e.store.WhitelistEntry(ctx, intent.Symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.CheckResult{
				Passed:     false,
				FailReason: fmt.Sprintf("Symbol %s is not whitelisted", intent.Symbol),
			}
		}
		return domain.CheckResult{Passed: true, Degraded: true}
	}

	if !entry.Enabled {
		return domain.CheckResult{
			Passed:     false,
			FailReason: fmt.Sprintf("Symbol %s is whitelisted but disabled", intent.Symbol),
		}
	}
	return domain.CheckResult{Passed: true}
}

// checkMarketHours rejects orders outside the configured trading window.
func (e *RiskEngine) checkMarketHours(_ context.Context, _ domain.OrderIntent, _ domain.RiskLimits) domain.CheckResult {
	if !e.enforceHours {
		return domain.CheckResult{Passed: true}
	}

	now := e.now().In(e.loc)
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return domain.CheckResult{
			Passed:     false,
			FailReason: "Market closed: weekend",
		}
	}

	minute := now.Hour()*60 + now.Minute()
	if minute < e.openMin || minute >= e.closeMin {
		return domain.CheckResult{
			Passed:     false,
			FailReason: fmt.Sprintf("Market closed: %02d:%02d outside trading hours", now.Hour(), now.Minute()),
		}
	}
	return domain.CheckResult{Passed: true}
}

// checkSlippage compares the signal price against the effective execution
// price. Skipped without a signal price; degraded pass without a quote.
func (e *RiskEngine) checkSlippage(ctx context.Context, intent domain.OrderIntent, limits domain.RiskLimits) domain.CheckResult {
	if intent.SignalPrice <= 0 {
		return domain.CheckResult{Passed: true}
	}

	effective := intent.LimitPrice
	if effective <= 0 {
		effective = e.quotePrice(ctx, intent.Symbol)
	}
	if effective <= 0 {
		return domain.CheckResult{Passed: true, Degraded: true}
	}

	deviationBps := abs(effective-intent.SignalPrice) / intent.SignalPrice * 10000
	if deviationBps > limits.MaxOrderSlippageBps {
		return domain.CheckResult{
			Passed: false,
			FailReason: fmt.Sprintf("Slippage limit exceeded: %.1f bps > max %.1f bps",
				deviationBps, limits.MaxOrderSlippageBps),
		}
	}
	return domain.CheckResult{Passed: true}
}

// checkOrderType rejects market orders in live mode.
func (e *RiskEngine) checkOrderType(_ context.Context, intent domain.OrderIntent, _ domain.RiskLimits) domain.CheckResult {
	if e.Mode() == domain.TradingModeLive && intent.OrderType == domain.OrderTypeMarket {
		return domain.CheckResult{
			Passed:     false,
			FailReason: "Market orders are not allowed in live mode",
		}
	}
	return domain.CheckResult{Passed: true}
}

// resolvePrice determines the valuation price for a projection: the limit
// price when set, then a live quote, then the latest snapshot's market price.
// Zero means no price could be determined.
func (e *RiskEngine) resolvePrice(ctx context.Context, intent domain.OrderIntent) float64 {
	if intent.LimitPrice > 0 {
		return intent.LimitPrice
	}
	if p := e.quotePrice(ctx, intent.Symbol); p > 0 {
		return p
	}
	if snap, err := e.positions.Latest(ctx, intent.Symbol); err == nil && snap.MarketPrice > 0 {
		return snap.MarketPrice
	}
	return 0
}

// quotePrice reads through the quote cache to the broker.
func (e *RiskEngine) quotePrice(ctx context.Context, symbol string) float64 {
	if e.quotes != nil {
		if q, _, err := e.quotes.GetQuote(ctx, symbol); err == nil && q.Last > 0 {
			return q.Last
		}
	}
	if e.broker != nil {
		q, err := e.broker.GetQuote(ctx, symbol)
		if err != nil {
			return 0
		}
		if e.quotes != nil {
			if err := e.quotes.SetQuote(ctx, symbol, q, e.now()); err != nil {
				e.logger.DebugContext(ctx, "quote cache write failed", slog.Any("error", err))
			}
		}
		return q.Last
	}
	return 0
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
