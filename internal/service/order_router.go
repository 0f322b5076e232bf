package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/traderd/internal/broker"
	"github.com/alanyoungcy/traderd/internal/domain"
)

// OrderRouterConfig holds router tunables.
type OrderRouterConfig struct {
	SymbolLockTTL time.Duration
	RateLimit     int
	RateWindow    time.Duration
}

// OrderRouter is the single path from an intent to the broker: kill-switch
// gate, risk evaluation, broker submission, then durable bookkeeping.
type OrderRouter struct {
	killSwitch  *KillSwitch
	risk        *RiskEngine
	broker      broker.Broker       // optional
	orders      domain.OrderStore
	locks       domain.LockManager  // optional
	limiter     domain.RateLimiter  // optional
	broadcaster Broadcaster         // optional
	cfg         OrderRouterConfig
	logger      *slog.Logger
}

// NewOrderRouter creates an OrderRouter. brk, locks, and limiter may be nil;
// a nil broker rejects every submission, nil locks and limiter disable the
// corresponding guard.
func NewOrderRouter(
	killSwitch *KillSwitch,
	risk *RiskEngine,
	brk broker.Broker,
	orders domain.OrderStore,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	cfg OrderRouterConfig,
	logger *slog.Logger,
) *OrderRouter {
	if cfg.SymbolLockTTL <= 0 {
		cfg.SymbolLockTTL = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 30
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}

	return &OrderRouter{
		killSwitch: killSwitch,
		risk:       risk,
		broker:     brk,
		orders:     orders,
		locks:      locks,
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "order_router")),
	}
}

// SetBroadcaster wires the websocket hub.
func (r *OrderRouter) SetBroadcaster(b Broadcaster) { r.broadcaster = b }

// SubmitOrder routes one intent: kill-switch gate first, then risk checks,
// then the broker. Once the broker has accepted, local persistence failure is
// logged but does not fail the submission; reconciliation is the backstop.
func (r *OrderRouter) SubmitOrder(ctx context.Context, intent domain.OrderIntent, actor string) domain.OrderResult {
	if intent.IntentID == "" {
		intent.IntentID = uuid.New().String()
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now().UTC()
	}
	if intent.TimeInForce == "" {
		intent.TimeInForce = domain.TimeInForceDay
	}
	if actor == "" {
		actor = "system"
	}

	result := domain.OrderResult{IntentID: intent.IntentID}

	if err := validateIntent(intent); err != nil {
		result.FailReason = err.Error()
		return result
	}

	// The kill switch gates submission before anything else, including the
	// risk checks.
	if r.killSwitch.IsTriggered(ctx) {
		result.FailReason = domain.ErrKillSwitchEngaged.Error()
		r.logger.WarnContext(ctx, "order rejected: kill switch engaged",
			slog.String("intent_id", intent.IntentID),
			slog.String("symbol", intent.Symbol),
		)
		return result
	}

	if r.limiter != nil {
		allowed, err := r.limiter.Allow(ctx, "submit:"+actor, r.cfg.RateLimit, r.cfg.RateWindow)
		if err != nil {
			r.logger.WarnContext(ctx, "rate limiter unavailable, allowing", slog.Any("error", err))
		} else if !allowed {
			result.FailReason = domain.ErrRateLimited.Error()
			return result
		}
	}

	if r.broker == nil {
		result.FailReason = domain.ErrNoBroker.Error()
		return result
	}

	// Advisory per-symbol lock around risk-check-then-submit. Non-blocking:
	// if another submission holds it, proceed anyway and let the broker's
	// own limits backstop the race.
	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, "symbol:"+intent.Symbol, r.cfg.SymbolLockTTL)
		switch {
		case err == nil:
			defer unlock()
		case errors.Is(err, domain.ErrLockHeld):
			r.logger.WarnContext(ctx, "symbol lock held, proceeding unlocked",
				slog.String("symbol", intent.Symbol))
		default:
			r.logger.WarnContext(ctx, "symbol lock unavailable", slog.Any("error", err))
		}
	}

	riskResult := r.risk.CheckIntent(ctx, intent)
	if !riskResult.Passed {
		result.FailReason = riskResult.FailReason
		return result
	}
	result.RiskCheckPassed = true

	if !r.broker.IsConnected() {
		if err := r.broker.Connect(ctx); err != nil {
			result.FailReason = fmt.Sprintf("broker connect failed: %v", err)
			return result
		}
	}

	brokerOrder, err := r.broker.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Qty:           intent.Qty,
		Type:          intent.OrderType,
		TimeInForce:   intent.TimeInForce,
		LimitPrice:    intent.LimitPrice,
		StopPrice:     intent.StopPrice,
		ClientOrderID: intent.IntentID,
	})
	if err != nil {
		// Risk passed but execution failed. The intent is not retried.
		result.FailReason = err.Error()
		r.logger.ErrorContext(ctx, "broker submission failed",
			slog.String("intent_id", intent.IntentID),
			slog.String("symbol", intent.Symbol),
			slog.Any("error", err),
		)
		return result
	}

	order := domain.Order{
		OrderID:       uuid.New().String(),
		IntentID:      intent.IntentID,
		BrokerOrderID: brokerOrder.ID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Qty:           intent.Qty,
		Status:        brokerOrder.Status,
		SubmittedAt:   time.Now().UTC(),
	}

	auditDiff := map[string]any{
		"actor":         actor,
		"symbol":        intent.Symbol,
		"side":          string(intent.Side),
		"qty":           intent.Qty,
		"orderType":     string(intent.OrderType),
		"brokerOrderId": brokerOrder.ID,
	}
	if err := r.orders.RecordSubmission(ctx, intent, order, auditDiff); err != nil {
		// The broker-side order is real; trading availability beats audit
		// completeness here. Reconciliation picks up the gap.
		r.logger.WarnContext(ctx, "order persistence failed after broker accept",
			slog.String("intent_id", intent.IntentID),
			slog.String("broker_order_id", brokerOrder.ID),
			slog.Any("error", err),
		)
	}

	result.Success = true
	result.OrderID = order.OrderID
	result.BrokerOrderID = brokerOrder.ID

	r.logger.InfoContext(ctx, "order routed",
		slog.String("intent_id", intent.IntentID),
		slog.String("broker_order_id", brokerOrder.ID),
		slog.String("symbol", intent.Symbol),
		slog.String("side", string(intent.Side)),
		slog.Float64("qty", intent.Qty),
	)
	if r.broadcaster != nil {
		r.broadcaster.Broadcast("order_submitted", result)
	}

	return result
}

// CancelOrder cancels at the broker first; only a broker-confirmed cancel is
// reflected locally.
func (r *OrderRouter) CancelOrder(ctx context.Context, brokerOrderID, actor string) error {
	if r.broker == nil {
		return domain.ErrNoBroker
	}

	if err := r.broker.CancelOrder(ctx, brokerOrderID); err != nil {
		return fmt.Errorf("order_router: broker cancel %s: %w", brokerOrderID, err)
	}

	if err := r.orders.MarkCancelled(ctx, brokerOrderID, actor); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Cancelled at the broker but never persisted locally. The
			// cancel itself succeeded.
			r.logger.WarnContext(ctx, "cancelled order unknown locally",
				slog.String("broker_order_id", brokerOrderID))
			return nil
		}
		return fmt.Errorf("order_router: mark cancelled %s: %w", brokerOrderID, err)
	}

	r.logger.InfoContext(ctx, "order cancelled",
		slog.String("broker_order_id", brokerOrderID),
		slog.String("actor", actor),
	)
	if r.broadcaster != nil {
		r.broadcaster.Broadcast("order_cancelled", map[string]any{"brokerOrderId": brokerOrderID})
	}
	return nil
}

// GetOrderStatus fetches live order state from the broker.
func (r *OrderRouter) GetOrderStatus(ctx context.Context, brokerOrderID string) (domain.BrokerOrder, error) {
	if r.broker == nil {
		return domain.BrokerOrder{}, domain.ErrNoBroker
	}
	return r.broker.GetOrder(ctx, brokerOrderID)
}

func validateIntent(intent domain.OrderIntent) error {
	if intent.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", domain.ErrInvalidIntent)
	}
	if intent.Qty <= 0 {
		return fmt.Errorf("%w: qty must be positive", domain.ErrInvalidIntent)
	}
	if intent.Side != domain.OrderSideBuy && intent.Side != domain.OrderSideSell {
		return fmt.Errorf("%w: side must be buy or sell", domain.ErrInvalidIntent)
	}
	switch intent.OrderType {
	case domain.OrderTypeMarket:
	case domain.OrderTypeLimit:
		if intent.LimitPrice <= 0 {
			return fmt.Errorf("%w: limit order requires a limit price", domain.ErrInvalidIntent)
		}
	case domain.OrderTypeStop:
		if intent.StopPrice <= 0 {
			return fmt.Errorf("%w: stop order requires a stop price", domain.ErrInvalidIntent)
		}
	case domain.OrderTypeStopLimit:
		if intent.LimitPrice <= 0 || intent.StopPrice <= 0 {
			return fmt.Errorf("%w: stop-limit order requires stop and limit prices", domain.ErrInvalidIntent)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", domain.ErrInvalidIntent, intent.OrderType)
	}
	return nil
}
