package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/traderd/internal/broker"
	"github.com/alanyoungcy/traderd/internal/domain"
)

// FillHandler polls the broker for execution progress on open orders and
// records fills as deltas of the broker-reported cumulative filled quantity.
// The delta technique plus the per-order row lock makes recording idempotent:
// overlapping poll cycles can never double-count a fill.
type FillHandler struct {
	ledger      domain.FillLedger
	orders      domain.OrderStore
	positions   domain.PositionStore
	broker      broker.Broker
	quotes      domain.QuoteCache // optional
	broadcaster Broadcaster       // optional
	interval    time.Duration
	logger      *slog.Logger
}

// NewFillHandler creates a FillHandler polling at the given interval
// (defaults to 5s).
func NewFillHandler(
	ledger domain.FillLedger,
	orders domain.OrderStore,
	positions domain.PositionStore,
	brk broker.Broker,
	quotes domain.QuoteCache,
	interval time.Duration,
	logger *slog.Logger,
) *FillHandler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &FillHandler{
		ledger:    ledger,
		orders:    orders,
		positions: positions,
		broker:    brk,
		quotes:    quotes,
		interval:  interval,
		logger:    logger.With(slog.String("component", "fill_handler")),
	}
}

// SetBroadcaster wires the websocket hub.
func (h *FillHandler) SetBroadcaster(b Broadcaster) { h.broadcaster = b }

// Run polls open orders until ctx is cancelled.
func (h *FillHandler) Run(ctx context.Context) error {
	if h.broker == nil {
		h.logger.Warn("no broker configured, fill polling disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.poll(ctx)
		}
	}
}

func (h *FillHandler) poll(ctx context.Context) {
	open, err := h.orders.ListOpen(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "list open orders failed", slog.Any("error", err))
		return
	}

	for _, order := range open {
		if err := h.processOne(ctx, order.OrderID); err != nil {
			h.logger.WarnContext(ctx, "fill processing failed",
				slog.String("order_id", order.OrderID),
				slog.Any("error", err),
			)
		}
	}
}

// ProcessOrder processes a single order by broker order ID, outside the poll
// cycle (manual trigger).
func (h *FillHandler) ProcessOrder(ctx context.Context, brokerOrderID string) error {
	if h.broker == nil {
		return domain.ErrNoBroker
	}
	order, err := h.orders.GetByBrokerID(ctx, brokerOrderID)
	if err != nil {
		return fmt.Errorf("fill_handler: lookup order %s: %w", brokerOrderID, err)
	}
	return h.processOne(ctx, order.OrderID)
}

// processOne runs one locked unit of work: fetch broker state, update status,
// and record at most one delta fill with its position snapshot.
func (h *FillHandler) processOne(ctx context.Context, orderID string) error {
	return h.ledger.ProcessWithLock(ctx, orderID, func(ctx context.Context, order domain.Order, localFilledQty float64) (*domain.FillUpdate, error) {
		brokerOrder, err := h.broker.GetOrder(ctx, order.BrokerOrderID)
		if err != nil {
			return nil, fmt.Errorf("fill_handler: broker order %s: %w", order.BrokerOrderID, err)
		}

		update := &domain.FillUpdate{Status: brokerOrder.Status}

		delta := brokerOrder.FilledQty - localFilledQty
		if delta <= 0 {
			return update, nil
		}

		fillPrice := brokerOrder.FilledAvgPrice
		fill := &domain.Fill{
			FillID:        uuid.New().String(),
			OrderID:       order.OrderID,
			BrokerOrderID: order.BrokerOrderID,
			Symbol:        order.Symbol,
			Side:          order.Side,
			Price:         fillPrice,
			Qty:           delta,
			FillTs:        time.Now().UTC(),
		}
		if !brokerOrder.FilledAt.IsZero() {
			fill.FillTs = brokerOrder.FilledAt
		}

		prevQty, prevAvg := 0.0, 0.0
		if snap, err := h.positions.Latest(ctx, order.Symbol); err == nil {
			prevQty, prevAvg = snap.Qty, snap.AvgPrice
		}

		newQty, newAvg := ApplyFill(prevQty, prevAvg, order.Side, delta, fillPrice)

		marketPrice := h.marketPrice(ctx, order.Symbol, fillPrice)
		snapshot := &domain.PositionSnapshot{
			Symbol:        order.Symbol,
			Qty:           newQty,
			AvgPrice:      newAvg,
			MarketPrice:   marketPrice,
			UnrealizedPnL: newQty * (marketPrice - newAvg),
			Ts:            time.Now().UTC(),
		}

		update.Fill = fill
		update.Snapshot = snapshot
		update.AuditDiff = map[string]any{
			"brokerOrderId": order.BrokerOrderID,
			"symbol":        order.Symbol,
			"side":          string(order.Side),
			"fillQty":       delta,
			"fillPrice":     fillPrice,
			"totalFilled":   brokerOrder.FilledQty,
		}

		h.logger.InfoContext(ctx, "fill recorded",
			slog.String("order_id", order.OrderID),
			slog.String("symbol", order.Symbol),
			slog.Float64("qty", delta),
			slog.Float64("price", fillPrice),
			slog.String("status", string(brokerOrder.Status)),
		)
		if h.broadcaster != nil {
			h.broadcaster.Broadcast("order_filled", fill)
		}

		return update, nil
	})
}

// marketPrice reads through the quote cache to the broker, falling back to
// the fill price when no quote is available.
func (h *FillHandler) marketPrice(ctx context.Context, symbol string, fallback float64) float64 {
	if h.quotes != nil {
		if q, _, err := h.quotes.GetQuote(ctx, symbol); err == nil && q.Last > 0 {
			return q.Last
		}
	}
	if h.broker != nil {
		if q, err := h.broker.GetQuote(ctx, symbol); err == nil && q.Last > 0 {
			if h.quotes != nil {
				_ = h.quotes.SetQuote(ctx, symbol, q, time.Now())
			}
			return q.Last
		}
	}
	return fallback
}

// ApplyFill updates a position under weighted-average-cost accounting: buys
// increase quantity and recompute the average; sells reduce quantity and
// leave the average untouched.
func ApplyFill(qty, avgPrice float64, side domain.OrderSide, fillQty, fillPrice float64) (newQty, newAvg float64) {
	if side == domain.OrderSideBuy {
		newQty = qty + fillQty
		if newQty != 0 {
			newAvg = (qty*avgPrice + fillQty*fillPrice) / newQty
		}
		return newQty, newAvg
	}

	newQty = qty - fillQty
	return newQty, avgPrice
}
