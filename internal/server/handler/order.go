package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// OrderRouter is the slice of the routing service the order handler needs.
type OrderRouter interface {
	SubmitOrder(ctx context.Context, intent domain.OrderIntent, actor string) domain.OrderResult
	CancelOrder(ctx context.Context, brokerOrderID, actor string) error
	GetOrderStatus(ctx context.Context, brokerOrderID string) (domain.BrokerOrder, error)
}

// OrderHandler serves order submission, cancellation, and listing.
type OrderHandler struct {
	router OrderRouter
	orders domain.OrderStore
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(router OrderRouter, orders domain.OrderStore, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{router: router, orders: orders, logger: logger}
}

// SubmitOrder runs one intent through the full submission pipeline. A risk
// or gate rejection is a 400 with the stable reason string; it is not an
// internal error.
// POST /api/orders/submit
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := requireMutate(w, r)
	if !ok {
		return
	}

	var intent domain.OrderIntent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result := h.router.SubmitOrder(r.Context(), intent, id.Actor)
	if !result.Success {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// CancelOrder cancels a working order at the broker.
// DELETE /api/orders/{brokerOrderId}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := requireMutate(w, r)
	if !ok {
		return
	}

	brokerOrderID := r.PathValue("brokerOrderId")
	if brokerOrderID == "" {
		writeError(w, http.StatusBadRequest, "missing broker order id")
		return
	}

	if err := h.router.CancelOrder(r.Context(), brokerOrderID, id.Actor); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrNoBroker):
			writeError(w, http.StatusServiceUnavailable, "no broker configured")
		default:
			h.logger.ErrorContext(r.Context(), "cancel order failed",
				slog.String("broker_order_id", brokerOrderID), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to cancel order")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":          "cancelled",
		"broker_order_id": brokerOrderID,
	})
}

// ListOrders returns stored orders, open ones only with ?open=true.
// GET /api/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var (
		orders []domain.Order
		err    error
	)
	if r.URL.Query().Get("open") == "true" {
		orders, err = h.orders.ListOpen(r.Context())
	} else {
		orders, err = h.orders.List(r.Context(), parseListOpts(r))
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list orders failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// GetOrder returns the broker's live view of one order.
// GET /api/orders/{brokerOrderId}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	brokerOrderID := r.PathValue("brokerOrderId")
	if brokerOrderID == "" {
		writeError(w, http.StatusBadRequest, "missing broker order id")
		return
	}

	order, err := h.router.GetOrderStatus(r.Context(), brokerOrderID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrNoBroker):
			writeError(w, http.StatusServiceUnavailable, "no broker configured")
		default:
			h.logger.ErrorContext(r.Context(), "get order failed",
				slog.String("broker_order_id", brokerOrderID), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to get order")
		}
		return
	}
	writeJSON(w, http.StatusOK, order)
}
