package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// PositionService is the slice of the position manager the handler needs.
type PositionService interface {
	Current(ctx context.Context) ([]domain.Position, error)
	Get(ctx context.Context, symbol string) (domain.Position, error)
	History(ctx context.Context, symbol string, limit int) ([]domain.PositionSnapshot, error)
	Exposure(ctx context.Context) (domain.Exposure, error)
	PortfolioValue(ctx context.Context) (domain.PortfolioValue, error)
	Reconcile(ctx context.Context) (domain.ReconciliationReport, error)
	SyncFromBroker(ctx context.Context, actor string) (int, error)
}

// PositionHandler serves position views and the reconcile/sync recovery
// endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logger}
}

// ListPositions returns the latest derived position per symbol.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.Current(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// GetPosition returns one symbol's position.
// GET /api/positions/{symbol}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	pos, err := h.positions.Get(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no position for symbol")
			return
		}
		h.logger.ErrorContext(r.Context(), "get position failed",
			slog.String("symbol", symbol), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetHistory returns one symbol's snapshot series, newest first.
// GET /api/positions/{symbol}/history
func (h *PositionHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	snaps, err := h.positions.History(r.Context(), symbol, parseLimit(r, 100))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "position history failed",
			slog.String("symbol", symbol), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to load position history")
		return
	}
	if snaps == nil {
		snaps = []domain.PositionSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "history": snaps})
}

// GetExposure returns the portfolio exposure aggregates.
// GET /api/positions/exposure
func (h *PositionHandler) GetExposure(w http.ResponseWriter, r *http.Request) {
	exp, err := h.positions.Exposure(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "exposure failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to compute exposure")
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// GetPortfolioValue returns cash plus position values from the broker and
// the latest snapshots.
// GET /api/positions/portfolio/value
func (h *PositionHandler) GetPortfolioValue(w http.ResponseWriter, r *http.Request) {
	pv, err := h.positions.PortfolioValue(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNoBroker) {
			writeError(w, http.StatusServiceUnavailable, "no broker configured")
			return
		}
		h.logger.ErrorContext(r.Context(), "portfolio value failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to compute portfolio value")
		return
	}
	writeJSON(w, http.StatusOK, pv)
}

// Reconcile compares internal positions against the broker and reports
// per-symbol drift.
// POST /api/positions/reconcile
func (h *PositionHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireMutate(w, r); !ok {
		return
	}

	report, err := h.positions.Reconcile(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNoBroker) {
			writeError(w, http.StatusServiceUnavailable, "no broker configured")
			return
		}
		h.logger.ErrorContext(r.Context(), "reconcile failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to reconcile positions")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Sync overwrites internal snapshots with the broker's view.
// POST /api/positions/sync
func (h *PositionHandler) Sync(w http.ResponseWriter, r *http.Request) {
	id, ok := requireMutate(w, r)
	if !ok {
		return
	}

	synced, err := h.positions.SyncFromBroker(r.Context(), id.Actor)
	if err != nil {
		if errors.Is(err, domain.ErrNoBroker) {
			writeError(w, http.StatusServiceUnavailable, "no broker configured")
			return
		}
		h.logger.ErrorContext(r.Context(), "position sync failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to sync positions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synced": synced})
}
