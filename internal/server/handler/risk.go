package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// ModeSwitcher is the slice of the risk engine the handler needs for the
// trading mode endpoint.
type ModeSwitcher interface {
	Mode() domain.TradingMode
	SetMode(ctx context.Context, mode domain.TradingMode, actor string) error
}

// RiskHandler serves risk limits, breach history, daily P&L, and the trading
// mode switch.
type RiskHandler struct {
	store    domain.RiskStore
	engine   ModeSwitcher
	defaults domain.RiskLimits
	logger   *slog.Logger
}

// NewRiskHandler creates a RiskHandler. defaults back the limits read when
// no overrides are stored.
func NewRiskHandler(store domain.RiskStore, engine ModeSwitcher, defaults domain.RiskLimits, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{store: store, engine: engine, defaults: defaults, logger: logger}
}

// GetLimits returns the effective risk limits.
// GET /api/risk/limits
func (h *RiskHandler) GetLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := h.store.Limits(r.Context(), h.defaults)
	if err != nil {
		h.logger.WarnContext(r.Context(), "risk limits unreadable, serving defaults", slog.Any("error", err))
		limits = h.defaults
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"limits": limits,
		"mode":   h.engine.Mode(),
	})
}

// ListBreaches returns recent failed risk checks, newest first.
// GET /api/risk/breaches
func (h *RiskHandler) ListBreaches(w http.ResponseWriter, r *http.Request) {
	breaches, err := h.store.ListBreaches(r.Context(), parseLimit(r, 50))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list breaches failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list breaches")
		return
	}
	if breaches == nil {
		breaches = []domain.RiskBreach{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"breaches": breaches})
}

// GetTodayPnL returns today's aggregated P&L and trade count.
// GET /api/risk/pnl
func (h *RiskHandler) GetTodayPnL(w http.ResponseWriter, r *http.Request) {
	pnl, err := h.store.TodayPnL(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "today pnl failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to compute daily pnl")
		return
	}
	writeJSON(w, http.StatusOK, pnl)
}

type modeRequest struct {
	Mode domain.TradingMode `json:"mode"`
}

// SetMode switches between paper and live trading. Admin only; the switch is
// recorded and starts the mode-lock cooldown.
// POST /api/risk/mode
func (h *RiskHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	id, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Mode != domain.TradingModePaper && req.Mode != domain.TradingModeLive {
		writeError(w, http.StatusBadRequest, "mode must be \"paper\" or \"live\"")
		return
	}

	if err := h.engine.SetMode(r.Context(), req.Mode, id.Actor); err != nil {
		h.logger.ErrorContext(r.Context(), "mode switch failed",
			slog.String("mode", string(req.Mode)), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to switch mode")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": req.Mode})
}
