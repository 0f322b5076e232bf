package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// StrategyRegistry is the slice of the strategy registry the handler needs.
type StrategyRegistry interface {
	List() []domain.StrategyConfig
	SetEnabled(ctx context.Context, id string, enabled bool) error
	UpdateParams(ctx context.Context, id string, params map[string]any) error
}

// StrategyRunner triggers an immediate evaluation pass.
type StrategyRunner interface {
	RunOnce(ctx context.Context)
}

// StrategyHandler serves strategy configuration and the manual run trigger.
type StrategyHandler struct {
	registry StrategyRegistry
	runner   StrategyRunner
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler.
func NewStrategyHandler(registry StrategyRegistry, runner StrategyRunner, audit domain.AuditStore, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{registry: registry, runner: runner, audit: audit, logger: logger}
}

// ListStrategies returns every registered strategy config.
// GET /api/strategies
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"strategies": h.registry.List()})
}

// Enable turns a strategy on.
// POST /api/strategies/{id}/enable
func (h *StrategyHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// Disable turns a strategy off.
// POST /api/strategies/{id}/disable
func (h *StrategyHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *StrategyHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id, ok := requireMutate(w, r)
	if !ok {
		return
	}

	strategyID := r.PathValue("id")
	if err := h.registry.SetEnabled(r.Context(), strategyID, enabled); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "strategy not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "strategy enable flip failed",
			slog.String("strategy", strategyID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to update strategy")
		return
	}

	h.auditLog(r, id.Actor, "strategy.enable", strategyID, map[string]any{"enabled": enabled})
	writeJSON(w, http.StatusOK, map[string]any{"strategyId": strategyID, "enabled": enabled})
}

// UpdateParams merges new parameters into a strategy's config. A parameter
// set the strategy rejects is a 400.
// PUT /api/strategies/{id}/params
func (h *StrategyHandler) UpdateParams(w http.ResponseWriter, r *http.Request) {
	id, ok := requireMutate(w, r)
	if !ok {
		return
	}

	strategyID := r.PathValue("id")
	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.registry.UpdateParams(r.Context(), strategyID, params); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "strategy not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.auditLog(r, id.Actor, "strategy.params", strategyID, map[string]any{"params": params})
	writeJSON(w, http.StatusOK, map[string]any{"strategyId": strategyID, "params": params})
}

// RunNow triggers one evaluation pass outside the normal tick.
// POST /api/strategies/run
func (h *StrategyHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireMutate(w, r); !ok {
		return
	}

	h.runner.RunOnce(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "run triggered"})
}

func (h *StrategyHandler) auditLog(r *http.Request, actor, action, resource string, diff map[string]any) {
	if err := h.audit.Log(r.Context(), actor, action, resource, diff); err != nil {
		h.logger.WarnContext(r.Context(), "audit write failed",
			slog.String("action", action), slog.Any("error", err))
	}
}
