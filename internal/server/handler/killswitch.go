package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/traderd/internal/domain"
)

// KillSwitchService is the slice of the kill switch the handler needs.
type KillSwitchService interface {
	Status(ctx context.Context) (domain.KillSwitchState, error)
	TriggerManual(ctx context.Context, mode domain.KillSwitchMode, reason, actor string) error
	Reset(ctx context.Context, actor string) error
	Events(ctx context.Context, limit int) ([]domain.KillSwitchEvent, error)
}

// KillSwitchHandler serves kill switch status, trigger, reset, and event
// history.
type KillSwitchHandler struct {
	ks     KillSwitchService
	logger *slog.Logger
}

// NewKillSwitchHandler creates a KillSwitchHandler.
func NewKillSwitchHandler(ks KillSwitchService, logger *slog.Logger) *KillSwitchHandler {
	return &KillSwitchHandler{ks: ks, logger: logger}
}

// GetStatus returns the current kill switch state.
// GET /api/kill-switch/status
func (h *KillSwitchHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.ks.Status(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotInitialized) {
			writeError(w, http.StatusServiceUnavailable, "kill switch state not initialized")
			return
		}
		h.logger.ErrorContext(r.Context(), "kill switch status failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to read kill switch state")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type triggerRequest struct {
	Mode   domain.KillSwitchMode `json:"mode"`
	Reason string                `json:"reason"`
}

// Trigger engages the kill switch. Operators and admins only. Mode defaults
// to soft; a hard trigger also cancels working orders and flattens
// positions.
// POST /api/kill-switch/trigger
func (h *KillSwitchHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	id, ok := requireMutate(w, r)
	if !ok {
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Mode == "" {
		req.Mode = domain.KillSwitchSoft
	}
	if req.Mode != domain.KillSwitchSoft && req.Mode != domain.KillSwitchHard {
		writeError(w, http.StatusBadRequest, "mode must be \"soft\" or \"hard\"")
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	if err := h.ks.TriggerManual(r.Context(), req.Mode, req.Reason, id.Actor); err != nil {
		h.logger.ErrorContext(r.Context(), "kill switch trigger failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to trigger kill switch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": domain.KillSwitchTriggered,
		"mode":   req.Mode,
	})
}

// Reset re-arms the kill switch. Admin only.
// POST /api/kill-switch/reset
func (h *KillSwitchHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	if err := h.ks.Reset(r.Context(), id.Actor); err != nil {
		h.logger.ErrorContext(r.Context(), "kill switch reset failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to reset kill switch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": domain.KillSwitchArmed})
}

// ListEvents returns trigger history, newest first.
// GET /api/kill-switch/events
func (h *KillSwitchHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.ks.Events(r.Context(), parseLimit(r, 50))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "kill switch events failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list kill switch events")
		return
	}
	if events == nil {
		events = []domain.KillSwitchEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
