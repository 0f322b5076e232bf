package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is anything that can report liveness of a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and dependency checks.
type HealthHandler struct {
	db     Pinger
	cache  Pinger // optional
	broker interface{ IsConnected() bool }
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. cache and broker may be nil.
func NewHealthHandler(db Pinger, cache Pinger, broker interface{ IsConnected() bool }, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache, broker: broker, logger: logger}
}

// HealthCheck reports overall status plus per-dependency detail. The process
// stays "degraded" rather than failing outright when optional dependencies
// are down.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	deps := map[string]string{}

	if err := h.db.Ping(ctx); err != nil {
		deps["database"] = "down"
		status = "degraded"
	} else {
		deps["database"] = "ok"
	}

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			deps["redis"] = "down"
			status = "degraded"
		} else {
			deps["redis"] = "ok"
		}
	} else {
		deps["redis"] = "disabled"
	}

	switch {
	case h.broker == nil:
		deps["broker"] = "not configured"
		status = "degraded"
	case h.broker.IsConnected():
		deps["broker"] = "connected"
	default:
		deps["broker"] = "disconnected"
	}

	code := http.StatusOK
	writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
