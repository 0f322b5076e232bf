package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/traderd/internal/domain"
	"github.com/alanyoungcy/traderd/internal/server/handler"
	"github.com/alanyoungcy/traderd/internal/server/middleware"
	"github.com/alanyoungcy/traderd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	AuthEnabled  bool
	AuthKeys     []middleware.KeyEntry
	RateLimiter  domain.RateLimiter // optional HTTP-level limiter
	RateLimit    int
	RateWindow   time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Orders     *handler.OrderHandler
	Positions  *handler.PositionHandler
	Risk       *handler.RiskHandler
	KillSwitch *handler.KillSwitchHandler
	Strategies *handler.StrategyHandler
	Audit      *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket control plane API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain (CORS, then
// logging, then auth). The kill switch trigger stays reachable by any
// mutating role; reset and mode switching enforce admin inside the handlers.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health (no role requirements).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Orders.
	mux.HandleFunc("POST /api/orders/submit", handlers.Orders.SubmitOrder)
	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("GET /api/orders/{brokerOrderId}", handlers.Orders.GetOrder)
	mux.HandleFunc("DELETE /api/orders/{brokerOrderId}", handlers.Orders.CancelOrder)

	// Positions.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/exposure", handlers.Positions.GetExposure)
	mux.HandleFunc("GET /api/positions/portfolio/value", handlers.Positions.GetPortfolioValue)
	mux.HandleFunc("GET /api/positions/{symbol}", handlers.Positions.GetPosition)
	mux.HandleFunc("GET /api/positions/{symbol}/history", handlers.Positions.GetHistory)
	mux.HandleFunc("POST /api/positions/reconcile", handlers.Positions.Reconcile)
	mux.HandleFunc("POST /api/positions/sync", handlers.Positions.Sync)

	// Risk.
	mux.HandleFunc("GET /api/risk/limits", handlers.Risk.GetLimits)
	mux.HandleFunc("GET /api/risk/breaches", handlers.Risk.ListBreaches)
	mux.HandleFunc("GET /api/risk/pnl", handlers.Risk.GetTodayPnL)
	mux.HandleFunc("POST /api/risk/mode", handlers.Risk.SetMode)

	// Kill switch.
	mux.HandleFunc("GET /api/kill-switch/status", handlers.KillSwitch.GetStatus)
	mux.HandleFunc("GET /api/kill-switch/events", handlers.KillSwitch.ListEvents)
	mux.HandleFunc("POST /api/kill-switch/trigger", handlers.KillSwitch.Trigger)
	mux.HandleFunc("POST /api/kill-switch/reset", handlers.KillSwitch.Reset)

	// Strategies.
	mux.HandleFunc("GET /api/strategies", handlers.Strategies.ListStrategies)
	mux.HandleFunc("POST /api/strategies/run", handlers.Strategies.RunNow)
	mux.HandleFunc("POST /api/strategies/{id}/enable", handlers.Strategies.Enable)
	mux.HandleFunc("POST /api/strategies/{id}/disable", handlers.Strategies.Disable)
	mux.HandleFunc("PUT /api/strategies/{id}/params", handlers.Strategies.UpdateParams)

	// Audit log.
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)

	// Event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.AuthEnabled, cfg.AuthKeys)(h)
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
