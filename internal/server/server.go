// Package server exposes the HTTP control plane: status, trade history,
// configuration and lifecycle endpoints plus the websocket event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/helioslabs/helios/internal/domain"
	"github.com/helioslabs/helios/internal/server/handler"
	"github.com/helioslabs/helios/internal/server/middleware"
	"github.com/helioslabs/helios/internal/server/ws"
)

// Config controls the HTTP listener and its middleware chain.
type Config struct {
	Port        int
	APIKey      string
	CORSOrigins []string
	RateLimit   middleware.RateLimitConfig
}

// Deps carries everything the route handlers need.
type Deps struct {
	Controller handler.Controller
	Status     handler.StatusProvider
	KillSwitch handler.KillSwitch
	Trades     domain.TradeStore
	Hub        *ws.Hub
	Pingers    map[string]handler.Pinger
	Logger     *slog.Logger

	// RateLimiter is optional; nil falls back to an in-process window.
	RateLimiter domain.RateLimiter
}

// Server is the control-plane HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New wires the route table and middleware chain.
func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger.With(slog.String("component", "server"))

	healthHandler := handler.NewHealthHandler(deps.Pingers, logger)
	statusHandler := handler.NewStatusHandler(deps.Status, deps.KillSwitch)
	tradesHandler := handler.NewTradesHandler(deps.Trades, logger)
	controlHandler := handler.NewControlHandler(deps.Controller, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", healthHandler.HealthCheck)
	mux.HandleFunc("GET /api/status", statusHandler.GetStatus)
	mux.HandleFunc("GET /api/stats/daily", statusHandler.GetDailyStats)
	mux.HandleFunc("GET /api/trades", tradesHandler.ListRecent)
	mux.HandleFunc("GET /api/config", controlHandler.GetConfig)
	mux.HandleFunc("PUT /api/config", controlHandler.UpdateConfig)
	mux.HandleFunc("POST /api/control/start", controlHandler.Start)
	mux.HandleFunc("POST /api/control/stop", controlHandler.Stop)
	mux.HandleFunc("POST /api/control/reset-loss", controlHandler.ResetLoss)
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	var root http.Handler = mux
	root = middleware.CORS(cfg.CORSOrigins)(root)
	root = middleware.RateLimit(cfg.RateLimit, deps.RateLimiter)(root)
	root = middleware.Auth(cfg.APIKey)(root)
	root = middleware.Logging(logger)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           root,
			ReadHeaderTimeout: 10 * time.Second,
			// No global write timeout: the websocket endpoint holds
			// long-lived connections.
		},
		logger: logger,
	}
}

// Start serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("stopped")
	return nil
}
