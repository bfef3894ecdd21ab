// Package server exposes the settlement worker's HTTP + WebSocket surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wagerforge/wagerd/internal/domain"
	"github.com/wagerforge/wagerd/internal/server/handler"
	"github.com/wagerforge/wagerd/internal/server/middleware"
	"github.com/wagerforge/wagerd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Per-client request budget; rate limiting is disabled when the
	// limiter passed to NewServer is nil.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Status *handler.StatusHandler
	Wagers *handler.WagerHandler
	Sweeps *handler.SweepHandler
}

// Server is the HTTP + WebSocket API server for the settlement worker.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (rate limit, auth, logging, CORS) wired around it.
// metricsHandler and wsHub may be nil; their routes are then omitted.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, metricsHandler http.Handler, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Diagnostics.
	mux.HandleFunc("GET /health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /status", handlers.Status.GetStatus)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	// Wager lifecycle.
	mux.HandleFunc("POST /create-wager", handlers.Wagers.CreateWager)
	mux.HandleFunc("POST /accept-wager", handlers.Wagers.AcceptWager)
	mux.HandleFunc("POST /resolve-crypto-wager", handlers.Wagers.ResolveCryptoWager)
	mux.HandleFunc("POST /resolve-sports-wager", handlers.Wagers.ResolveSportsWager)
	mux.HandleFunc("POST /cancel-wager", handlers.Wagers.CancelWager)

	// Expiry and refund bookkeeping.
	mux.HandleFunc("POST /handle-expired-wager", handlers.Sweeps.HandleExpired)
	mux.HandleFunc("POST /process-cancelled-wagers", handlers.Sweeps.ProcessCancelled)
	mux.HandleFunc("POST /mark-refund-processed", handlers.Sweeps.MarkRefundProcessed)

	// WebSocket event feed.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
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

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
