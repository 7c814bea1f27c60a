// Package server exposes the operator API: opportunity feed, position
// state, manual confirmation and close, and the WebSocket event stream.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbd/internal/config"
	"github.com/alanyoungcy/arbd/internal/server/handler"
	"github.com/alanyoungcy/arbd/internal/server/middleware"
	"github.com/alanyoungcy/arbd/internal/server/ws"
)

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health        *handler.HealthHandler
	Opportunities *handler.OpportunityHandler
	Positions     *handler.PositionHandler
	Risk          *handler.RiskHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes registered.
func New(cfg config.ServerConfig, handlers Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/opportunities", handlers.Opportunities.ListRecent)
	mux.HandleFunc("GET /api/confirmations", handlers.Opportunities.ListPending)
	mux.HandleFunc("POST /api/confirmations/{id}", handlers.Opportunities.Confirm)

	mux.HandleFunc("GET /api/positions", handlers.Positions.ListOpen)
	mux.HandleFunc("GET /api/positions/closed", handlers.Positions.ListClosed)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetByID)
	mux.HandleFunc("POST /api/positions/{id}/close", handlers.Positions.Close)

	mux.HandleFunc("GET /api/risk-events", handlers.Risk.ListUnhandled)
	mux.HandleFunc("POST /api/risk-events/{id}/handled", handlers.Risk.MarkHandled)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.AllowedOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return ctx.Err()
}
