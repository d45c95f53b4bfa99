// Package server runs the operator HTTP endpoints: health, engine status,
// open positions, journal history and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/119969788/poly-copy-trading/internal/server/handler"
	"github.com/119969788/poly-copy-trading/internal/server/middleware"
)

// Config holds the listener settings.
type Config struct {
	Addr      string
	APIKey    string  // empty disables auth
	RateLimit float64 // requests per second per client; 0 disables
	RateBurst int
}

// Handlers are the endpoint implementations. Events and Metrics may be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Events  *handler.EventsHandler
	Metrics http.Handler
}

// Server is the status HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes and the middleware chain.
func NewServer(cfg Config, h Handlers, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "server"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Health.HealthCheck)
	mux.HandleFunc("GET /status", h.Status.GetStatus)
	mux.HandleFunc("GET /positions", h.Status.ListPositions)
	mux.HandleFunc("GET /positions/history", h.Status.ListHistory)
	if h.Events != nil {
		mux.HandleFunc("GET /events", h.Events.ListEvents)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}

	var root http.Handler = mux
	root = middleware.Auth(cfg.APIKey, "/healthz")(root)
	root = middleware.RateLimit(cfg.RateLimit, cfg.RateBurst)(root)
	root = middleware.Logging(logger, "/healthz", "/metrics")(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler with middleware.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is done, then shuts down within five seconds.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.httpServer.Addr, err)
	}
	s.logger.InfoContext(ctx, "status server listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return ctx.Err()
}
