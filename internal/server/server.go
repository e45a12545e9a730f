// Package server is the HTTP + WebSocket front of the hierarchy service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/propengine/internal/observability"
	"github.com/alanyoungcy/propengine/internal/server/handler"
	"github.com/alanyoungcy/propengine/internal/server/middleware"
	"github.com/alanyoungcy/propengine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Nodes     *handler.NodeHandler
	Metrics   *handler.MetricsHandler
	Summaries *handler.SummaryHandler
}

// Server wraps the http.Server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain. hub and
// reg are optional.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, reg *prometheus.Registry, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, hub, reg, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler returns the routed handler with middleware applied.
func NewHandler(cfg Config, handlers Handlers, hub *ws.Hub, reg *prometheus.Registry, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/markets", handlers.Markets.Ingest)
	mux.HandleFunc("GET /api/markets/{exchange}/{symbol}", handlers.Markets.Latest)

	mux.HandleFunc("POST /api/nodes/{exchange}", handlers.Nodes.Create)
	mux.HandleFunc("GET /api/nodes/{exchange}/{id}", handlers.Nodes.Get)
	mux.HandleFunc("PUT /api/nodes/{exchange}/{id}", handlers.Nodes.Update)
	mux.HandleFunc("GET /api/nodes/{exchange}/{id}/children", handlers.Nodes.Children)

	mux.HandleFunc("GET /api/metrics", handlers.Metrics.List)
	mux.HandleFunc("GET /api/metrics/{exchange}", handlers.Metrics.Get)
	mux.HandleFunc("POST /api/metrics/{exchange}/reset", handlers.Metrics.Reset)

	if handlers.Summaries != nil {
		mux.HandleFunc("GET /api/summaries/high", handlers.Summaries.High)
		mux.HandleFunc("GET /api/summaries/{exchange}/{symbol}", handlers.Summaries.BySymbol)
	}

	var httpMetrics *observability.HTTPMetrics
	if reg != nil {
		httpMetrics = observability.NewHTTPMetrics(reg)
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger, httpMetrics)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
