// Package server exposes the query engine over HTTP: the query endpoint,
// health and stats probes, and the Prometheus scrape target.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/archrag/archrag/internal/config"
	"github.com/archrag/archrag/internal/query"
	"github.com/archrag/archrag/internal/telemetry"
)

// Coordinator answers queries. *query.Coordinator satisfies this.
type Coordinator interface {
	Query(ctx context.Context, req *query.Request) (*query.AnswerResult, error)
}

// HealthFunc reports component readiness (index counts, embedder
// availability) for the health probe. May be nil.
type HealthFunc func(ctx context.Context) map[string]any

// Server is the HTTP front end.
type Server struct {
	coord  Coordinator
	stats  *telemetry.QueryStats
	reg    *prometheus.Registry
	health HealthFunc
	logger *slog.Logger

	httpServer *http.Server
}

// New assembles the server. stats, reg, and health may be nil, disabling
// the stats endpoint, metrics endpoint, and health detail respectively.
func New(cfg config.ServerConfig, coord Coordinator, stats *telemetry.QueryStats, reg *prometheus.Registry, health HealthFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		coord:  coord,
		stats:  stats,
		reg:    reg,
		health: health,
		logger: logger,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route tree. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)
	if s.reg != nil {
		r.Get("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}).ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Get("/stats", s.handleStats)
	})
	return r
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
