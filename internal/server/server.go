// Package server provides the HTTP API for casefind.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/casefind/internal/config"
	"github.com/hyperjump/casefind/internal/models"
	"github.com/hyperjump/casefind/internal/observability"
)

// MaxImageBytes caps the size of an uploaded query image.
const MaxImageBytes = 32 << 20

// Searcher is the query surface the server exposes. *search.Engine implements it.
type Searcher interface {
	SearchByText(ctx context.Context, query string, k int) ([]models.ImageHit, error)
	SearchByImage(ctx context.Context, data []byte, k int) ([]models.RecordHit, error)
	SearchByTextAlternateModel(ctx context.Context, query string, k int) ([]models.RecordHit, error)
}

// Server is the HTTP server for the casefind API.
type Server struct {
	engine Searcher
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(engine Searcher, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine: engine,
		config: cfg,
		logger: logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.MetricsMiddleware)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1/search", func(r chi.Router) {
		r.Post("/text", s.handleSearchText)
		r.Post("/image", s.handleSearchImage)
		r.Post("/text-alt", s.handleSearchTextAlt)
	})
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
