// Package server implements the lakeloader HTTP status server.
package server

import (
	"context"
	"expvar"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dwsmith1983/lakeloader/internal/provider"
	"github.com/dwsmith1983/lakeloader/internal/server/handlers"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// DefaultMaxRequestBody bounds request bodies when the config leaves it unset.
const DefaultMaxRequestBody = 1 << 20

// Server is the lakeloader HTTP API server.
type Server struct {
	handlers *handlers.Handlers
	router   chi.Router
	addr     string
	srv      *http.Server
	logger   *slog.Logger
}

// New creates a new HTTP server. launch may be nil for a read-only server.
func New(addr string, graph *types.PipelineGraph, store provider.RunStore, launch handlers.Launcher, apiKey string, maxBody int64) *Server {
	if maxBody <= 0 {
		maxBody = DefaultMaxRequestBody
	}
	s := &Server{
		handlers: handlers.New(graph, store, launch),
		addr:     addr,
		logger:   slog.Default(),
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(APIKeyMiddleware(apiKey))
	r.Use(MaxBodyMiddleware(maxBody))

	s.router = r
	s.registerRoutes(r)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// SetLogger replaces the default logger.
func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l
	s.handlers.SetLogger(l)
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("lakeloader server listening", "addr", s.addr)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) registerRoutes(r chi.Router) {
	h := s.handlers

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		r.Get("/health", h.Health)
		r.Get("/graph", h.Graph)

		r.Get("/runs", h.ListRuns)
		r.Post("/runs", h.StartRun)
		r.Get("/runs/latest/{workflow}", h.LatestRun)
		r.Get("/runs/{runID}", h.GetRun)
	})

	r.Handle("/debug/vars", expvar.Handler())
}
