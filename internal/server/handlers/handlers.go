// Package handlers implements HTTP request handlers for the lakeloader API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/dwsmith1983/lakeloader/internal/provider"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// Launcher starts a full run of the workflow and blocks until it finishes.
type Launcher func(ctx context.Context, skip []string) (*types.RunRecord, error)

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	graph   *types.PipelineGraph
	store   provider.RunStore
	launch  Launcher
	running atomic.Bool
	logger  *slog.Logger
}

// New creates a new Handlers instance. launch may be nil, which disables
// POST /api/runs.
func New(graph *types.PipelineGraph, store provider.RunStore, launch Launcher) *Handlers {
	return &Handlers{
		graph:  graph,
		store:  store,
		launch: launch,
		logger: slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
