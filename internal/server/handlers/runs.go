package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/lakeloader/pkg/types"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
)

// ListRuns returns recent runs of a workflow, defaulting to the served one.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	workflow := r.URL.Query().Get("workflow")
	if workflow == "" {
		workflow = h.graph.Name
	}
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRunLimit {
			h.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500", nil)
			return
		}
		limit = n
	}

	runs, err := h.store.ListRuns(r.Context(), workflow, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []types.RunRecord{}
	}
	_ = json.NewEncoder(w).Encode(runs)
}

// RunDetail is a run together with every recorded step attempt.
type RunDetail struct {
	Run   *types.RunRecord `json:"run"`
	Steps []types.StepRun  `json:"steps"`
}

// GetRun returns a single run and its step attempts.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load run", err)
		return
	}
	if run == nil {
		h.writeError(w, http.StatusNotFound, "run not found", nil)
		return
	}
	steps, err := h.store.ListStepRuns(r.Context(), runID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load steps", err)
		return
	}
	if steps == nil {
		steps = []types.StepRun{}
	}
	_ = json.NewEncoder(w).Encode(RunDetail{Run: run, Steps: steps})
}

// LatestRun returns the most recent run of a workflow, which is what an
// upstream sensor observes.
func (h *Handlers) LatestRun(w http.ResponseWriter, r *http.Request) {
	workflow := chi.URLParam(r, "workflow")
	run, err := h.store.LatestRun(r.Context(), workflow)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load run", err)
		return
	}
	if run == nil {
		h.writeError(w, http.StatusNotFound, "workflow has never run", nil)
		return
	}
	_ = json.NewEncoder(w).Encode(run)
}

type startRequest struct {
	Skip []string `json:"skip,omitempty"`
}

// StartRun launches a run in the background. Only one run may be in flight.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	if h.launch == nil {
		h.writeError(w, http.StatusNotImplemented, "runs cannot be started from this server", nil)
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	for _, id := range req.Skip {
		if _, ok := h.graph.Node(id); !ok {
			h.writeError(w, http.StatusBadRequest, "unknown node in skip list: "+id, nil)
			return
		}
	}

	if !h.running.CompareAndSwap(false, true) {
		h.writeError(w, http.StatusConflict, "a run is already in progress", nil)
		return
	}
	go func() {
		defer h.running.Store(false)
		run, err := h.launch(context.WithoutCancel(r.Context()), req.Skip)
		if err != nil {
			h.logger.Error("run failed to start", "workflow", h.graph.Name, "error", err)
			return
		}
		if run == nil {
			return
		}
		h.logger.Info("run finished", "workflow", h.graph.Name, "runId", run.RunID, "status", run.Status)
	}()

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "started", "workflow": h.graph.Name})
}
