package handlers

import (
	"encoding/json"
	"net/http"
)

// Health returns the server health status.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("run store ping failed", "error", err)
		status = "degraded"
	}

	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":   status,
		"workflow": h.graph.Name,
	}); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
}

// Graph returns the workflow graph.
func (h *Handlers) Graph(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(h.graph)
}
