package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/visgate-ai/deploy-orchestrator/internal/store"
)

const ssePollInterval = 2 * time.Second

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSEEvent(w http.ResponseWriter, event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return false
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return true
}

// handleStreamStatus serves GET /v1/deployments/{id}/stream: one status
// event each time the deployment's status field changes, terminating once a
// terminal status is reached or the client disconnects.
func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.loadOwned(r, id); err != nil {
		writeAPIError(w, err)
		return
	}

	sseHeaders(w)
	ctx := r.Context()
	ticker := time.NewTicker(ssePollInterval)
	defer ticker.Stop()

	var lastStatus string
	for {
		dep, err := s.store.Get(ctx, id)
		if err != nil || dep == nil {
			return
		}
		if dep.Status != lastStatus {
			lastStatus = dep.Status
			if !writeSSEEvent(w, "status", toDeploymentResponse(dep)) {
				return
			}
			if store.IsTerminal(dep.Status) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// handleStreamLogs serves GET /v1/deployments/{id}/logs/stream: live log
// lines tailed from the process-local ring buffer.
func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dep, err := s.loadOwned(r, id)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	sseHeaders(w)
	ctx := r.Context()
	ticker := time.NewTicker(ssePollInterval)
	defer ticker.Stop()

	since := time.Time{}
	if store.IsTerminal(dep.Status) {
		for _, entry := range s.logs.Since(id, since) {
			if !writeSSEEvent(w, "log", entry) {
				return
			}
		}
		return
	}
	for {
		for _, entry := range s.logs.Since(id, since) {
			if !writeSSEEvent(w, "log", entry) {
				return
			}
			since = entry.Timestamp
		}

		current, err := s.store.Get(ctx, id)
		if err != nil || current == nil {
			return
		}
		if store.IsTerminal(current.Status) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
