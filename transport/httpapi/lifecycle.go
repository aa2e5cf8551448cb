package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// lifecycleHandler adapts a lifecycle manager operation into an HTTP handler.
// All lifecycle operations share the same surface: component id in the path,
// no body, state report in the response.
func (s *Server) lifecycleHandler(name string, op func(ctx context.Context, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := op(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}

		extra := map[string]interface{}{"component_id": id}
		if c, err := s.reg.GetComponent(id); err == nil {
			extra["state"] = c.State
		}
		respond(w, http.StatusOK, "component "+name+" completed", extra)
	}
}

// handleStateHistory returns a component's transition history.
//
// GET /api/v1/components/{id}/history
func (s *Server) handleStateHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	history, err := s.lc.StateHistory(id)
	if err != nil {
		writeError(w, err)
		return
	}

	respond(w, http.StatusOK, "state history", map[string]interface{}{
		"history": history,
		"count":   len(history),
	})
}

// handleErrorLog returns a component's recorded lifecycle failures.
//
// GET /api/v1/components/{id}/errors
func (s *Server) handleErrorLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	errorLog := s.lc.ErrorLog(id)
	respond(w, http.StatusOK, "error log", map[string]interface{}{
		"errors":            errorLog,
		"count":             len(errorLog),
		"recovery_attempts": s.lc.RecoveryAttempts(id),
	})
}
