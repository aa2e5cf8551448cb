package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	syncmgr "github.com/c0deZ3R0/go-registry-kit/sync"
)

// handleSync starts (or queues) a sync operation.
//
// POST /api/v1/sync
// Body: {"component_ids": [...], "target_applications": [...], "mode": "full",
//        "priority": 0, "force": false}
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncmgr.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	op, err := s.sync.Sync(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	respond(w, http.StatusAccepted, "sync operation accepted", map[string]interface{}{
		"operation": op,
	})
}

// handleGetOperation returns one sync operation by id, searching active
// operations, history and the queue.
//
// GET /api/v1/sync/operations/{id}
func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := s.sync.GetOperation(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	respond(w, http.StatusOK, "sync operation", map[string]interface{}{
		"operation": op,
	})
}

// handleActiveOperations returns currently running sync operations.
//
// GET /api/v1/sync/operations
func (s *Server) handleActiveOperations(w http.ResponseWriter, r *http.Request) {
	ops := s.sync.ActiveOperations()
	respond(w, http.StatusOK, "active operations", map[string]interface{}{
		"operations": ops,
		"count":      len(ops),
	})
}

// handleSyncHistory returns finished operations, newest first.
//
// GET /api/v1/sync/history
func (s *Server) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	ops := s.sync.History()
	respond(w, http.StatusOK, "sync history", map[string]interface{}{
		"operations": ops,
		"count":      len(ops),
	})
}

// handleQueueDepth returns the number of queued operations.
//
// GET /api/v1/sync/queue
func (s *Server) handleQueueDepth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, "queue depth", map[string]interface{}{
		"depth": s.sync.QueueDepth(),
	})
}

// handleAnalytics returns per-component-per-target sync tallies.
//
// GET /api/v1/sync/analytics?component_id=
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics := s.sync.GetAnalytics(r.URL.Query().Get("component_id"))
	respond(w, http.StatusOK, "sync analytics", map[string]interface{}{
		"analytics": analytics,
		"count":     len(analytics),
	})
}

// handlePendingConflicts returns conflicts parked for manual resolution.
//
// GET /api/v1/sync/conflicts?component_id=
func (s *Server) handlePendingConflicts(w http.ResponseWriter, r *http.Request) {
	pending := s.sync.PendingConflicts(r.URL.Query().Get("component_id"))
	respond(w, http.StatusOK, "pending conflicts", map[string]interface{}{
		"conflicts": pending,
		"count":     len(pending),
	})
}

// handleResolveConflict resolves a parked conflict.
//
// POST /api/v1/sync/conflicts/{id}/resolve
// Body: {"winner": "local" | "remote"}
func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Winner string `json:"winner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.sync.ResolveManual(r.Context(), id, body.Winner); err != nil {
		writeError(w, err)
		return
	}

	respond(w, http.StatusOK, "conflict resolved", map[string]interface{}{
		"conflict_id": id,
		"winner":      body.Winner,
	})
}

// handleLastSync returns the last successful sync checkpoint for a component.
//
// GET /api/v1/components/{id}/last-sync
func (s *Server) handleLastSync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	at, ok := s.sync.LastSync(id)
	extra := map[string]interface{}{
		"component_id": id,
		"synced":       ok,
	}
	if ok {
		extra["last_synced_at"] = at
	}
	respond(w, http.StatusOK, "last sync", extra)
}
