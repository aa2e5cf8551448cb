package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/c0deZ3R0/go-registry-kit/registry"
)

// handleCreateSnapshot captures a snapshot of the named components, or of the
// whole registry when component_ids is empty.
//
// POST /api/v1/snapshots
// Body: {"name": "...", "description": "...", "component_ids": [...]}
func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req registry.SnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	snap, err := s.reg.CreateSnapshot(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	respond(w, http.StatusCreated, "snapshot created", map[string]interface{}{
		"snapshot": snap,
	})
}

// handleListSnapshots returns snapshot summaries, newest first.
//
// GET /api/v1/snapshots
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps := s.reg.ListSnapshots()
	respond(w, http.StatusOK, "snapshots listed", map[string]interface{}{
		"snapshots": snaps,
		"count":     len(snaps),
	})
}

// handleGetSnapshot returns one snapshot with its captured components.
//
// GET /api/v1/snapshots/{id}
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.reg.GetSnapshot(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	respond(w, http.StatusOK, "snapshot", map[string]interface{}{
		"snapshot": snap,
	})
}

// handleRestoreSnapshot restores components from a snapshot, optionally
// limited to a subset of ids.
//
// POST /api/v1/snapshots/{id}/restore
// Body: {"component_ids": [...]} (optional)
func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		ComponentIDs []string `json:"component_ids,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}

	restored, err := s.reg.RestoreSnapshot(r.Context(), id, body.ComponentIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	respond(w, http.StatusOK, "snapshot restored", map[string]interface{}{
		"restored": restored,
		"count":    len(restored),
	})
}
