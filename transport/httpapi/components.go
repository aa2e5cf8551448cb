package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/c0deZ3R0/go-registry-kit/registry"
)

// handleRegister registers a new component.
//
// POST /api/v1/components
// Body: Component JSON
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var c registry.Component
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	registered, err := s.lc.RegisterComponent(r.Context(), &c)
	if err != nil {
		writeError(w, err)
		return
	}

	respond(w, http.StatusCreated, "component registered", map[string]interface{}{
		"component": registered,
	})
}

// handleListComponents lists components matching the query filters.
//
// GET /api/v1/components?type=&application=&tag=&state=&search=&sort_by=&order=
func (s *Server) handleListComponents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	state := registry.State(q.Get("state"))
	if state != "" && !state.Valid() {
		writeBadRequest(w, "unknown state: "+string(state))
		return
	}

	components := s.reg.List(registry.ListOptions{
		Filter: registry.Filter{
			Type:        q.Get("type"),
			Application: q.Get("application"),
			Tags:        q["tag"],
			State:       state,
			Search:      q.Get("search"),
		},
		SortBy: registry.SortBy(q.Get("sort_by")),
		Order:  registry.SortOrder(q.Get("order")),
	})

	respond(w, http.StatusOK, "components listed", map[string]interface{}{
		"components": components,
		"count":      len(components),
	})
}

// handleGetComponent returns a component's state report.
//
// GET /api/v1/components/{id}?include_metadata=true
func (s *Server) handleGetComponent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	includeMetadata := r.URL.Query().Get("include_metadata") == "true"

	state, err := s.reg.GetState(id, includeMetadata)
	if err != nil {
		writeError(w, err)
		return
	}

	respond(w, http.StatusOK, "component state", map[string]interface{}{
		"state": state,
	})
}

// handleUpdate applies a partial update.
//
// PATCH /api/v1/components/{id}
// Body: UpdateRequest JSON
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req registry.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	updated, err := s.reg.Update(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}

	respond(w, http.StatusOK, "component updated", map[string]interface{}{
		"component": updated,
	})
}

// handleUnregister removes a component directly from the registry, without
// walking the lifecycle state machine. Fails while dependents remain.
//
// DELETE /api/v1/components/{id}
func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.reg.Unregister(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	respond(w, http.StatusOK, "component unregistered", nil)
}

// handleRollback restores a component to a retained version.
//
// POST /api/v1/components/{id}/rollback
// Body: {"target_version": "2"}
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		TargetVersion string `json:"target_version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.TargetVersion == "" {
		writeBadRequest(w, "target_version is required")
		return
	}

	rolled, err := s.reg.Rollback(r.Context(), id, body.TargetVersion)
	if err != nil {
		writeError(w, err)
		return
	}

	respond(w, http.StatusOK, "component rolled back", map[string]interface{}{
		"component": rolled,
	})
}

// handleVersionHistory returns the retained version records.
//
// GET /api/v1/components/{id}/versions
func (s *Server) handleVersionHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	versions, err := s.reg.VersionHistory(id)
	if err != nil {
		writeError(w, err)
		return
	}

	respond(w, http.StatusOK, "version history", map[string]interface{}{
		"versions": versions,
		"count":    len(versions),
	})
}

// handleExport returns the full registry export.
//
// GET /api/v1/export
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, "registry exported", map[string]interface{}{
		"export": s.reg.ExportRegistry(),
	})
}
