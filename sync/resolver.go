package sync

import (
	"context"
	"fmt"
	"time"

	regErrors "github.com/c0deZ3R0/go-registry-kit/errors"
	"github.com/c0deZ3R0/go-registry-kit/registry"
)

// Policy selects the global conflict resolution behavior.
type Policy string

const (
	// PolicyAuto dispatches each conflict to the resolver registered for
	// its type; a missing resolver or a resolver error fails the component.
	PolicyAuto Policy = "auto"

	// PolicyLastWriterWins adopts the most recently modified side. Always
	// succeeds.
	PolicyLastWriterWins Policy = "last-writer-wins"

	// PolicyManual parks conflicts for an external caller to resolve.
	PolicyManual Policy = "manual"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	switch p {
	case PolicyAuto, PolicyLastWriterWins, PolicyManual:
		return true
	}
	return false
}

// Resolution is a resolver's verdict for one conflict.
type Resolution struct {
	ConflictID string              `json:"conflict_id"`
	Winner     string              `json:"winner"` // "local" or "remote"
	Component  *registry.Component `json:"component"`
	Strategy   string              `json:"strategy"`
	ResolvedAt time.Time           `json:"resolved_at"`
}

// Resolver resolves conflicts of a single type under the auto policy.
type Resolver interface {
	Resolve(ctx context.Context, conflict Conflict) (*Resolution, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, conflict Conflict) (*Resolution, error)

func (f ResolverFunc) Resolve(ctx context.Context, conflict Conflict) (*Resolution, error) {
	return f(ctx, conflict)
}

// LastWriterWins resolves any conflict by adopting the side with the later
// modification timestamp. Ties go to local.
func LastWriterWins() Resolver {
	return ResolverFunc(func(ctx context.Context, c Conflict) (*Resolution, error) {
		res := &Resolution{
			ConflictID: c.ID,
			Strategy:   string(PolicyLastWriterWins),
			ResolvedAt: time.Now(),
		}
		if c.RemoteModifiedAt.After(c.LocalModifiedAt) {
			res.Winner = "remote"
			res.Component = c.Remote.Clone()
		} else {
			res.Winner = "local"
			res.Component = c.Local.Clone()
		}
		return res, nil
	})
}

// PreferLocal resolves any conflict by keeping the proposed local state.
// It is the default auto resolver for state mismatches: the registry is the
// source of truth, so a plain divergence pushes local forward.
func PreferLocal() Resolver {
	return ResolverFunc(func(ctx context.Context, c Conflict) (*Resolution, error) {
		return &Resolution{
			ConflictID: c.ID,
			Winner:     "local",
			Component:  c.Local.Clone(),
			Strategy:   "prefer_local",
			ResolvedAt: time.Now(),
		}, nil
	})
}

// RegisterResolver binds a resolver to a conflict type for the auto policy,
// replacing any previous binding.
func (m *Manager) RegisterResolver(t ConflictType, r Resolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolvers[t] = r
}

// resolverFor returns the resolver for a conflict type, or nil.
func (m *Manager) resolverFor(t ConflictType) Resolver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolvers[t]
}

// PendingConflict is a manually-parked conflict awaiting an external
// resolution.
type PendingConflict struct {
	Conflict Conflict  `json:"conflict"`
	ParkedAt time.Time `json:"parked_at"`
}

// PendingConflicts returns parked manual conflicts, optionally filtered by
// component id (empty id means all).
func (m *Manager) PendingConflicts(componentID string) []PendingConflict {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []PendingConflict
	for _, p := range m.pending {
		if componentID == "" || p.Conflict.ComponentID == componentID {
			out = append(out, p)
		}
	}
	return out
}

// ResolveManual supplies the external verdict for a parked conflict. winner
// is "local" or "remote". The adopted state is written back to the registry
// when the remote side wins, so a future sync attempt proceeds cleanly.
func (m *Manager) ResolveManual(ctx context.Context, conflictID, winner string) error {
	if winner != "local" && winner != "remote" {
		return regErrors.NewValidation(regErrors.OpConflictResolve,
			fmt.Errorf("winner must be %q or %q, got %q", "local", "remote", winner))
	}

	m.mu.Lock()
	p, ok := m.pending[conflictID]
	if ok {
		delete(m.pending, conflictID)
	}
	m.mu.Unlock()
	if !ok {
		return &regErrors.RegistryError{
			Code: regErrors.CodeNotFound,
			Op:   regErrors.OpConflictResolve,
			Err:  fmt.Errorf("no pending conflict %q", conflictID),
		}
	}

	if winner == "remote" {
		if err := m.adoptRemote(ctx, p.Conflict); err != nil {
			return err
		}
	}

	m.logger.Info("manual conflict resolved",
		"conflict_id", conflictID,
		"component_id", p.Conflict.ComponentID,
		"winner", winner)
	m.metrics.RecordConflicts(0, 1)

	m.broadcast(Notification{
		Type:        "conflict_resolved",
		ComponentID: p.Conflict.ComponentID,
		Payload: map[string]interface{}{
			"conflict_id": conflictID,
			"winner":      winner,
		},
		Timestamp: time.Now(),
	})
	return nil
}

// adoptRemote overwrites the registry's component fields with the remote
// side of a conflict.
func (m *Manager) adoptRemote(ctx context.Context, c Conflict) error {
	if c.Remote == nil {
		return fmt.Errorf("conflict %s has no remote state", c.ID)
	}
	return m.writeBack(ctx, c.ComponentID, c.Remote)
}

// writeBack overwrites a registry component's fields with an adopted state.
func (m *Manager) writeBack(ctx context.Context, id string, src *registry.Component) error {
	req := registry.UpdateRequest{
		Name:         &src.Name,
		Description:  &src.Description,
		Dependencies: src.Dependencies,
		Tags:         src.Tags,
		Config:       src.Config,
		API:          src.API,
		Metadata:     src.Metadata,
		NewVersion:   src.Version,
	}
	_, err := m.reg.Update(ctx, id, req)
	return err
}

// parkManual stores a conflict for manual resolution and broadcasts it.
func (m *Manager) parkManual(c Conflict) {
	m.mu.Lock()
	m.pending[c.ID] = PendingConflict{Conflict: c, ParkedAt: time.Now()}
	m.mu.Unlock()

	m.broadcast(Notification{
		Type:        "conflict_detected",
		ComponentID: c.ComponentID,
		Payload: map[string]interface{}{
			"conflict": c,
			"pending":  true,
		},
		Timestamp: time.Now(),
	})
}

// gcPending drops parked conflicts older than the retention window.
func (m *Manager) gcPending() {
	cutoff := time.Now().Add(-m.opts.ManualRetention)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.pending {
		if p.ParkedAt.Before(cutoff) {
			delete(m.pending, id)
			m.logger.Warn("garbage-collected unresolved manual conflict",
				"conflict_id", id,
				"component_id", p.Conflict.ComponentID)
		}
	}
}

// resolveConflicts applies the configured policy to a component's detected
// conflicts. It returns the state to push (nil means keep the proposed
// state), the resolutions applied, and an error when resolution fails or is
// parked for manual handling.
func (m *Manager) resolveConflicts(ctx context.Context, proposed *registry.Component, conflicts []Conflict) (*registry.Component, []Resolution, error) {
	if len(conflicts) == 0 {
		return nil, nil, nil
	}

	switch m.opts.Policy {
	case PolicyLastWriterWins:
		lww := LastWriterWins()
		var adopted *registry.Component
		resolutions := make([]Resolution, 0, len(conflicts))
		for _, c := range conflicts {
			res, _ := lww.Resolve(ctx, c)
			resolutions = append(resolutions, *res)
			if res.Winner == "remote" {
				adopted = res.Component
			}
		}
		m.metrics.RecordConflicts(len(conflicts), len(conflicts))
		return adopted, resolutions, nil

	case PolicyManual:
		for _, c := range conflicts {
			m.parkManual(c)
		}
		m.metrics.RecordConflicts(len(conflicts), 0)
		return nil, nil, errPendingManual

	default: // PolicyAuto
		var adopted *registry.Component
		resolutions := make([]Resolution, 0, len(conflicts))
		for _, c := range conflicts {
			r := m.resolverFor(c.Type)
			if r == nil {
				m.metrics.RecordConflicts(len(conflicts), len(resolutions))
				return nil, resolutions, fmt.Errorf("no resolver registered for conflict type %q", c.Type)
			}
			res, err := r.Resolve(ctx, c)
			if err != nil {
				m.metrics.RecordConflicts(len(conflicts), len(resolutions))
				return nil, resolutions, fmt.Errorf("resolver for %q failed: %w", c.Type, err)
			}
			resolutions = append(resolutions, *res)
			if res.Winner == "remote" && res.Component != nil {
				adopted = res.Component
			}
		}
		m.metrics.RecordConflicts(len(conflicts), len(resolutions))
		return adopted, resolutions, nil
	}
}
