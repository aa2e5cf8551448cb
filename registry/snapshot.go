package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	regErrors "github.com/c0deZ3R0/go-registry-kit/errors"
)

// SnapshotComponent is one component's captured state inside a snapshot,
// together with the version tag it carried at capture time.
type SnapshotComponent struct {
	Component       *Component `json:"component"`
	SnapshotVersion string     `json:"snapshot_version"`
}

// Snapshot is an immutable, named, point-in-time copy of one or more
// components, used for backup and bulk restore. Independent of version
// record lifetime.
type Snapshot struct {
	ID          string                        `json:"id"`
	Name        string                        `json:"name"`
	Description string                        `json:"description,omitempty"`
	CreatedAt   time.Time                     `json:"created_at"`
	Automatic   bool                          `json:"automatic"`
	Components  map[string]*SnapshotComponent `json:"components"`
}

func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		CreatedAt:   s.CreatedAt,
		Automatic:   s.Automatic,
		Components:  make(map[string]*SnapshotComponent, len(s.Components)),
	}
	for id, sc := range s.Components {
		out.Components[id] = &SnapshotComponent{
			Component:       sc.Component.Clone(),
			SnapshotVersion: sc.SnapshotVersion,
		}
	}
	return out
}

// SnapshotRequest names the components to capture. An empty ComponentIDs
// captures every registered component.
type SnapshotRequest struct {
	ComponentIDs []string `json:"component_ids,omitempty"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
}

// CreateSnapshot captures a deep, independent copy of each selected
// component under a generated snapshot id.
func (r *Registry) CreateSnapshot(ctx context.Context, req SnapshotRequest) (*Snapshot, error) {
	start := time.Now()
	var opErr error
	defer func() {
		r.metrics.RecordOperation("create_snapshot", time.Since(start), nil, opErr)
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.createSnapshotLocked(ctx, req.ComponentIDs, req.Name, req.Description, false)
	if err != nil {
		opErr = err
		return nil, err
	}

	r.logger.Info("snapshot created",
		"snapshot_id", snap.ID,
		"name", snap.Name,
		"component_count", len(snap.Components))

	r.bus.publish(Event{
		Type:       EventSnapshotCreated,
		SnapshotID: snap.ID,
		Timestamp:  snap.CreatedAt,
	})
	return snap.clone(), nil
}

// createSnapshotLocked is the shared capture path for explicit snapshots and
// the automatic backup-before-mutate snapshots. Caller holds r.mu.
func (r *Registry) createSnapshotLocked(ctx context.Context, componentIDs []string, name, description string, automatic bool) (*Snapshot, error) {
	ids := componentIDs
	if len(ids) == 0 {
		ids = make([]string, 0, len(r.components))
		for id := range r.components {
			ids = append(ids, id)
		}
	}

	captured := make(map[string]*SnapshotComponent)
	for _, id := range ids {
		if c, ok := r.components[id]; ok {
			captured[id] = &SnapshotComponent{
				Component:       c.Clone(),
				SnapshotVersion: c.Version,
			}
		}
	}
	if len(captured) == 0 {
		return nil, &regErrors.RegistryError{
			Code: regErrors.CodeNoComponentsFound,
			Op:   regErrors.OpSnapshot,
			Err:  fmt.Errorf("no components matched the snapshot request"),
		}
	}

	snap := &Snapshot{
		ID:          "snap-" + uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now(),
		Automatic:   automatic,
		Components:  captured,
	}
	r.snapshots[snap.ID] = snap
	r.snapOrder = append(r.snapOrder, snap.ID)

	if r.opts.Backup != nil {
		if err := r.opts.Backup.SaveSnapshot(ctx, snap); err != nil {
			r.logger.Warn("failed to persist snapshot",
				"snapshot_id", snap.ID,
				"error", err)
		}
	}
	return snap, nil
}

// RestoreSnapshot overwrites live components with the snapshot's copies,
// taking a pre-restore backup of any live component being replaced. When
// componentIDs is non-empty only that subset is restored.
func (r *Registry) RestoreSnapshot(ctx context.Context, snapshotID string, componentIDs []string) ([]string, error) {
	start := time.Now()
	var opErr error
	defer func() {
		r.metrics.RecordOperation("restore_snapshot", time.Since(start), nil, opErr)
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	snap, exists := r.snapshots[snapshotID]
	if !exists {
		opErr = &regErrors.RegistryError{
			Code: regErrors.CodeSnapshotNotFound,
			Op:   regErrors.OpRestore,
			Err:  fmt.Errorf("snapshot %q not found", snapshotID),
		}
		return nil, opErr
	}

	selected := componentIDs
	if len(selected) == 0 {
		selected = make([]string, 0, len(snap.Components))
		for id := range snap.Components {
			selected = append(selected, id)
		}
	}

	var restored []string
	for _, id := range selected {
		sc, ok := snap.Components[id]
		if !ok {
			continue
		}

		if live, alive := r.components[id]; alive {
			if _, err := r.createSnapshotLocked(ctx, []string{id},
				fmt.Sprintf("pre-restore-%s", id),
				fmt.Sprintf("automatic snapshot before restoring %s from %s", id, snapshotID), true); err != nil {
				r.logger.Warn("pre-restore snapshot failed", "component_id", id, "error", err)
			}
			r.unindexComponent(live)
		}

		incoming := sc.Component.Clone()
		incoming.UpdatedAt = time.Now()
		r.components[id] = incoming
		r.indexComponent(incoming)
		r.cacheSet(incoming)
		restored = append(restored, id)
	}
	sort.Strings(restored)
	r.updatedAt = time.Now()

	r.logger.Info("snapshot restored",
		"snapshot_id", snapshotID,
		"restored_count", len(restored))

	r.bus.publish(Event{
		Type:       EventSnapshotRestored,
		SnapshotID: snapshotID,
		Timestamp:  r.updatedAt,
	})
	return restored, nil
}

// SnapshotInfo is a read-only listing entry.
type SnapshotInfo struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Automatic      bool      `json:"automatic"`
	ComponentCount int       `json:"component_count"`
}

// ListSnapshots returns snapshot metadata in creation order.
func (r *Registry) ListSnapshots() []SnapshotInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SnapshotInfo, 0, len(r.snapOrder))
	for _, id := range r.snapOrder {
		snap, ok := r.snapshots[id]
		if !ok {
			continue
		}
		out = append(out, SnapshotInfo{
			ID:             snap.ID,
			Name:           snap.Name,
			Description:    snap.Description,
			CreatedAt:      snap.CreatedAt,
			Automatic:      snap.Automatic,
			ComponentCount: len(snap.Components),
		})
	}
	return out
}

// GetSnapshot returns a deep copy of one snapshot.
func (r *Registry) GetSnapshot(snapshotID string) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap, exists := r.snapshots[snapshotID]
	if !exists {
		return nil, &regErrors.RegistryError{
			Code: regErrors.CodeSnapshotNotFound,
			Op:   regErrors.OpRestore,
			Err:  fmt.Errorf("snapshot %q not found", snapshotID),
		}
	}
	return snap.clone(), nil
}
