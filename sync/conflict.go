package sync

import (
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/c0deZ3R0/go-registry-kit/registry"
)

// ConflictType classifies detected conflicts.
type ConflictType string

const (
	// ConflictStateMismatch is a structural difference between the proposed
	// state and a target's known view.
	ConflictStateMismatch ConflictType = "state_mismatch"

	// ConflictConcurrentModification means both sides wrote since the last
	// synchronized checkpoint.
	ConflictConcurrentModification ConflictType = "concurrent_modification"
)

// Severity buckets a conflict by impact.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// severityFor maps the differing-field count of a state mismatch onto a
// severity bucket. Zero fields is not a conflict at all.
func severityFor(fields int) Severity {
	switch {
	case fields <= 2:
		return SeverityLow
	case fields <= 5:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// Conflict is one detected divergence between the proposed local state and a
// target application's view of the same component.
type Conflict struct {
	ID                string              `json:"id"`
	Type              ConflictType        `json:"type"`
	ComponentID       string              `json:"component_id"`
	TargetApplication string              `json:"target_application"`
	Severity          Severity            `json:"severity"`
	Fields            []string            `json:"fields,omitempty"`
	Local             *registry.Component `json:"local"`
	Remote            *registry.Component `json:"remote"`
	LocalModifiedAt   time.Time           `json:"local_modified_at"`
	RemoteModifiedAt  time.Time           `json:"remote_modified_at"`
	DetectedAt        time.Time           `json:"detected_at"`
}

// diffFields returns the names of top-level component fields whose values
// differ. Identity and bookkeeping fields are excluded.
func diffFields(local, remote *registry.Component) []string {
	var fields []string
	if local.Name != remote.Name {
		fields = append(fields, "name")
	}
	if local.Type != remote.Type {
		fields = append(fields, "type")
	}
	if local.Description != remote.Description {
		fields = append(fields, "description")
	}
	if local.Version != remote.Version {
		fields = append(fields, "version")
	}
	if local.Application != remote.Application {
		fields = append(fields, "application")
	}
	if local.State != remote.State {
		fields = append(fields, "state")
	}
	if !reflect.DeepEqual(local.Dependencies, remote.Dependencies) {
		fields = append(fields, "dependencies")
	}
	if !reflect.DeepEqual(local.Tags, remote.Tags) {
		fields = append(fields, "tags")
	}
	if !reflect.DeepEqual(local.Config, remote.Config) {
		fields = append(fields, "config")
	}
	if !reflect.DeepEqual(local.API, remote.API) {
		fields = append(fields, "api")
	}
	if !reflect.DeepEqual(local.Metadata, remote.Metadata) {
		fields = append(fields, "metadata")
	}
	return fields
}

// detectConflicts compares the proposed component against one target's view.
// checkpoint is the last successful sync for the (component, target) pair;
// the zero time means never synced.
func detectConflicts(proposed *registry.Component, app string, view *View, checkpoint time.Time) []Conflict {
	if view == nil || view.Component == nil {
		// Target has never seen the component; nothing to conflict with.
		return nil
	}

	var conflicts []Conflict
	now := time.Now()

	if fields := diffFields(proposed, view.Component); len(fields) > 0 {
		conflicts = append(conflicts, Conflict{
			ID:                uuid.NewString(),
			Type:              ConflictStateMismatch,
			ComponentID:       proposed.ID,
			TargetApplication: app,
			Severity:          severityFor(len(fields)),
			Fields:            fields,
			Local:             proposed.Clone(),
			Remote:            view.Component.Clone(),
			LocalModifiedAt:   proposed.UpdatedAt,
			RemoteModifiedAt:  view.ModifiedAt,
			DetectedAt:        now,
		})
	}

	// Both sides wrote since the checkpoint.
	if !checkpoint.IsZero() &&
		proposed.UpdatedAt.After(checkpoint) && view.ModifiedAt.After(checkpoint) {
		conflicts = append(conflicts, Conflict{
			ID:                uuid.NewString(),
			Type:              ConflictConcurrentModification,
			ComponentID:       proposed.ID,
			TargetApplication: app,
			Severity:          SeverityHigh,
			Local:             proposed.Clone(),
			Remote:            view.Component.Clone(),
			LocalModifiedAt:   proposed.UpdatedAt,
			RemoteModifiedAt:  view.ModifiedAt,
			DetectedAt:        now,
		})
	}

	return conflicts
}
