package sync

import (
	"context"
	"testing"
	"time"

	"github.com/c0deZ3R0/go-registry-kit/registry"
)

func baseComponent() *registry.Component {
	return &registry.Component{
		ID:          "comp-1",
		Name:        "Component One",
		Type:        "service",
		Version:     "1",
		Application: "app-a",
		State:       registry.StateActive,
		Config:      map[string]interface{}{"key": "value"},
		UpdatedAt:   time.Now(),
	}
}

func TestSeverityBuckets(t *testing.T) {
	tests := []struct {
		fields int
		want   Severity
	}{
		{1, SeverityLow},
		{2, SeverityLow},
		{3, SeverityMedium},
		{5, SeverityMedium},
		{6, SeverityHigh},
		{11, SeverityHigh},
	}
	for _, tt := range tests {
		if got := severityFor(tt.fields); got != tt.want {
			t.Errorf("severityFor(%d) = %s, want %s", tt.fields, got, tt.want)
		}
	}
}

func TestDiffFields(t *testing.T) {
	local := baseComponent()
	remote := local.Clone()
	if got := diffFields(local, remote); len(got) != 0 {
		t.Fatalf("identical components differ: %v", got)
	}

	remote.Name = "Renamed"
	remote.Version = "2"
	remote.Config = map[string]interface{}{"key": "other"}
	got := diffFields(local, remote)
	if len(got) != 3 {
		t.Fatalf("diffFields = %v, want 3 fields", got)
	}
	want := map[string]bool{"name": true, "version": true, "config": true}
	for _, f := range got {
		if !want[f] {
			t.Errorf("unexpected differing field %q", f)
		}
	}
}

func TestDetectConflictsNoView(t *testing.T) {
	if got := detectConflicts(baseComponent(), "app-b", nil, time.Time{}); got != nil {
		t.Errorf("expected no conflicts against an unseen component, got %v", got)
	}
}

func TestDetectStateMismatch(t *testing.T) {
	local := baseComponent()
	remote := local.Clone()
	remote.Version = "2"
	view := &View{Component: remote, ModifiedAt: time.Now()}

	conflicts := detectConflicts(local, "app-b", view, time.Time{})
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(conflicts))
	}
	c := conflicts[0]
	if c.Type != ConflictStateMismatch {
		t.Errorf("type = %s, want %s", c.Type, ConflictStateMismatch)
	}
	if c.Severity != SeverityLow {
		t.Errorf("severity = %s, want %s", c.Severity, SeverityLow)
	}
	if c.TargetApplication != "app-b" {
		t.Errorf("target = %s, want app-b", c.TargetApplication)
	}
}

func TestDetectConcurrentModification(t *testing.T) {
	checkpoint := time.Now().Add(-time.Hour)

	local := baseComponent()
	local.UpdatedAt = time.Now().Add(-10 * time.Minute)
	remote := local.Clone()
	remote.Version = "2"
	view := &View{Component: remote, ModifiedAt: time.Now().Add(-5 * time.Minute)}

	conflicts := detectConflicts(local, "app-b", view, checkpoint)
	if len(conflicts) != 2 {
		t.Fatalf("conflicts = %d, want state_mismatch plus concurrent_modification", len(conflicts))
	}

	var concurrent *Conflict
	for i := range conflicts {
		if conflicts[i].Type == ConflictConcurrentModification {
			concurrent = &conflicts[i]
		}
	}
	if concurrent == nil {
		t.Fatal("concurrent_modification not detected")
	}
	if concurrent.Severity != SeverityHigh {
		t.Errorf("concurrent modification severity = %s, want high", concurrent.Severity)
	}
}

func TestNoConcurrentModificationWithoutCheckpoint(t *testing.T) {
	local := baseComponent()
	remote := local.Clone()
	remote.Version = "2"
	view := &View{Component: remote, ModifiedAt: time.Now()}

	conflicts := detectConflicts(local, "app-b", view, time.Time{})
	for _, c := range conflicts {
		if c.Type == ConflictConcurrentModification {
			t.Error("concurrent_modification reported before any checkpoint exists")
		}
	}
}

func TestIdenticalStatesNoConflict(t *testing.T) {
	local := baseComponent()
	// Remote modified after checkpoint but holds the same state; only the
	// concurrent write is a conflict, not the identical content.
	view := &View{Component: local.Clone(), ModifiedAt: time.Now()}
	checkpoint := time.Now().Add(-time.Hour)
	local.UpdatedAt = time.Now()

	conflicts := detectConflicts(local, "app-b", view, checkpoint)
	for _, c := range conflicts {
		if c.Type == ConflictStateMismatch {
			t.Error("state_mismatch reported for identical states")
		}
	}
}

func TestLastWriterWins(t *testing.T) {
	local := baseComponent()
	remote := local.Clone()
	remote.Version = "2"

	conflict := Conflict{
		ID:               "c1",
		Type:             ConflictStateMismatch,
		ComponentID:      local.ID,
		Local:            local,
		Remote:           remote,
		LocalModifiedAt:  time.Now().Add(-time.Minute),
		RemoteModifiedAt: time.Now(),
	}

	res, err := LastWriterWins().Resolve(context.Background(), conflict)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Winner != "remote" {
		t.Errorf("winner = %s, want remote", res.Winner)
	}
	if res.Component.Version != "2" {
		t.Errorf("adopted version = %s, want 2", res.Component.Version)
	}

	// Ties go to local.
	conflict.RemoteModifiedAt = conflict.LocalModifiedAt
	res, err = LastWriterWins().Resolve(context.Background(), conflict)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Winner != "local" {
		t.Errorf("tie winner = %s, want local", res.Winner)
	}
}
