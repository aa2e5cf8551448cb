// Package sync propagates component state across target applications,
// detecting and resolving conflicting concurrent writes, and broadcasts
// accepted updates to subscribed consumers.
package sync

import (
	"time"

	"github.com/c0deZ3R0/go-registry-kit/registry"
)

// Mode selects the synchronization algorithm.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
	ModeSelective   Mode = "selective"
)

// Valid reports whether the mode is one of the three supported algorithms.
func (m Mode) Valid() bool {
	switch m {
	case ModeFull, ModeIncremental, ModeSelective:
		return true
	}
	return false
}

// Status of a sync operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ComponentStatus of a single component within an operation.
type ComponentStatus string

const (
	ComponentSynced        ComponentStatus = "synced"
	ComponentSkipped       ComponentStatus = "skipped"
	ComponentFailed        ComponentStatus = "failed"
	ComponentPendingManual ComponentStatus = "pending_manual"
)

// Request describes one sync invocation.
type Request struct {
	ComponentIDs       []string `json:"component_ids"`
	TargetApplications []string `json:"target_applications"`
	Mode               Mode     `json:"mode"`
	Priority           int      `json:"priority"`
	Force              bool     `json:"force"`
}

// ComponentResult is the per-component outcome, with per-target detail
// retained on failure.
type ComponentResult struct {
	ComponentID  string            `json:"component_id"`
	Status       ComponentStatus   `json:"status"`
	TargetErrors map[string]string `json:"target_errors,omitempty"`
	Conflicts    []Conflict        `json:"conflicts,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Results tallies an operation's outcome.
type Results struct {
	Successful []string          `json:"successful"`
	Skipped    []string          `json:"skipped"`
	Failed     []string          `json:"failed"`
	Conflicts  []Conflict        `json:"conflicts,omitempty"`
	Components []ComponentResult `json:"components"`
}

// LogEntry is one line in an operation's log.
type LogEntry struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Operation is one invocation of the synchronization algorithm across a set
// of components and target applications. It lives in the active set while
// running and moves to the bounded history when it completes or fails.
type Operation struct {
	ID                 string     `json:"id"`
	ComponentIDs       []string   `json:"component_ids"`
	TargetApplications []string   `json:"target_applications"`
	Mode               Mode       `json:"mode"`
	Priority           int        `json:"priority"`
	Force              bool       `json:"force,omitempty"`
	Status             Status     `json:"status"`
	Results            Results    `json:"results"`
	Logs               []LogEntry `json:"logs"`
	Error              string     `json:"error,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        time.Time  `json:"completed_at,omitempty"`
}

func (op *Operation) log(msg string) {
	op.Logs = append(op.Logs, LogEntry{Message: msg, Timestamp: time.Now()})
}

func (op *Operation) clone() *Operation {
	out := *op
	out.ComponentIDs = append([]string(nil), op.ComponentIDs...)
	out.TargetApplications = append([]string(nil), op.TargetApplications...)
	out.Logs = append([]LogEntry(nil), op.Logs...)
	out.Results.Successful = append([]string(nil), op.Results.Successful...)
	out.Results.Skipped = append([]string(nil), op.Results.Skipped...)
	out.Results.Failed = append([]string(nil), op.Results.Failed...)
	out.Results.Conflicts = append([]Conflict(nil), op.Results.Conflicts...)
	out.Results.Components = append([]ComponentResult(nil), op.Results.Components...)
	return &out
}

// View is a target application's currently known state for a component,
// as reported by its Target.
type View struct {
	Component  *registry.Component `json:"component"`
	ModifiedAt time.Time           `json:"modified_at"`
}

// Analytics is the running tally for one (componentID, targetApplication)
// pair.
type Analytics struct {
	ComponentID       string    `json:"component_id"`
	TargetApplication string    `json:"target_application"`
	Successes         int       `json:"successes"`
	Failures          int       `json:"failures"`
	LastSyncedAt      time.Time `json:"last_synced_at,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
}
