// Package lifecycle drives components through a validated state machine with
// hooks, pluggable phase effects and bounded error recovery.
package lifecycle

import (
	"time"

	"github.com/c0deZ3R0/go-registry-kit/registry"
)

// transitions is the fixed, exhaustive transition table. An attempted
// transition not present here fails with IllegalTransition and leaves the
// component's state unchanged. The error state is always reachable on phase
// failure regardless of this table; its outgoing edges (recovery) are listed.
var transitions = map[registry.State][]registry.State{
	registry.StateRegistered:    {registry.StateInitializing},
	registry.StateInitializing:  {registry.StateInitialized},
	registry.StateInitialized:   {registry.StateLoading},
	registry.StateLoading:       {registry.StateLoaded},
	registry.StateLoaded:        {registry.StateActive, registry.StateUnloading},
	registry.StateActive:        {registry.StateInactive, registry.StateUpdating, registry.StateUnloading},
	registry.StateInactive:      {registry.StateActive, registry.StateUpdating, registry.StateUnloading},
	registry.StateUpdating:      {registry.StateActive, registry.StateInactive},
	registry.StateUnloading:     {registry.StateUnloaded},
	registry.StateUnloaded:      {registry.StateUnregistering},
	registry.StateUnregistering: {registry.StateUnregistered},
	registry.StateUnregistered:  {},
	registry.StateError:         {registry.StateInitializing, registry.StateLoading, registry.StateUnloading},
}

// CanTransition reports whether from -> to is present in the transition
// table. The forced transition into the error state is not part of the table.
func CanTransition(from, to registry.State) bool {
	for _, target := range transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// HistoryEntry records one applied transition.
type HistoryEntry struct {
	State         registry.State `json:"state"`
	PreviousState registry.State `json:"previous_state,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// ErrorRecord is one entry in a component's bounded error log.
type ErrorRecord struct {
	Operation string    `json:"operation"`
	Message   string    `json:"message"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}
