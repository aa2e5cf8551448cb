package registry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// State is a lifecycle state a component can be in. The transition table
// lives in the lifecycle package; the registry only guarantees that a stored
// component always carries one of these values.
type State string

const (
	StateRegistered    State = "registered"
	StateInitializing  State = "initializing"
	StateInitialized   State = "initialized"
	StateLoading       State = "loading"
	StateLoaded        State = "loaded"
	StateActive        State = "active"
	StateInactive      State = "inactive"
	StateUpdating      State = "updating"
	StateUnloading     State = "unloading"
	StateUnloaded      State = "unloaded"
	StateUnregistering State = "unregistering"
	StateUnregistered  State = "unregistered"
	StateError         State = "error"
)

// Valid reports whether s is one of the declared lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StateRegistered, StateInitializing, StateInitialized, StateLoading,
		StateLoaded, StateActive, StateInactive, StateUpdating, StateUnloading,
		StateUnloaded, StateUnregistering, StateUnregistered, StateError:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// UsageStats tracks how often a component is exercised.
type UsageStats struct {
	Count    int       `json:"count"`
	LastUsed time.Time `json:"last_used,omitempty"`
}

// PerformanceStats tracks rough per-component performance counters.
type PerformanceStats struct {
	OperationCount int     `json:"operation_count"`
	ErrorCount     int     `json:"error_count"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
}

// Component is a named, versioned, dependency-aware unit of state tracked by
// the registry. The registry owns components exclusively; the lifecycle and
// sync managers reference them by id and request registry mutations.
type Component struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Type         string                 `json:"type"`
	Description  string                 `json:"description,omitempty"`
	Version      string                 `json:"version"`
	Dependencies []string               `json:"dependencies,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
	Application  string                 `json:"application,omitempty"`
	Config       map[string]interface{} `json:"config,omitempty"`
	API          map[string]interface{} `json:"api,omitempty"`
	State        State                  `json:"state"`
	Usage        UsageStats             `json:"usage"`
	Performance  PerformanceStats       `json:"performance"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	RegisteredAt time.Time              `json:"registered_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Clone returns a deep, independent copy of the component. All maps and
// slices are copied so callers can never mutate the authoritative store.
func (c *Component) Clone() *Component {
	if c == nil {
		return nil
	}
	out := *c
	out.Dependencies = append([]string(nil), c.Dependencies...)
	out.Tags = append([]string(nil), c.Tags...)
	out.Config = cloneMap(c.Config)
	out.API = cloneMap(c.API)
	out.Metadata = cloneMap(c.Metadata)
	return &out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	// Round-trip through JSON to deep-copy nested values.
	data, err := json.Marshal(m)
	if err != nil {
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		out = make(map[string]interface{}, len(m))
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// VersionRecord is a retained historical copy of a component's full state at
// a given version, used for rollback.
type VersionRecord struct {
	Version   string     `json:"version"`
	Timestamp time.Time  `json:"timestamp"`
	Component *Component `json:"component"`
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateNew checks the fields required at registration time.
func ValidateNew(c *Component) error {
	if c == nil {
		return fmt.Errorf("component is nil")
	}
	if c.ID == "" {
		return fmt.Errorf("component id is required")
	}
	if !idPattern.MatchString(c.ID) {
		return fmt.Errorf("component id %q contains invalid characters (allowed: A-Z a-z 0-9 _ -)", c.ID)
	}
	if c.Name == "" {
		return fmt.Errorf("component name is required")
	}
	if c.Type == "" {
		return fmt.Errorf("component type is required")
	}
	return nil
}
