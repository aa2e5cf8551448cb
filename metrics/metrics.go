// Package metrics defines the observability hooks shared by the registry,
// lifecycle and sync managers, plus a Prometheus-backed implementation.
package metrics

import "time"

// Collector provides hooks for collecting operation metrics.
type Collector interface {
	// RecordOperation records one named operation with its duration, an
	// optional label context and the error outcome (nil on success).
	RecordOperation(name string, duration time.Duration, labels map[string]string, err error)

	// RecordConflicts records conflicts detected and resolved during a sync.
	RecordConflicts(detected, resolved int)

	// RecordBroadcast records one push message delivered to subscribers.
	RecordBroadcast(messageType string)

	// RecordCache records a registry read-cache hit or miss.
	RecordCache(hit bool)
}

// NoOpCollector is a default implementation that does nothing.
type NoOpCollector struct{}

func (n *NoOpCollector) RecordOperation(name string, duration time.Duration, labels map[string]string, err error) {
}
func (n *NoOpCollector) RecordConflicts(detected, resolved int) {}
func (n *NoOpCollector) RecordBroadcast(messageType string)     {}
func (n *NoOpCollector) RecordCache(hit bool)                   {}
