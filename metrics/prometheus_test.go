package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestCollector() *PrometheusCollector {
	return NewPrometheusCollector(PrometheusConfig{
		Namespace: "test",
		Registry:  prometheus.NewRegistry(),
	})
}

func TestRecordOperationTallies(t *testing.T) {
	c := newTestCollector()

	c.RecordOperation("register", 5*time.Millisecond, nil, nil)
	c.RecordOperation("register", 3*time.Millisecond, nil, fmt.Errorf("boom"))
	c.RecordOperation("sync_full", time.Millisecond, nil, nil)

	snap := c.GetMetrics()
	if snap["register"].Count != 2 {
		t.Errorf("register count = %d, want 2", snap["register"].Count)
	}
	if snap["register"].Errors != 1 {
		t.Errorf("register errors = %d, want 1", snap["register"].Errors)
	}
	if snap["sync_full"].Count != 1 {
		t.Errorf("sync_full count = %d, want 1", snap["sync_full"].Count)
	}
	if _, ok := snap["unknown"]; ok {
		t.Error("unexpected entry for unrecorded operation")
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	c := newTestCollector()
	c.RecordOperation("list", time.Millisecond, nil, nil)

	snap := c.GetMetrics()
	c.RecordOperation("list", time.Millisecond, nil, nil)

	if snap["list"].Count != 1 {
		t.Errorf("snapshot mutated, count = %d, want 1", snap["list"].Count)
	}
}

func TestConflictAndBroadcastCounters(t *testing.T) {
	c := newTestCollector()

	c.RecordConflicts(0, 0)
	c.RecordConflicts(2, 1)
	c.RecordBroadcast("component_update")
	c.RecordCache(true)
	c.RecordCache(false)
}

func TestNoOpCollector(t *testing.T) {
	var c Collector = &NoOpCollector{}

	c.RecordOperation("register", time.Millisecond, map[string]string{"k": "v"}, fmt.Errorf("boom"))
	c.RecordConflicts(1, 1)
	c.RecordBroadcast("x")
	c.RecordCache(true)
}
