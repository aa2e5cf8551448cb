package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusConfig configures the Prometheus collector.
type PrometheusConfig struct {
	// Namespace is the metrics namespace (default: "registrykit").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for operation duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// PrometheusCollector implements Collector on top of client_golang.
type PrometheusCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec
	conflictsDetected prometheus.Counter
	conflictsResolved prometheus.Counter
	broadcastsTotal   *prometheus.CounterVec
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter

	// Rolling per-operation tallies for the snapshot API.
	mu     sync.Mutex
	counts map[string]int64
	errors map[string]int64
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates a Collector registered against the provided
// (or default) Prometheus registry.
func NewPrometheusCollector(cfg PrometheusConfig) *PrometheusCollector {
	if cfg.Namespace == "" {
		cfg.Namespace = "registrykit"
	}
	if cfg.Buckets == nil {
		cfg.Buckets = prometheus.DefBuckets
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "operations_total",
			Help:        "Total registry/lifecycle/sync operations by name.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"operation"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "operation_duration_seconds",
			Help:        "Operation duration in seconds by name.",
			Buckets:     cfg.Buckets,
			ConstLabels: cfg.ConstLabels,
		}, []string{"operation"}),
		operationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "operation_errors_total",
			Help:        "Failed operations by name.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"operation"}),
		conflictsDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "sync_conflicts_detected_total",
			Help:        "Conflicts detected during sync operations.",
			ConstLabels: cfg.ConstLabels,
		}),
		conflictsResolved: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "sync_conflicts_resolved_total",
			Help:        "Conflicts resolved during sync operations.",
			ConstLabels: cfg.ConstLabels,
		}),
		broadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "broadcasts_total",
			Help:        "Push messages broadcast to subscribers by type.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"message_type"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "cache_hits_total",
			Help:        "Registry read-cache hits.",
			ConstLabels: cfg.ConstLabels,
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "cache_misses_total",
			Help:        "Registry read-cache misses.",
			ConstLabels: cfg.ConstLabels,
		}),
		counts: make(map[string]int64),
		errors: make(map[string]int64),
	}
}

func (p *PrometheusCollector) RecordOperation(name string, duration time.Duration, labels map[string]string, err error) {
	p.operationsTotal.WithLabelValues(name).Inc()
	p.operationDuration.WithLabelValues(name).Observe(duration.Seconds())
	if err != nil {
		p.operationErrors.WithLabelValues(name).Inc()
	}

	p.mu.Lock()
	p.counts[name]++
	if err != nil {
		p.errors[name]++
	}
	p.mu.Unlock()
}

func (p *PrometheusCollector) RecordConflicts(detected, resolved int) {
	if detected > 0 {
		p.conflictsDetected.Add(float64(detected))
	}
	if resolved > 0 {
		p.conflictsResolved.Add(float64(resolved))
	}
}

func (p *PrometheusCollector) RecordBroadcast(messageType string) {
	p.broadcastsTotal.WithLabelValues(messageType).Inc()
}

func (p *PrometheusCollector) RecordCache(hit bool) {
	if hit {
		p.cacheHits.Inc()
	} else {
		p.cacheMisses.Inc()
	}
}

// OperationSnapshot is a point-in-time per-operation tally.
type OperationSnapshot struct {
	Count  int64 `json:"count"`
	Errors int64 `json:"errors"`
}

// GetMetrics returns the per-operation tallies recorded so far. The full
// time-series surface remains available through the Prometheus registry.
func (p *PrometheusCollector) GetMetrics() map[string]OperationSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]OperationSnapshot, len(p.counts))
	for name, count := range p.counts {
		out[name] = OperationSnapshot{Count: count, Errors: p.errors[name]}
	}
	return out
}
