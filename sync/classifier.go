package sync

import (
	"time"

	"github.com/c0deZ3R0/go-registry-kit/registry"
)

// Classification is the selective-mode verdict for one component.
type Classification string

const (
	ClassifyFull        Classification = "full"
	ClassifyIncremental Classification = "incremental"
	ClassifySkip        Classification = "skip"
)

// Classifier decides, per component, which algorithm selective mode applies.
// lastSync is the component's last successful sync time (zero means never).
type Classifier interface {
	Classify(c *registry.Component, lastSync time.Time) Classification
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(c *registry.Component, lastSync time.Time) Classification

func (f ClassifierFunc) Classify(c *registry.Component, lastSync time.Time) Classification {
	return f(c, lastSync)
}

// defaultClassifier uses change recency and payload size: untouched
// components are skipped, components never synced or with large payloads go
// through a full sync, everything else syncs incrementally.
type defaultClassifier struct{}

// fullSyncPayloadThreshold is the combined config+api+metadata entry count
// above which a component is considered large enough to warrant a full sync.
const fullSyncPayloadThreshold = 32

func (defaultClassifier) Classify(c *registry.Component, lastSync time.Time) Classification {
	if !lastSync.IsZero() && !c.UpdatedAt.After(lastSync) {
		return ClassifySkip
	}
	if lastSync.IsZero() {
		return ClassifyFull
	}
	if len(c.Config)+len(c.API)+len(c.Metadata) > fullSyncPayloadThreshold {
		return ClassifyFull
	}
	return ClassifyIncremental
}
