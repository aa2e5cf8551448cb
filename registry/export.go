package registry

import (
	"sort"
	"time"
)

// RegistryInfo summarizes the registry for an export.
type RegistryInfo struct {
	Version         string    `json:"version"`
	TotalComponents int       `json:"totalComponents"`
	TotalVersions   int       `json:"totalVersions"`
	TotalSnapshots  int       `json:"totalSnapshots"`
	LastUpdated     time.Time `json:"lastUpdated"`
	ExportedAt      time.Time `json:"exportedAt"`
}

// ExportIndexes mirrors the registry's secondary indices as id lists.
type ExportIndexes struct {
	ByType        map[string][]string `json:"byType"`
	ByApplication map[string][]string `json:"byApplication"`
	ByTag         map[string][]string `json:"byTag"`
}

// Export is the full read-only dump of the registry.
type Export struct {
	Registry   RegistryInfo   `json:"registry"`
	Components []*Component   `json:"components"`
	Snapshots  []SnapshotInfo `json:"snapshots"`
	Indexes    ExportIndexes  `json:"indexes"`
}

// ExportVersion is the export format version.
const ExportVersion = "1.0"

// ExportRegistry produces a sanitized dump of components, snapshot metadata
// and indices.
func (r *Registry) ExportRegistry() *Export {
	start := time.Now()
	defer func() {
		r.metrics.RecordOperation("export", time.Since(start), nil, nil)
	}()

	snapshots := r.ListSnapshots()

	r.mu.RLock()
	defer r.mu.RUnlock()

	components := make([]*Component, 0, len(r.components))
	totalVersions := 0
	for id, c := range r.components {
		components = append(components, c.Clone())
		totalVersions += len(r.versions[id])
	}
	sort.Slice(components, func(i, j int) bool { return components[i].ID < components[j].ID })

	return &Export{
		Registry: RegistryInfo{
			Version:         ExportVersion,
			TotalComponents: len(components),
			TotalVersions:   totalVersions,
			TotalSnapshots:  len(r.snapshots),
			LastUpdated:     r.updatedAt,
			ExportedAt:      time.Now(),
		},
		Components: components,
		Snapshots:  snapshots,
		Indexes: ExportIndexes{
			ByType:        flattenIndex(r.byType),
			ByApplication: flattenIndex(r.byApp),
			ByTag:         flattenIndex(r.byTag),
		},
	}
}

func flattenIndex(index map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(index))
	for key, set := range index {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[key] = ids
	}
	return out
}
