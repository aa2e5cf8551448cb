package registry

import (
	"sort"
	"strings"
	"time"
)

// Filter narrows a List call. Zero-value fields match everything. Tags match
// by set intersection: a component matches when it carries at least one of
// the requested tags.
type Filter struct {
	Type        string   `json:"type,omitempty"`
	Application string   `json:"application,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	State       State    `json:"state,omitempty"`

	// Search is a case-insensitive substring match over name, id and
	// description.
	Search string `json:"search,omitempty"`
}

// SortBy names a List sort key.
type SortBy string

const (
	SortByName         SortBy = "name"
	SortByType         SortBy = "type"
	SortByVersion      SortBy = "version"
	SortByRegisteredAt SortBy = "registeredAt"
	SortByUsage        SortBy = "usage"
)

// SortOrder is asc or desc.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ListOptions bundles filtering and ordering for List.
type ListOptions struct {
	Filter Filter    `json:"filter"`
	SortBy SortBy    `json:"sort_by,omitempty"`
	Order  SortOrder `json:"order,omitempty"`
}

// List returns sanitized copies of the components matching the filter, in a
// stable order.
func (r *Registry) List(opts ListOptions) []*Component {
	start := time.Now()
	defer func() {
		r.metrics.RecordOperation("list", time.Since(start), nil, nil)
	}()

	r.mu.RLock()
	candidates := r.candidatesLocked(opts.Filter)
	matched := make([]*Component, 0, len(candidates))
	for _, c := range candidates {
		if matchesFilter(c, opts.Filter) {
			matched = append(matched, c.Clone())
		}
	}
	r.mu.RUnlock()

	sortComponents(matched, opts.SortBy, opts.Order)
	return matched
}

// candidatesLocked uses the narrowest available index to seed the scan.
// Caller holds r.mu.
func (r *Registry) candidatesLocked(f Filter) []*Component {
	var ids map[string]struct{}
	switch {
	case f.Type != "":
		ids = r.byType[f.Type]
	case f.Application != "":
		ids = r.byApp[f.Application]
	case len(f.Tags) == 1:
		ids = r.byTag[f.Tags[0]]
	}

	if ids == nil {
		out := make([]*Component, 0, len(r.components))
		for _, c := range r.components {
			out = append(out, c)
		}
		return out
	}

	out := make([]*Component, 0, len(ids))
	for id := range ids {
		if c, ok := r.components[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func matchesFilter(c *Component, f Filter) bool {
	if f.Type != "" && c.Type != f.Type {
		return false
	}
	if f.Application != "" && c.Application != f.Application {
		return false
	}
	if f.State != "" && c.State != f.State {
		return false
	}
	if len(f.Tags) > 0 && !tagsIntersect(c.Tags, f.Tags) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(c.Name), needle) &&
			!strings.Contains(strings.ToLower(c.ID), needle) &&
			!strings.Contains(strings.ToLower(c.Description), needle) {
			return false
		}
	}
	return true
}

func tagsIntersect(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func sortComponents(components []*Component, by SortBy, order SortOrder) {
	less := func(a, b *Component) bool { return a.Name < b.Name }
	switch by {
	case SortByType:
		less = func(a, b *Component) bool { return a.Type < b.Type }
	case SortByVersion:
		less = func(a, b *Component) bool { return a.Version < b.Version }
	case SortByRegisteredAt:
		less = func(a, b *Component) bool { return a.RegisteredAt.Before(b.RegisteredAt) }
	case SortByUsage:
		less = func(a, b *Component) bool { return a.Usage.Count < b.Usage.Count }
	}

	sort.SliceStable(components, func(i, j int) bool {
		if order == SortDesc {
			return less(components[j], components[i])
		}
		return less(components[i], components[j])
	})
}
