// Package registry implements the authoritative component store: CRUD,
// versioning, snapshot/rollback and indexed lookup.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	regErrors "github.com/c0deZ3R0/go-registry-kit/errors"
	"github.com/c0deZ3R0/go-registry-kit/metrics"
)

// BackupStore persists snapshots and version records outside process memory.
// The registry calls it best-effort on its backup-before-mutate path; a nil
// BackupStore keeps everything in memory only.
type BackupStore interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	SaveVersionRecord(ctx context.Context, componentID string, rec VersionRecord) error
	SaveComponentState(ctx context.Context, component *Component) error
	Close() error
}

// Options configures a Registry.
type Options struct {
	// MaxVersions bounds the version history kept per component.
	// Oldest records are evicted first. Default 10.
	MaxVersions int

	// CacheSize bounds the LRU read cache. 0 disables the cache.
	CacheSize int

	// EventBuffer is the per-subscriber event channel capacity. Default 64.
	EventBuffer int

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics collector. Defaults to a no-op collector.
	Metrics metrics.Collector

	// Backup store for snapshots and version records (optional).
	Backup BackupStore
}

func (o *Options) setDefaults() {
	if o.MaxVersions <= 0 {
		o.MaxVersions = 10
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = &metrics.NoOpCollector{}
	}
}

// Registry is the owned, authoritative store of component definitions,
// versions, snapshots and indices. All access goes through its methods; there
// is no ambient global state, so multiple independent registries can coexist
// in one process.
type Registry struct {
	mu sync.RWMutex

	components map[string]*Component
	versions   map[string][]VersionRecord
	snapshots  map[string]*Snapshot
	snapOrder  []string

	byType map[string]map[string]struct{}
	byApp  map[string]map[string]struct{}
	byTag  map[string]map[string]struct{}

	cache *lru.Cache[string, *Component]
	bus   *eventBus

	opts    Options
	logger  *slog.Logger
	metrics metrics.Collector

	createdAt time.Time
	updatedAt time.Time
	closed    bool
}

// New creates a Registry with the provided options.
func New(opts Options) (*Registry, error) {
	opts.setDefaults()

	r := &Registry{
		components: make(map[string]*Component),
		versions:   make(map[string][]VersionRecord),
		snapshots:  make(map[string]*Snapshot),
		byType:     make(map[string]map[string]struct{}),
		byApp:      make(map[string]map[string]struct{}),
		byTag:      make(map[string]map[string]struct{}),
		opts:       opts,
		logger:     opts.Logger.With(slog.String("component", "registry")),
		metrics:    opts.Metrics,
		createdAt:  time.Now(),
		updatedAt:  time.Now(),
	}
	r.bus = newEventBus(opts.EventBuffer, r.logger)

	if opts.CacheSize > 0 {
		cache, err := lru.New[string, *Component](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create read cache: %w", err)
		}
		r.cache = cache
	}

	return r, nil
}

// Subscribe returns a channel of registry events and a cancel function.
func (r *Registry) Subscribe() (<-chan Event, func()) {
	return r.bus.subscribe()
}

// Register stores a new component in state "registered", indexes it and
// appends the first version record. Returns a sanitized copy.
func (r *Registry) Register(ctx context.Context, c *Component) (*Component, error) {
	start := time.Now()
	var opErr error
	defer func() {
		r.metrics.RecordOperation("register", time.Since(start), nil, opErr)
	}()

	if err := ValidateNew(c); err != nil {
		opErr = regErrors.NewValidation(regErrors.OpRegister, err)
		return nil, opErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		opErr = regErrors.New(regErrors.OpRegister, fmt.Errorf("registry is closed"))
		return nil, opErr
	}
	if _, exists := r.components[c.ID]; exists {
		opErr = regErrors.NewDuplicateID(c.ID)
		return nil, opErr
	}

	stored := c.Clone()
	stored.State = StateRegistered
	if stored.Version == "" {
		stored.Version = "1"
	}
	now := time.Now()
	stored.RegisteredAt = now
	stored.UpdatedAt = now

	r.components[stored.ID] = stored
	r.indexComponent(stored)
	r.appendVersionLocked(ctx, stored.ID, stored.Version, stored)
	r.cacheSet(stored)
	r.updatedAt = now

	r.logger.Info("component registered",
		"component_id", stored.ID,
		"type", stored.Type,
		"application", stored.Application,
		"version", stored.Version)

	sanitized := stored.Clone()
	r.bus.publish(Event{
		Type:        EventComponentRegistered,
		ComponentID: stored.ID,
		Component:   sanitized,
		Timestamp:   now,
	})
	return sanitized, nil
}

// Unregister removes a component after verifying no registered component
// still depends on it. A pre-removal snapshot is captured automatically.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	start := time.Now()
	var opErr error
	defer func() {
		r.metrics.RecordOperation("unregister", time.Since(start), nil, opErr)
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.components[id]
	if !exists {
		opErr = regErrors.NewNotFound(regErrors.OpUnregister, id)
		return opErr
	}

	if dependents := r.dependentsLocked(id); len(dependents) > 0 {
		opErr = regErrors.NewHasDependents(id, dependents)
		r.logger.Warn("unregister blocked by dependents",
			"component_id", id,
			"dependents", dependents)
		return opErr
	}

	// Backup before destroying anything.
	if _, err := r.createSnapshotLocked(ctx, []string{id},
		fmt.Sprintf("pre-unregister-%s", id),
		fmt.Sprintf("automatic snapshot before unregistering %s", id), true); err != nil {
		r.logger.Warn("pre-unregister snapshot failed", "component_id", id, "error", err)
	}

	r.unindexComponent(c)
	delete(r.components, id)
	delete(r.versions, id)
	r.cacheDelete(id)
	r.updatedAt = time.Now()

	r.logger.Info("component unregistered", "component_id", id)
	r.bus.publish(Event{
		Type:        EventComponentUnregistered,
		ComponentID: id,
		Timestamp:   r.updatedAt,
	})
	return nil
}

// UpdateRequest carries a shallow field update for a component. Nil map and
// slice fields mean "leave unchanged"; Config/API/Metadata are merged as
// key-value overlays while Dependencies and Tags replace wholesale.
type UpdateRequest struct {
	Name         *string                `json:"name,omitempty"`
	Description  *string                `json:"description,omitempty"`
	Type         *string                `json:"type,omitempty"`
	Application  *string                `json:"application,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
	Config       map[string]interface{} `json:"config,omitempty"`
	API          map[string]interface{} `json:"api,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// NewVersion, when non-empty, appends a new version record after the
	// update is applied. The version string itself is not interpreted.
	NewVersion string `json:"new_version,omitempty"`
}

// Update applies a shallow field update. A pre-update snapshot is captured
// automatically. Returns the sanitized updated component.
func (r *Registry) Update(ctx context.Context, id string, req UpdateRequest) (*Component, error) {
	start := time.Now()
	var opErr error
	defer func() {
		r.metrics.RecordOperation("update", time.Since(start), nil, opErr)
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.components[id]
	if !exists {
		opErr = regErrors.NewNotFound(regErrors.OpUpdate, id)
		return nil, opErr
	}

	if _, err := r.createSnapshotLocked(ctx, []string{id},
		fmt.Sprintf("pre-update-%s", id),
		fmt.Sprintf("automatic snapshot before updating %s", id), true); err != nil {
		r.logger.Warn("pre-update snapshot failed", "component_id", id, "error", err)
	}

	oldType, oldApp, oldTags := c.Type, c.Application, c.Tags

	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Description != nil {
		c.Description = *req.Description
	}
	if req.Type != nil {
		c.Type = *req.Type
	}
	if req.Application != nil {
		c.Application = *req.Application
	}
	if req.Dependencies != nil {
		c.Dependencies = append([]string(nil), req.Dependencies...)
	}
	if req.Tags != nil {
		c.Tags = append([]string(nil), req.Tags...)
	}
	if req.Config != nil {
		if c.Config == nil {
			c.Config = make(map[string]interface{}, len(req.Config))
		}
		for k, v := range req.Config {
			c.Config[k] = v
		}
	}
	if req.API != nil {
		if c.API == nil {
			c.API = make(map[string]interface{}, len(req.API))
		}
		for k, v := range req.API {
			c.API[k] = v
		}
	}
	if req.Metadata != nil {
		if c.Metadata == nil {
			c.Metadata = make(map[string]interface{}, len(req.Metadata))
		}
		for k, v := range req.Metadata {
			c.Metadata[k] = v
		}
	}
	c.UpdatedAt = time.Now()

	if req.NewVersion != "" {
		c.Version = req.NewVersion
		r.appendVersionLocked(ctx, id, req.NewVersion, c)
	}

	if c.Type != oldType || c.Application != oldApp || !equalStrings(c.Tags, oldTags) {
		r.reindexComponent(c, oldType, oldApp, oldTags)
	}
	r.cacheSet(c)
	r.updatedAt = c.UpdatedAt

	r.logger.Info("component updated",
		"component_id", id,
		"version", c.Version,
		"new_version_record", req.NewVersion != "")

	sanitized := c.Clone()
	r.bus.publish(Event{
		Type:        EventComponentUpdated,
		ComponentID: id,
		Component:   sanitized,
		Timestamp:   c.UpdatedAt,
	})
	return sanitized, nil
}

// Rollback restores the full component payload from the matching version
// record. The restored state reuses the historical record rather than
// creating a new one; rollback provenance is recorded in metadata.
func (r *Registry) Rollback(ctx context.Context, id, targetVersion string) (*Component, error) {
	start := time.Now()
	var opErr error
	defer func() {
		r.metrics.RecordOperation("rollback", time.Since(start), nil, opErr)
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.components[id]
	if !exists {
		opErr = regErrors.NewNotFound(regErrors.OpRollback, id)
		return nil, opErr
	}

	var record *VersionRecord
	for i := range r.versions[id] {
		if r.versions[id][i].Version == targetVersion {
			record = &r.versions[id][i]
			break
		}
	}
	if record == nil {
		opErr = &regErrors.RegistryError{
			Code:        regErrors.CodeVersionNotFound,
			Op:          regErrors.OpRollback,
			ComponentID: id,
			Err:         fmt.Errorf("version %q not found in history", targetVersion),
			Metadata:    map[string]interface{}{"target_version": targetVersion},
		}
		return nil, opErr
	}

	if _, err := r.createSnapshotLocked(ctx, []string{id},
		fmt.Sprintf("pre-rollback-%s", id),
		fmt.Sprintf("automatic snapshot before rolling back %s to %s", id, targetVersion), true); err != nil {
		r.logger.Warn("pre-rollback snapshot failed", "component_id", id, "error", err)
	}

	fromVersion := current.Version
	oldType, oldApp, oldTags := current.Type, current.Application, current.Tags

	restored := record.Component.Clone()
	if restored.Metadata == nil {
		restored.Metadata = make(map[string]interface{})
	}
	restored.Metadata["rolled_back_from"] = fromVersion
	restored.Metadata["rolled_back_at"] = time.Now().Format(time.RFC3339Nano)
	restored.UpdatedAt = time.Now()

	r.components[id] = restored
	r.reindexComponent(restored, oldType, oldApp, oldTags)
	r.cacheSet(restored)
	r.updatedAt = restored.UpdatedAt

	r.logger.Info("component rolled back",
		"component_id", id,
		"from_version", fromVersion,
		"to_version", targetVersion)

	sanitized := restored.Clone()
	r.bus.publish(Event{
		Type:        EventComponentRolledBack,
		ComponentID: id,
		Component:   sanitized,
		Timestamp:   restored.UpdatedAt,
	})
	return sanitized, nil
}

// ComponentState is the result of GetState: the sanitized component plus
// computed dependency information.
type ComponentState struct {
	Component         *Component      `json:"component"`
	Dependents        []string        `json:"dependents"`
	CanBeUnregistered bool            `json:"can_be_unregistered"`
	VersionHistory    []VersionRecord `json:"version_history,omitempty"`
}

// GetState returns a sanitized component plus computed dependents and whether
// it can be unregistered. With includeMetadata the bounded version history is
// attached as well.
func (r *Registry) GetState(id string, includeMetadata bool) (*ComponentState, error) {
	start := time.Now()
	var opErr error
	defer func() {
		r.metrics.RecordOperation("get_state", time.Since(start), nil, opErr)
	}()

	r.mu.RLock()
	defer r.mu.RUnlock()

	c := r.cacheGet(id)
	if c == nil {
		live, exists := r.components[id]
		if !exists {
			opErr = regErrors.NewNotFound(regErrors.OpGetState, id)
			return nil, opErr
		}
		c = live
	}

	dependents := r.dependentsLocked(id)
	state := &ComponentState{
		Component:         c.Clone(),
		Dependents:        dependents,
		CanBeUnregistered: len(dependents) == 0,
	}
	if includeMetadata {
		history := make([]VersionRecord, len(r.versions[id]))
		for i, rec := range r.versions[id] {
			history[i] = VersionRecord{
				Version:   rec.Version,
				Timestamp: rec.Timestamp,
				Component: rec.Component.Clone(),
			}
		}
		state.VersionHistory = history
	}
	return state, nil
}

// GetComponent returns a sanitized copy of one component.
func (r *Registry) GetComponent(id string) (*Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.components[id]
	if !exists {
		return nil, regErrors.NewNotFound(regErrors.OpGetState, id)
	}
	return c.Clone(), nil
}

// SetState transitions the stored state of a component. Used by the lifecycle
// manager, which has already validated the transition; the registry only
// refuses values outside the declared state set.
func (r *Registry) SetState(id string, state State) error {
	if !state.Valid() {
		return regErrors.NewValidation(regErrors.OpTransition,
			fmt.Errorf("unknown lifecycle state %q", state))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.components[id]
	if !exists {
		return regErrors.NewNotFound(regErrors.OpTransition, id)
	}
	c.State = state
	c.UpdatedAt = time.Now()
	r.cacheSet(c)
	r.updatedAt = c.UpdatedAt
	return nil
}

// CompareAndSetState applies state only when the component is still in the
// expected prior state. Concurrent transition attempts race on this check;
// the loser gets an illegal transition error.
func (r *Registry) CompareAndSetState(id string, from, to State) error {
	if !to.Valid() {
		return regErrors.NewValidation(regErrors.OpTransition,
			fmt.Errorf("unknown lifecycle state %q", to))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.components[id]
	if !exists {
		return regErrors.NewNotFound(regErrors.OpTransition, id)
	}
	if c.State != from {
		return regErrors.NewIllegalTransition(id, string(c.State), string(to))
	}
	c.State = to
	c.UpdatedAt = time.Now()
	r.cacheSet(c)
	r.updatedAt = c.UpdatedAt
	return nil
}

// RecordUsage bumps the component's usage counter.
func (r *Registry) RecordUsage(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.components[id]; ok {
		c.Usage.Count++
		c.Usage.LastUsed = time.Now()
		r.cacheSet(c)
	}
}

// RecordPerformance folds one operation latency into the component's
// performance counters.
func (r *Registry) RecordPerformance(id string, latency time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.components[id]
	if !ok {
		return
	}
	n := float64(c.Performance.OperationCount)
	c.Performance.AvgLatencyMs = (c.Performance.AvgLatencyMs*n + float64(latency.Milliseconds())) / (n + 1)
	c.Performance.OperationCount++
	if failed {
		c.Performance.ErrorCount++
	}
	r.cacheSet(c)
}

// Dependents returns the ids of registered components that list id as a
// dependency.
func (r *Registry) Dependents(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dependentsLocked(id)
}

// VersionHistory returns the bounded version history for a component,
// oldest first.
func (r *Registry) VersionHistory(id string) ([]VersionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.components[id]; !exists {
		return nil, regErrors.NewNotFound(regErrors.OpGetState, id)
	}
	out := make([]VersionRecord, len(r.versions[id]))
	for i, rec := range r.versions[id] {
		out[i] = VersionRecord{
			Version:   rec.Version,
			Timestamp: rec.Timestamp,
			Component: rec.Component.Clone(),
		}
	}
	return out, nil
}

// PersistState writes the component's current state through the backup store.
// This is the persistence path the sync manager uses after a successful
// per-component sync.
func (r *Registry) PersistState(ctx context.Context, id string) error {
	r.mu.RLock()
	c, exists := r.components[id]
	var copy *Component
	if exists {
		copy = c.Clone()
	}
	backup := r.opts.Backup
	r.mu.RUnlock()

	if !exists {
		return regErrors.NewNotFound(regErrors.OpStore, id)
	}
	if backup == nil {
		return nil
	}
	if err := backup.SaveComponentState(ctx, copy); err != nil {
		return regErrors.NewStorage(regErrors.OpStore, err)
	}
	return nil
}

// Close releases the registry's resources and closes the event bus.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.bus.close()
	if r.opts.Backup != nil {
		if err := r.opts.Backup.Close(); err != nil {
			return regErrors.NewWithComponent(regErrors.OpClose, "", err)
		}
	}
	return nil
}

// --- internal helpers (callers hold r.mu) ---

func (r *Registry) dependentsLocked(id string) []string {
	var dependents []string
	for otherID, other := range r.components {
		if otherID == id {
			continue
		}
		for _, dep := range other.Dependencies {
			if dep == id {
				dependents = append(dependents, otherID)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

func (r *Registry) appendVersionLocked(ctx context.Context, id, version string, c *Component) {
	rec := VersionRecord{
		Version:   version,
		Timestamp: time.Now(),
		Component: c.Clone(),
	}
	r.versions[id] = append(r.versions[id], rec)

	// FIFO eviction keeps the history bounded.
	if max := r.opts.MaxVersions; len(r.versions[id]) > max {
		r.versions[id] = r.versions[id][len(r.versions[id])-max:]
	}

	if r.opts.Backup != nil {
		if err := r.opts.Backup.SaveVersionRecord(ctx, id, rec); err != nil {
			r.logger.Warn("failed to persist version record",
				"component_id", id,
				"version", version,
				"error", err)
		}
	}
}

func (r *Registry) indexComponent(c *Component) {
	addToIndex(r.byType, c.Type, c.ID)
	if c.Application != "" {
		addToIndex(r.byApp, c.Application, c.ID)
	}
	for _, tag := range c.Tags {
		addToIndex(r.byTag, tag, c.ID)
	}
}

func (r *Registry) unindexComponent(c *Component) {
	removeFromIndex(r.byType, c.Type, c.ID)
	removeFromIndex(r.byApp, c.Application, c.ID)
	for _, tag := range c.Tags {
		removeFromIndex(r.byTag, tag, c.ID)
	}
}

func (r *Registry) reindexComponent(c *Component, oldType, oldApp string, oldTags []string) {
	removeFromIndex(r.byType, oldType, c.ID)
	removeFromIndex(r.byApp, oldApp, c.ID)
	for _, tag := range oldTags {
		removeFromIndex(r.byTag, tag, c.ID)
	}
	r.indexComponent(c)
}

func addToIndex(index map[string]map[string]struct{}, key, id string) {
	if key == "" {
		return
	}
	if index[key] == nil {
		index[key] = make(map[string]struct{})
	}
	index[key][id] = struct{}{}
}

func removeFromIndex(index map[string]map[string]struct{}, key, id string) {
	if set, ok := index[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}

func (r *Registry) cacheSet(c *Component) {
	if r.cache != nil {
		r.cache.Add(c.ID, c.Clone())
	}
}

func (r *Registry) cacheDelete(id string) {
	if r.cache != nil {
		r.cache.Remove(id)
	}
}

func (r *Registry) cacheGet(id string) *Component {
	if r.cache == nil {
		return nil
	}
	c, ok := r.cache.Get(id)
	r.metrics.RecordCache(ok)
	if !ok {
		return nil
	}
	return c
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
