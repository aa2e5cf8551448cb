package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	regErrors "github.com/c0deZ3R0/go-registry-kit/errors"
	"github.com/c0deZ3R0/go-registry-kit/metrics"
	"github.com/c0deZ3R0/go-registry-kit/registry"
)

// errPendingManual signals that a component's conflicts were parked for
// manual resolution.
var errPendingManual = errors.New("conflicts pending manual resolution")

// syncKey identifies one (componentID, targetApplication) pair.
type syncKey struct {
	componentID string
	application string
}

// Options configures a sync Manager.
type Options struct {
	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics collector. Defaults to a no-op collector.
	Metrics metrics.Collector

	// Policy is the global conflict resolution policy. Default auto.
	Policy Policy

	// ConcurrencyCeiling bounds simultaneously running operations;
	// overflow queues FIFO. Default 3.
	ConcurrencyCeiling int

	// QueueLimit bounds the overflow queue. Default 32.
	QueueLimit int

	// HistoryLimit bounds the completed-operation ring. Default 100.
	HistoryLimit int

	// OperationTimeout fails a running operation that exceeds it.
	// Default 2m.
	OperationTimeout time.Duration

	// ManualRetention is how long unresolved manual conflicts survive
	// garbage collection. Default 24h.
	ManualRetention time.Duration

	// GCInterval is the pending-conflict sweep period. Default 10m.
	GCInterval time.Duration

	// Classifier drives selective mode. Defaults to a change-recency and
	// payload-size heuristic.
	Classifier Classifier
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = &metrics.NoOpCollector{}
	}
	if !o.Policy.Valid() {
		o.Policy = PolicyAuto
	}
	if o.ConcurrencyCeiling <= 0 {
		o.ConcurrencyCeiling = 3
	}
	if o.QueueLimit <= 0 {
		o.QueueLimit = 32
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 100
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = 2 * time.Minute
	}
	if o.ManualRetention <= 0 {
		o.ManualRetention = 24 * time.Hour
	}
	if o.GCInterval <= 0 {
		o.GCInterval = 10 * time.Minute
	}
	if o.Classifier == nil {
		o.Classifier = defaultClassifier{}
	}
}

// Manager propagates component state to registered targets. Operations
// beyond the concurrency ceiling queue FIFO; completed operations move to a
// bounded history ring.
type Manager struct {
	mu stdsync.Mutex

	reg *registry.Registry

	targets   map[string]Target
	resolvers map[ConflictType]Resolver
	conns     map[string]*connection
	pending   map[string]PendingConflict

	active  map[string]*Operation
	queue   []*Operation
	history []*Operation

	// lastSync holds the per-pair checkpoint of the last accepted push;
	// lastComponentSync the per-component one used by incremental mode.
	lastSync          map[syncKey]time.Time
	lastComponentSync map[string]time.Time

	analytics map[syncKey]*Analytics

	opts    Options
	logger  *slog.Logger
	metrics metrics.Collector

	wg     stdsync.WaitGroup
	gcStop chan struct{}
	closed bool
}

// NewManager creates a sync manager bound to a registry. The auto policy
// starts with built-in resolvers for both conflict types; callers may
// replace them via RegisterResolver.
func NewManager(reg *registry.Registry, opts Options) *Manager {
	opts.setDefaults()
	m := &Manager{
		reg:               reg,
		targets:           make(map[string]Target),
		resolvers:         make(map[ConflictType]Resolver),
		conns:             make(map[string]*connection),
		pending:           make(map[string]PendingConflict),
		active:            make(map[string]*Operation),
		lastSync:          make(map[syncKey]time.Time),
		lastComponentSync: make(map[string]time.Time),
		analytics:         make(map[syncKey]*Analytics),
		opts:              opts,
		logger:            opts.Logger.With(slog.String("component", "sync")),
		metrics:           opts.Metrics,
	}
	m.resolvers[ConflictStateMismatch] = PreferLocal()
	m.resolvers[ConflictConcurrentModification] = LastWriterWins()
	return m
}

// Sync submits a sync request. When a slot is free the operation starts
// immediately; otherwise it is queued FIFO. The returned Operation is a
// point-in-time copy; poll GetOperation for progress.
func (m *Manager) Sync(ctx context.Context, req Request) (*Operation, error) {
	if len(req.ComponentIDs) == 0 {
		return nil, regErrors.NewValidation(regErrors.OpSync,
			fmt.Errorf("at least one component id is required"))
	}
	if len(req.TargetApplications) == 0 {
		return nil, regErrors.NewValidation(regErrors.OpSync,
			fmt.Errorf("at least one target application is required"))
	}
	if !req.Mode.Valid() {
		return nil, regErrors.NewValidation(regErrors.OpSync,
			fmt.Errorf("unknown sync mode %q", req.Mode))
	}

	op := &Operation{
		ID:                 uuid.NewString(),
		ComponentIDs:       append([]string(nil), req.ComponentIDs...),
		TargetApplications: append([]string(nil), req.TargetApplications...),
		Mode:               req.Mode,
		Priority:           req.Priority,
		Force:              req.Force,
		Status:             StatusPending,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, regErrors.New(regErrors.OpSync, fmt.Errorf("sync manager is closed"))
	}
	if len(m.active) >= m.opts.ConcurrencyCeiling {
		if len(m.queue) >= m.opts.QueueLimit {
			m.mu.Unlock()
			return nil, regErrors.NewRetryable(regErrors.OpSync,
				fmt.Errorf("sync queue is full (%d operations waiting)", m.opts.QueueLimit))
		}
		m.queue = append(m.queue, op)
		queued := len(m.queue)
		m.mu.Unlock()
		m.logger.Info("sync operation queued",
			"operation_id", op.ID,
			"mode", string(req.Mode),
			"queue_depth", queued)
		return op.clone(), nil
	}
	m.startLocked(op)
	m.mu.Unlock()

	return op.clone(), nil
}

// startLocked moves an operation into the active set and launches its
// worker. Caller holds m.mu.
func (m *Manager) startLocked(op *Operation) {
	op.Status = StatusRunning
	op.StartedAt = time.Now()
	m.active[op.ID] = op
	m.wg.Add(1)
	go m.run(op)
}

// run executes one operation end to end and then drains the queue.
func (m *Manager) run(op *Operation) {
	defer m.wg.Done()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.OperationTimeout)
	defer cancel()

	var opErr error
	defer func() {
		if r := recover(); r != nil {
			opErr = fmt.Errorf("sync operation panicked: %v", r)
			m.logger.Error("sync operation panic recovered",
				"operation_id", op.ID, "panic", r)
		}
		m.finish(op, opErr)
		m.metrics.RecordOperation("sync_"+string(op.Mode), time.Since(start),
			map[string]string{"mode": string(op.Mode)}, opErr)
	}()

	m.mu.Lock()
	op.log(fmt.Sprintf("started %s sync of %d components to %d targets",
		op.Mode, len(op.ComponentIDs), len(op.TargetApplications)))
	m.mu.Unlock()

	for _, id := range op.ComponentIDs {
		if err := ctx.Err(); err != nil {
			opErr = fmt.Errorf("sync operation timed out after %s: %w", m.opts.OperationTimeout, err)
			return
		}
		result := m.syncComponent(ctx, op, id)

		m.mu.Lock()
		op.Results.Components = append(op.Results.Components, result)
		op.Results.Conflicts = append(op.Results.Conflicts, result.Conflicts...)
		switch result.Status {
		case ComponentSynced:
			op.Results.Successful = append(op.Results.Successful, id)
			op.log(fmt.Sprintf("component %s synced", id))
		case ComponentSkipped:
			op.Results.Skipped = append(op.Results.Skipped, id)
			op.log(fmt.Sprintf("component %s skipped (no changes)", id))
		default:
			op.Results.Failed = append(op.Results.Failed, id)
			op.log(fmt.Sprintf("component %s failed: %s", id, result.Error))
		}
		m.mu.Unlock()
	}
}

// syncComponent dispatches one component through the operation's mode.
func (m *Manager) syncComponent(ctx context.Context, op *Operation, id string) ComponentResult {
	force := op.Force
	c, err := m.reg.GetComponent(id)
	if err != nil {
		return ComponentResult{ComponentID: id, Status: ComponentFailed, Error: err.Error()}
	}
	if !force && !syncableState(c.State) {
		return ComponentResult{
			ComponentID: id,
			Status:      ComponentFailed,
			Error:       fmt.Sprintf("component is in state %q and cannot be synced", c.State),
		}
	}

	mode := op.Mode
	if mode == ModeSelective {
		m.mu.Lock()
		last := m.lastComponentSync[id]
		m.mu.Unlock()
		switch m.opts.Classifier.Classify(c, last) {
		case ClassifySkip:
			if !force {
				return ComponentResult{ComponentID: id, Status: ComponentSkipped}
			}
			mode = ModeFull
		case ClassifyIncremental:
			mode = ModeIncremental
		default:
			mode = ModeFull
		}
	}

	if mode == ModeIncremental && !force {
		m.mu.Lock()
		last, synced := m.lastComponentSync[id]
		m.mu.Unlock()
		// Empty changeset: already synced, not a failure.
		if synced && !c.UpdatedAt.After(last) {
			return ComponentResult{ComponentID: id, Status: ComponentSkipped}
		}
	}

	return m.pushComponent(ctx, op, c)
}

// syncableState reports whether a component may be synced: settled states
// only, never transient or error states.
func syncableState(s registry.State) bool {
	switch s {
	case registry.StateRegistered, registry.StateInitialized, registry.StateLoaded,
		registry.StateActive, registry.StateInactive, registry.StateUnloaded:
		return true
	}
	return false
}

// pushComponent runs conflict detection and resolution against every target,
// then pushes. All targets must accept or the component fails with
// per-target detail.
func (m *Manager) pushComponent(ctx context.Context, op *Operation, c *registry.Component) ComponentResult {
	force := op.Force
	result := ComponentResult{ComponentID: c.ID, TargetErrors: make(map[string]string)}
	proposed := c

	var allConflicts []Conflict
	for _, app := range op.TargetApplications {
		target := m.targetFor(app)
		if target == nil {
			result.TargetErrors[app] = fmt.Sprintf("no target registered for application %q", app)
			continue
		}

		view, err := target.View(ctx, c.ID)
		if err != nil {
			result.TargetErrors[app] = fmt.Sprintf("failed to fetch target view: %v", err)
			continue
		}

		m.mu.Lock()
		checkpoint := m.lastSync[syncKey{c.ID, app}]
		m.mu.Unlock()

		conflicts := detectConflicts(proposed, app, view, checkpoint)
		if len(conflicts) == 0 {
			continue
		}
		allConflicts = append(allConflicts, conflicts...)

		adopted, _, err := m.resolveConflicts(ctx, proposed, conflicts)
		if err != nil {
			if errors.Is(err, errPendingManual) && !force {
				result.Status = ComponentPendingManual
				result.Conflicts = allConflicts
				result.Error = errPendingManual.Error()
				return result
			}
			if !force {
				result.Status = ComponentFailed
				result.Conflicts = allConflicts
				result.Error = err.Error()
				return result
			}
			// Forced: push the local state regardless.
		} else if adopted != nil {
			proposed = adopted
		}
	}
	result.Conflicts = allConflicts

	now := time.Now()
	pushed := make([]string, 0, len(op.TargetApplications))
	for _, app := range op.TargetApplications {
		if _, failed := result.TargetErrors[app]; failed {
			m.recordAnalytics(c.ID, app, false, result.TargetErrors[app], now)
			continue
		}
		target := m.targetFor(app)
		if err := target.Push(ctx, proposed); err != nil {
			result.TargetErrors[app] = err.Error()
			m.recordAnalytics(c.ID, app, false, err.Error(), now)
			continue
		}
		pushed = append(pushed, app)
		m.recordAnalytics(c.ID, app, true, "", now)
	}

	if len(result.TargetErrors) > 0 {
		result.Status = ComponentFailed
		result.Error = fmt.Sprintf("%d of %d targets rejected the push",
			len(result.TargetErrors), len(op.TargetApplications))
		return result
	}
	result.TargetErrors = nil

	// Accepted everywhere: adopt any resolved state, persist, checkpoint,
	// notify.
	if proposed != c {
		if err := m.writeBack(ctx, c.ID, proposed); err != nil {
			result.Status = ComponentFailed
			result.Error = fmt.Sprintf("targets accepted the push but the resolved state could not be adopted: %v", err)
			return result
		}
	}
	if err := m.reg.PersistState(ctx, c.ID); err != nil {
		m.logger.Warn("failed to persist synced state",
			"component_id", c.ID, "error", err)
	}

	m.mu.Lock()
	for _, app := range pushed {
		m.lastSync[syncKey{c.ID, app}] = now
	}
	m.lastComponentSync[c.ID] = now
	m.mu.Unlock()

	m.broadcast(Notification{
		Type:        "component_update",
		ComponentID: c.ID,
		Payload: map[string]interface{}{
			"component": proposed.Clone(),
			"targets":   pushed,
			"operation": op.ID,
		},
		Timestamp: now,
	})

	result.Status = ComponentSynced
	return result
}

// recordAnalytics updates the per-(componentID, targetApplication) tally.
func (m *Manager) recordAnalytics(componentID, app string, ok bool, errMsg string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := syncKey{componentID, app}
	a, exists := m.analytics[key]
	if !exists {
		a = &Analytics{ComponentID: componentID, TargetApplication: app}
		m.analytics[key] = a
	}
	if ok {
		a.Successes++
		a.LastSyncedAt = at
		a.LastError = ""
	} else {
		a.Failures++
		a.LastError = errMsg
	}
}

// finish moves an operation from the active set to the bounded history ring
// and starts the next queued operation if a slot freed up.
func (m *Manager) finish(op *Operation, opErr error) {
	m.mu.Lock()

	op.CompletedAt = time.Now()
	if opErr != nil {
		op.Status = StatusFailed
		op.Error = opErr.Error()
		op.log("operation failed: " + opErr.Error())
	} else {
		op.Status = StatusCompleted
		op.log(fmt.Sprintf("completed: %d synced, %d skipped, %d failed",
			len(op.Results.Successful), len(op.Results.Skipped), len(op.Results.Failed)))
	}

	delete(m.active, op.ID)
	m.history = append(m.history, op)
	if len(m.history) > m.opts.HistoryLimit {
		m.history = m.history[len(m.history)-m.opts.HistoryLimit:]
	}

	var next *Operation
	if !m.closed && len(m.queue) > 0 && len(m.active) < m.opts.ConcurrencyCeiling {
		next = m.queue[0]
		m.queue = m.queue[1:]
		m.startLocked(next)
	}
	m.mu.Unlock()

	m.logger.Info("sync operation finished",
		"operation_id", op.ID,
		"status", string(op.Status),
		"successful", len(op.Results.Successful),
		"skipped", len(op.Results.Skipped),
		"failed", len(op.Results.Failed))
	if next != nil {
		m.logger.Info("dequeued sync operation", "operation_id", next.ID)
	}
}

// GetOperation returns a point-in-time copy of an active or historical
// operation.
func (m *Manager) GetOperation(id string) (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if op, ok := m.active[id]; ok {
		return op.clone(), nil
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ID == id {
			return m.history[i].clone(), nil
		}
	}
	for _, op := range m.queue {
		if op.ID == id {
			return op.clone(), nil
		}
	}
	return nil, regErrors.NewNotFound(regErrors.OpSync, id)
}

// ActiveOperations returns copies of the currently running operations.
func (m *Manager) ActiveOperations() []*Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Operation, 0, len(m.active))
	for _, op := range m.active {
		out = append(out, op.clone())
	}
	return out
}

// History returns copies of completed operations, oldest first.
func (m *Manager) History() []*Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Operation, len(m.history))
	for i, op := range m.history {
		out[i] = op.clone()
	}
	return out
}

// QueueDepth returns the number of operations waiting for a slot.
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// GetAnalytics returns the tallies, optionally filtered by component id
// (empty means all pairs).
func (m *Manager) GetAnalytics(componentID string) []Analytics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Analytics
	for _, a := range m.analytics {
		if componentID == "" || a.ComponentID == componentID {
			out = append(out, *a)
		}
	}
	return out
}

// LastSync returns the last successful sync time for a component, with ok
// false when it has never synced.
func (m *Manager) LastSync(componentID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastComponentSync[componentID]
	return t, ok
}

// NotifyComponent broadcasts a component-scoped notification to connections
// subscribed to that component id.
func (m *Manager) NotifyComponent(notifType, componentID string, payload map[string]interface{}) {
	m.broadcast(Notification{
		Type:        notifType,
		ComponentID: componentID,
		Payload:     payload,
		Timestamp:   time.Now(),
	})
}

// NotifySystem broadcasts a system-wide notification to every connection.
func (m *Manager) NotifySystem(notifType string, payload map[string]interface{}) {
	m.broadcast(Notification{
		Type:      notifType,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// StartGC launches the periodic sweep that garbage-collects unresolved
// manual conflicts past the retention window.
func (m *Manager) StartGC(ctx context.Context) {
	m.mu.Lock()
	if m.gcStop != nil || m.closed {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.gcStop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.opts.GCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				m.gcPending()
			}
		}
	}()
}

// Close drains the queue, waits for running operations, and stops the GC
// sweep.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.queue = nil
	for id, conn := range m.conns {
		delete(m.conns, id)
		close(conn.ch)
	}
	if m.gcStop != nil {
		close(m.gcStop)
		m.gcStop = nil
	}
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}
