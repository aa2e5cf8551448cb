package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	regErrors "github.com/c0deZ3R0/go-registry-kit/errors"
	"github.com/c0deZ3R0/go-registry-kit/metrics"
	"github.com/c0deZ3R0/go-registry-kit/registry"
)

// Event is a lifecycle notification emitted after every applied transition
// and every phase failure.
type Event struct {
	Type        string         `json:"type"` // "transition" or "phase_failure"
	ComponentID string         `json:"component_id"`
	Operation   string         `json:"operation"`
	From        registry.State `json:"from"`
	To          registry.State `json:"to"`
	Error       string         `json:"error,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Options configures a Manager.
type Options struct {
	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics collector. Defaults to a no-op collector.
	Metrics metrics.Collector

	// AutoRecovery schedules a bounded retry after a phase failure.
	AutoRecovery bool

	// RecoveryDelay is the fixed delay before a recovery attempt.
	// Default 5s.
	RecoveryDelay time.Duration

	// MaxRecoveryAttempts bounds automatic retries per component.
	// Exceeding it leaves the component in error until a manual retry.
	// Default 3.
	MaxRecoveryAttempts int

	// ErrorLogLimit bounds the per-component error log. Default 50.
	ErrorLogLimit int

	// ErrorRetention is how long error log entries survive the periodic
	// cleanup sweep. Default 24h.
	ErrorRetention time.Duration

	// CleanupInterval is the sweep period. Default 10m.
	CleanupInterval time.Duration

	// OperationTimeout, when positive, bounds each phase effect. This is a
	// policy hook; there is no caller-visible timeout beyond it.
	OperationTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = &metrics.NoOpCollector{}
	}
	if o.RecoveryDelay <= 0 {
		o.RecoveryDelay = 5 * time.Second
	}
	if o.MaxRecoveryAttempts <= 0 {
		o.MaxRecoveryAttempts = 3
	}
	if o.ErrorLogLimit <= 0 {
		o.ErrorLogLimit = 50
	}
	if o.ErrorRetention <= 0 {
		o.ErrorRetention = 24 * time.Hour
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = 10 * time.Minute
	}
}

// Manager drives components through the lifecycle state machine. It holds no
// authoritative component state of its own: every operation re-reads the
// component from the registry before mutating it.
type Manager struct {
	mu sync.Mutex

	reg *registry.Registry

	histories        map[string][]HistoryEntry
	errorLogs        map[string][]ErrorRecord
	recoveryAttempts map[string]int
	recoveryTimers   map[string]*time.Timer

	hooks  map[hookKey][]Hook
	phases map[string]PhaseRunner

	subscribers []func(Event)

	opts    Options
	logger  *slog.Logger
	metrics metrics.Collector

	cleanupStop chan struct{}
	closed      bool
}

// NewManager creates a lifecycle manager bound to a registry.
func NewManager(reg *registry.Registry, opts Options) *Manager {
	opts.setDefaults()
	return &Manager{
		reg:              reg,
		histories:        make(map[string][]HistoryEntry),
		errorLogs:        make(map[string][]ErrorRecord),
		recoveryAttempts: make(map[string]int),
		recoveryTimers:   make(map[string]*time.Timer),
		hooks:            make(map[hookKey][]Hook),
		phases:           make(map[string]PhaseRunner),
		opts:             opts,
		logger:           opts.Logger.With(slog.String("component", "lifecycle")),
		metrics:          opts.Metrics,
	}
}

// Subscribe registers a handler for lifecycle events. Handlers run on their
// own goroutine; panics are recovered and logged.
func (m *Manager) Subscribe(handler func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, handler)
}

func (m *Manager) notify(ev Event) {
	m.mu.Lock()
	subscribers := make([]func(Event), len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	for _, handler := range subscribers {
		go func(h func(Event)) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("lifecycle subscriber panic recovered", "panic", r)
				}
			}()
			h(ev)
		}(handler)
	}
}

// RegisterComponent runs before-register hooks and then registers the
// component. Hooks observe the pending registration; registry-side
// validation still decides whether it lands.
func (m *Manager) RegisterComponent(ctx context.Context, c *registry.Component) (*registry.Component, error) {
	m.runHooks(ctx, HookBeforeRegister, HookPayload{
		ComponentID: c.ID,
		Operation:   "register",
		To:          registry.StateRegistered,
		Timestamp:   time.Now(),
	})
	return m.reg.Register(ctx, c)
}

// InitializeComponent moves registered -> initializing -> initialized after
// validating that every dependency is registered and in a satisfied state.
func (m *Manager) InitializeComponent(ctx context.Context, id string) error {
	if err := m.checkDependencies(id); err != nil {
		return err
	}
	return m.runOperation(ctx, id, operation{
		name:         "initialize",
		intermediate: registry.StateInitializing,
		target:       registry.StateInitialized,
		beforeHook:   HookBeforeInit,
		afterHook:    HookAfterInit,
		effect: func(p PhaseRunner, ctx context.Context, c *registry.Component) error {
			return p.Initialize(ctx, c)
		},
	})
}

// LoadComponent moves initialized -> loading -> loaded.
func (m *Manager) LoadComponent(ctx context.Context, id string) error {
	return m.runOperation(ctx, id, operation{
		name:         "load",
		intermediate: registry.StateLoading,
		target:       registry.StateLoaded,
		beforeHook:   HookBeforeLoad,
		afterHook:    HookAfterLoad,
		effect: func(p PhaseRunner, ctx context.Context, c *registry.Component) error {
			return p.Load(ctx, c)
		},
	})
}

// ActivateComponent moves loaded or inactive -> active.
func (m *Manager) ActivateComponent(ctx context.Context, id string) error {
	return m.runOperation(ctx, id, operation{
		name:         "activate",
		intermediate: registry.StateActive,
		target:       registry.StateActive,
		beforeHook:   HookBeforeActivate,
		afterHook:    HookAfterActivate,
		effect: func(p PhaseRunner, ctx context.Context, c *registry.Component) error {
			return p.Activate(ctx, c)
		},
	})
}

// DeactivateComponent moves active -> inactive.
func (m *Manager) DeactivateComponent(ctx context.Context, id string) error {
	return m.runOperation(ctx, id, operation{
		name:         "deactivate",
		intermediate: registry.StateInactive,
		target:       registry.StateInactive,
		effect: func(p PhaseRunner, ctx context.Context, c *registry.Component) error {
			return p.Deactivate(ctx, c)
		},
	})
}

// UpdateComponent moves active|inactive -> updating and back to the
// originating state once the update phase succeeds. The transition table
// rejects updates from any other state.
func (m *Manager) UpdateComponent(ctx context.Context, id string) error {
	return m.runOperation(ctx, id, operation{
		name:         "update",
		intermediate: registry.StateUpdating,
		resumeOrigin: true,
		beforeHook:   HookBeforeUpdate,
		afterHook:    HookAfterUpdate,
		effect: func(p PhaseRunner, ctx context.Context, c *registry.Component) error {
			return p.Update(ctx, c)
		},
	})
}

// UnloadComponent moves loaded|active|inactive -> unloading -> unloaded.
func (m *Manager) UnloadComponent(ctx context.Context, id string) error {
	return m.runOperation(ctx, id, operation{
		name:         "unload",
		intermediate: registry.StateUnloading,
		target:       registry.StateUnloaded,
		beforeHook:   HookBeforeUnload,
		afterHook:    HookAfterUnload,
		effect: func(p PhaseRunner, ctx context.Context, c *registry.Component) error {
			return p.Unload(ctx, c)
		},
	})
}

// UnregisterComponent moves unloaded -> unregistering -> unregistered and
// then removes the component from the registry. Registry-side guards
// (dependents) still apply.
func (m *Manager) UnregisterComponent(ctx context.Context, id string) error {
	err := m.runOperation(ctx, id, operation{
		name:         "unregister",
		intermediate: registry.StateUnregistering,
		target:       registry.StateUnregistered,
		effect: func(p PhaseRunner, ctx context.Context, c *registry.Component) error {
			return nil
		},
	})
	if err != nil {
		return err
	}

	if err := m.reg.Unregister(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.histories, id)
	delete(m.errorLogs, id)
	delete(m.recoveryAttempts, id)
	if timer, ok := m.recoveryTimers[id]; ok {
		timer.Stop()
		delete(m.recoveryTimers, id)
	}
	m.mu.Unlock()
	return nil
}

// StateHistory returns the transition history for a component, oldest first.
// The first entry is the registration entry.
func (m *Manager) StateHistory(id string) ([]HistoryEntry, error) {
	c, err := m.reg.GetComponent(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureHistoryLocked(id, c)
	return append([]HistoryEntry(nil), m.histories[id]...), nil
}

// ErrorLog returns the bounded error log for a component, oldest first.
func (m *Manager) ErrorLog(id string) []ErrorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ErrorRecord(nil), m.errorLogs[id]...)
}

// RecoveryAttempts returns the automatic recovery attempts consumed for a
// component still in error.
func (m *Manager) RecoveryAttempts(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recoveryAttempts[id]
}

// operation describes one lifecycle operation for the shared driver.
type operation struct {
	name         string
	intermediate registry.State
	target       registry.State
	// resumeOrigin returns the component to its originating state instead
	// of target. The origin is the state the compare-and-set claimed, so a
	// concurrent transition cannot leave a stale resume target.
	resumeOrigin bool
	beforeHook   HookPoint
	afterHook    HookPoint
	effect       func(PhaseRunner, context.Context, *registry.Component) error
}

// runOperation is the shared driver: legality check, before hooks,
// transition + history, phase effect, after hooks + event; failures force the
// error state, are logged to the bounded error log, and are then re-raised.
func (m *Manager) runOperation(ctx context.Context, id string, op operation) error {
	start := time.Now()
	var opErr error
	defer func() {
		m.metrics.RecordOperation("lifecycle_"+op.name, time.Since(start), nil, opErr)
		m.reg.RecordPerformance(id, time.Since(start), opErr != nil)
	}()

	c, err := m.reg.GetComponent(id)
	if err != nil {
		opErr = err
		return err
	}
	from := c.State
	target := op.target
	if op.resumeOrigin {
		target = from
	}

	if !CanTransition(from, op.intermediate) {
		opErr = regErrors.NewIllegalTransition(id, string(from), string(op.intermediate))
		m.logger.Warn("illegal transition rejected",
			"component_id", id,
			"operation", op.name,
			"from", string(from),
			"to", string(op.intermediate))
		return opErr
	}

	payload := HookPayload{
		ComponentID: id,
		Operation:   op.name,
		From:        from,
		To:          target,
		Timestamp:   time.Now(),
	}
	m.runHooks(ctx, op.beforeHook, payload)

	// The compare-and-set on the prior state serializes concurrent
	// attempts: whichever transition lands first invalidates the other's
	// legality check.
	if err := m.reg.CompareAndSetState(id, from, op.intermediate); err != nil {
		opErr = err
		return err
	}
	m.appendHistory(id, c, op.intermediate, from, op.name)
	m.emitStateChange(ctx, id, from, op.intermediate, op.name)

	phaseCtx := ctx
	var cancel context.CancelFunc
	if m.opts.OperationTimeout > 0 {
		phaseCtx, cancel = context.WithTimeout(ctx, m.opts.OperationTimeout)
		defer cancel()
	}

	runner := m.phasesFor(c.Type)
	if err := op.effect(runner, phaseCtx, c); err != nil {
		opErr = m.failOperation(ctx, id, op.name, op.intermediate, err)
		return opErr
	}

	if target != op.intermediate {
		if err := m.reg.SetState(id, target); err != nil {
			opErr = err
			return err
		}
		m.appendHistory(id, c, target, op.intermediate, op.name)
		m.emitStateChange(ctx, id, op.intermediate, target, op.name)
	}

	m.clearRecovery(id)
	m.reg.RecordUsage(id)

	payload.Timestamp = time.Now()
	m.runHooks(ctx, op.afterHook, payload)

	m.notify(Event{
		Type:        "transition",
		ComponentID: id,
		Operation:   op.name,
		From:        from,
		To:          target,
		Timestamp:   time.Now(),
	})

	m.logger.Info("lifecycle operation completed",
		"component_id", id,
		"operation", op.name,
		"from", string(from),
		"to", string(target))
	return nil
}

// failOperation forces the component into the error state, records the
// failure, runs error hooks, schedules recovery, and returns the error the
// caller observes.
func (m *Manager) failOperation(ctx context.Context, id, opName string, at registry.State, cause error) error {
	// The error state is reachable from any phase regardless of the table.
	if err := m.reg.SetState(id, registry.StateError); err != nil {
		m.logger.Error("failed to force error state", "component_id", id, "error", err)
	} else {
		if c, err := m.reg.GetComponent(id); err == nil {
			m.appendHistory(id, c, registry.StateError, at, opName+" failed: "+cause.Error())
		}
		m.emitStateChange(ctx, id, at, registry.StateError, opName)
	}

	m.mu.Lock()
	log := append(m.errorLogs[id], ErrorRecord{
		Operation: opName,
		Message:   cause.Error(),
		State:     string(at),
		Timestamp: time.Now(),
	})
	if len(log) > m.opts.ErrorLogLimit {
		log = log[len(log)-m.opts.ErrorLogLimit:]
	}
	m.errorLogs[id] = log
	m.mu.Unlock()

	m.runHooks(ctx, HookOnError, HookPayload{
		ComponentID: id,
		Operation:   opName,
		From:        at,
		To:          registry.StateError,
		Err:         cause,
		Timestamp:   time.Now(),
	})

	m.notify(Event{
		Type:        "phase_failure",
		ComponentID: id,
		Operation:   opName,
		From:        at,
		To:          registry.StateError,
		Error:       cause.Error(),
		Timestamp:   time.Now(),
	})

	m.logger.Error("lifecycle phase failed",
		"component_id", id,
		"operation", opName,
		"phase_state", string(at),
		"error", cause)

	if m.opts.AutoRecovery {
		m.scheduleRecovery(id, opName)
	}

	return &regErrors.RegistryError{
		Code:        regErrors.CodePhaseFailure,
		Op:          regErrors.Operation(opName),
		ComponentID: id,
		Err:         fmt.Errorf("%s phase failed: %w", opName, cause),
		Retryable:   true,
	}
}

// scheduleRecovery arms a one-shot retry after the fixed recovery delay.
// Attempts are bounded; exceeding the maximum leaves the component in error
// until an external caller retries manually.
func (m *Manager) scheduleRecovery(id, opName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.recoveryAttempts[id] >= m.opts.MaxRecoveryAttempts {
		m.logger.Warn("recovery attempts exhausted, leaving component in error",
			"component_id", id,
			"attempts", m.recoveryAttempts[id])
		return
	}
	if _, pending := m.recoveryTimers[id]; pending {
		return
	}

	m.recoveryAttempts[id]++
	attempt := m.recoveryAttempts[id]
	m.logger.Info("scheduling recovery attempt",
		"component_id", id,
		"operation", opName,
		"attempt", attempt,
		"delay", m.opts.RecoveryDelay)

	m.recoveryTimers[id] = time.AfterFunc(m.opts.RecoveryDelay, func() {
		m.mu.Lock()
		delete(m.recoveryTimers, id)
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}

		ctx := context.Background()
		var err error
		switch opName {
		case "initialize":
			err = m.InitializeComponent(ctx, id)
		case "unload", "unregister":
			err = m.UnloadComponent(ctx, id)
		default:
			// load/activate/deactivate/update failures recover through
			// the loading path; the caller re-activates afterwards.
			err = m.LoadComponent(ctx, id)
		}
		if err != nil {
			m.logger.Warn("recovery attempt failed",
				"component_id", id,
				"operation", opName,
				"attempt", attempt,
				"error", err)
		} else {
			m.logger.Info("recovery attempt succeeded",
				"component_id", id,
				"operation", opName,
				"attempt", attempt)
		}
	})
}

// clearRecovery drops recovery state once a component leaves error.
func (m *Manager) clearRecovery(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recoveryAttempts, id)
	if timer, ok := m.recoveryTimers[id]; ok {
		timer.Stop()
		delete(m.recoveryTimers, id)
	}
}

// checkDependencies verifies that every dependency is registered and in a
// satisfied state (initialized, loaded or active).
func (m *Manager) checkDependencies(id string) error {
	c, err := m.reg.GetComponent(id)
	if err != nil {
		return err
	}
	for _, depID := range c.Dependencies {
		dep, err := m.reg.GetComponent(depID)
		if err != nil {
			return regErrors.NewDependencyNotSatisfied(id, depID, "unregistered")
		}
		switch dep.State {
		case registry.StateInitialized, registry.StateLoaded, registry.StateActive:
		default:
			return regErrors.NewDependencyNotSatisfied(id, depID, string(dep.State))
		}
	}
	return nil
}

func (m *Manager) appendHistory(id string, c *registry.Component, to, from registry.State, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureHistoryLocked(id, c)
	m.histories[id] = append(m.histories[id], HistoryEntry{
		State:         to,
		PreviousState: from,
		Reason:        reason,
		Timestamp:     time.Now(),
	})
}

// ensureHistoryLocked lazily seeds the registration entry so that history
// length is always transitions performed plus one. Caller holds m.mu.
func (m *Manager) ensureHistoryLocked(id string, c *registry.Component) {
	if _, ok := m.histories[id]; ok {
		return
	}
	m.histories[id] = []HistoryEntry{{
		State:     registry.StateRegistered,
		Reason:    "registered",
		Timestamp: c.RegisteredAt,
	}}
}

func (m *Manager) emitStateChange(ctx context.Context, id string, from, to registry.State, opName string) {
	m.runHooks(ctx, HookOnStateChange, HookPayload{
		ComponentID: id,
		Operation:   opName,
		From:        from,
		To:          to,
		Timestamp:   time.Now(),
	})
}

// StartCleanup launches the periodic sweep that prunes stale error-log
// entries and drops recovery counters for components no longer in error.
// It returns after launching; the sweep stops when ctx is done or Close is
// called.
func (m *Manager) StartCleanup(ctx context.Context) {
	m.mu.Lock()
	if m.cleanupStop != nil || m.closed {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.cleanupStop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.opts.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.opts.ErrorRetention)

	m.mu.Lock()
	for id, log := range m.errorLogs {
		kept := log[:0]
		for _, rec := range log {
			if rec.Timestamp.After(cutoff) {
				kept = append(kept, rec)
			}
		}
		if len(kept) == 0 {
			delete(m.errorLogs, id)
		} else {
			m.errorLogs[id] = kept
		}
	}
	ids := make([]string, 0, len(m.recoveryAttempts))
	for id := range m.recoveryAttempts {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		c, err := m.reg.GetComponent(id)
		if err != nil || c.State != registry.StateError {
			m.clearRecovery(id)
		}
	}
	m.logger.Debug("lifecycle cleanup sweep completed")
}

// Close stops the cleanup sweep and pending recovery timers.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	if m.cleanupStop != nil {
		close(m.cleanupStop)
		m.cleanupStop = nil
	}
	for id, timer := range m.recoveryTimers {
		timer.Stop()
		delete(m.recoveryTimers, id)
	}
	return nil
}
