package lifecycle

import (
	"context"
	"time"

	"github.com/c0deZ3R0/go-registry-kit/registry"
)

// HookPoint is a closed set of lifecycle extension points. Each point
// receives the same strongly-typed payload, which prevents the
// hook/payload mismatches of string-keyed hook sets.
type HookPoint string

const (
	HookBeforeRegister HookPoint = "beforeRegister"
	HookBeforeInit     HookPoint = "beforeInit"
	HookAfterInit      HookPoint = "afterInit"
	HookBeforeLoad     HookPoint = "beforeLoad"
	HookAfterLoad      HookPoint = "afterLoad"
	HookBeforeActivate HookPoint = "beforeActivate"
	HookAfterActivate  HookPoint = "afterActivate"
	HookBeforeUpdate   HookPoint = "beforeUpdate"
	HookAfterUpdate    HookPoint = "afterUpdate"
	HookBeforeUnload   HookPoint = "beforeUnload"
	HookAfterUnload    HookPoint = "afterUnload"
	HookOnError        HookPoint = "onError"
	HookOnStateChange  HookPoint = "onStateChange"
)

// HookPayload is the typed payload delivered to every hook.
type HookPayload struct {
	ComponentID string
	Operation   string
	From        registry.State
	To          registry.State
	Err         error
	Timestamp   time.Time
}

// Hook is a lifecycle extension callback. Hook failures are logged and never
// abort the operation that triggered them.
type Hook func(ctx context.Context, payload HookPayload) error

type hookKey struct {
	point       HookPoint
	componentID string // empty for global hooks
}

// RegisterHook adds a global hook for the given point.
func (m *Manager) RegisterHook(point HookPoint, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := hookKey{point: point}
	m.hooks[key] = append(m.hooks[key], hook)
}

// RegisterComponentHook adds a hook scoped to one component id.
func (m *Manager) RegisterComponentHook(componentID string, point HookPoint, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := hookKey{point: point, componentID: componentID}
	m.hooks[key] = append(m.hooks[key], hook)
}

// runHooks executes global hooks then component-scoped hooks for the point.
// Caller must not hold m.mu.
func (m *Manager) runHooks(ctx context.Context, point HookPoint, payload HookPayload) {
	m.mu.Lock()
	global := append([]Hook(nil), m.hooks[hookKey{point: point}]...)
	scoped := append([]Hook(nil), m.hooks[hookKey{point: point, componentID: payload.ComponentID}]...)
	m.mu.Unlock()

	for _, hook := range global {
		m.runHook(ctx, point, payload, hook)
	}
	for _, hook := range scoped {
		m.runHook(ctx, point, payload, hook)
	}
}

func (m *Manager) runHook(ctx context.Context, point HookPoint, payload HookPayload, hook Hook) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("hook panic recovered",
				"hook_point", string(point),
				"component_id", payload.ComponentID,
				"panic", r)
		}
	}()
	if err := hook(ctx, payload); err != nil {
		m.logger.Warn("hook failed",
			"hook_point", string(point),
			"component_id", payload.ComponentID,
			"operation", payload.Operation,
			"error", err)
	}
}
