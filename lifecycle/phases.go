package lifecycle

import (
	"context"

	"github.com/c0deZ3R0/go-registry-kit/registry"
)

// PhaseRunner performs the phase-specific effect for a component type:
// acquiring resources on initialize, wiring APIs on load, releasing on
// unload, and so on. Real backends substitute their own implementation
// without touching the state machine.
type PhaseRunner interface {
	Initialize(ctx context.Context, c *registry.Component) error
	Load(ctx context.Context, c *registry.Component) error
	Activate(ctx context.Context, c *registry.Component) error
	Deactivate(ctx context.Context, c *registry.Component) error
	Update(ctx context.Context, c *registry.Component) error
	Unload(ctx context.Context, c *registry.Component) error
}

// NoopPhases is the default PhaseRunner: every phase succeeds trivially.
type NoopPhases struct{}

var _ PhaseRunner = (*NoopPhases)(nil)

func (NoopPhases) Initialize(ctx context.Context, c *registry.Component) error { return nil }
func (NoopPhases) Load(ctx context.Context, c *registry.Component) error       { return nil }
func (NoopPhases) Activate(ctx context.Context, c *registry.Component) error   { return nil }
func (NoopPhases) Deactivate(ctx context.Context, c *registry.Component) error { return nil }
func (NoopPhases) Update(ctx context.Context, c *registry.Component) error     { return nil }
func (NoopPhases) Unload(ctx context.Context, c *registry.Component) error     { return nil }

// RegisterPhases binds a PhaseRunner to a component type. Components whose
// type has no runner use NoopPhases.
func (m *Manager) RegisterPhases(componentType string, runner PhaseRunner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases[componentType] = runner
}

func (m *Manager) phasesFor(componentType string) PhaseRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	if runner, ok := m.phases[componentType]; ok {
		return runner
	}
	return NoopPhases{}
}
