package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/c0deZ3R0/go-registry-kit/registry"
)

// Target is one target application's sync endpoint. View reports the
// target's currently known state (nil when the target has never seen the
// component); Push delivers a new state.
type Target interface {
	Application() string
	View(ctx context.Context, componentID string) (*View, error)
	Push(ctx context.Context, c *registry.Component) error
}

// RegisterTarget binds a target application endpoint, replacing any previous
// binding for the same application id.
func (m *Manager) RegisterTarget(t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[t.Application()] = t
}

func (m *Manager) targetFor(app string) Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targets[app]
}

// MemoryTarget is an in-process Target holding its view in a map. It backs
// same-process application views and doubles as the reference Target
// implementation for remote transports.
type MemoryTarget struct {
	app string

	mu    stdsync.RWMutex
	views map[string]*View

	// PushErr, when set, makes every Push fail. Used to simulate an
	// unavailable target.
	PushErr error
}

// NewMemoryTarget creates an empty in-memory target for an application id.
func NewMemoryTarget(app string) *MemoryTarget {
	return &MemoryTarget{
		app:   app,
		views: make(map[string]*View),
	}
}

func (t *MemoryTarget) Application() string { return t.app }

func (t *MemoryTarget) View(ctx context.Context, componentID string) (*View, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.views[componentID]
	if !ok {
		return nil, nil
	}
	return &View{Component: v.Component.Clone(), ModifiedAt: v.ModifiedAt}, nil
}

func (t *MemoryTarget) Push(ctx context.Context, c *registry.Component) error {
	if t.PushErr != nil {
		return t.PushErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.views[c.ID] = &View{Component: c.Clone(), ModifiedAt: time.Now()}
	return nil
}

// Seed installs a view directly, bypassing Push. Lets callers model a target
// that diverged out of band.
func (t *MemoryTarget) Seed(c *registry.Component, modifiedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.views[c.ID] = &View{Component: c.Clone(), ModifiedAt: modifiedAt}
}
