package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	regErrors "github.com/c0deZ3R0/go-registry-kit/errors"
	"github.com/c0deZ3R0/go-registry-kit/registry"
)

func setupManager(t *testing.T, opts Options) (*Manager, *registry.Registry) {
	t.Helper()

	reg, err := registry.New(registry.Options{})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	m := NewManager(reg, opts)
	t.Cleanup(func() {
		m.Close()
		reg.Close()
	})
	return m, reg
}

func registerComponent(t *testing.T, reg *registry.Registry, id string, deps ...string) {
	t.Helper()

	_, err := reg.Register(context.Background(), &registry.Component{
		ID:   id,
		Name: id,
		Type: "service",

		Dependencies: deps,
	})
	if err != nil {
		t.Fatalf("failed to register %s: %v", id, err)
	}
}

// advance walks a component through initialize/load/activate as far as
// requested.
func advance(t *testing.T, m *Manager, id string, upto registry.State) {
	t.Helper()

	ctx := context.Background()
	steps := []struct {
		target registry.State
		op     func(context.Context, string) error
	}{
		{registry.StateInitialized, m.InitializeComponent},
		{registry.StateLoaded, m.LoadComponent},
		{registry.StateActive, m.ActivateComponent},
	}
	for _, step := range steps {
		if err := step.op(ctx, id); err != nil {
			t.Fatalf("failed to reach %s for %s: %v", step.target, id, err)
		}
		if step.target == upto {
			return
		}
	}
}

func stateOf(t *testing.T, reg *registry.Registry, id string) registry.State {
	t.Helper()

	c, err := reg.GetComponent(id)
	if err != nil {
		t.Fatalf("failed to get component %s: %v", id, err)
	}
	return c.State
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from registry.State
		to   registry.State
		want bool
	}{
		{"registered to initializing", registry.StateRegistered, registry.StateInitializing, true},
		{"registered to active", registry.StateRegistered, registry.StateActive, false},
		{"loaded to active", registry.StateLoaded, registry.StateActive, true},
		{"loaded to unloading", registry.StateLoaded, registry.StateUnloading, true},
		{"active to inactive", registry.StateActive, registry.StateInactive, true},
		{"inactive to active", registry.StateInactive, registry.StateActive, true},
		{"active to updating", registry.StateActive, registry.StateUpdating, true},
		{"updating to inactive", registry.StateUpdating, registry.StateInactive, true},
		{"unregistered is terminal", registry.StateUnregistered, registry.StateInitializing, false},
		{"error to initializing", registry.StateError, registry.StateInitializing, true},
		{"error to active", registry.StateError, registry.StateActive, false},
		{"unloaded to unregistering", registry.StateUnloaded, registry.StateUnregistering, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestFullLifecycle(t *testing.T) {
	m, reg := setupManager(t, Options{})
	registerComponent(t, reg, "svc")
	ctx := context.Background()

	steps := []struct {
		op   func(context.Context, string) error
		want registry.State
	}{
		{m.InitializeComponent, registry.StateInitialized},
		{m.LoadComponent, registry.StateLoaded},
		{m.ActivateComponent, registry.StateActive},
		{m.DeactivateComponent, registry.StateInactive},
		{m.ActivateComponent, registry.StateActive},
		{m.UnloadComponent, registry.StateUnloaded},
	}
	for _, step := range steps {
		if err := step.op(ctx, "svc"); err != nil {
			t.Fatalf("operation toward %s failed: %v", step.want, err)
		}
		if got := stateOf(t, reg, "svc"); got != step.want {
			t.Fatalf("state = %s, want %s", got, step.want)
		}
	}

	if err := m.UnregisterComponent(ctx, "svc"); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}
	if _, err := reg.GetComponent("svc"); !regErrors.HasCode(err, regErrors.CodeNotFound) {
		t.Errorf("expected not found after unregister, got %v", err)
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	m, reg := setupManager(t, Options{})
	registerComponent(t, reg, "svc")

	// Activate straight from registered is not in the table.
	err := m.ActivateComponent(context.Background(), "svc")
	if !regErrors.HasCode(err, regErrors.CodeIllegalTransition) {
		t.Fatalf("expected illegal transition error, got %v", err)
	}
	if got := stateOf(t, reg, "svc"); got != registry.StateRegistered {
		t.Errorf("state changed on rejected transition: %s", got)
	}

	// The rejection must not pollute history.
	history, err := m.StateHistory("svc")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1", len(history))
	}
}

func TestUpdateReturnsToPriorState(t *testing.T) {
	tests := []struct {
		name  string
		prior registry.State
	}{
		{"from active", registry.StateActive},
		{"from inactive", registry.StateInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reg := setupManager(t, Options{})
			registerComponent(t, reg, "svc")
			advance(t, m, "svc", registry.StateActive)
			ctx := context.Background()
			if tt.prior == registry.StateInactive {
				if err := m.DeactivateComponent(ctx, "svc"); err != nil {
					t.Fatalf("deactivate: %v", err)
				}
			}

			if err := m.UpdateComponent(ctx, "svc"); err != nil {
				t.Fatalf("update: %v", err)
			}
			if got := stateOf(t, reg, "svc"); got != tt.prior {
				t.Errorf("state after update = %s, want %s", got, tt.prior)
			}
		})
	}
}

func TestUpdateRejectedOutsideSettledStates(t *testing.T) {
	m, reg := setupManager(t, Options{})
	registerComponent(t, reg, "svc")
	advance(t, m, "svc", registry.StateLoaded)

	err := m.UpdateComponent(context.Background(), "svc")
	if !regErrors.HasCode(err, regErrors.CodeIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	if got := stateOf(t, reg, "svc"); got != registry.StateLoaded {
		t.Errorf("state after rejected update = %s, want %s", got, registry.StateLoaded)
	}
}

func TestDependencyValidation(t *testing.T) {
	m, reg := setupManager(t, Options{})
	registerComponent(t, reg, "db")
	registerComponent(t, reg, "api", "db")

	// db is still only registered.
	err := m.InitializeComponent(context.Background(), "api")
	if !regErrors.HasCode(err, regErrors.CodeDependencyNotSatisfied) {
		t.Fatalf("expected dependency error, got %v", err)
	}

	advance(t, m, "db", registry.StateInitialized)
	if err := m.InitializeComponent(context.Background(), "api"); err != nil {
		t.Fatalf("initialize with satisfied dependency: %v", err)
	}
}

func TestMissingDependency(t *testing.T) {
	m, reg := setupManager(t, Options{})
	registerComponent(t, reg, "api", "ghost")

	err := m.InitializeComponent(context.Background(), "api")
	if !regErrors.HasCode(err, regErrors.CodeDependencyNotSatisfied) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

// failingPhases fails a single named phase and counts invocations.
type failingPhases struct {
	NoopPhases
	mu    sync.Mutex
	phase string
	calls int
	err   error
}

func (f *failingPhases) fail(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase == name {
		f.calls++
		return f.err
	}
	return nil
}

func (f *failingPhases) Initialize(ctx context.Context, c *registry.Component) error {
	return f.fail("initialize")
}

func (f *failingPhases) Load(ctx context.Context, c *registry.Component) error {
	return f.fail("load")
}

func (f *failingPhases) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPhaseFailureForcesErrorState(t *testing.T) {
	m, reg := setupManager(t, Options{})
	m.RegisterPhases("service", &failingPhases{phase: "initialize", err: errors.New("boom")})
	registerComponent(t, reg, "svc")

	err := m.InitializeComponent(context.Background(), "svc")
	if !regErrors.HasCode(err, regErrors.CodePhaseFailure) {
		t.Fatalf("expected phase failure, got %v", err)
	}
	if got := stateOf(t, reg, "svc"); got != registry.StateError {
		t.Errorf("state = %s, want %s", got, registry.StateError)
	}

	log := m.ErrorLog("svc")
	if len(log) != 1 {
		t.Fatalf("error log length = %d, want 1", len(log))
	}
	if log[0].Operation != "initialize" || log[0].Message != "boom" {
		t.Errorf("unexpected error record: %+v", log[0])
	}
}

func TestErrorLogBounded(t *testing.T) {
	m, reg := setupManager(t, Options{ErrorLogLimit: 3})
	phases := &failingPhases{phase: "initialize", err: errors.New("boom")}
	m.RegisterPhases("service", phases)
	registerComponent(t, reg, "svc")

	ctx := context.Background()
	// Each failure lands in error; error -> initializing is legal, so the
	// operation can be retried directly.
	for i := 0; i < 5; i++ {
		if err := m.InitializeComponent(ctx, "svc"); err == nil {
			t.Fatal("expected failure")
		}
	}

	if got := len(m.ErrorLog("svc")); got != 3 {
		t.Errorf("error log length = %d, want 3", got)
	}
}

func TestRecoveryFromError(t *testing.T) {
	m, reg := setupManager(t, Options{})
	phases := &failingPhases{phase: "initialize", err: errors.New("boom")}
	m.RegisterPhases("service", phases)
	registerComponent(t, reg, "svc")
	ctx := context.Background()

	if err := m.InitializeComponent(ctx, "svc"); err == nil {
		t.Fatal("expected failure")
	}

	// Clear the fault and retry manually: error -> initializing is legal.
	phases.mu.Lock()
	phases.err = nil
	phases.mu.Unlock()

	if err := m.InitializeComponent(ctx, "svc"); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	if got := stateOf(t, reg, "svc"); got != registry.StateInitialized {
		t.Errorf("state = %s, want %s", got, registry.StateInitialized)
	}
	if got := m.RecoveryAttempts("svc"); got != 0 {
		t.Errorf("recovery attempts not cleared: %d", got)
	}
}

func TestAutoRecoveryRetries(t *testing.T) {
	m, reg := setupManager(t, Options{
		AutoRecovery:        true,
		RecoveryDelay:       10 * time.Millisecond,
		MaxRecoveryAttempts: 3,
	})
	phases := &failingPhases{phase: "initialize", err: errors.New("boom")}
	m.RegisterPhases("service", phases)
	registerComponent(t, reg, "svc")

	if err := m.InitializeComponent(context.Background(), "svc"); err == nil {
		t.Fatal("expected failure")
	}

	// Let the first scheduled retry fire, then clear the fault so the next
	// one succeeds.
	deadline := time.Now().Add(2 * time.Second)
	for phases.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	phases.mu.Lock()
	phases.err = nil
	phases.mu.Unlock()

	for time.Now().Before(deadline) {
		if stateOf(t, reg, "svc") == registry.StateInitialized {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("component never recovered, state = %s", stateOf(t, reg, "svc"))
}

func TestStateHistoryLength(t *testing.T) {
	m, reg := setupManager(t, Options{})
	registerComponent(t, reg, "svc")
	ctx := context.Background()

	// initialize and load are each two transitions, activate is one.
	if err := m.InitializeComponent(ctx, "svc"); err != nil {
		t.Fatal(err)
	}
	if err := m.LoadComponent(ctx, "svc"); err != nil {
		t.Fatal(err)
	}
	if err := m.ActivateComponent(ctx, "svc"); err != nil {
		t.Fatal(err)
	}

	history, err := m.StateHistory("svc")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 6 {
		t.Fatalf("history length = %d, want 6", len(history))
	}
	if history[0].State != registry.StateRegistered {
		t.Errorf("first entry = %s, want %s", history[0].State, registry.StateRegistered)
	}
	if last := history[len(history)-1]; last.State != registry.StateActive {
		t.Errorf("last entry = %s, want %s", last.State, registry.StateActive)
	}
	for i := 1; i < len(history); i++ {
		if history[i].PreviousState != history[i-1].State {
			t.Errorf("entry %d previous = %s, prior entry state = %s",
				i, history[i].PreviousState, history[i-1].State)
		}
	}
}

func TestHooksRun(t *testing.T) {
	m, reg := setupManager(t, Options{})
	registerComponent(t, reg, "svc")

	var mu sync.Mutex
	var order []string
	record := func(label string) Hook {
		return func(ctx context.Context, p HookPayload) error {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			return nil
		}
	}

	m.RegisterHook(HookBeforeInit, record("global-before"))
	m.RegisterComponentHook("svc", HookBeforeInit, record("scoped-before"))
	m.RegisterHook(HookAfterInit, record("global-after"))
	m.RegisterComponentHook("other", HookBeforeInit, record("wrong-component"))

	if err := m.InitializeComponent(context.Background(), "svc"); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"global-before", "scoped-before", "global-after"}
	if len(order) != len(want) {
		t.Fatalf("hook order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("hook order = %v, want %v", order, want)
		}
	}
}

func TestRegisterHookRunsBeforeRegistration(t *testing.T) {
	m, reg := setupManager(t, Options{})

	var mu sync.Mutex
	var seen []HookPayload
	m.RegisterHook(HookBeforeRegister, func(ctx context.Context, p HookPayload) error {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
		return nil
	})

	c, err := m.RegisterComponent(context.Background(), &registry.Component{
		ID: "svc", Name: "svc", Type: "service",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.State != registry.StateRegistered {
		t.Errorf("state = %s, want %s", c.State, registry.StateRegistered)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("before-register hooks ran %d times, want 1", len(seen))
	}
	if seen[0].ComponentID != "svc" || seen[0].Operation != "register" {
		t.Errorf("hook payload = %+v", seen[0])
	}

	if _, err := reg.GetComponent("svc"); err != nil {
		t.Errorf("component missing after registration: %v", err)
	}
}

func TestHookFailureDoesNotAbort(t *testing.T) {
	m, reg := setupManager(t, Options{})
	registerComponent(t, reg, "svc")

	m.RegisterHook(HookBeforeInit, func(ctx context.Context, p HookPayload) error {
		return errors.New("hook broke")
	})
	m.RegisterHook(HookAfterInit, func(ctx context.Context, p HookPayload) error {
		panic("hook panicked")
	})

	if err := m.InitializeComponent(context.Background(), "svc"); err != nil {
		t.Fatalf("hook failure aborted operation: %v", err)
	}
	if got := stateOf(t, reg, "svc"); got != registry.StateInitialized {
		t.Errorf("state = %s, want %s", got, registry.StateInitialized)
	}
}

func TestLifecycleEvents(t *testing.T) {
	m, reg := setupManager(t, Options{})
	registerComponent(t, reg, "svc")

	events := make(chan Event, 16)
	m.Subscribe(func(ev Event) { events <- ev })

	if err := m.InitializeComponent(context.Background(), "svc"); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Type != "transition" || ev.Operation != "initialize" {
			t.Errorf("unexpected event: %+v", ev)
		}
		if ev.To != registry.StateInitialized {
			t.Errorf("event to = %s, want %s", ev.To, registry.StateInitialized)
		}
	case <-time.After(time.Second):
		t.Fatal("no lifecycle event received")
	}
}

func TestConcurrentTransitionsSingleWinner(t *testing.T) {
	m, reg := setupManager(t, Options{})
	registerComponent(t, reg, "svc")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.InitializeComponent(context.Background(), "svc")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !regErrors.HasCode(err, regErrors.CodeIllegalTransition) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("succeeded = %d, want exactly 1", succeeded)
	}
	if got := stateOf(t, reg, "svc"); got != registry.StateInitialized {
		t.Errorf("state = %s, want %s", got, registry.StateInitialized)
	}
}
