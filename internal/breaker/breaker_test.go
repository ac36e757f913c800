package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// testClock is a manually advanced time source shared with the registry.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *testClock) {
	t.Helper()
	clk := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(cfg, WithNow(clk.Now)), clk
}

func failOnce(registry *Registry, service string) error {
	_, err := registry.Execute(service, func() (any, error) {
		return nil, errors.New("boom")
	})
	return err
}

func TestUnseenKeyIsClosed(t *testing.T) {
	t.Parallel()

	registry, _ := newTestRegistry(t, Config{})
	if state := registry.GetState("never-used"); state != StateClosed {
		t.Fatalf("expected closed for unseen key, got %q", state)
	}
}

func TestExecuteReturnsOperationResult(t *testing.T) {
	t.Parallel()

	registry, _ := newTestRegistry(t, Config{})
	result, err := registry.Execute("github-api", func() (any, error) {
		return "run-42", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "run-42" {
		t.Fatalf("expected operation result, got %v", result)
	}
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	t.Parallel()

	registry, _ := newTestRegistry(t, Config{FailureThreshold: 5})
	for i := 0; i < 4; i++ {
		if err := failOnce(registry, "svc"); err == nil {
			t.Fatalf("expected operation error on failure %d", i+1)
		}
	}
	if state := registry.GetState("svc"); state != StateClosed {
		t.Fatalf("expected closed after threshold-1 failures, got %q", state)
	}

	if err := failOnce(registry, "svc"); err == nil {
		t.Fatal("expected operation error on threshold failure")
	}
	if state := registry.GetState("svc"); state != StateOpen {
		t.Fatalf("expected open after threshold failures, got %q", state)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	registry, _ := newTestRegistry(t, Config{FailureThreshold: 3})
	for i := 0; i < 2; i++ {
		_ = failOnce(registry, "svc")
	}
	if _, err := registry.Execute("svc", func() (any, error) { return nil, nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Counter restarted: two more failures must not trip a threshold of three.
	for i := 0; i < 2; i++ {
		_ = failOnce(registry, "svc")
	}
	if state := registry.GetState("svc"); state != StateClosed {
		t.Fatalf("expected closed after counter reset, got %q", state)
	}
}

func TestFailFastWhileOpen(t *testing.T) {
	t.Parallel()

	registry, clk := newTestRegistry(t, Config{FailureThreshold: 2, Cooldown: time.Minute})
	for i := 0; i < 2; i++ {
		_ = failOnce(registry, "svc")
	}

	calls := 0
	clk.Advance(30 * time.Second)
	_, err := registry.Execute("svc", func() (any, error) {
		calls++
		return nil, nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected wrapped operation not invoked, got %d calls", calls)
	}
}

func TestTrialSuccessCloses(t *testing.T) {
	t.Parallel()

	registry, clk := newTestRegistry(t, Config{FailureThreshold: 2, Cooldown: time.Minute})
	for i := 0; i < 2; i++ {
		_ = failOnce(registry, "svc")
	}

	clk.Advance(61 * time.Second)
	result, err := registry.Execute("svc", func() (any, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("unexpected trial error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected trial result, got %v", result)
	}
	if state := registry.GetState("svc"); state != StateClosed {
		t.Fatalf("expected closed after successful trial, got %q", state)
	}
}

func TestTrialFailureRestartsCooldown(t *testing.T) {
	t.Parallel()

	registry, clk := newTestRegistry(t, Config{FailureThreshold: 2, Cooldown: time.Minute})
	for i := 0; i < 2; i++ {
		_ = failOnce(registry, "svc")
	}

	clk.Advance(61 * time.Second)
	if err := failOnce(registry, "svc"); errors.Is(err, ErrOpen) || err == nil {
		t.Fatalf("expected trial to run and fail with operation error, got %v", err)
	}
	if state := registry.GetState("svc"); state != StateOpen {
		t.Fatalf("expected open after failed trial, got %q", state)
	}

	// Cooldown clock restarted at trial failure time.
	clk.Advance(59 * time.Second)
	_, err := registry.Execute("svc", func() (any, error) { return nil, nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected rejection inside restarted cooldown, got %v", err)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()

	registry, _ := newTestRegistry(t, Config{FailureThreshold: 2})
	for i := 0; i < 2; i++ {
		_ = failOnce(registry, "a")
	}

	if state := registry.GetState("a"); state != StateOpen {
		t.Fatalf("expected a open, got %q", state)
	}
	if state := registry.GetState("b"); state != StateClosed {
		t.Fatalf("expected b closed, got %q", state)
	}
	if _, err := registry.Execute("b", func() (any, error) { return nil, nil }); err != nil {
		t.Fatalf("expected b call to succeed, got %v", err)
	}
}

func TestResetIsUnconditional(t *testing.T) {
	t.Parallel()

	registry, _ := newTestRegistry(t, Config{FailureThreshold: 2, Cooldown: time.Hour})
	for i := 0; i < 2; i++ {
		_ = failOnce(registry, "svc")
	}
	if state := registry.GetState("svc"); state != StateOpen {
		t.Fatalf("expected open before reset, got %q", state)
	}

	registry.Reset("svc")
	if state := registry.GetState("svc"); state != StateClosed {
		t.Fatalf("expected closed after reset, got %q", state)
	}
	if _, err := registry.Execute("svc", func() (any, error) { return nil, nil }); err != nil {
		t.Fatalf("expected call to pass after reset, got %v", err)
	}
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
	rejected    int
}

func (o *recordingObserver) StateChanged(service string, from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, service+":"+string(from)+">"+string(to))
}

func (o *recordingObserver) CallRejected(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected++
}

func TestObserverSeesTransitionsAndRejections(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{}
	clk := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	registry := New(Config{FailureThreshold: 1, Cooldown: time.Minute}, WithNow(clk.Now), WithObserver(observer))

	_ = failOnce(registry, "svc")
	_, _ = registry.Execute("svc", func() (any, error) { return nil, nil })
	clk.Advance(61 * time.Second)
	if _, err := registry.Execute("svc", func() (any, error) { return nil, nil }); err != nil {
		t.Fatalf("unexpected trial error: %v", err)
	}

	observer.mu.Lock()
	defer observer.mu.Unlock()
	want := []string{"svc:closed>open", "svc:open>half_open", "svc:half_open>closed"}
	if len(observer.transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, observer.transitions)
	}
	for i := range want {
		if observer.transitions[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, observer.transitions)
		}
	}
	if observer.rejected != 1 {
		t.Fatalf("expected one rejected call, got %d", observer.rejected)
	}
}
