package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock provides controllable time for cooldown transitions.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testBreaker(clock *fakeClock, onChange StateChangeFunc) *Breaker {
	return New("provisioning-api", Config{
		FailureThreshold:      3,
		Cooldown:              30 * time.Second,
		SuccessThreshold:      2,
		HalfOpenMaxConcurrent: 1,
		OnStateChange:         onChange,
		Now:                   clock.Now,
	})
}

func fail(context.Context) error { return errors.New("dependency down") }
func ok(context.Context) error   { return nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := testBreaker(newFakeClock(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Do(ctx, fail); IsOpen(err) {
			t.Fatalf("Breaker rejected call %d before threshold", i+1)
		}
	}

	if got := b.State(); got != StateOpen {
		t.Fatalf("Expected open state after 3 failures, got %v", got)
	}

	// The fourth call must fail fast without invoking the operation.
	invoked := false
	err := b.Do(ctx, func(context.Context) error {
		invoked = true
		return nil
	})

	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got: %v", err)
	}
	if invoked {
		t.Error("Operation ran while the circuit was open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := testBreaker(newFakeClock(), nil)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, ok)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)

	if got := b.State(); got != StateClosed {
		t.Errorf("Expected closed state after interleaved success, got %v", got)
	}

	snap := b.Snapshot()
	if snap.ConsecutiveFailures != 2 {
		t.Errorf("Expected 2 consecutive failures, got %d", snap.ConsecutiveFailures)
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Do(ctx, fail)
	}

	// Before cooldown elapses calls are still rejected.
	clock.Advance(29 * time.Second)
	if err := b.Do(ctx, ok); !errors.Is(err, ErrOpen) {
		t.Fatalf("Expected ErrOpen before cooldown, got: %v", err)
	}

	// After cooldown the next call is attempted as a probe.
	clock.Advance(2 * time.Second)
	invoked := false
	if err := b.Do(ctx, func(context.Context) error {
		invoked = true
		return nil
	}); err != nil {
		t.Fatalf("Expected probe to run, got: %v", err)
	}
	if !invoked {
		t.Fatal("Probe was not invoked after cooldown")
	}

	if got := b.State(); got != StateHalfOpen {
		t.Errorf("Expected half-open after one successful probe, got %v", got)
	}

	// Second consecutive success closes the circuit.
	if err := b.Do(ctx, ok); err != nil {
		t.Fatalf("Expected second probe to run, got: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("Expected closed after success threshold, got %v", got)
	}
}

func TestBreaker_HalfOpenFailureReopensAndResetsCooldown(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Do(ctx, fail)
	}
	clock.Advance(31 * time.Second)

	// Probe fails: straight back to open.
	if err := b.Do(ctx, fail); IsOpen(err) {
		t.Fatalf("Expected probe to be attempted, got: %v", err)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("Expected open after failed probe, got %v", got)
	}

	// The cooldown clock restarted at the failed probe, so 29s later the
	// circuit is still rejecting.
	clock.Advance(29 * time.Second)
	if err := b.Do(ctx, ok); !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, cooldown should have been reset, got: %v", err)
	}
}

func TestBreaker_HalfOpenProbeLimit(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Do(ctx, fail)
	}
	clock.Advance(31 * time.Second)

	// Hold one probe in flight, then try a second concurrent call.
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- b.Do(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	err := b.Do(ctx, ok)
	if !errors.Is(err, ErrProbeLimit) {
		t.Errorf("Expected ErrProbeLimit for concurrent probe, got: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Expected in-flight probe to succeed, got: %v", err)
	}
}

func TestBreaker_OperationErrorPropagatesUnchanged(t *testing.T) {
	b := testBreaker(newFakeClock(), nil)
	opErr := errors.New("workspace already exists")

	err := b.Do(context.Background(), func(context.Context) error { return opErr })
	if !errors.Is(err, opErr) {
		t.Errorf("Expected the operation's error unchanged, got: %v", err)
	}
}

func TestBreaker_StateChangeNotifications(t *testing.T) {
	clock := newFakeClock()

	type change struct{ from, to State }
	var mu sync.Mutex
	var changes []change

	b := testBreaker(clock, func(name string, from, to State) {
		if name != "provisioning-api" {
			t.Errorf("Unexpected breaker name %q", name)
		}
		mu.Lock()
		changes = append(changes, change{from, to})
		mu.Unlock()
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Do(ctx, fail)
	}
	clock.Advance(31 * time.Second)
	_ = b.Do(ctx, ok)
	_ = b.Do(ctx, ok)

	mu.Lock()
	defer mu.Unlock()

	want := []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("Expected %d transitions, got %d: %v", len(want), len(changes), changes)
	}
	for i, w := range want {
		if changes[i] != w {
			t.Errorf("Transition %d: expected %v->%v, got %v->%v",
				i, w.from, w.to, changes[i].from, changes[i].to)
		}
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := testBreaker(newFakeClock(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Do(ctx, fail)
	}
	if b.State() != StateOpen {
		t.Fatal("Expected open breaker before reset")
	}

	b.Reset()

	if got := b.State(); got != StateClosed {
		t.Errorf("Expected closed after reset, got %v", got)
	}
	if err := b.Do(ctx, ok); err != nil {
		t.Errorf("Expected call to pass after reset, got: %v", err)
	}
}

func TestState_String(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}

	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}

func TestRegistry_SameNameSameInstance(t *testing.T) {
	r := NewRegistry()

	a := r.Get("provisioning-api", DefaultConfig())
	c := r.Get("provisioning-api", Config{FailureThreshold: 99})

	if a != c {
		t.Fatal("Expected the same breaker instance for the same name")
	}

	other := r.Get("secret-store", DefaultConfig())
	if other == a {
		t.Fatal("Expected distinct instances for distinct names")
	}
}

func TestRegistry_SharedFailureState(t *testing.T) {
	r := NewRegistry()
	cfg := Config{FailureThreshold: 3, Cooldown: time.Minute}
	ctx := context.Background()

	// Two callers hold the breaker by name; failures seen through one
	// affect the other.
	first := r.Get("provisioning-api", cfg)
	second := r.Get("provisioning-api", cfg)

	_ = first.Do(ctx, fail)
	_ = second.Do(ctx, fail)
	_ = first.Do(ctx, fail)

	if err := second.Do(ctx, ok); !errors.Is(err, ErrOpen) {
		t.Errorf("Expected shared breaker to be open, got: %v", err)
	}
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	results := make([]*Breaker, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Get("provisioning-api", DefaultConfig())
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatal("Concurrent Get returned different instances for one name")
		}
	}
}

func TestRegistry_Snapshots(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	_ = r.Get("provisioning-api", Config{FailureThreshold: 2}).Do(ctx, fail)
	r.Get("secret-store", DefaultConfig())

	snaps := r.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(snaps))
	}

	byName := make(map[string]Snapshot, len(snaps))
	for _, s := range snaps {
		byName[s.Name] = s
	}
	if byName["provisioning-api"].ConsecutiveFailures != 1 {
		t.Errorf("Expected 1 recorded failure, got %d", byName["provisioning-api"].ConsecutiveFailures)
	}
	if byName["secret-store"].StateName != "closed" {
		t.Errorf("Expected fresh breaker to report closed, got %q", byName["secret-store"].StateName)
	}
}
