package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is normal operation; calls pass through.
	StateClosed State = iota
	// StateOpen means the dependency is considered down; calls fail fast.
	StateOpen
	// StateHalfOpen admits a limited number of probe calls after cooldown.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen is returned without invoking the operation while the circuit
	// is open and the cooldown has not elapsed.
	ErrOpen = errors.New("circuit open")

	// ErrProbeLimit is returned while the circuit is half-open and the
	// concurrent probe budget is already in use.
	ErrProbeLimit = errors.New("circuit half-open, probe limit reached")
)

// IsOpen reports whether an error means the call was rejected by the breaker
// rather than failed by the dependency itself. Callers should treat this as
// "try again later", not as evidence the operation is invalid.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen) || errors.Is(err, ErrProbeLimit)
}

// StateChangeFunc is notified of state transitions, the integration point
// for health checks and metrics.
type StateChangeFunc func(name string, from, to State)

// Config holds the tunables for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips a
	// closed circuit open.
	FailureThreshold int

	// Cooldown is how long an open circuit rejects calls before admitting
	// probes.
	Cooldown time.Duration

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit.
	SuccessThreshold int

	// HalfOpenMaxConcurrent bounds the number of in-flight probe calls
	// while half-open.
	HalfOpenMaxConcurrent int

	// OnStateChange, if set, is invoked after each state transition. It is
	// called outside the breaker's lock.
	OnStateChange StateChangeFunc

	// Now returns the current time. Injectable for tests; defaults to
	// time.Now.
	Now func() time.Time
}

// DefaultConfig returns the breaker tunables used when the caller does not
// override them.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:      5,
		Cooldown:              30 * time.Second,
		SuccessThreshold:      2,
		HalfOpenMaxConcurrent: 1,
	}
}

// Breaker is a shared state machine guarding one named dependency. All state
// reads and writes happen under its mutex; the guarded operation itself runs
// outside the lock.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu           sync.Mutex
	state        State
	failures     int // consecutive failures while closed
	successes    int // consecutive successes while half-open
	openedAt     time.Time
	activeProbes int
}

// New creates a breaker for the named dependency, applying defaults for zero
// or out-of-range config fields. Use a Registry to share breakers by name.
func New(name string, cfg Config) *Breaker {
	def := DefaultConfig()

	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.HalfOpenMaxConcurrent < 1 {
		cfg.HalfOpenMaxConcurrent = def.HalfOpenMaxConcurrent
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Breaker{
		name:  name,
		cfg:   cfg,
		now:   now,
		state: StateClosed,
	}
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Do executes op under the breaker's protection. While open it fails fast
// with ErrOpen without invoking op; while half-open it admits at most
// HalfOpenMaxConcurrent concurrent probes. The operation's own error is
// returned unchanged on failure.
func (b *Breaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err)
	return err
}

// admit decides whether a call may proceed, transitioning Open -> HalfOpen
// when the cooldown has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		// Cooldown elapsed: this call becomes the first probe.
		notify := b.transition(StateHalfOpen)
		b.activeProbes = 1
		b.successes = 0
		b.mu.Unlock()
		notify()
		return nil

	case StateHalfOpen:
		if b.activeProbes >= b.cfg.HalfOpenMaxConcurrent {
			b.mu.Unlock()
			return fmt.Errorf("%s: %w", b.name, ErrProbeLimit)
		}
		b.activeProbes++
		b.mu.Unlock()
		return nil
	}

	b.mu.Unlock()
	return nil
}

// record updates counters and state from the outcome of an admitted call.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	notify := func() {}

	switch b.state {
	case StateClosed:
		if err != nil {
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				notify = b.transition(StateOpen)
				b.openedAt = b.now()
			}
		} else {
			b.failures = 0
		}

	case StateHalfOpen:
		if b.activeProbes > 0 {
			b.activeProbes--
		}
		if err != nil {
			// A single half-open failure reopens the circuit and
			// restarts the cooldown clock.
			notify = b.transition(StateOpen)
			b.openedAt = b.now()
			b.successes = 0
			b.activeProbes = 0
		} else {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				notify = b.transition(StateClosed)
				b.failures = 0
				b.successes = 0
				b.activeProbes = 0
			}
		}

	case StateOpen:
		// A call admitted before the circuit tripped finished late.
		// The circuit is already protecting the dependency; the
		// outcome changes nothing.
	}

	b.mu.Unlock()
	notify()
}

// transition switches state and returns the deferred state-change
// notification. Must be called with the lock held; the returned func must be
// invoked after unlocking.
func (b *Breaker) transition(to State) func() {
	from := b.state
	b.state = to

	if b.cfg.OnStateChange == nil || from == to {
		return func() {}
	}
	cb := b.cfg.OnStateChange
	return func() { cb(b.name, from, to) }
}

// State returns the breaker's current state. An open circuit whose cooldown
// has elapsed still reports open until the next call arrives to probe it.
func (b *Breaker) State() State {
	return b.Snapshot().State
}

// Snapshot is a read-only view of a breaker for health-check consumers.
type Snapshot struct {
	Name                 string    `json:"name"`
	State                State     `json:"-"`
	StateName            string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	OpenedAt             time.Time `json:"opened_at,omitempty"`
}

// Snapshot returns a point-in-time view of the breaker's state and counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Name:                 b.name,
		State:                b.state,
		StateName:            b.state.String(),
		ConsecutiveFailures:  b.failures,
		ConsecutiveSuccesses: b.successes,
		OpenedAt:             b.openedAt,
	}
}

// Reset forces the breaker back to closed with cleared counters. Intended
// for admin surfaces after a dependency is known to have recovered.
func (b *Breaker) Reset() {
	b.mu.Lock()
	notify := b.transition(StateClosed)
	b.failures = 0
	b.successes = 0
	b.activeProbes = 0
	b.mu.Unlock()
	notify()
}
