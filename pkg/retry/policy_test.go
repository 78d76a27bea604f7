package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// hintedErr carries an explicit retry-after hint, as a rate-limit response would.
type hintedErr struct {
	after time.Duration
}

func (e *hintedErr) Error() string                 { return "rate limited" }
func (e *hintedErr) RetryAfterHint() time.Duration { return e.after }

func fastConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts:    maxAttempts,
		InitialDelay:   time.Microsecond,
		MaxDelay:       time.Millisecond,
		BackoffFactor:  2.0,
		JitterFraction: 0,
	}
}

func alwaysRetry(error) bool { return true }

func TestPolicy_Do_Success(t *testing.T) {
	p := New(fastConfig(5))

	attempts, err := p.Do(context.Background(), alwaysRetry, func(context.Context) error {
		return nil
	})

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestPolicy_Do_ExhaustsAttempts(t *testing.T) {
	p := New(fastConfig(4))
	opErr := errors.New("transient failure")

	calls := 0
	attempts, err := p.Do(context.Background(), alwaysRetry, func(context.Context) error {
		calls++
		return opErr
	})

	if calls != 4 {
		t.Errorf("Expected exactly 4 invocations, got %d", calls)
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts reported, got %d", attempts)
	}
	if !errors.Is(err, opErr) {
		t.Errorf("Expected the original error to propagate unwrapped, got: %v", err)
	}
}

func TestPolicy_Do_NonRetryableShortCircuits(t *testing.T) {
	p := New(fastConfig(10))
	opErr := errors.New("validation failure")

	calls := 0
	attempts, err := p.Do(context.Background(), func(error) bool { return false }, func(context.Context) error {
		calls++
		return opErr
	})

	if calls != 1 {
		t.Errorf("Expected exactly 1 invocation for non-retryable error, got %d", calls)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt reported, got %d", attempts)
	}
	if !errors.Is(err, opErr) {
		t.Errorf("Expected the original error, got: %v", err)
	}
}

func TestPolicy_Do_NilClassifierNeverRetries(t *testing.T) {
	p := New(fastConfig(5))

	calls := 0
	_, err := p.Do(context.Background(), nil, func(context.Context) error {
		calls++
		return errors.New("boom")
	})

	if calls != 1 {
		t.Errorf("Expected 1 invocation with nil classifier, got %d", calls)
	}
	if err == nil {
		t.Error("Expected an error")
	}
}

func TestPolicy_Do_SucceedsOnThirdAttempt(t *testing.T) {
	p := New(fastConfig(5))

	calls := 0
	attempts, err := p.Do(context.Background(), alwaysRetry, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Expected success on third attempt, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected attempt count 3, got %d", attempts)
	}
}

func TestPolicy_Do_CancelledBeforeAttempt(t *testing.T) {
	p := New(fastConfig(5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := p.Do(ctx, alwaysRetry, func(context.Context) error {
		calls++
		return errors.New("transient")
	})

	if calls != 0 {
		t.Errorf("Expected no invocations on a cancelled context, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}

func TestPolicy_Do_CancelledDuringBackoff(t *testing.T) {
	cfg := fastConfig(5)
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour
	p := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = p.Do(ctx, alwaysRetry, func(context.Context) error {
			calls++
			return errors.New("transient")
		})
	}()

	// Let the first attempt fail and the backoff sleep begin.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return promptly after cancellation")
	}

	if calls != 1 {
		t.Errorf("Expected 1 invocation before cancellation, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}

func TestPolicy_Do_RetryAfterHintOverridesBackoff(t *testing.T) {
	cfg := fastConfig(3)
	cfg.InitialDelay = time.Hour // would stall without the hint
	cfg.MaxDelay = time.Hour
	p := New(cfg)

	calls := 0
	start := time.Now()
	_, err := p.Do(context.Background(), alwaysRetry, func(context.Context) error {
		calls++
		if calls < 3 {
			return &hintedErr{after: time.Millisecond}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Expected success, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Hint did not override computed backoff, took %v", elapsed)
	}
}

func TestPolicy_Backoff_GrowthAndCap(t *testing.T) {
	p := New(Config{
		MaxAttempts:   10,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	})

	var prev time.Duration
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Backoff(attempt)
		if d < prev {
			t.Errorf("Backoff decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		if d > 2*time.Second {
			t.Errorf("Backoff exceeded MaxDelay at attempt %d: %v", attempt, d)
		}
		prev = d
	}

	if got := p.Backoff(1); got != 100*time.Millisecond {
		t.Errorf("Expected first backoff to equal InitialDelay, got %v", got)
	}
	if got := p.Backoff(10); got != 2*time.Second {
		t.Errorf("Expected capped backoff, got %v", got)
	}
}

func TestPolicy_Backoff_LargeAttemptDoesNotOverflow(t *testing.T) {
	p := New(Config{
		MaxAttempts:   1000,
		InitialDelay:  time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2.0,
	})

	if got := p.Backoff(500); got != time.Minute {
		t.Errorf("Expected MaxDelay for huge attempt numbers, got %v", got)
	}
}

func TestPolicy_Jitter_StaysWithinFraction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JitterFraction = 0.25
	p := New(cfg)

	base := time.Second
	lo := time.Duration(float64(base) * 0.75)
	hi := time.Duration(float64(base) * 1.25)

	for i := 0; i < 1000; i++ {
		d := p.jitter(base)
		if d < lo || d > hi {
			t.Fatalf("Jittered delay %v outside [%v, %v]", d, lo, hi)
		}
	}
}

func TestDoValue_ReturnsValue(t *testing.T) {
	p := New(fastConfig(3))

	calls := 0
	v, err := DoValue(context.Background(), p, alwaysRetry, func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "secret-value", nil
	})

	if err != nil {
		t.Fatalf("Expected success, got: %v", err)
	}
	if v != "secret-value" {
		t.Errorf("Expected value to round-trip, got %q", v)
	}
}

func TestRetryAfterHint_WrappedError(t *testing.T) {
	base := &hintedErr{after: 7 * time.Second}
	wrapped := fmt.Errorf("calling provisioning api: %w", base)

	d, ok := RetryAfterHint(wrapped)
	if !ok {
		t.Fatal("Expected a hint from the wrapped error")
	}
	if d != 7*time.Second {
		t.Errorf("Expected 7s hint, got %v", d)
	}

	if _, ok := RetryAfterHint(errors.New("plain")); ok {
		t.Error("Expected no hint from a plain error")
	}
}

func TestNew_NormalizesConfig(t *testing.T) {
	p := New(Config{MaxAttempts: 0, BackoffFactor: 0.5, JitterFraction: 3})

	cfg := p.Config()
	if cfg.MaxAttempts != 1 {
		t.Errorf("Expected MaxAttempts normalized to 1, got %d", cfg.MaxAttempts)
	}
	if cfg.BackoffFactor <= 1 {
		t.Errorf("Expected BackoffFactor above 1, got %v", cfg.BackoffFactor)
	}
	if cfg.JitterFraction != 1 {
		t.Errorf("Expected JitterFraction clamped to 1, got %v", cfg.JitterFraction)
	}
}
