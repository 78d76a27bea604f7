package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Operation is a single unit of remote work. It is invoked once per attempt
// and must be safe to invoke repeatedly.
type Operation func(ctx context.Context) error

// Classifier reports whether an error is worth retrying. Classification is
// supplied per call site because "is this retryable" depends on the error
// taxonomy of the wrapped API, which this package knows nothing about.
type Classifier func(err error) bool

// Config holds the tunables for a retry policy.
type Config struct {
	// MaxAttempts is the total number of tries, including the first one.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// InitialDelay is the backoff before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the computed backoff for any single attempt.
	MaxDelay time.Duration

	// BackoffFactor is the exponential growth factor. Values at or below 1
	// are replaced with the default.
	BackoffFactor float64

	// JitterFraction randomizes each delay by up to this fraction in either
	// direction. Must be in [0, 1]; out-of-range values are clamped.
	JitterFraction float64
}

// DefaultConfig returns the retry tunables used when the caller does not
// override them.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  2.0,
		JitterFraction: 0.2,
	}
}

// Policy executes operations with bounded retries and exponential backoff.
// A Policy is immutable after construction and safe for concurrent use.
type Policy struct {
	cfg Config

	// rand returns a value in [0, 1). Replaceable in tests.
	rand func() float64
}

// New creates a retry policy from the given configuration, applying defaults
// for zero or out-of-range fields.
func New(cfg Config) *Policy {
	def := DefaultConfig()

	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	if cfg.JitterFraction > 1 {
		cfg.JitterFraction = 1
	}

	return &Policy{
		cfg:  cfg,
		rand: rand.Float64,
	}
}

// Config returns the normalized configuration of the policy.
func (p *Policy) Config() Config {
	return p.cfg
}

// Do executes op until it succeeds, fails with a non-retryable error, or the
// attempt budget is exhausted. It returns the number of attempts made and the
// final error, unwrapped, so the root cause stays inspectable.
//
// If the error carries an explicit retry-after hint (see RetryAfterHint), the
// hint replaces the computed backoff for that attempt only. Cancellation of
// ctx stops the loop promptly, before the next attempt and during backoff
// sleeps, and is reported as the context's error rather than retried.
func (p *Policy) Do(ctx context.Context, retryable Classifier, op Operation) (int, error) {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return attempt, nil
		}

		if retryable == nil || !retryable(lastErr) {
			return attempt, lastErr
		}
		if attempt >= p.cfg.MaxAttempts {
			return attempt, lastErr
		}

		delay := p.jitter(p.Backoff(attempt))
		if hint, ok := RetryAfterHint(lastErr); ok {
			delay = hint
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}
	}
}

// DoValue executes op through the policy and returns its value alongside the
// final error. It is a convenience for operations that produce a result.
func DoValue[T any](ctx context.Context, p *Policy, retryable Classifier, op func(ctx context.Context) (T, error)) (T, error) {
	var value T

	_, err := p.Do(ctx, retryable, func(ctx context.Context) error {
		var opErr error
		value, opErr = op(ctx)
		return opErr
	})

	return value, err
}

// Backoff returns the base delay before the attempt following the given
// 1-based attempt number, ignoring jitter:
//
//	min(MaxDelay, InitialDelay * BackoffFactor^(attempt-1))
//
// Consecutive values are non-decreasing and never exceed MaxDelay.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.cfg.InitialDelay) * math.Pow(p.cfg.BackoffFactor, float64(attempt-1))
	if delay > float64(p.cfg.MaxDelay) || math.IsInf(delay, 1) {
		return p.cfg.MaxDelay
	}

	return time.Duration(delay)
}

// jitter randomizes a delay by up to ±JitterFraction.
func (p *Policy) jitter(d time.Duration) time.Duration {
	if p.cfg.JitterFraction == 0 {
		return d
	}

	// Uniform in [1-f, 1+f).
	scale := 1 + p.cfg.JitterFraction*(2*p.rand()-1)
	return time.Duration(float64(d) * scale)
}

// RetryAfterHint extracts an explicit retry-after hint from an error chain,
// typically originating from a rate-limit response. The second return value
// reports whether a positive hint was found.
func RetryAfterHint(err error) (time.Duration, bool) {
	var hinted interface{ RetryAfterHint() time.Duration }
	if errors.As(err, &hinted) {
		if d := hinted.RetryAfterHint(); d > 0 {
			return d, true
		}
	}
	return 0, false
}
