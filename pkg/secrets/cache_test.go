package secrets

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/provisio/provisio/pkg/retry"
	"github.com/provisio/provisio/pkg/toggles"
)

// fakeStore counts fetches and can be scripted to fail.
type fakeStore struct {
	mu      sync.Mutex
	fetches int
	err     error
	values  map[string]string
}

func (s *fakeStore) Fetch(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.err != nil {
		return "", s.err
	}
	return s.values[name], nil
}

func (s *fakeStore) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// fakeFallback is a static local source.
type fakeFallback struct {
	values map[string]string
	err    error
}

func (f *fakeFallback) Get(_ context.Context, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.values[name]
	if !ok {
		return "", errors.New("not in fallback")
	}
	return v, nil
}

// staticClock is an adjustable time source.
type staticClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStaticClock() *staticClock {
	return &staticClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *staticClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *staticClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fastRetry() *retry.Policy {
	return retry.New(retry.Config{
		MaxAttempts:   3,
		InitialDelay:  time.Microsecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 2.0,
	})
}

func testCache(store *fakeStore, fallback *fakeFallback, clock *staticClock, tg ToggleReader) *Cache {
	// Avoid storing a typed nil in the FallbackSource interface field.
	var fb FallbackSource
	if fallback != nil {
		fb = fallback
	}
	return New(Config{
		Client:    store,
		Fallback:  fb,
		TTL:       60 * time.Second,
		Toggles:   tg,
		Retry:     fastRetry(),
		Retryable: func(error) bool { return true },
		Logger:    zerolog.Nop(),
		Now:       clock.Now,
	})
}

func TestCache_HitSuppressesRemoteCall(t *testing.T) {
	store := &fakeStore{values: map[string]string{"api-key": "s3cr3t"}}
	cache := testCache(store, nil, newStaticClock(), nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		v, err := cache.Get(ctx, "api-key")
		if err != nil {
			t.Fatalf("Get %d failed: %v", i+1, err)
		}
		if v != "s3cr3t" {
			t.Errorf("Get %d: expected s3cr3t, got %q", i+1, v)
		}
	}

	if got := store.fetchCount(); got != 1 {
		t.Errorf("Expected exactly 1 remote fetch within TTL, got %d", got)
	}
}

func TestCache_TTLExpiryTriggersRefetch(t *testing.T) {
	store := &fakeStore{values: map[string]string{"api-key": "s3cr3t"}}
	clock := newStaticClock()
	cache := testCache(store, nil, clock, nil)
	ctx := context.Background()

	// t=0 and t=30: one fetch.
	if _, err := cache.Get(ctx, "api-key"); err != nil {
		t.Fatalf("Get at t=0 failed: %v", err)
	}
	clock.Advance(30 * time.Second)
	if _, err := cache.Get(ctx, "api-key"); err != nil {
		t.Fatalf("Get at t=30 failed: %v", err)
	}
	if got := store.fetchCount(); got != 1 {
		t.Fatalf("Expected 1 fetch inside TTL window, got %d", got)
	}

	// t=70: past the 60s TTL, a second fetch.
	clock.Advance(40 * time.Second)
	if _, err := cache.Get(ctx, "api-key"); err != nil {
		t.Fatalf("Get at t=70 failed: %v", err)
	}
	if got := store.fetchCount(); got != 2 {
		t.Errorf("Expected a second fetch after expiry, got %d", got)
	}
}

func TestCache_ToggleOffUsesFallbackOnly(t *testing.T) {
	store := &fakeStore{values: map[string]string{"api-key": "remote"}}
	fallback := &fakeFallback{values: map[string]string{"api-key": "local"}}
	tg := toggles.New(map[string]bool{toggles.RemoteSecretStore: false}, zerolog.Nop())

	cache := testCache(store, fallback, newStaticClock(), tg)

	v, err := cache.Get(context.Background(), "api-key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != "local" {
		t.Errorf("Expected fallback value, got %q", v)
	}
	if store.fetchCount() != 0 {
		t.Errorf("Expected no remote fetches with toggle off, got %d", store.fetchCount())
	}
}

func TestCache_FallsBackWhenStoreUnreachable(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	fallback := &fakeFallback{values: map[string]string{"api-key": "local"}}
	cache := testCache(store, fallback, newStaticClock(), nil)

	v, err := cache.Get(context.Background(), "api-key")
	if err != nil {
		t.Fatalf("Expected graceful degradation, got: %v", err)
	}
	if v != "local" {
		t.Errorf("Expected fallback value, got %q", v)
	}

	// The store was retried before degrading.
	if got := store.fetchCount(); got != 3 {
		t.Errorf("Expected 3 fetch attempts before fallback, got %d", got)
	}
}

func TestCache_FallbackMissPropagates(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	fallback := &fakeFallback{values: map[string]string{}}
	cache := testCache(store, fallback, newStaticClock(), nil)

	if _, err := cache.Get(context.Background(), "api-key"); err == nil {
		t.Error("Expected an error when both store and fallback fail")
	}
}

func TestCache_NoFallbackConfigured(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	cache := testCache(store, nil, newStaticClock(), nil)

	if _, err := cache.Get(context.Background(), "api-key"); err == nil {
		t.Error("Expected an error when the store fails and no fallback exists")
	}
}

func TestCache_CancellationNotMaskedByFallback(t *testing.T) {
	store := &fakeStore{err: errors.New("slow store")}
	fallback := &fakeFallback{values: map[string]string{"api-key": "local"}}
	cache := testCache(store, fallback, newStaticClock(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cache.Get(ctx, "api-key")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}

func TestCache_Invalidate(t *testing.T) {
	store := &fakeStore{values: map[string]string{"api-key": "s3cr3t"}}
	cache := testCache(store, nil, newStaticClock(), nil)
	ctx := context.Background()

	_, _ = cache.Get(ctx, "api-key")
	cache.Invalidate("api-key")
	_, _ = cache.Get(ctx, "api-key")

	if got := store.fetchCount(); got != 2 {
		t.Errorf("Expected refetch after invalidation, got %d fetches", got)
	}
}
