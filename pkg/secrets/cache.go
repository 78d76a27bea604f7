package secrets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/provisio/provisio/pkg/retry"
	"github.com/provisio/provisio/pkg/toggles"
)

// StoreClient fetches secrets from the remote secret store.
type StoreClient interface {
	Fetch(ctx context.Context, name string) (string, error)
}

// FallbackSource reads secrets from a cheap local source, typically the
// deployment's own configuration. It is consulted when the remote store is
// toggled off or unreachable.
type FallbackSource interface {
	Get(ctx context.Context, name string) (string, error)
}

// ToggleReader reports whether a named feature switch is on.
type ToggleReader interface {
	Enabled(name string) bool
}

// MetricsSink records cache lookup outcomes. Optional.
type MetricsSink interface {
	SecretCacheLookup(outcome string)
}

// cachedSecret pairs a value with its expiry timestamp.
type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// Config holds the collaborators and tunables for a secret cache.
type Config struct {
	// Client is the remote secret store. Required when the remote store
	// toggle is on.
	Client StoreClient

	// Fallback is the local source used when the store is off or down.
	Fallback FallbackSource

	// TTL bounds how long a fetched secret is served from memory.
	TTL time.Duration

	// Toggles gates remote store usage via toggles.RemoteSecretStore.
	Toggles ToggleReader

	// Retry executes remote fetches; transient store failures retry
	// before the fallback kicks in.
	Retry *retry.Policy

	// Retryable classifies store errors for the retry policy.
	Retryable retry.Classifier

	// Logger receives degradation warnings.
	Logger zerolog.Logger

	// Metrics records lookup outcomes. Optional.
	Metrics MetricsSink

	// Now returns the current time. Injectable for tests; defaults to
	// time.Now.
	Now func() time.Time
}

// Cache is a concurrency-safe secret cache with graceful degradation.
type Cache struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cachedSecret
}

// New creates a secret cache from the given configuration.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.New(retry.DefaultConfig())
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Cache{
		cfg:     cfg,
		now:     now,
		entries: make(map[string]cachedSecret),
	}
}

// Get returns the named secret. With the remote store toggled off it reads
// the fallback source directly. Otherwise it serves an unexpired cached
// value, or fetches from the store through the retry policy, caching the
// result for TTL. When the store stays unreachable after retries, Get falls
// back to the local source and logs loudly instead of failing the caller.
func (c *Cache) Get(ctx context.Context, name string) (string, error) {
	if c.cfg.Toggles != nil && !c.cfg.Toggles.Enabled(toggles.RemoteSecretStore) {
		return c.fromFallback(ctx, name)
	}

	if value, ok := c.lookup(name); ok {
		c.count("hit")
		return value, nil
	}
	c.count("miss")

	value, err := retry.DoValue(ctx, c.cfg.Retry, c.cfg.Retryable, func(ctx context.Context) (string, error) {
		return c.cfg.Client.Fetch(ctx, name)
	})
	if err != nil {
		// Cancellation is the caller's decision, not a store outage;
		// don't mask it with a fallback value.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		c.cfg.Logger.Warn().Err(err).
			Str("secret", name).
			Msg("Remote secret store unreachable after retries; degrading to local fallback")
		c.count("fallback")
		return c.fromFallback(ctx, name)
	}

	c.store(name, value)
	return value, nil
}

// Invalidate drops the named secret from the cache, forcing the next Get to
// fetch.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}

// lookup returns an unexpired cached value, evicting a stale one lazily.
func (c *Cache) lookup(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[name]
	if !ok {
		return "", false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, name)
		return "", false
	}
	return entry.value, true
}

// store caches a freshly fetched value.
func (c *Cache) store(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = cachedSecret{
		value:     value,
		expiresAt: c.now().Add(c.cfg.TTL),
	}
}

// fromFallback reads the local source.
func (c *Cache) fromFallback(ctx context.Context, name string) (string, error) {
	if c.cfg.Fallback == nil {
		c.count("error")
		return "", fmt.Errorf("secret %q: no fallback source configured", name)
	}

	value, err := c.cfg.Fallback.Get(ctx, name)
	if err != nil {
		c.count("error")
		return "", fmt.Errorf("secret %q from fallback source: %w", name, err)
	}
	return value, nil
}

// count records a lookup outcome when a metrics sink is configured.
func (c *Cache) count(outcome string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SecretCacheLookup(outcome)
	}
}
