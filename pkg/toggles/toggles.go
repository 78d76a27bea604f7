package toggles

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Well-known toggle names.
const (
	// Retry gates whether remote calls go through the retry policy.
	Retry = "retry"

	// CircuitBreaker gates whether remote calls are guarded by a breaker.
	CircuitBreaker = "circuit-breaker"

	// RemoteSecretStore gates whether secrets come from the remote store
	// or only from the local fallback source.
	RemoteSecretStore = "remote-secret-store"
)

// Defaults returns the built-in switch values. All resilience features are
// on by default; toggles exist to switch them off in constrained
// environments, not the other way around.
func Defaults() map[string]bool {
	return map[string]bool{
		Retry:             true,
		CircuitBreaker:    true,
		RemoteSecretStore: true,
	}
}

// Toggles is a concurrency-safe set of named boolean switches.
type Toggles struct {
	mu     sync.RWMutex
	values map[string]bool
	logger zerolog.Logger
}

// New creates a toggle set from the defaults with the given overrides
// applied on top. A nil overrides map yields pure defaults.
func New(overrides map[string]bool, logger zerolog.Logger) *Toggles {
	values := Defaults()
	for name, on := range overrides {
		values[name] = on
	}

	return &Toggles{
		values: values,
		logger: logger.With().Str("component", "toggles").Logger(),
	}
}

// Enabled reports whether the named switch is on. Unknown names are off.
func (t *Toggles) Enabled(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.values[name]
}

// Set overrides a single switch at runtime.
func (t *Toggles) Set(name string, on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[name] = on
}

// Snapshot returns a copy of the current switch values.
func (t *Toggles) Snapshot() map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]bool, len(t.values))
	for name, on := range t.values {
		out[name] = on
	}
	return out
}

// LoadFile replaces the override layer with the contents of a YAML file
// holding a flat map of toggle name to bool. Defaults still apply for names
// the file does not mention.
func (t *Toggles) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading toggle file: %w", err)
	}

	var overrides map[string]bool
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("parsing toggle file %s: %w", path, err)
	}

	values := Defaults()
	for name, on := range overrides {
		values[name] = on
	}

	t.mu.Lock()
	t.values = values
	t.mu.Unlock()

	return nil
}

// Watch reloads the toggle file whenever it changes, until ctx is cancelled.
// A file that fails to parse is logged and skipped; the previous values stay
// in effect. The initial load happens before Watch returns.
func (t *Toggles) Watch(ctx context.Context, path string) error {
	if err := t.LoadFile(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating toggle watcher: %w", err)
	}

	// Watch the directory rather than the file: editors and config
	// management tools typically replace the file via rename.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching toggle directory: %w", err)
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if err := t.LoadFile(path); err != nil {
					t.logger.Warn().Err(err).Msg("Toggle file reload failed; keeping previous values")
					continue
				}
				t.logger.Info().Str("path", path).Msg("Toggle file reloaded")

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				t.logger.Warn().Err(err).Msg("Toggle watcher error")
			}
		}
	}()

	return nil
}
