package breaker

import "sync"

// Registry maps dependency names to breaker instances. Exactly one breaker
// exists per name for the registry's lifetime: it is created lazily on first
// lookup and never removed, so every caller of a dependency shares the
// failure history observed by the others.
//
// Pass a Registry explicitly through the call chain instead of holding a
// package-level instance; "same name implies same instance" is guaranteed by
// the registry object, not by global scope.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it with cfg on first lookup.
// Later lookups return the existing instance; their cfg is ignored, since
// reconfiguring a live breaker would discard shared failure state.
func (r *Registry) Get(name string, cfg Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	b := New(name, cfg)
	r.breakers[name] = b
	return b
}

// Lookup returns the breaker for name if one exists.
func (r *Registry) Lookup(name string) (*Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	return b, ok
}

// Snapshots returns a point-in-time view of every registered breaker, for
// health-check and status surfaces.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		snaps = append(snaps, b.Snapshot())
	}
	return snaps
}
