package circuitbreaker

import "sync"

// Registry creates breakers lazily, one per dependency name.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults Config
}

// NewRegistry creates a registry applying defaults to new breakers.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
	}
}

// Get returns the breaker for a dependency name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.defaults)
		r.breakers[name] = b
	}
	return b
}

// Snapshots returns the state of every known breaker.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Snapshot, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}

// Reset forces a named breaker closed, if it exists.
func (r *Registry) Reset(name string) {
	r.mu.Lock()
	b, ok := r.breakers[name]
	r.mu.Unlock()

	if ok {
		b.Reset()
	}
}
