package router

import "sync"

// Registry is the ordered set of listener handles attached to a transport
// for one connect attempt. It is owned by a single Connection Manager.
type Registry struct {
	mu      sync.Mutex
	entries []registryEntry
}

type registryEntry struct {
	name       string
	unregister func()
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add records an unregister handle. Each handle runs at most once even if
// the caller leaks it elsewhere.
func (r *Registry) Add(name string, unregister func()) {
	var once sync.Once
	wrapped := func() { once.Do(unregister) }

	r.mu.Lock()
	r.entries = append(r.entries, registryEntry{name: name, unregister: wrapped})
	r.mu.Unlock()
}

// Len returns the number of attached handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Names returns the attached handle names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}

// Drain invokes every handle in registration order and empties the registry.
// Draining an empty registry is a no-op. Returns the number of handles invoked.
func (r *Registry) Drain() int {
	// Detach the list first so a handle that re-enters Drain sees an empty registry.
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	for _, e := range entries {
		e.unregister()
	}
	return len(entries)
}
