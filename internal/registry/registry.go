package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps configuration keys to implementations of one capability.
// It is built once at startup and passed to whoever resolves from it.
type Registry[C any] struct {
	mu      sync.RWMutex
	entries map[string]C
}

// New allocates an empty registry.
func New[C any]() *Registry[C] {
	return &Registry[C]{entries: make(map[string]C)}
}

// Register adds an implementation by name. Names are case-insensitive.
func (r *Registry[C]) Register(name string, impl C) error {
	key := normalize(name)
	if key == "" {
		return fmt.Errorf("registry: name required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("registry: %s already registered", name)
	}
	r.entries[key] = impl
	return nil
}

// MustRegister is Register for built-in entries.
func (r *Registry[C]) MustRegister(name string, impl C) {
	if err := r.Register(name, impl); err != nil {
		panic(err)
	}
}

// Get fetches an implementation by name.
func (r *Registry[C]) Get(name string) (C, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	impl, ok := r.entries[normalize(name)]
	return impl, ok
}

// Resolve is Get with an error naming the known keys.
func (r *Registry[C]) Resolve(name string) (C, error) {
	impl, ok := r.Get(name)
	if !ok {
		var zero C
		return zero, fmt.Errorf("registry: %q not registered (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return impl, nil
}

// Names returns the sorted registered keys.
func (r *Registry[C]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
