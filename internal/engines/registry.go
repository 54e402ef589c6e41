// Package engines holds the template engine adapters and the registry the
// executor looks them up in.
package engines

import (
	"sort"
	"sync"

	"github.com/cryguy/render/internal/core"
)

// Registry maps engine names to adapters. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]core.Engine
}

// NewRegistry returns a registry holding engines.
func NewRegistry(engines ...core.Engine) *Registry {
	r := &Registry{engines: make(map[string]core.Engine, len(engines))}
	for _, e := range engines {
		r.Register(e)
	}
	return r
}

// Default returns a registry with the built-in adapters.
func Default() *Registry {
	return NewRegistry(NewPongo2(), NewGoTemplate(), None{})
}

// Register adds e, replacing any adapter with the same name.
func (r *Registry) Register(e core.Engine) {
	r.mu.Lock()
	r.engines[e.Name()] = e
	r.mu.Unlock()
}

// Lookup returns the adapter registered as name.
func (r *Registry) Lookup(name string) (core.Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	return e, ok
}

// Names lists the registered engines in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
