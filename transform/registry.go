package transform

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/layermesh/core"
)

// Factory builds the transform of one node.
type Factory func(info core.NodeInfo) (core.Transform, error)

// Registry maps selectors to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a factory under selector. Selectors must be unique.
func (r *Registry) Register(selector string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if selector == "" {
		return fmt.Errorf("transform selector must not be empty")
	}
	if _, exists := r.factories[selector]; exists {
		return fmt.Errorf("transform %q already registered", selector)
	}
	r.factories[selector] = f
	return nil
}

// Has reports whether selector is registered.
func (r *Registry) Has(selector string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[selector]
	return ok
}

// Selectors returns the registered selectors in sorted order.
func (r *Registry) Selectors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for s := range r.factories {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Build creates the transform for a node. Its signature matches
// topology.Resolver.
func (r *Registry) Build(selector string, info core.NodeInfo) (core.Transform, error) {
	r.mu.RLock()
	f, ok := r.factories[selector]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownTransform, selector)
	}
	t, err := f(info)
	if err != nil {
		return nil, fmt.Errorf("build %s transform for %s: %w", selector, info.ID, err)
	}
	return t, nil
}
