package cognition

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the shared client of every logical endpoint. Nodes look up
// clients by name, so all callers of one endpoint share its ledger, breaker
// and limiter.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: map[string]*Client{}}
}

// Register adds a client. Names must be unique.
func (r *Registry) Register(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[c.Name()]; exists {
		return fmt.Errorf("cognition endpoint %q already registered", c.Name())
	}
	r.clients[c.Name()] = c
	return nil
}

// Get returns the client registered under name.
func (r *Registry) Get(name string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// Names returns the registered endpoint names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
