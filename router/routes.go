package router

import (
	"sync"

	"github.com/hupe1980/layermesh/core"
	"github.com/hupe1980/layermesh/topology"
)

type routeKey struct {
	node core.NodeID
	dir  core.Direction
}

// routeCache memoizes active neighbor lists for one topology generation.
// A lookup against a different generation discards every entry.
type routeCache struct {
	mu         sync.RWMutex
	generation uint64
	routes     map[routeKey][]*topology.Node
}

func newRouteCache() *routeCache {
	return &routeCache{routes: map[routeKey][]*topology.Node{}}
}

// lookup returns the active neighbors of id in dir, sorted by id. The slice
// is shared and must not be modified.
func (c *routeCache) lookup(snap *topology.Snapshot, id core.NodeID, dir core.Direction) []*topology.Node {
	key := routeKey{node: id, dir: dir}
	gen := snap.Generation()

	c.mu.RLock()
	if c.generation == gen {
		if nodes, ok := c.routes[key]; ok {
			c.mu.RUnlock()
			return nodes
		}
	}
	c.mu.RUnlock()

	nodes := snap.NeighborNodes(id, dir)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case gen > c.generation:
		c.generation = gen
		c.routes = map[routeKey][]*topology.Node{key: nodes}
	case gen == c.generation:
		c.routes[key] = nodes
	}
	return nodes
}

func (c *routeCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.routes)
}
