package topology

import (
	"fmt"
	"slices"
	"sort"

	"github.com/hupe1980/layermesh/core"
)

// NodeView is the immutable description of a node inside a Snapshot.
type NodeView struct {
	ID       core.NodeID
	Layer    core.Layer
	State    core.NodeState
	Selector string
	FanOut   FanOut
	Forward  []core.NodeID
	Backward []core.NodeID
}

// Snapshot is an immutable, generation-stamped view of the topology.
// Slices inside NodeView values are shared and must not be modified.
type Snapshot struct {
	generation uint64
	layers     core.LayerRange
	order      []core.NodeID
	views      map[core.NodeID]NodeView
	nodes      map[core.NodeID]*Node
}

func buildSnapshot(generation uint64, layers core.LayerRange, nodes map[core.NodeID]*Node) *Snapshot {
	s := &Snapshot{
		generation: generation,
		layers:     layers,
		order:      make([]core.NodeID, 0, len(nodes)),
		views:      make(map[core.NodeID]NodeView, len(nodes)),
		nodes:      make(map[core.NodeID]*Node, len(nodes)),
	}
	for id, n := range nodes {
		b := n.behavior.Load()
		s.views[id] = NodeView{
			ID:       id,
			Layer:    n.layer,
			State:    n.State(),
			Selector: b.selector,
			FanOut:   b.fanOut,
			Forward:  sortedIDs(n.forward),
			Backward: sortedIDs(n.backward),
		}
		s.nodes[id] = n
		s.order = append(s.order, id)
	}
	sort.Slice(s.order, func(i, j int) bool {
		a, b := s.views[s.order[i]], s.views[s.order[j]]
		if a.Layer != b.Layer {
			return a.Layer < b.Layer
		}
		return a.ID < b.ID
	})
	return s
}

func (s *Snapshot) activeNodes(ids []core.NodeID) []*Node {
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if s.views[id].State == core.NodeActive {
			out = append(out, s.nodes[id])
		}
	}
	return out
}

// Generation returns the generation the snapshot was taken at.
func (s *Snapshot) Generation() uint64 { return s.generation }

// Layers returns the configured layer range.
func (s *Snapshot) Layers() core.LayerRange { return s.layers }

// Len returns the number of registered nodes (active and draining).
func (s *Snapshot) Len() int { return len(s.order) }

// View returns the description of id.
func (s *Snapshot) View(id core.NodeID) (NodeView, bool) {
	v, ok := s.views[id]
	return v, ok
}

// Views returns every node ordered by layer, then id.
func (s *Snapshot) Views() []NodeView {
	out := make([]NodeView, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.views[id])
	}
	return out
}

// Node returns the live node registered under id at this generation.
func (s *Snapshot) Node(id core.NodeID) (*Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// Neighbors returns the ids of the active neighbors of id in direction dir.
// Terminal and absorb directions have no neighbors.
func (s *Snapshot) Neighbors(id core.NodeID, dir core.Direction) []core.NodeID {
	nodes := s.NeighborNodes(id, dir)
	ids := make([]core.NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.id
	}
	return ids
}

// NeighborNodes is Neighbors resolved to live nodes, sorted by id. The
// result is freshly allocated.
func (s *Snapshot) NeighborNodes(id core.NodeID, dir core.Direction) []*Node {
	v, ok := s.views[id]
	if !ok {
		return nil
	}
	switch dir {
	case core.Forward:
		return s.activeNodes(v.Forward)
	case core.Backward:
		return s.activeNodes(v.Backward)
	default:
		return nil
	}
}

// Validate re-checks the adjacency invariant over the whole snapshot: links
// are symmetric, never self-referencing, and always span exactly one layer
// in the declared direction.
func (s *Snapshot) Validate() error {
	for _, id := range s.order {
		v := s.views[id]
		if !s.layers.Contains(v.Layer) {
			return fmt.Errorf("node %s: %w: %d not in %s", id, core.ErrInvalidLayer, v.Layer, s.layers)
		}
		for _, to := range v.Forward {
			if err := s.checkEdge(v, to, v.Layer+1, func(o NodeView) []core.NodeID { return o.Backward }); err != nil {
				return err
			}
		}
		for _, to := range v.Backward {
			if err := s.checkEdge(v, to, v.Layer-1, func(o NodeView) []core.NodeID { return o.Forward }); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Snapshot) checkEdge(from NodeView, to core.NodeID, want core.Layer, reverse func(NodeView) []core.NodeID) error {
	if to == from.ID {
		return &core.LinkError{Op: "validate", From: from.ID, To: to, Err: core.ErrSelfLink}
	}
	other, ok := s.views[to]
	if !ok {
		return &core.LinkError{Op: "validate", From: from.ID, To: to, Err: core.ErrUnknownNode}
	}
	if other.Layer != want {
		return &core.LinkError{Op: "validate", From: from.ID, To: to, FromLayer: from.Layer, ToLayer: other.Layer, Err: core.ErrNonAdjacentLayer}
	}
	if !slices.Contains(reverse(other), from.ID) {
		return fmt.Errorf("link %s -> %s is not symmetric", from.ID, to)
	}
	return nil
}
