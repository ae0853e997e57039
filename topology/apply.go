package topology

import (
	"fmt"
	"maps"

	"github.com/hupe1980/layermesh/core"
)

// Declaration is one entry of an ordered node configuration.
type Declaration struct {
	ID            core.NodeID
	Layer         core.Layer
	Forward       []core.NodeID
	Backward      []core.NodeID
	Transform     string
	FanOut        FanOut
	Settings      map[string]string
	InboxCapacity int
	Policy        *Policy
}

// Resolver builds the transform named by selector for a node.
type Resolver func(selector string, info core.NodeInfo) (core.Transform, error)

// ApplyReport lists what an Apply call changed.
type ApplyReport struct {
	Added      []core.NodeID
	Updated    []core.NodeID
	Drained    []core.NodeID
	Generation uint64
}

// Apply reconciles the registry with decls as one atomic mutation:
//
//   - undeclared nodes are drained (and later reaped)
//   - declared nodes that do not exist yet are added
//   - existing nodes get their transform, settings and fan-out replaced
//     when those changed; a draining node that is declared again is revived
//   - the link sets of declared nodes become exactly the declared links
//
// Links may be declared on either end. Changing the layer of an existing
// node is rejected with core.ErrLayerReassignment; remove it and add it
// under a new id instead. Applying the same declarations twice is a no-op.
func (m *Manager) Apply(decls []Declaration, resolve Resolver) (ApplyReport, error) {
	declared := make(map[core.NodeID]Declaration, len(decls))
	for _, d := range decls {
		if d.ID == "" {
			return ApplyReport{}, fmt.Errorf("apply: %w: empty node id", core.ErrUnknownNode)
		}
		if _, dup := declared[d.ID]; dup {
			return ApplyReport{}, fmt.Errorf("apply node %s: %w", d.ID, core.ErrDuplicateNode)
		}
		if !m.layers.Contains(d.Layer) {
			return ApplyReport{}, fmt.Errorf("apply node %s: %w: %d not in %s", d.ID, core.ErrInvalidLayer, d.Layer, m.layers)
		}
		declared[d.ID] = d
	}

	pairs, err := declaredPairs(decls, declared)
	if err != nil {
		return ApplyReport{}, err
	}

	// transforms are built outside the lock so factories may inspect the manager
	transforms := make(map[core.NodeID]core.Transform, len(decls))
	for _, d := range decls {
		t, err := resolve(d.Transform, core.NodeInfo{ID: d.ID, Layer: d.Layer, Settings: maps.Clone(d.Settings)})
		if err != nil {
			return ApplyReport{}, fmt.Errorf("apply node %s: %w", d.ID, err)
		}
		transforms[d.ID] = t
	}

	var report ApplyReport
	err = m.mutate("apply", func() (bool, error) {
		for _, d := range decls {
			if n, ok := m.nodes[d.ID]; ok && n.layer != d.Layer {
				return false, fmt.Errorf("apply node %s: %w: layer %d -> %d", d.ID, core.ErrLayerReassignment, n.layer, d.Layer)
			}
		}

		changed := false
		for _, d := range decls {
			n, ok := m.nodes[d.ID]
			if !ok {
				m.nodes[d.ID] = m.newNodeLocked(d.ID, NodeSpec{
					ID:            d.ID,
					Layer:         d.Layer,
					Transform:     transforms[d.ID],
					Selector:      d.Transform,
					FanOut:        d.FanOut,
					Settings:      d.Settings,
					InboxCapacity: d.InboxCapacity,
					Policy:        d.Policy,
				})
				report.Added = append(report.Added, d.ID)
				changed = true
				continue
			}
			updated := false
			if old := n.behavior.Load(); old.selector != d.Transform || old.fanOut != d.FanOut || !maps.Equal(old.settings, d.Settings) {
				n.behavior.Store(&behavior{
					transform: transforms[d.ID],
					selector:  d.Transform,
					fanOut:    d.FanOut,
					settings:  maps.Clone(d.Settings),
				})
				updated = true
			}
			if n.State() == core.NodeDraining {
				n.state.Store(int32(core.NodeActive))
				updated = true
			}
			if updated {
				report.Updated = append(report.Updated, d.ID)
				changed = true
			}
		}

		for id, n := range m.nodes {
			if _, ok := declared[id]; !ok && n.State() == core.NodeActive {
				n.state.Store(int32(core.NodeDraining))
				report.Drained = append(report.Drained, id)
				changed = true
			}
		}

		// drop links between declared nodes that are no longer declared;
		// links to draining nodes stay until the node is reaped
		for id := range declared {
			n := m.nodes[id]
			for _, peer := range m.linkedLocked(n) {
				if _, ok := declared[peer.id]; !ok {
					continue
				}
				if _, keep := pairs[pairKey(id, peer.id)]; !keep && disconnect(n, peer) {
					changed = true
				}
			}
		}
		for key := range pairs {
			a, b := m.nodes[key.a], m.nodes[key.b]
			if _, linked := a.forward[b.id]; linked {
				continue
			}
			if _, linked := a.backward[b.id]; linked {
				continue
			}
			connect(a, b)
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return ApplyReport{}, err
	}
	report.Generation = m.Generation()
	return report, nil
}

type pair struct{ a, b core.NodeID }

func pairKey(x, y core.NodeID) pair {
	if x < y {
		return pair{x, y}
	}
	return pair{y, x}
}

// declaredPairs validates every declared link against the declared layers.
func declaredPairs(decls []Declaration, declared map[core.NodeID]Declaration) (map[pair]struct{}, error) {
	pairs := map[pair]struct{}{}
	for _, d := range decls {
		for _, group := range []struct {
			ids  []core.NodeID
			want core.Layer
		}{{d.Forward, d.Layer + 1}, {d.Backward, d.Layer - 1}} {
			for _, to := range group.ids {
				if to == d.ID {
					return nil, &core.LinkError{Op: "apply", From: d.ID, To: to, Err: core.ErrSelfLink}
				}
				other, ok := declared[to]
				if !ok {
					return nil, &core.LinkError{Op: "apply", From: d.ID, To: to, Err: core.ErrUnknownNode}
				}
				if other.Layer != group.want {
					return nil, &core.LinkError{Op: "apply", From: d.ID, To: to, FromLayer: d.Layer, ToLayer: other.Layer, Err: core.ErrNonAdjacentLayer}
				}
				pairs[pairKey(d.ID, to)] = struct{}{}
			}
		}
	}
	return pairs, nil
}
