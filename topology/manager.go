package topology

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/layermesh/core"
	"github.com/hupe1980/layermesh/logging"
	"github.com/hupe1980/layermesh/metrics"
)

// NodeSpec describes a node to add.
type NodeSpec struct {
	// ID is generated when empty.
	ID        core.NodeID
	Layer     core.Layer
	Transform core.Transform
	// Selector records the transform name the node was built from, if any.
	Selector string
	FanOut   FanOut
	Settings map[string]string
	// InboxCapacity and Policy default to the manager's options.
	InboxCapacity int
	Policy        *Policy
}

// Options configures a Manager.
type Options struct {
	Layers        core.LayerRange
	InboxCapacity int
	Policy        Policy
	Logger        logging.Logger
	Metrics       metrics.Collector
}

// Manager is the single owner of the node registry and link sets.
type Manager struct {
	layers        core.LayerRange
	inboxCapacity int
	policy        Policy
	logger        logging.Logger
	metrics       metrics.Collector

	mu         sync.RWMutex
	nodes      map[core.NodeID]*Node
	generation uint64
	snap       atomic.Pointer[Snapshot]

	subMu   sync.Mutex
	subs    map[int]func(generation uint64)
	nextSub int
}

// NewManager creates an empty topology at generation zero.
func NewManager(optFns ...func(o *Options)) *Manager {
	opts := Options{
		Layers:        core.DefaultLayerRange,
		InboxCapacity: DefaultInboxCapacity,
		Policy:        RejectNew,
		Logger:        logging.NoOpLogger{},
		Metrics:       metrics.NoOp{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	m := &Manager{
		layers:        opts.Layers,
		inboxCapacity: opts.InboxCapacity,
		policy:        opts.Policy,
		logger:        opts.Logger,
		metrics:       metrics.OrNoOp(opts.Metrics),
		nodes:         map[core.NodeID]*Node{},
		subs:          map[int]func(uint64){},
	}
	m.snap.Store(buildSnapshot(0, m.layers, m.nodes))
	return m
}

// Layers returns the accepted layer range.
func (m *Manager) Layers() core.LayerRange { return m.layers }

// Generation returns the current generation.
func (m *Manager) Generation() uint64 { return m.snap.Load().generation }

// Snapshot returns the current immutable view. It never blocks on writers.
func (m *Manager) Snapshot() *Snapshot { return m.snap.Load() }

// Node returns the live node registered under id.
func (m *Manager) Node(id core.NodeID) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

// Nodes returns every registered node ordered by layer, then id.
func (m *Manager) Nodes() []*Node {
	snap := m.Snapshot()
	out := make([]*Node, 0, snap.Len())
	for _, id := range snap.order {
		out = append(out, snap.nodes[id])
	}
	return out
}

// Subscribe registers fn to be called with the new generation after every
// successful mutation. The returned function unsubscribes.
func (m *Manager) Subscribe(fn func(generation uint64)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs, id)
	}
}

// AddNode registers a new active node.
func (m *Manager) AddNode(spec NodeSpec) (core.NodeID, error) {
	id := spec.ID
	if id == "" {
		id = core.NewNodeID()
	}
	err := m.mutate("add_node", func() (bool, error) {
		if !m.layers.Contains(spec.Layer) {
			return false, fmt.Errorf("add node %s: %w: %d not in %s", id, core.ErrInvalidLayer, spec.Layer, m.layers)
		}
		if spec.Transform == nil {
			return false, fmt.Errorf("add node %s: %w: no transform", id, core.ErrUnknownTransform)
		}
		if _, exists := m.nodes[id]; exists {
			return false, fmt.Errorf("add node %s: %w", id, core.ErrDuplicateNode)
		}
		m.nodes[id] = m.newNodeLocked(id, spec)
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Link creates the bidirectional forward/backward pair between a and b.
// Linking an already linked pair is a no-op.
func (m *Manager) Link(a, b core.NodeID) error {
	return m.mutate("link", func() (bool, error) {
		from, to, err := m.checkLinkLocked("link", a, b)
		if err != nil {
			return false, err
		}
		if _, linked := from.forward[to.id]; linked {
			return false, nil
		}
		if _, linked := from.backward[to.id]; linked {
			return false, nil
		}
		connect(from, to)
		return true, nil
	})
}

// Unlink removes the pair between a and b. Unlinking unlinked nodes is a no-op.
func (m *Manager) Unlink(a, b core.NodeID) error {
	return m.mutate("unlink", func() (bool, error) {
		from, ok := m.nodes[a]
		if !ok {
			return false, &core.LinkError{Op: "unlink", From: a, To: b, Err: core.ErrUnknownNode}
		}
		to, ok := m.nodes[b]
		if !ok {
			return false, &core.LinkError{Op: "unlink", From: a, To: b, Err: core.ErrUnknownNode}
		}
		return disconnect(from, to), nil
	})
}

// Rewire atomically replaces the link sets of id. Every new link is
// validated before any existing link is touched.
func (m *Manager) Rewire(id core.NodeID, forward, backward []core.NodeID) error {
	return m.mutate("rewire", func() (bool, error) {
		n, ok := m.nodes[id]
		if !ok {
			return false, fmt.Errorf("rewire %s: %w", id, core.ErrUnknownNode)
		}
		if !n.Active() {
			return false, fmt.Errorf("rewire %s: %w", id, core.ErrNodeNotActive)
		}
		targets := make([]*Node, 0, len(forward)+len(backward))
		for _, group := range []struct {
			ids  []core.NodeID
			want core.Layer
		}{{forward, n.layer + 1}, {backward, n.layer - 1}} {
			for _, to := range group.ids {
				_, t, err := m.checkLinkLocked("rewire", id, to)
				if err != nil {
					return false, err
				}
				if t.layer != group.want {
					return false, &core.LinkError{Op: "rewire", From: id, To: to, FromLayer: n.layer, ToLayer: t.layer, Err: core.ErrNonAdjacentLayer}
				}
				targets = append(targets, t)
			}
		}

		for _, peer := range m.linkedLocked(n) {
			disconnect(n, peer)
		}
		for _, t := range targets {
			connect(n, t)
		}
		return true, nil
	})
}

// RemoveNode moves id to Draining. The node keeps its links and finishes its
// queued work but is excluded from routing; Reap evicts it once idle.
func (m *Manager) RemoveNode(id core.NodeID) error {
	return m.mutate("remove_node", func() (bool, error) {
		n, ok := m.nodes[id]
		if !ok {
			return false, fmt.Errorf("remove node %s: %w", id, core.ErrUnknownNode)
		}
		if n.State() != core.NodeActive {
			return false, nil
		}
		n.state.Store(int32(core.NodeDraining))
		return true, nil
	})
}

// Reap evicts draining nodes that are idle. When isIdle is non-nil it must
// also approve each node. It returns the evicted ids.
func (m *Manager) Reap(isIdle func(n *Node) bool) []core.NodeID {
	var removed []core.NodeID
	_ = m.mutate("reap", func() (bool, error) {
		for id, n := range m.nodes {
			if n.State() != core.NodeDraining || !n.Idle() {
				continue
			}
			if isIdle != nil && !isIdle(n) {
				continue
			}
			for _, peer := range m.linkedLocked(n) {
				disconnect(n, peer)
			}
			n.state.Store(int32(core.NodeRemoved))
			delete(m.nodes, id)
			removed = append(removed, id)
		}
		return len(removed) > 0, nil
	})
	return removed
}

func (m *Manager) newNodeLocked(id core.NodeID, spec NodeSpec) *Node {
	capacity := spec.InboxCapacity
	if capacity <= 0 {
		capacity = m.inboxCapacity
	}
	policy := m.policy
	if spec.Policy != nil {
		policy = *spec.Policy
	}
	return newNode(id, spec.Layer, NewInbox(capacity, policy), &behavior{
		transform: spec.Transform,
		selector:  spec.Selector,
		fanOut:    spec.FanOut,
		settings:  maps.Clone(spec.Settings),
	})
}

// checkLinkLocked validates a proposed link against the layers of the nodes
// as registered right now.
func (m *Manager) checkLinkLocked(op string, a, b core.NodeID) (*Node, *Node, error) {
	if a == b {
		return nil, nil, &core.LinkError{Op: op, From: a, To: b, Err: core.ErrSelfLink}
	}
	from, ok := m.nodes[a]
	if !ok {
		return nil, nil, &core.LinkError{Op: op, From: a, To: b, Err: core.ErrUnknownNode}
	}
	to, ok := m.nodes[b]
	if !ok {
		return nil, nil, &core.LinkError{Op: op, From: a, To: b, Err: core.ErrUnknownNode}
	}
	if !from.Active() || !to.Active() {
		return nil, nil, &core.LinkError{Op: op, From: a, To: b, Err: core.ErrNodeNotActive}
	}
	if !from.layer.Adjacent(to.layer) {
		return nil, nil, &core.LinkError{Op: op, From: a, To: b, FromLayer: from.layer, ToLayer: to.layer, Err: core.ErrNonAdjacentLayer}
	}
	return from, to, nil
}

func (m *Manager) linkedLocked(n *Node) []*Node {
	peers := make([]*Node, 0, len(n.forward)+len(n.backward))
	for id := range n.forward {
		peers = append(peers, m.nodes[id])
	}
	for id := range n.backward {
		peers = append(peers, m.nodes[id])
	}
	return peers
}

// connect links two adjacent nodes in both directions.
func connect(a, b *Node) {
	if b.layer == a.layer+1 {
		a.forward[b.id] = struct{}{}
		b.backward[a.id] = struct{}{}
		return
	}
	a.backward[b.id] = struct{}{}
	b.forward[a.id] = struct{}{}
}

func disconnect(a, b *Node) bool {
	_, f := a.forward[b.id]
	_, bw := a.backward[b.id]
	delete(a.forward, b.id)
	delete(a.backward, b.id)
	delete(b.forward, a.id)
	delete(b.backward, a.id)
	return f || bw
}

// mutate runs fn under the write lock. A change publishes a new snapshot at
// the next generation; an error leaves the registry untouched.
func (m *Manager) mutate(op string, fn func() (changed bool, err error)) error {
	m.mu.Lock()
	changed, err := fn()
	if err == nil && changed {
		m.generation++
		m.snap.Store(buildSnapshot(m.generation, m.layers, m.nodes))
	}
	gen := m.generation
	m.mu.Unlock()

	if err != nil || changed {
		m.observe(op, gen, err)
	}
	if err == nil && changed {
		m.notify(gen)
	}
	return err
}

func (m *Manager) observe(op string, gen uint64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.metrics.Inc(metrics.TopologyMutations, op, result)
	m.metrics.Set(metrics.TopologyGeneration, float64(gen))
	if ml, ok := m.logger.(*logging.MeshLogger); ok {
		ml.LogTopologyChange(op, gen, err)
		return
	}
	if err != nil {
		var le *core.LinkError
		if errors.As(err, &le) {
			m.logger.Warn("topology mutation rejected", "operation", op, "from", le.From, "to", le.To, "error", err)
			return
		}
		m.logger.Warn("topology mutation rejected", "operation", op, "error", err)
		return
	}
	m.logger.Debug("topology mutated", "operation", op, "generation", gen)
}

func (m *Manager) notify(gen uint64) {
	m.subMu.Lock()
	subs := make([]func(uint64), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()
	for _, fn := range subs {
		fn(gen)
	}
}
