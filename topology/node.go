package topology

import (
	"fmt"
	"maps"
	"sort"
	"sync/atomic"

	"github.com/hupe1980/layermesh/core"
)

// FanOut selects which neighbors receive the signals a node emits.
type FanOut int

const (
	// FanOutBroadcast delivers a copy to every eligible neighbor.
	FanOutBroadcast FanOut = iota
	// FanOutRoundRobin delivers to one neighbor, rotating per emission.
	FanOutRoundRobin
	// FanOutLeastLoaded delivers to the neighbor with the fewest queued
	// and in-flight signals.
	FanOutLeastLoaded
)

// String returns the configuration name of the policy.
func (f FanOut) String() string {
	switch f {
	case FanOutBroadcast:
		return "broadcast"
	case FanOutRoundRobin:
		return "round_robin"
	case FanOutLeastLoaded:
		return "least_loaded"
	default:
		return "unknown"
	}
}

// ParseFanOut converts a configuration string into a FanOut. The empty
// string means broadcast.
func ParseFanOut(s string) (FanOut, error) {
	switch s {
	case "", "broadcast":
		return FanOutBroadcast, nil
	case "round_robin":
		return FanOutRoundRobin, nil
	case "least_loaded":
		return FanOutLeastLoaded, nil
	default:
		return FanOutBroadcast, fmt.Errorf("unknown fan-out policy %q", s)
	}
}

// behavior is the replaceable part of a node, swapped atomically by Apply.
type behavior struct {
	transform core.Transform
	selector  string
	fanOut    FanOut
	settings  map[string]string
}

// Node is a layer-tagged processing unit. Its link sets are owned by the
// Manager; everything else is safe to read concurrently.
type Node struct {
	id    core.NodeID
	layer core.Layer
	inbox *Inbox

	behavior atomic.Pointer[behavior]
	state    atomic.Int32
	inflight atomic.Int64
	cursor   atomic.Uint64

	// guarded by Manager.mu
	forward  map[core.NodeID]struct{}
	backward map[core.NodeID]struct{}
}

func newNode(id core.NodeID, layer core.Layer, inbox *Inbox, b *behavior) *Node {
	n := &Node{
		id:       id,
		layer:    layer,
		inbox:    inbox,
		forward:  map[core.NodeID]struct{}{},
		backward: map[core.NodeID]struct{}{},
	}
	n.behavior.Store(b)
	return n
}

// ID returns the node id.
func (n *Node) ID() core.NodeID { return n.id }

// Layer returns the node's layer. It never changes for the node's lifetime.
func (n *Node) Layer() core.Layer { return n.layer }

// Info returns the view handed to the node's transform.
func (n *Node) Info() core.NodeInfo {
	return core.NodeInfo{ID: n.id, Layer: n.layer, Settings: maps.Clone(n.behavior.Load().settings)}
}

// Transform returns the node's current transform.
func (n *Node) Transform() core.Transform { return n.behavior.Load().transform }

// Selector returns the transform selector the node was declared with.
func (n *Node) Selector() string { return n.behavior.Load().selector }

// FanOut returns the node's fan-out policy.
func (n *Node) FanOut() FanOut { return n.behavior.Load().fanOut }

// Inbox returns the node's bounded queue.
func (n *Node) Inbox() *Inbox { return n.inbox }

// State returns the lifecycle state.
func (n *Node) State() core.NodeState { return core.NodeState(n.state.Load()) }

// Active reports whether the node accepts new signals.
func (n *Node) Active() bool { return n.State() == core.NodeActive }

// Begin marks one signal as being transformed by this node.
func (n *Node) Begin() { n.inflight.Add(1) }

// Done marks a transform started with Begin as finished.
func (n *Node) Done() { n.inflight.Add(-1) }

// InFlight returns the number of transforms currently running on the node.
func (n *Node) InFlight() int64 { return n.inflight.Load() }

// Load is the queued plus in-flight work, used by least-loaded fan-out.
func (n *Node) Load() int64 { return int64(n.inbox.Len()) + n.inflight.Load() }

// Idle reports whether the node has neither queued nor running work.
func (n *Node) Idle() bool { return n.inbox.Len() == 0 && n.inflight.Load() == 0 }

// Select applies the node's fan-out policy to candidates, which must be
// sorted by id for deterministic results.
func (n *Node) Select(candidates []*Node) []*Node {
	if len(candidates) <= 1 {
		return candidates
	}
	switch n.FanOut() {
	case FanOutRoundRobin:
		i := n.cursor.Add(1) - 1
		return []*Node{candidates[i%uint64(len(candidates))]}
	case FanOutLeastLoaded:
		best := candidates[0]
		bestLoad := best.Load()
		for _, c := range candidates[1:] {
			if l := c.Load(); l < bestLoad {
				best, bestLoad = c, l
			}
		}
		return []*Node{best}
	default:
		return candidates
	}
}

func sortedIDs(set map[core.NodeID]struct{}) []core.NodeID {
	ids := make([]core.NodeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
