package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// NodeID uniquely identifies a node within a topology.
type NodeID string

// NewNodeID generates a random node identifier.
func NewNodeID() NodeID { return NodeID(uuid.NewString()) }

// String implements fmt.Stringer.
func (id NodeID) String() string { return string(id) }

// Layer is the position of a node in the hierarchy. Links only ever connect
// nodes whose layers differ by exactly one.
type Layer int

// Adjacent reports whether l and other are exactly one layer apart.
func (l Layer) Adjacent(other Layer) bool {
	d := int(l) - int(other)
	return d == 1 || d == -1
}

// LayerRange is the inclusive range of layers a topology accepts.
type LayerRange struct {
	Min Layer
	Max Layer
}

// DefaultLayerRange mirrors the nine-layer reference configuration.
var DefaultLayerRange = LayerRange{Min: 1, Max: 9}

// Contains reports whether l lies inside the range.
func (r LayerRange) Contains(l Layer) bool { return l >= r.Min && l <= r.Max }

// String implements fmt.Stringer.
func (r LayerRange) String() string { return fmt.Sprintf("[%d..%d]", r.Min, r.Max) }

// NodeState is the lifecycle state of a node.
type NodeState int

const (
	// NodeActive nodes accept and process signals.
	NodeActive NodeState = iota
	// NodeDraining nodes finish queued work but receive no new signals.
	NodeDraining
	// NodeRemoved nodes have been evicted from the registry.
	NodeRemoved
)

// String returns the lowercase state name.
func (s NodeState) String() string {
	switch s {
	case NodeActive:
		return "active"
	case NodeDraining:
		return "draining"
	case NodeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// NodeInfo is the read-only view of a node handed to its transform.
type NodeInfo struct {
	ID       NodeID
	Layer    Layer
	Settings map[string]string
}

// Setting returns the named setting or def when absent.
func (n NodeInfo) Setting(key, def string) string {
	if v, ok := n.Settings[key]; ok && v != "" {
		return v
	}
	return def
}

// Transform is the pluggable per-node processing capability. It receives a
// signal delivered to the node and returns zero or more emissions describing
// where derived signals go next.
//
// Implementations must:
//   - Respect context cancellation (the router cancels on forced shutdown)
//   - Be safe for concurrent use; several workers may run the same node
//   - Treat the input signal as read-only
//
// Returning no emissions terminates the signal at this node with its payload
// as the output. Returning an error (or panicking) drops the signal.
type Transform interface {
	Transform(ctx context.Context, node NodeInfo, in Signal) ([]Emission, error)
}

// TransformFunc adapts an ordinary function to the Transform interface.
type TransformFunc func(ctx context.Context, node NodeInfo, in Signal) ([]Emission, error)

// Transform implements Transform.
func (f TransformFunc) Transform(ctx context.Context, node NodeInfo, in Signal) ([]Emission, error) {
	return f(ctx, node, in)
}
