package core

import (
	"maps"
	"sync/atomic"
	"time"
)

// SignalID identifies a signal instance. IDs are assigned monotonically by an
// IDGenerator.
type SignalID uint64

// IDGenerator hands out strictly increasing signal ids. The zero value is
// ready for use and starts at 1.
type IDGenerator struct {
	last atomic.Uint64
}

// Next returns the next id.
func (g *IDGenerator) Next() SignalID { return SignalID(g.last.Add(1)) }

// Direction tells the router where an emission goes.
type Direction int

const (
	// Forward delivers to neighbors one layer higher.
	Forward Direction = iota
	// Backward delivers to neighbors one layer lower.
	Backward
	// Terminal ends the signal here and records the emission payload as an output.
	Terminal
	// Absorb ends the signal here without an output (e.g. merged into a batch).
	Absorb
)

// String returns the lowercase direction name.
func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	case Terminal:
		return "terminal"
	case Absorb:
		return "absorb"
	default:
		return "unknown"
	}
}

// ParseDirection converts a configuration string into a Direction.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "forward", "":
		return Forward, true
	case "backward":
		return Backward, true
	case "terminal":
		return Terminal, true
	case "absorb":
		return Absorb, true
	default:
		return Forward, false
	}
}

// Routed reports whether the direction leads to another node.
func (d Direction) Routed() bool { return d == Forward || d == Backward }

// Emission is a transform's request to derive a new signal.
// Target optionally pins delivery to a single neighbor instead of the
// node's fan-out policy; it must still be an adjacent neighbor in Direction.
type Emission struct {
	Direction Direction
	Payload   []byte
	Metadata  map[string]string
	Target    NodeID
}

// Forwarded builds a forward emission.
func Forwarded(payload []byte) Emission { return Emission{Direction: Forward, Payload: payload} }

// Backwarded builds a backward emission.
func Backwarded(payload []byte) Emission { return Emission{Direction: Backward, Payload: payload} }

// Terminate builds a terminal emission carrying an output payload.
func Terminate(payload []byte) Emission { return Emission{Direction: Terminal, Payload: payload} }

// Absorbed builds an absorb emission.
func Absorbed() Emission { return Emission{Direction: Absorb} }

// Signal is the unit of work routed between nodes. After it is enqueued it
// should be treated as immutable; derived signals are produced with Derive.
//
// Visited is the idempotency guard: a signal never returns to a node its
// lineage has already been processed by, which prevents oscillation across
// forward/backward links.
type Signal struct {
	ID          SignalID
	Root        SignalID // id of the submitted signal this one descends from
	OriginNode  NodeID   // empty for externally submitted signals
	TargetLayer Layer
	Payload     []byte
	Hops        int
	TTL         int
	Visited     map[NodeID]struct{}
	Metadata    map[string]string
	CreatedAt   time.Time
}

// NewSignal creates an externally submitted signal aimed at layer.
func NewSignal(id SignalID, layer Layer, payload []byte, ttl int) Signal {
	return Signal{
		ID:          id,
		Root:        id,
		TargetLayer: layer,
		Payload:     payload,
		TTL:         ttl,
		Visited:     map[NodeID]struct{}{},
		Metadata:    map[string]string{},
		CreatedAt:   time.Now().UTC(),
	}
}

// HasVisited reports whether the signal's lineage already passed through id.
func (s Signal) HasVisited(id NodeID) bool {
	_, ok := s.Visited[id]
	return ok
}

// Expired reports whether the signal has used up its hop budget.
func (s Signal) Expired() bool { return s.Hops > s.TTL }

// Clone returns a deep copy so that fan-out copies never share maps.
func (s Signal) Clone() Signal {
	c := s
	c.Payload = append([]byte(nil), s.Payload...)
	c.Visited = maps.Clone(s.Visited)
	if c.Visited == nil {
		c.Visited = map[NodeID]struct{}{}
	}
	c.Metadata = maps.Clone(s.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	return c
}

// Derive produces the child signal for an emission made by node at. The
// child inherits the root, ttl and lineage, records at as visited and
// increments the hop count.
func (s Signal) Derive(id SignalID, at NodeInfo, e Emission) Signal {
	child := s.Clone()
	child.ID = id
	child.OriginNode = at.ID
	child.Payload = e.Payload
	child.Hops = s.Hops + 1
	child.Visited[at.ID] = struct{}{}
	child.CreatedAt = time.Now().UTC()
	for k, v := range e.Metadata {
		child.Metadata[k] = v
	}
	switch e.Direction {
	case Forward:
		child.TargetLayer = at.Layer + 1
	case Backward:
		child.TargetLayer = at.Layer - 1
	default:
		child.TargetLayer = at.Layer
	}
	return child
}
