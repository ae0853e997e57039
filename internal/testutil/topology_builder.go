package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/layermesh/core"
	"github.com/hupe1980/layermesh/topology"
)

// TopologyBuilder provides a fluent helper for constructing topologies in
// tests. Example:
//
//	topo := NewTopologyBuilder(1, 3).
//		Node("a", 1, Relay(core.Forward)).
//		Node("b", 2, Relay(core.Forward)).
//		Node("c", 3, Relay(core.Terminal)).
//		Chain("a", "b", "c").
//		MustBuild(t)
//
// Errors are collected and reported by Build.
type TopologyBuilder struct {
	layers core.LayerRange
	specs  []topology.NodeSpec
	links  [][2]core.NodeID
	optFns []func(o *topology.Options)
}

// NewTopologyBuilder creates a builder for the inclusive layer range.
func NewTopologyBuilder(min, max core.Layer) *TopologyBuilder {
	return &TopologyBuilder{layers: core.LayerRange{Min: min, Max: max}}
}

// Options adds manager options (chainable).
func (b *TopologyBuilder) Options(fn func(o *topology.Options)) *TopologyBuilder {
	b.optFns = append(b.optFns, fn)
	return b
}

// Node adds a node with default settings (chainable).
func (b *TopologyBuilder) Node(id core.NodeID, layer core.Layer, t core.Transform) *TopologyBuilder {
	return b.Spec(topology.NodeSpec{ID: id, Layer: layer, Transform: t})
}

// Spec adds a fully specified node (chainable).
func (b *TopologyBuilder) Spec(spec topology.NodeSpec) *TopologyBuilder {
	b.specs = append(b.specs, spec)
	return b
}

// Link links a and b (chainable).
func (b *TopologyBuilder) Link(a, c core.NodeID) *TopologyBuilder {
	b.links = append(b.links, [2]core.NodeID{a, c})
	return b
}

// Chain links every consecutive pair of ids (chainable).
func (b *TopologyBuilder) Chain(ids ...core.NodeID) *TopologyBuilder {
	for i := 1; i < len(ids); i++ {
		b.Link(ids[i-1], ids[i])
	}
	return b
}

// Build creates the manager, adding nodes before links.
func (b *TopologyBuilder) Build() (*topology.Manager, error) {
	m := topology.NewManager(append([]func(o *topology.Options){
		func(o *topology.Options) { o.Layers = b.layers },
	}, b.optFns...)...)

	var errs []error
	for _, spec := range b.specs {
		if _, err := m.AddNode(spec); err != nil {
			errs = append(errs, err)
		}
	}
	for _, l := range b.links {
		if err := m.Link(l[0], l[1]); err != nil {
			errs = append(errs, err)
		}
	}
	return m, errors.Join(errs...)
}

// MustBuild is Build failing the test on error.
func (b *TopologyBuilder) MustBuild(t testing.TB) *topology.Manager {
	t.Helper()
	m, err := b.Build()
	if err != nil {
		t.Fatalf("build topology: %v", err)
	}
	return m
}

// Relay returns a transform that re-emits its input in direction dir.
func Relay(dir core.Direction) core.Transform {
	return core.TransformFunc(func(_ context.Context, _ core.NodeInfo, in core.Signal) ([]core.Emission, error) {
		return []core.Emission{{Direction: dir, Payload: in.Payload}}, nil
	})
}
