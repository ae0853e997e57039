package topology

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/layermesh/core"
	"github.com/hupe1980/layermesh/metrics"
)

var nop = core.TransformFunc(func(context.Context, core.NodeInfo, core.Signal) ([]core.Emission, error) {
	return nil, nil
})

func add(t *testing.T, m *Manager, id core.NodeID, layer core.Layer) {
	t.Helper()
	_, err := m.AddNode(NodeSpec{ID: id, Layer: layer, Transform: nop})
	require.NoError(t, err)
}

func TestAddNode(t *testing.T) {
	m := NewManager()

	id, err := m.AddNode(NodeSpec{Layer: 3, Transform: nop})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, uint64(1), m.Generation())

	_, err = m.AddNode(NodeSpec{Layer: 10, Transform: nop})
	assert.ErrorIs(t, err, core.ErrInvalidLayer)
	_, err = m.AddNode(NodeSpec{Layer: 0, Transform: nop})
	assert.ErrorIs(t, err, core.ErrInvalidLayer)
	_, err = m.AddNode(NodeSpec{ID: id, Layer: 3, Transform: nop})
	assert.ErrorIs(t, err, core.ErrDuplicateNode)
	_, err = m.AddNode(NodeSpec{Layer: 3})
	assert.ErrorIs(t, err, core.ErrUnknownTransform)

	assert.Equal(t, uint64(1), m.Generation())
}

func TestLinkBidirectional(t *testing.T) {
	m := NewManager()
	add(t, m, "a", 1)
	add(t, m, "b", 2)
	require.NoError(t, m.Link("b", "a"))

	snap := m.Snapshot()
	assert.Equal(t, []core.NodeID{"b"}, snap.Neighbors("a", core.Forward))
	assert.Equal(t, []core.NodeID{"a"}, snap.Neighbors("b", core.Backward))
	assert.Empty(t, snap.Neighbors("a", core.Backward))
	assert.NoError(t, snap.Validate())

	gen := m.Generation()
	require.NoError(t, m.Link("a", "b"))
	assert.Equal(t, gen, m.Generation(), "relinking is a no-op")

	require.NoError(t, m.Unlink("a", "b"))
	assert.Empty(t, m.Snapshot().Neighbors("a", core.Forward))
}

func TestLinkNonAdjacentLeavesTopologyUntouched(t *testing.T) {
	m := NewManager()
	add(t, m, "l1", 1)
	add(t, m, "l5", 5)
	before := m.Snapshot()

	err := m.Link("l1", "l5")
	var le *core.LinkError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, core.ErrNonAdjacentLayer)
	assert.Equal(t, core.Layer(1), le.FromLayer)
	assert.Equal(t, core.Layer(5), le.ToLayer)

	after := m.Snapshot()
	assert.Same(t, before, after)
	for _, v := range after.Views() {
		assert.Empty(t, v.Forward)
		assert.Empty(t, v.Backward)
	}
}

func TestLinkErrors(t *testing.T) {
	m := NewManager()
	add(t, m, "a", 1)
	add(t, m, "b", 2)

	assert.ErrorIs(t, m.Link("a", "a"), core.ErrSelfLink)
	assert.ErrorIs(t, m.Link("a", "missing"), core.ErrUnknownNode)
	assert.ErrorIs(t, m.Unlink("a", "missing"), core.ErrUnknownNode)

	require.NoError(t, m.RemoveNode("b"))
	assert.ErrorIs(t, m.Link("a", "b"), core.ErrNodeNotActive)
}

func TestRewireIsAtomic(t *testing.T) {
	m := NewManager()
	add(t, m, "a", 2)
	add(t, m, "up1", 3)
	add(t, m, "up2", 3)
	add(t, m, "down", 1)
	add(t, m, "far", 5)
	require.NoError(t, m.Link("a", "up1"))
	before := m.Snapshot()

	err := m.Rewire("a", []core.NodeID{"up2", "far"}, nil)
	assert.ErrorIs(t, err, core.ErrNonAdjacentLayer)
	assert.Same(t, before, m.Snapshot())

	err = m.Rewire("a", []core.NodeID{"down"}, nil)
	assert.ErrorIs(t, err, core.ErrNonAdjacentLayer, "forward link must go up one layer")

	require.NoError(t, m.Rewire("a", []core.NodeID{"up2"}, []core.NodeID{"down"}))
	snap := m.Snapshot()
	assert.Equal(t, []core.NodeID{"up2"}, snap.Neighbors("a", core.Forward))
	assert.Equal(t, []core.NodeID{"down"}, snap.Neighbors("a", core.Backward))
	assert.Empty(t, snap.Neighbors("up1", core.Backward))
	assert.NoError(t, snap.Validate())
}

func TestRemoveNodeDrainsThenReaps(t *testing.T) {
	m := NewManager()
	add(t, m, "a", 1)
	add(t, m, "b", 2)
	require.NoError(t, m.Link("a", "b"))

	require.NoError(t, m.RemoveNode("b"))
	snap := m.Snapshot()
	v, ok := snap.View("b")
	require.True(t, ok)
	assert.Equal(t, core.NodeDraining, v.State)
	assert.Empty(t, snap.Neighbors("a", core.Forward), "draining nodes receive nothing")
	assert.Equal(t, []core.NodeID{"a"}, snap.Neighbors("b", core.Backward), "draining nodes may still emit")

	b, _ := m.Node("b")
	_, err := b.Inbox().Push(Envelope{Signal: core.NewSignal(1, 2, nil, 4)})
	require.NoError(t, err)
	assert.Empty(t, m.Reap(nil), "queued work blocks eviction")

	b.Inbox().Drain()
	assert.Empty(t, m.Reap(func(*Node) bool { return false }), "caller veto blocks eviction")
	assert.Equal(t, []core.NodeID{"b"}, m.Reap(nil))

	_, ok = m.Node("b")
	assert.False(t, ok)
	assert.Equal(t, core.NodeRemoved, b.State())
	assert.Empty(t, m.Snapshot().Neighbors("a", core.Forward))
	_, exists := m.Snapshot().View("a")
	assert.True(t, exists)
	assert.NoError(t, m.Snapshot().Validate())
}

func TestSubscribeAndMetrics(t *testing.T) {
	mc := metrics.NewInMemory()
	m := NewManager(func(o *Options) { o.Metrics = mc })
	var gens []uint64
	unsubscribe := m.Subscribe(func(g uint64) { gens = append(gens, g) })

	add(t, m, "a", 1)
	add(t, m, "b", 2)
	_ = m.Link("a", "a")
	unsubscribe()
	require.NoError(t, m.Link("a", "b"))

	assert.Equal(t, []uint64{1, 2}, gens)
	assert.Equal(t, float64(2), mc.Counter(metrics.TopologyMutations, "add_node", "ok"))
	assert.Equal(t, float64(1), mc.Counter(metrics.TopologyMutations, "link", "error"))
	assert.Equal(t, float64(3), mc.Gauge(metrics.TopologyGeneration))
}

func TestFanOutSelect(t *testing.T) {
	m := NewManager()
	add(t, m, "x", 2)
	add(t, m, "y", 2)
	add(t, m, "z", 2)
	x, _ := m.Node("x")
	y, _ := m.Node("y")
	z, _ := m.Node("z")
	candidates := []*Node{x, y, z}

	_, err := m.AddNode(NodeSpec{ID: "rr", Layer: 1, Transform: nop, FanOut: FanOutRoundRobin})
	require.NoError(t, err)
	rr, _ := m.Node("rr")
	var picked []core.NodeID
	for i := 0; i < 4; i++ {
		picked = append(picked, rr.Select(candidates)[0].ID())
	}
	assert.Equal(t, []core.NodeID{"x", "y", "z", "x"}, picked)

	_, err = m.AddNode(NodeSpec{ID: "ll", Layer: 1, Transform: nop, FanOut: FanOutLeastLoaded})
	require.NoError(t, err)
	ll, _ := m.Node("ll")
	x.Begin()
	_, _ = y.Inbox().Push(Envelope{})
	assert.Equal(t, core.NodeID("z"), ll.Select(candidates)[0].ID())

	_, err = m.AddNode(NodeSpec{ID: "bc", Layer: 1, Transform: nop})
	require.NoError(t, err)
	bc, _ := m.Node("bc")
	assert.Len(t, bc.Select(candidates), 3)
}

// TestAdjacencyInvariantUnderRandomOperations drives the manager with random
// valid and invalid operations and checks that the invariant always holds and
// that failed operations leave no trace.
func TestAdjacencyInvariantUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	m := NewManager(func(o *Options) { o.Layers = core.LayerRange{Min: 1, Max: 5} })

	var ids []core.NodeID
	pick := func() core.NodeID {
		if len(ids) == 0 || rng.Intn(10) == 0 {
			return core.NodeID(fmt.Sprintf("ghost-%d", rng.Intn(3)))
		}
		return ids[rng.Intn(len(ids))]
	}
	pickN := func() []core.NodeID {
		out := make([]core.NodeID, rng.Intn(3))
		for i := range out {
			out[i] = pick()
		}
		return out
	}

	for step := 0; step < 2000; step++ {
		before := m.Snapshot()
		var err error
		switch op := rng.Intn(10); {
		case op < 2:
			var id core.NodeID
			id, err = m.AddNode(NodeSpec{Layer: core.Layer(rng.Intn(7)), Transform: nop})
			if err == nil {
				ids = append(ids, id)
			}
		case op < 6:
			err = m.Link(pick(), pick())
		case op < 7:
			err = m.Unlink(pick(), pick())
		case op < 9:
			err = m.Rewire(pick(), pickN(), pickN())
		default:
			err = m.RemoveNode(pick())
			if rng.Intn(2) == 0 {
				m.Reap(nil)
			}
		}

		after := m.Snapshot()
		require.NoError(t, after.Validate(), "step %d", step)
		if err != nil {
			assert.Same(t, before, after, "step %d: failed op %v mutated the topology", step, err)
			var le *core.LinkError
			if errors.As(err, &le) && errors.Is(err, core.ErrNonAdjacentLayer) {
				assert.False(t, le.FromLayer.Adjacent(le.ToLayer) && le.Op == "link")
			}
		}
		for _, v := range after.Views() {
			for _, f := range v.Forward {
				fv, _ := after.View(f)
				assert.Equal(t, v.Layer+1, fv.Layer)
			}
			for _, b := range v.Backward {
				bv, _ := after.View(b)
				assert.Equal(t, v.Layer-1, bv.Layer)
			}
		}
	}
}
