package router

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/layermesh/core"
	"github.com/hupe1980/layermesh/topology"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: time.Unix(1_700_000_000, 0)} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// counting wraps fn and counts invocations.
type counting struct {
	calls atomic.Int64
	fn    core.TransformFunc
}

func (c *counting) Transform(ctx context.Context, node core.NodeInfo, in core.Signal) ([]core.Emission, error) {
	c.calls.Add(1)
	return c.fn(ctx, node, in)
}

func emit(dir core.Direction) *counting {
	return &counting{fn: func(_ context.Context, _ core.NodeInfo, in core.Signal) ([]core.Emission, error) {
		return []core.Emission{{Direction: dir, Payload: in.Payload}}, nil
	}}
}

func addNode(t *testing.T, m *topology.Manager, id core.NodeID, layer core.Layer, tr core.Transform, optFns ...func(*topology.NodeSpec)) *topology.Node {
	t.Helper()
	spec := topology.NodeSpec{ID: id, Layer: layer, Transform: tr}
	for _, fn := range optFns {
		fn(&spec)
	}
	_, err := m.AddNode(spec)
	require.NoError(t, err)
	n, ok := m.Node(id)
	require.True(t, ok)
	return n
}

func link(t *testing.T, m *topology.Manager, pairs ...[2]core.NodeID) {
	t.Helper()
	for _, p := range pairs {
		require.NoError(t, m.Link(p[0], p[1]))
	}
}

// admitOnly lets Submit enqueue without starting workers so tests can drive
// the router turn by turn.
func admitOnly(r *Router) {
	r.admit.Lock()
	r.state = stateRunning
	r.admit.Unlock()
}

// step runs one turn on the next ready node. It reports false when no node
// is ready.
func step(r *Router) bool {
	if r.ready.len() == 0 {
		return false
	}
	n, ok := r.ready.pop()
	if !ok {
		return false
	}
	r.turn(context.Background(), n)
	return true
}

func runUntilIdle(r *Router) int {
	turns := 0
	for step(r) {
		turns++
	}
	return turns
}

func startRouter(t *testing.T, m *topology.Manager, optFns ...func(*Options)) *Router {
	t.Helper()
	r := New(m, optFns...)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func await(t *testing.T, r *Router, id core.SignalID) core.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := r.Await(ctx, id)
	require.NoError(t, err)
	return res
}
