package core

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDGenerator_Monotonic(t *testing.T) {
	var gen IDGenerator
	var mu sync.Mutex
	seen := map[SignalID]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := gen.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
	assert.Equal(t, SignalID(801), gen.Next())
}

func TestSignal_DeriveForward(t *testing.T) {
	root := NewSignal(1, 1, []byte("hello"), 3)
	root.Metadata["trace"] = "a"
	at := NodeInfo{ID: "n1", Layer: 1}

	child := root.Derive(2, at, Emission{Direction: Forward, Payload: []byte("next"), Metadata: map[string]string{"k": "v"}})

	assert.Equal(t, SignalID(2), child.ID)
	assert.Equal(t, SignalID(1), child.Root)
	assert.Equal(t, NodeID("n1"), child.OriginNode)
	assert.Equal(t, Layer(2), child.TargetLayer)
	assert.Equal(t, 1, child.Hops)
	assert.Equal(t, 3, child.TTL)
	assert.True(t, child.HasVisited("n1"))
	assert.Equal(t, "a", child.Metadata["trace"])
	assert.Equal(t, "v", child.Metadata["k"])

	// parent lineage is untouched
	assert.False(t, root.HasVisited("n1"))
	assert.NotContains(t, root.Metadata, "k")
}

func TestSignal_DeriveBackwardAndExpiry(t *testing.T) {
	s := NewSignal(1, 3, nil, 1)
	at := NodeInfo{ID: "n3", Layer: 3}
	c1 := s.Derive(2, at, Backwarded(nil))
	assert.Equal(t, Layer(2), c1.TargetLayer)
	assert.False(t, c1.Expired())

	c2 := c1.Derive(3, NodeInfo{ID: "n2", Layer: 2}, Backwarded(nil))
	assert.Equal(t, 2, c2.Hops)
	assert.True(t, c2.Expired())
	assert.True(t, c2.HasVisited("n3"))
	assert.True(t, c2.HasVisited("n2"))
}

func TestSignal_CloneIsolation(t *testing.T) {
	s := NewSignal(1, 1, []byte("abc"), 5)
	s.Visited["x"] = struct{}{}
	c := s.Clone()
	c.Visited["y"] = struct{}{}
	c.Payload[0] = 'z'
	assert.False(t, s.HasVisited("y"))
	assert.Equal(t, "abc", string(s.Payload))
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{"": Forward, "forward": Forward, "backward": Backward, "terminal": Terminal, "absorb": Absorb} {
		d, ok := ParseDirection(in)
		require.True(t, ok, in)
		assert.Equal(t, want, d)
	}
	_, ok := ParseDirection("sideways")
	assert.False(t, ok)
}

func TestLayer_Adjacent(t *testing.T) {
	assert.True(t, Layer(2).Adjacent(1))
	assert.True(t, Layer(2).Adjacent(3))
	assert.False(t, Layer(2).Adjacent(2))
	assert.False(t, Layer(1).Adjacent(5))
	assert.True(t, DefaultLayerRange.Contains(9))
	assert.False(t, DefaultLayerRange.Contains(10))
}

func TestLinkError_Unwrap(t *testing.T) {
	err := error(&LinkError{Op: "link", From: "a", To: "b", FromLayer: 1, ToLayer: 5, Err: ErrNonAdjacentLayer})
	assert.ErrorIs(t, err, ErrNonAdjacentLayer)
	assert.Contains(t, err.Error(), "a(L1) -> b(L5)")

	var le *LinkError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, Layer(5), le.ToLayer)
}

func TestTransformError_Panic(t *testing.T) {
	err := &TransformError{Node: "n", SignalID: 7, Panic: "boom", Stack: []byte("goroutine 1")}
	assert.Contains(t, err.Error(), "panicked")
	assert.Nil(t, errors.Unwrap(err))
	assert.Equal(t, "goroutine 1", string(err.StackTrace()))

	wrapped := &TransformError{Node: "n", SignalID: 7, Err: ErrFallbackFailed}
	assert.ErrorIs(t, wrapped, ErrFallbackFailed)
}

func TestCostEvent_Message(t *testing.T) {
	ev := CostEvent{Endpoint: "claude", Kind: CostHardLimit, Spent: 120, Limit: 100}
	assert.Contains(t, ev.Message(), "hard_limit")
	assert.Contains(t, ev.Message(), "120%")
}
