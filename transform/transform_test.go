package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/layermesh/cache"
	"github.com/hupe1980/layermesh/cognition"
	"github.com/hupe1980/layermesh/core"
)

func info(id string, layer core.Layer, settings map[string]string) core.NodeInfo {
	return core.NodeInfo{ID: core.NodeID(id), Layer: layer, Settings: settings}
}

func run(t *testing.T, tr core.Transform, node core.NodeInfo, payload string) []core.Emission {
	t.Helper()
	out, err := tr.Transform(context.Background(), node, core.NewSignal(1, node.Layer, []byte(payload), 8))
	require.NoError(t, err)
	return out
}

func TestRegistry(t *testing.T) {
	r := Builtins(Deps{})
	assert.Equal(t, []string{Batch, Cognitive, Reflect, Relay, Terminal}, r.Selectors())
	assert.Error(t, r.Register(Relay, nil))
	assert.Error(t, r.Register("", nil))

	_, err := r.Build("nope", info("n", 1, nil))
	assert.ErrorIs(t, err, core.ErrUnknownTransform)
}

func TestRelay(t *testing.T) {
	r := Builtins(Deps{})

	tr, err := r.Build(Relay, info("a", 2, nil))
	require.NoError(t, err)
	assert.Equal(t, []core.Emission{core.Forwarded([]byte("p"))}, run(t, tr, info("a", 2, nil), "p"))

	back := info("b", 2, map[string]string{SettingDirection: "backward"})
	tr, err = r.Build(Relay, back)
	require.NoError(t, err)
	assert.Equal(t, core.Backward, run(t, tr, back, "p")[0].Direction)

	top := info("top", 9, nil)
	tr, err = r.Build(Relay, top)
	require.NoError(t, err)
	assert.Equal(t, core.Terminal, run(t, tr, top, "p")[0].Direction)

	_, err = r.Build(Relay, info("x", 1, map[string]string{SettingDirection: "sideways"}))
	assert.Error(t, err)
}

func TestReflectAndTerminal(t *testing.T) {
	r := Builtins(Deps{Layers: core.LayerRange{Min: 1, Max: 3}})
	for layer, want := range map[core.Layer]core.Direction{1: core.Forward, 2: core.Backward, 3: core.Terminal} {
		n := info("n", layer, nil)
		tr, err := r.Build(Reflect, n)
		require.NoError(t, err)
		assert.Equal(t, want, run(t, tr, n, "p")[0].Direction, "layer %d", layer)
	}

	tr, err := r.Build(Terminal, info("t", 2, nil))
	require.NoError(t, err)
	assert.Equal(t, []core.Emission{core.Terminate([]byte("done"))}, run(t, tr, info("t", 2, nil), "done"))
}

func TestBatch(t *testing.T) {
	r := Builtins(Deps{})
	n := info("agg", 2, map[string]string{SettingSize: "3"})
	tr, err := r.Build(Batch, n)
	require.NoError(t, err)

	assert.Equal(t, core.Absorb, run(t, tr, n, "a")[0].Direction)
	assert.Equal(t, core.Absorb, run(t, tr, n, "b")[0].Direction)
	out := run(t, tr, n, "c")
	require.Len(t, out, 1)
	assert.Equal(t, core.Forward, out[0].Direction)
	assert.Equal(t, "a\nb\nc", string(out[0].Payload))
	assert.Equal(t, "3", out[0].Metadata["batch.size"])

	assert.Equal(t, core.Absorb, run(t, tr, n, "d")[0].Direction, "buffer resets after a batch")

	_, err = r.Build(Batch, info("bad", 2, map[string]string{SettingSize: "0"}))
	assert.Error(t, err)
}

func TestBatchCustomAggregator(t *testing.T) {
	r := Builtins(Deps{Aggregator: func(p [][]byte) []byte { return []byte{byte(len(p))} }})
	n := info("agg", 2, nil)
	tr, err := r.Build(Batch, n)
	require.NoError(t, err)
	run(t, tr, n, "a")
	assert.Equal(t, []byte{2}, run(t, tr, n, "b")[0].Payload)
}

func TestParseDirectives(t *testing.T) {
	out := ParseDirectives("thinking...\nFORWARD: design the api\nbackward: need more detail\nRESULT: shipped\nFORWARD_TO: legacy", core.Forward)
	require.Len(t, out, 4)
	assert.Equal(t, core.Forwarded([]byte("design the api")), out[0])
	assert.Equal(t, core.Backwarded([]byte("need more detail")), out[1])
	assert.Equal(t, core.Terminate([]byte("shipped")), out[2])
	assert.Equal(t, core.Forwarded([]byte("legacy")), out[3])

	plain := ParseDirectives("  just text  ", core.Backward)
	assert.Equal(t, []core.Emission{core.Backwarded([]byte("just text"))}, plain)
}

type fakeEndpoint struct {
	calls int
	last  cognition.Request
	text  string
	err   error
}

func (f *fakeEndpoint) Call(_ context.Context, req cognition.Request) (cognition.Response, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return cognition.Response{}, f.err
	}
	return cognition.Response{Text: f.text, Cost: 1}, nil
}

func endpoints(t *testing.T, clients ...*cognition.Client) *cognition.Registry {
	t.Helper()
	reg := cognition.NewRegistry()
	for _, c := range clients {
		require.NoError(t, reg.Register(c))
	}
	return reg
}

func TestCognitiveRoutesByDirectives(t *testing.T) {
	ep := &fakeEndpoint{text: "FORWARD: plan\nRESULT: partial answer"}
	reg := endpoints(t, cognition.NewClient("claude", ep))
	r := Builtins(Deps{Endpoints: reg})

	n := info("c", 2, map[string]string{SettingEndpoint: "claude"})
	tr, err := r.Build(Cognitive, n)
	require.NoError(t, err)

	out := run(t, tr, n, "task")
	require.Len(t, out, 2)
	assert.Equal(t, core.Forward, out[0].Direction)
	assert.Equal(t, "plan", string(out[0].Payload))
	assert.Equal(t, core.Terminal, out[1].Direction)
	assert.Nil(t, out[0].Metadata)
}

func TestCognitiveCachesRealReplies(t *testing.T) {
	ep := &fakeEndpoint{text: "RESULT: ok"}
	reg := endpoints(t, cognition.NewClient("claude", ep))
	gen := uint64(1)
	r := Builtins(Deps{
		Endpoints:  reg,
		Cache:      cache.New[string, string](),
		Generation: func() uint64 { return gen },
	})

	n := info("c", 2, map[string]string{SettingEndpoint: "claude"})
	tr, err := r.Build(Cognitive, n)
	require.NoError(t, err)

	run(t, tr, n, "same")
	run(t, tr, n, "same")
	assert.Equal(t, 1, ep.calls)
	run(t, tr, n, "different")
	assert.Equal(t, 2, ep.calls)

	gen = 2
	run(t, tr, n, "same")
	assert.Equal(t, 3, ep.calls, "topology change invalidates the cache")

	off := info("c2", 2, map[string]string{SettingEndpoint: "claude", SettingCache: "false"})
	tr, err = r.Build(Cognitive, off)
	require.NoError(t, err)
	run(t, tr, off, "same")
	assert.Equal(t, 4, ep.calls)
}

func TestCognitiveFallbackNotCached(t *testing.T) {
	ep := &fakeEndpoint{err: errors.New("down")}
	reg := endpoints(t, cognition.NewClient("claude", ep))
	r := Builtins(Deps{Endpoints: reg, Cache: cache.New[string, string]()})

	n := info("c", 2, map[string]string{SettingEndpoint: "claude"})
	tr, err := r.Build(Cognitive, n)
	require.NoError(t, err)

	out := run(t, tr, n, "x")
	require.Len(t, out, 1)
	assert.Equal(t, core.Forward, out[0].Direction)
	assert.Equal(t, "mock L2 response to: x", string(out[0].Payload))
	assert.Equal(t, string(cognition.ReasonCallFailed), out[0].Metadata["cognition.reason"])

	run(t, tr, n, "x")
	assert.Equal(t, 2, ep.calls)
}

func TestCognitiveFallbackFailureIsTransformError(t *testing.T) {
	client := cognition.NewClient("claude", &fakeEndpoint{err: errors.New("down")}, func(o *cognition.Options) {
		o.Fallback = func(cognition.Request) (cognition.Response, error) { return cognition.Response{}, errors.New("broken") }
	})
	r := Builtins(Deps{Endpoints: endpoints(t, client)})
	n := info("c", 2, map[string]string{SettingEndpoint: "claude"})
	tr, err := r.Build(Cognitive, n)
	require.NoError(t, err)

	_, err = tr.Transform(context.Background(), n, core.NewSignal(1, 2, []byte("x"), 8))
	assert.ErrorIs(t, err, core.ErrFallbackFailed)
}

func TestCognitiveRateLimitedUsesFallback(t *testing.T) {
	ep := &fakeEndpoint{text: "RESULT: real"}
	client := cognition.NewClient("claude", ep, func(o *cognition.Options) {
		o.Config.Limiter = cognition.LimiterConfig{RatePerSecond: 0.001, Burst: 1}
	})
	r := Builtins(Deps{Endpoints: endpoints(t, client)})
	n := info("c", 2, map[string]string{SettingEndpoint: "claude", SettingCache: "false"})
	tr, err := r.Build(Cognitive, n)
	require.NoError(t, err)

	assert.Equal(t, "real", string(run(t, tr, n, "a")[0].Payload))
	out := run(t, tr, n, "b")
	assert.Equal(t, "mock L2 response to: b", string(out[0].Payload))
	assert.Equal(t, string(cognition.ReasonRateLimited), out[0].Metadata["cognition.reason"])
	assert.Equal(t, 1, ep.calls)
}

func TestCognitiveSystemPromptTemplate(t *testing.T) {
	ep := &fakeEndpoint{text: "RESULT: ok"}
	r := Builtins(Deps{Endpoints: endpoints(t, cognition.NewClient("claude", ep))})

	n := info("c", 2, map[string]string{SettingEndpoint: "claude"})
	tr, err := r.Build(Cognitive, n)
	require.NoError(t, err)
	run(t, tr, n, "x")
	assert.Contains(t, ep.last.System, "layer 2 node")

	custom := info("c", 3, map[string]string{
		SettingEndpoint: "claude",
		SettingSystem:   "hop {{.Hops}} of {{.TTL}} on {{.Node}}",
	})
	tr, err = r.Build(Cognitive, custom)
	require.NoError(t, err)
	run(t, tr, custom, "x")
	assert.Equal(t, "hop 0 of 8 on c", ep.last.System)
	assert.Equal(t, "x", ep.last.Prompt)
}

func TestCognitiveBuildErrors(t *testing.T) {
	r := Builtins(Deps{Endpoints: cognition.NewRegistry()})
	_, err := r.Build(Cognitive, info("c", 2, nil))
	assert.Error(t, err)
	_, err = r.Build(Cognitive, info("c", 2, map[string]string{SettingEndpoint: "missing"}))
	assert.Error(t, err)

	reg := endpoints(t, cognition.NewClient("claude", &fakeEndpoint{}))
	_, err = Builtins(Deps{Endpoints: reg}).Build(Cognitive, info("c", 2, map[string]string{
		SettingEndpoint: "claude",
		SettingSystem:   "{{.Layer",
	}))
	assert.Error(t, err)
}
