package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/layermesh/cognition"
	"github.com/hupe1980/layermesh/core"
	"github.com/hupe1980/layermesh/router"
	"github.com/hupe1980/layermesh/topology"
)

const sample = `
layers: {min: 1, max: 3}
router:
  workers: 8
  default_ttl: 6
  max_queue_age: 2s
inbox:
  capacity: 64
  policy: evict_oldest
cache:
  capacity: 128
  ttl: 10m
logging: {level: debug, format: text}
audit: {driver: sqlite, path: /tmp/mesh.db}
endpoints:
  - name: planner
    provider: mock
    call_timeout: 250ms
    estimated_call_cost: 30
    rate_limit: {rate_per_second: 5, mode: block, wait_timeout: 100ms}
    breaker: {failure_threshold: 3, reset_timeout: 1m}
    ledger: {window: 1h, soft_limit: 50, hard_limit: 100}
    fallback_responses:
      urgent: "RESULT: handled offline"
    layer_responses:
      2: "FORWARD: mock plan"
nodes:
  - id: in
    layer: 1
    transform: relay
    forward_links: [think]
  - id: think
    layer: 2
    transform: cognitive
    fan_out: round_robin
    policy: reject_new
    inbox_capacity: 8
    settings: {endpoint: planner}
  - id: out
    layer: 3
    transform: terminal
    backward_links: [think]
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, core.LayerRange{Min: 1, Max: 3}, cfg.LayerRange())
	assert.Equal(t, 2*time.Second, cfg.Router.MaxQueueAge)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "json", Default().Logging.Format)
	assert.Equal(t, "text", cfg.Logging.Format)

	policy, err := cfg.InboxPolicy()
	require.NoError(t, err)
	assert.Equal(t, topology.EvictOldest, policy)

	rc := cfg.RouterConfig(router.DefaultConfig)
	assert.Equal(t, 8, rc.Workers)
	assert.Equal(t, 6, rc.DefaultTTL)
	assert.Equal(t, router.DefaultConfig.ResultRetention, rc.ResultRetention)
}

func TestDeclarations(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	decls, err := cfg.Declarations()
	require.NoError(t, err)
	require.Len(t, decls, 3)

	think := decls[1]
	assert.Equal(t, core.NodeID("think"), think.ID)
	assert.Equal(t, core.Layer(2), think.Layer)
	assert.Equal(t, topology.FanOutRoundRobin, think.FanOut)
	assert.Equal(t, 8, think.InboxCapacity)
	require.NotNil(t, think.Policy)
	assert.Equal(t, topology.RejectNew, *think.Policy)
	assert.Equal(t, "planner", think.Settings["endpoint"])

	assert.Equal(t, []core.NodeID{"think"}, decls[0].Forward)
	assert.Equal(t, []core.NodeID{"think"}, decls[2].Backward)
	assert.Nil(t, decls[0].Policy)
}

func TestEndpointConversion(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	ep, ok := cfg.Endpoint("planner")
	require.True(t, ok)

	cc := ep.ClientConfig()
	assert.Equal(t, 250*time.Millisecond, cc.CallTimeout)
	assert.Equal(t, 30.0, cc.EstimatedCallCost)
	assert.Equal(t, 3, cc.Breaker.FailureThreshold)
	assert.Equal(t, time.Minute, cc.Breaker.ResetTimeout)
	assert.Equal(t, cognition.DefaultBreakerConfig.HalfOpenTrials, cc.Breaker.HalfOpenTrials)
	assert.Equal(t, 100.0, cc.Ledger.HardLimit)
	assert.Equal(t, cognition.LimitBlock, cc.Limiter.Mode)
	assert.Equal(t, 5.0, cc.Limiter.RatePerSecond)

	fb := ep.Fallback()
	resp, err := fb(cognition.Request{Prompt: "this is urgent", Layer: 2})
	require.NoError(t, err)
	assert.Equal(t, "RESULT: handled offline", resp.Text)
	resp, err = fb(cognition.Request{Prompt: "plan", Layer: 2})
	require.NoError(t, err)
	assert.Equal(t, "FORWARD: mock plan", resp.Text)

	_, ok = cfg.Endpoint("missing")
	assert.False(t, ok)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown key",
			yaml: "bogus: 1",
			want: "bogus",
		},
		{
			name: "bad provider",
			yaml: "endpoints: [{name: x, provider: magic}]",
			want: "provider",
		},
		{
			name: "sqlite without path",
			yaml: "audit: {driver: sqlite}",
			want: "path",
		},
		{
			name: "layer out of range",
			yaml: "layers: {min: 1, max: 3}\nnodes: [{id: a, layer: 4, transform: relay}]",
			want: "outside",
		},
		{
			name: "non-adjacent link",
			yaml: "nodes: [{id: a, layer: 1, transform: relay, forward_links: [c]}, {id: c, layer: 3, transform: terminal}]",
			want: "want layer 2",
		},
		{
			name: "undeclared link",
			yaml: "nodes: [{id: a, layer: 1, transform: relay, forward_links: [ghost]}]",
			want: "undeclared",
		},
		{
			name: "duplicate node",
			yaml: "nodes: [{id: a, layer: 1, transform: relay}, {id: a, layer: 1, transform: relay}]",
			want: "declared twice",
		},
		{
			name: "unknown endpoint",
			yaml: "nodes: [{id: a, layer: 1, transform: cognitive, settings: {endpoint: nope}}]",
			want: "unknown endpoint",
		},
		{
			name: "soft above hard",
			yaml: "endpoints: [{name: x, provider: mock, ledger: {soft_limit: 10, hard_limit: 5}}]",
			want: "soft_limit",
		},
		{
			name: "bad fan-out",
			yaml: "nodes: [{id: a, layer: 1, transform: relay, fan_out: random}]",
			want: "fan_out",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadAndMarshal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	data, err := Marshal(cfg)
	require.NoError(t, err)
	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestEmptyDocumentUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
