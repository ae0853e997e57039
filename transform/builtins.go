package transform

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	"github.com/hupe1980/layermesh/cache"
	"github.com/hupe1980/layermesh/cognition"
	"github.com/hupe1980/layermesh/core"
	"github.com/hupe1980/layermesh/internal/prompt"
	"github.com/hupe1980/layermesh/logging"
)

// Built-in selectors.
const (
	Relay     = "relay"
	Reflect   = "reflect"
	Terminal  = "terminal"
	Cognitive = "cognitive"
	Batch     = "batch"
)

// Setting keys read by the built-ins.
const (
	SettingDirection = "direction"
	SettingEndpoint  = "endpoint"
	SettingSystem    = "system"
	SettingCache     = "cache"
	SettingSize      = "size"
)

// Aggregator merges the payloads of a full batch into one.
type Aggregator func(payloads [][]byte) []byte

// JoinLines is the default Aggregator.
func JoinLines(payloads [][]byte) []byte { return bytes.Join(payloads, []byte("\n")) }

// Deps are the collaborators of the built-in transforms. Every field is
// optional except Endpoints, which the cognitive transform requires.
type Deps struct {
	Endpoints *cognition.Registry
	// Cache memoizes real cognition replies per topology generation.
	Cache *cache.LRU[string, string]
	// Generation reports the current topology generation for cache stamps.
	Generation func() uint64
	Layers     core.LayerRange
	Aggregator Aggregator
	Logger     logging.Logger
}

// Builtins returns a registry with every built-in transform registered.
func Builtins(deps Deps) *Registry {
	if deps.Layers == (core.LayerRange{}) {
		deps.Layers = core.DefaultLayerRange
	}
	if deps.Aggregator == nil {
		deps.Aggregator = JoinLines
	}
	if deps.Generation == nil {
		deps.Generation = func() uint64 { return 0 }
	}
	if deps.Logger == nil {
		deps.Logger = logging.NoOpLogger{}
	}

	r := NewRegistry()
	_ = r.Register(Relay, func(info core.NodeInfo) (core.Transform, error) { return newRelay(info, deps.Layers) })
	_ = r.Register(Reflect, func(info core.NodeInfo) (core.Transform, error) { return newReflect(info, deps.Layers), nil })
	_ = r.Register(Terminal, func(core.NodeInfo) (core.Transform, error) { return core.TransformFunc(terminate), nil })
	_ = r.Register(Cognitive, func(info core.NodeInfo) (core.Transform, error) { return newCognitive(info, deps) })
	_ = r.Register(Batch, func(info core.NodeInfo) (core.Transform, error) { return newBatch(info, deps) })
	return r
}

func settingDirection(info core.NodeInfo) (core.Direction, error) {
	d, ok := core.ParseDirection(info.Setting(SettingDirection, "forward"))
	if !ok {
		return d, fmt.Errorf("invalid %s setting %q", SettingDirection, info.Settings[SettingDirection])
	}
	return d, nil
}

// atEdge converts a routed direction into Terminal when there is no layer to
// go to.
func atEdge(dir core.Direction, layer core.Layer, layers core.LayerRange) core.Direction {
	if (dir == core.Forward && layer >= layers.Max) || (dir == core.Backward && layer <= layers.Min) {
		return core.Terminal
	}
	return dir
}

func newRelay(info core.NodeInfo, layers core.LayerRange) (core.Transform, error) {
	dir, err := settingDirection(info)
	if err != nil {
		return nil, err
	}
	dir = atEdge(dir, info.Layer, layers)
	return core.TransformFunc(func(_ context.Context, _ core.NodeInfo, in core.Signal) ([]core.Emission, error) {
		return []core.Emission{{Direction: dir, Payload: in.Payload}}, nil
	}), nil
}

func newReflect(info core.NodeInfo, layers core.LayerRange) core.Transform {
	dir := core.Backward
	if info.Layer%2 == 1 {
		dir = core.Forward
	}
	dir = atEdge(dir, info.Layer, layers)
	return core.TransformFunc(func(_ context.Context, _ core.NodeInfo, in core.Signal) ([]core.Emission, error) {
		return []core.Emission{{Direction: dir, Payload: in.Payload}}, nil
	})
}

func terminate(_ context.Context, _ core.NodeInfo, in core.Signal) ([]core.Emission, error) {
	return []core.Emission{core.Terminate(in.Payload)}, nil
}

type cognitive struct {
	client   *cognition.Client
	system   *prompt.Template
	dir      core.Direction
	layers   core.LayerRange
	cache    *cache.LRU[string, string]
	gen      func() uint64
	logger   logging.Logger
	useCache bool
}

func newCognitive(info core.NodeInfo, deps Deps) (core.Transform, error) {
	name := info.Setting(SettingEndpoint, "")
	if name == "" {
		return nil, fmt.Errorf("cognitive transform requires the %q setting", SettingEndpoint)
	}
	if deps.Endpoints == nil {
		return nil, fmt.Errorf("no cognition endpoints configured")
	}
	client, ok := deps.Endpoints.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown cognition endpoint %q", name)
	}
	dir, err := settingDirection(info)
	if err != nil {
		return nil, err
	}
	useCache := true
	if v := info.Setting(SettingCache, ""); v != "" {
		if useCache, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid %s setting %q: %w", SettingCache, v, err)
		}
	}
	system, err := prompt.Parse(info.Setting(SettingSystem, defaultSystem))
	if err != nil {
		return nil, fmt.Errorf("invalid %s setting: %w", SettingSystem, err)
	}
	return &cognitive{
		client:   client,
		system:   system,
		dir:      dir,
		layers:   deps.Layers,
		cache:    deps.Cache,
		gen:      deps.Generation,
		logger:   deps.Logger,
		useCache: useCache && deps.Cache != nil,
	}, nil
}

const defaultSystem = "You are a layer {{.Layer}} node in a layered mesh. " +
	"Answer with lines starting with FORWARD:, BACKWARD: or RESULT:."

// Transform asks the endpoint and routes by the directives in the reply.
func (c *cognitive) Transform(ctx context.Context, node core.NodeInfo, in core.Signal) ([]core.Emission, error) {
	system, err := c.system.Render(prompt.DataFor(node, in))
	if err != nil {
		return nil, err
	}
	req := cognition.Request{
		ID:     fmt.Sprintf("%s-%d", node.ID, in.ID),
		System: system,
		Prompt: string(in.Payload),
		Layer:  node.Layer,
	}

	var (
		text    string
		outcome cognition.Outcome
	)
	if c.useCache {
		text, err = c.cache.GetOrCompute(c.gen(), c.cacheKey(node.Layer, req), func() (string, bool, error) {
			o, err := c.invoke(ctx, req)
			outcome = o
			return o.Response.Text, o.Kind == cognition.Real, err
		})
	} else {
		outcome, err = c.invoke(ctx, req)
		text = outcome.Response.Text
	}
	if err != nil {
		return nil, err
	}

	emissions := ParseDirectives(text, c.dir)
	for i := range emissions {
		emissions[i].Direction = atEdge(emissions[i].Direction, node.Layer, c.layers)
		if outcome.Reason != cognition.ReasonNone {
			emissions[i].Metadata = map[string]string{"cognition.reason": string(outcome.Reason)}
		}
	}
	return emissions, nil
}

// invoke degrades rate-limited calls to the endpoint's fallback and turns a
// failed fallback into a transform error.
func (c *cognitive) invoke(ctx context.Context, req cognition.Request) (cognition.Outcome, error) {
	out := c.client.Invoke(ctx, req)
	if out.Kind == cognition.Rejected && out.Reason == cognition.ReasonRateLimited {
		c.logger.Debug("cognition rate limited, using fallback", "endpoint", c.client.Name(), "request_id", req.ID)
		out = c.client.Fallback(req, cognition.ReasonRateLimited)
	}
	if out.Kind == cognition.Rejected {
		return out, fmt.Errorf("endpoint %s: %w", c.client.Name(), out.Err)
	}
	return out, nil
}

func (c *cognitive) cacheKey(layer core.Layer, req cognition.Request) string {
	h := sha256.New()
	h.Write([]byte(req.System))
	h.Write([]byte{0})
	h.Write([]byte(req.Prompt))
	return fmt.Sprintf("%s/%d/%s", c.client.Name(), layer, hex.EncodeToString(h.Sum(nil)))
}

type batch struct {
	size      int
	dir       core.Direction
	aggregate Aggregator

	mu      sync.Mutex
	pending [][]byte
}

func newBatch(info core.NodeInfo, deps Deps) (core.Transform, error) {
	size := 2
	if v := info.Setting(SettingSize, ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid %s setting %q", SettingSize, v)
		}
		size = n
	}
	dir, err := settingDirection(info)
	if err != nil {
		return nil, err
	}
	return &batch{size: size, dir: atEdge(dir, info.Layer, deps.Layers), aggregate: deps.Aggregator}, nil
}

// Transform absorbs the signal unless it completes the batch, in which case
// the aggregate continues on the completing signal's lineage.
func (b *batch) Transform(_ context.Context, _ core.NodeInfo, in core.Signal) ([]core.Emission, error) {
	b.mu.Lock()
	b.pending = append(b.pending, append([]byte(nil), in.Payload...))
	if len(b.pending) < b.size {
		b.mu.Unlock()
		return []core.Emission{core.Absorbed()}, nil
	}
	full := b.pending
	b.pending = nil
	b.mu.Unlock()

	return []core.Emission{{
		Direction: b.dir,
		Payload:   b.aggregate(full),
		Metadata:  map[string]string{"batch.size": strconv.Itoa(len(full))},
	}}, nil
}
