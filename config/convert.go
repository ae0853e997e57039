package config

import (
	"fmt"

	"github.com/hupe1980/layermesh/cognition"
	"github.com/hupe1980/layermesh/core"
	"github.com/hupe1980/layermesh/router"
	"github.com/hupe1980/layermesh/topology"
)

// LayerRange returns the configured layer range.
func (c *Config) LayerRange() core.LayerRange {
	return core.LayerRange{Min: core.Layer(c.Layers.Min), Max: core.Layer(c.Layers.Max)}
}

// RouterConfig overlays the non-zero router settings on base.
func (c *Config) RouterConfig(base router.Config) router.Config {
	r := c.Router
	if r.Workers > 0 {
		base.Workers = r.Workers
	}
	if r.DefaultTTL > 0 {
		base.DefaultTTL = r.DefaultTTL
	}
	if r.MaxQueueAge > 0 {
		base.MaxQueueAge = r.MaxQueueAge
	}
	if r.WatchdogInterval > 0 {
		base.WatchdogInterval = r.WatchdogInterval
	}
	if r.ResultRetention > 0 {
		base.ResultRetention = r.ResultRetention
	}
	return base
}

// InboxPolicy returns the default backpressure policy.
func (c *Config) InboxPolicy() (topology.Policy, error) {
	return topology.ParsePolicy(c.Inbox.Policy)
}

// Declarations converts the node list into topology declarations, keeping
// the file order.
func (c *Config) Declarations() ([]topology.Declaration, error) {
	decls := make([]topology.Declaration, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		fan, err := topology.ParseFanOut(n.FanOut)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.ID, err)
		}
		d := topology.Declaration{
			ID:            core.NodeID(n.ID),
			Layer:         core.Layer(n.Layer),
			Forward:       nodeIDs(n.ForwardLinks),
			Backward:      nodeIDs(n.BackwardLinks),
			Transform:     n.Transform,
			FanOut:        fan,
			Settings:      n.Settings,
			InboxCapacity: n.InboxCapacity,
		}
		if n.Policy != "" {
			p, err := topology.ParsePolicy(n.Policy)
			if err != nil {
				return nil, fmt.Errorf("node %q: %w", n.ID, err)
			}
			d.Policy = &p
		}
		decls = append(decls, d)
	}
	return decls, nil
}

// ClientConfig converts the endpoint tuning, keeping cognition defaults for
// zero values.
func (e EndpointConfig) ClientConfig() cognition.Config {
	cfg := cognition.DefaultConfig
	if e.CallTimeout > 0 {
		cfg.CallTimeout = e.CallTimeout
	}
	cfg.EstimatedCallCost = e.EstimatedCallCost

	if e.Breaker.FailureThreshold > 0 {
		cfg.Breaker.FailureThreshold = e.Breaker.FailureThreshold
	}
	if e.Breaker.ResetTimeout > 0 {
		cfg.Breaker.ResetTimeout = e.Breaker.ResetTimeout
	}
	if e.Breaker.HalfOpenTrials > 0 {
		cfg.Breaker.HalfOpenTrials = e.Breaker.HalfOpenTrials
	}

	if e.Ledger.Window > 0 {
		cfg.Ledger.Window = e.Ledger.Window
	}
	cfg.Ledger.SoftLimit = e.Ledger.SoftLimit
	cfg.Ledger.HardLimit = e.Ledger.HardLimit

	cfg.Limiter = cognition.LimiterConfig{
		RatePerSecond: e.RateLimit.RatePerSecond,
		Burst:         e.RateLimit.Burst,
		WaitTimeout:   e.RateLimit.WaitTimeout,
	}
	switch e.RateLimit.Mode {
	case "block":
		cfg.Limiter.Mode = cognition.LimitBlock
	case "reject":
		cfg.Limiter.Mode = cognition.LimitReject
	}
	return cfg
}

// Prices returns the per-token price of the endpoint.
func (e EndpointConfig) Prices() cognition.Pricing {
	return cognition.Pricing{PromptPer1K: e.Pricing.PromptPer1K, CompletionPer1K: e.Pricing.CompletionPer1K}
}

// Fallback returns the deterministic fallback generator of the endpoint.
func (e EndpointConfig) Fallback() cognition.FallbackFunc {
	if len(e.FallbackResponses) == 0 && len(e.LayerResponses) == 0 {
		return cognition.DefaultFallback
	}
	layers := make(map[core.Layer]string, len(e.LayerResponses))
	for l, text := range e.LayerResponses {
		layers[core.Layer(l)] = text
	}
	return cognition.NewMockResponder(e.FallbackResponses, layers).Respond
}

func nodeIDs(ids []string) []core.NodeID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]core.NodeID, len(ids))
	for i, id := range ids {
		out[i] = core.NodeID(id)
	}
	return out
}
