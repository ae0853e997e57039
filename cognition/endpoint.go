package cognition

import (
	"context"

	"github.com/hupe1980/layermesh/core"
)

// LimitMode selects how a call behaves when the rate limiter has no token.
type LimitMode int

const (
	// LimitDefault uses the mode configured on the client.
	LimitDefault LimitMode = iota
	// LimitReject returns Rejected(RateLimited) immediately.
	LimitReject
	// LimitBlock waits for a token up to the configured wait timeout.
	LimitBlock
)

// Request is a single cognition request.
type Request struct {
	ID        string
	System    string
	Prompt    string
	Layer     core.Layer
	Metadata  map[string]string
	LimitMode LimitMode
	// EstimatedCost overrides the client's per-call estimate used for budget admission.
	EstimatedCost float64
}

// Usage reports token consumption of a real call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Response is the payload produced either by the endpoint or by the fallback.
type Response struct {
	Text  string
	Cost  float64
	Usage Usage
}

// Endpoint is the external service behind a client. Implementations must
// honor ctx deadlines; the client always passes one.
type Endpoint interface {
	Call(ctx context.Context, req Request) (Response, error)
}

// EndpointFunc adapts a function to the Endpoint interface.
type EndpointFunc func(ctx context.Context, req Request) (Response, error)

// Call implements Endpoint.
func (f EndpointFunc) Call(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// OutcomeKind classifies the result of Invoke.
type OutcomeKind int

const (
	// Real means the endpoint answered.
	Real OutcomeKind = iota
	// Fallback means the deterministic local generator answered.
	Fallback
	// Rejected means no response could be produced.
	Rejected
)

// String returns the lowercase outcome name.
func (k OutcomeKind) String() string {
	switch k {
	case Real:
		return "real"
	case Fallback:
		return "fallback"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Reason explains a Fallback or Rejected outcome.
type Reason string

// Outcome reasons.
const (
	ReasonNone            Reason = ""
	ReasonBudgetExhausted Reason = "budget_exhausted"
	ReasonCircuitOpen     Reason = "circuit_open"
	ReasonCallFailed      Reason = "call_failed"
	ReasonRateLimited     Reason = "rate_limited"
	ReasonFallbackFailed  Reason = "fallback_failed"
)

// Outcome is what Invoke returns. Err carries the underlying cause for
// degraded outcomes and is nil for Real.
type Outcome struct {
	Kind     OutcomeKind
	Response Response
	Reason   Reason
	Err      error
}

// OK reports whether the outcome carries a usable response.
func (o Outcome) OK() bool { return o.Kind != Rejected }
