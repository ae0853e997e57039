package cognition

import (
	"context"

	"github.com/hupe1980/layermesh/model"
)

// Pricing converts token usage into cost.
type Pricing struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// Cost returns the price of usage.
func (p Pricing) Cost(u model.TokenUsage) float64 {
	return float64(u.PromptTokens)/1000*p.PromptPer1K + float64(u.CompletionTokens)/1000*p.CompletionPer1K
}

// ModelEndpoint exposes a model.Model as an Endpoint, pricing each call from
// the token usage the provider reports.
type ModelEndpoint struct {
	model   model.Model
	pricing Pricing
}

// NewModelEndpoint wraps m.
func NewModelEndpoint(m model.Model, pricing Pricing) *ModelEndpoint {
	return &ModelEndpoint{model: m, pricing: pricing}
}

// Call implements Endpoint.
func (e *ModelEndpoint) Call(ctx context.Context, req Request) (Response, error) {
	resp, err := e.model.Generate(ctx, model.Request{
		Instructions: req.System,
		Messages:     []model.Message{{Role: model.RoleUser, Text: req.Prompt}},
	})
	if err != nil {
		return Response{}, err
	}
	return Response{
		Text: resp.Text,
		Cost: e.pricing.Cost(resp.Usage),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Info returns the wrapped model's metadata.
func (e *ModelEndpoint) Info() model.Info { return e.model.Info() }
