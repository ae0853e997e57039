package cognition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/layermesh/core"
)

func TestMockResponder(t *testing.T) {
	m := NewMockResponder(
		map[string]string{
			"analyze": "FORWARD: break down the analysis",
			"alpha":   "RESULT: alpha handled",
		},
		map[core.Layer]string{3: "RESULT: implementation complete"},
	)

	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"trigger", Request{Prompt: "please analyze this", Layer: 1}, "FORWARD: break down the analysis"},
		{"first trigger wins", Request{Prompt: "analyze alpha", Layer: 1}, "RESULT: alpha handled"},
		{"layer default", Request{Prompt: "build it", Layer: 3}, "RESULT: implementation complete"},
		{"echo", Request{Prompt: "hello", Layer: 2}, "mock L2 response to: hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := m.Respond(tt.req)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, resp.Text)
			assert.Zero(t, resp.Cost)
		})
	}
}

func TestDefaultFallbackIsDeterministic(t *testing.T) {
	a, _ := DefaultFallback(Request{Prompt: "x", Layer: 4})
	b, _ := DefaultFallback(Request{Prompt: "x", Layer: 4})
	assert.Equal(t, a, b)
}
