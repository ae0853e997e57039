package cognition

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/layermesh/core"
)

// FallbackFunc produces a structurally valid response without I/O. It must
// be deterministic and fast: it is the guaranteed degraded path.
type FallbackFunc func(req Request) (Response, error)

// MockResponder is a deterministic fallback generator. Responses are chosen
// by the first trigger (in lexical order) contained in the prompt, then by a
// per-layer default, then by a generic echo.
type MockResponder struct {
	triggers map[string]string
	layers   map[core.Layer]string
	keys     []string
}

// NewMockResponder builds a responder. Both maps may be nil.
func NewMockResponder(triggers map[string]string, layerDefaults map[core.Layer]string) *MockResponder {
	m := &MockResponder{triggers: map[string]string{}, layers: map[core.Layer]string{}}
	for k, v := range triggers {
		m.triggers[k] = v
		m.keys = append(m.keys, k)
	}
	sort.Strings(m.keys)
	for k, v := range layerDefaults {
		m.layers[k] = v
	}
	return m
}

// Respond implements FallbackFunc.
func (m *MockResponder) Respond(req Request) (Response, error) {
	for _, trigger := range m.keys {
		if trigger != "" && strings.Contains(req.Prompt, trigger) {
			return Response{Text: m.triggers[trigger]}, nil
		}
	}
	if text, ok := m.layers[req.Layer]; ok {
		return Response{Text: text}, nil
	}
	return Response{Text: fmt.Sprintf("mock L%d response to: %s", req.Layer, req.Prompt)}, nil
}

// DefaultFallback echoes the prompt with a layer tag.
func DefaultFallback(req Request) (Response, error) {
	return NewMockResponder(nil, nil).Respond(req)
}
