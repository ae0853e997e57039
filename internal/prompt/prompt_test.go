package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/layermesh/core"
)

func TestStaticPrompt(t *testing.T) {
	tmpl, err := Parse("You are a planner.")
	require.NoError(t, err)
	assert.True(t, tmpl.Static())

	out, err := tmpl.Render(Data{})
	require.NoError(t, err)
	assert.Equal(t, "You are a planner.", out)
}

func TestRenderUsesNodeAndSignal(t *testing.T) {
	tmpl, err := Parse(`Node {{upper (printf "%s" .Node)}} at layer {{.Layer}}, hop {{.Hops}}/{{.TTL}}, topic {{default "none" (meta .Metadata "topic")}}.`)
	require.NoError(t, err)
	assert.False(t, tmpl.Static())

	sig := core.NewSignal(1, 2, nil, 8)
	sig.Hops = 3
	out, err := tmpl.Render(DataFor(core.NodeInfo{ID: "planner", Layer: 2}, sig))
	require.NoError(t, err)
	assert.Equal(t, "Node PLANNER at layer 2, hop 3/8, topic none.", out)

	sig.Metadata = map[string]string{"topic": "travel"}
	out, err = tmpl.Render(DataFor(core.NodeInfo{ID: "planner", Layer: 2}, sig))
	require.NoError(t, err)
	assert.Contains(t, out, "topic travel.")
}

func TestParseError(t *testing.T) {
	_, err := Parse("{{.Node")
	assert.Error(t, err)
}
