package openai

import (
	"testing"

	"github.com/hupe1980/layermesh/model"
	"github.com/stretchr/testify/assert"
)

func TestBuildMessages(t *testing.T) {
	msgs := buildMessages(model.Request{
		Instructions: "system",
		Messages: []model.Message{
			{Role: model.RoleUser, Text: "question"},
			{Role: model.RoleAssistant, Text: "answer"},
		},
	})
	if assert.Len(t, msgs, 3) {
		assert.NotNil(t, msgs[0].OfSystem)
		assert.NotNil(t, msgs[1].OfUser)
		assert.NotNil(t, msgs[2].OfAssistant)
	}
}

func TestBuildParamsMaxTokens(t *testing.T) {
	m := NewModelFromClient(nil, func(o *Options) { o.Model = "gpt-test" })
	p := m.buildParams(model.Request{Messages: []model.Message{{Role: model.RoleUser, Text: "x"}}, MaxTokens: 64})
	assert.Equal(t, int64(64), p.MaxCompletionTokens.Value)
	assert.Equal(t, "gpt-test", m.Info().Name)
}
