package openai

import (
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"

	"github.com/jeffreydebolt/Flowcoach2-sub000/model"
)

func TestBuildMessages(t *testing.T) {
	msgs := buildMessages(model.Request{System: "sys", Prompt: "hello"})
	assert.Len(t, msgs, 2)

	msgs = buildMessages(model.Request{Prompt: "hello"})
	assert.Len(t, msgs, 1)
}

func TestBuildParams(t *testing.T) {
	m := NewModel(func(o *Options) {
		o.APIKey = "test-key"
		o.MaxCompletionTokens = 300
	})

	params := m.buildParams(model.Request{Prompt: "hello"})
	assert.Equal(t, openai.ChatModelGPT4oMini, params.Model)
	assert.EqualValues(t, 300, params.MaxCompletionTokens.Value)

	params = m.buildParams(model.Request{Prompt: "hello", MaxTokens: 12})
	assert.EqualValues(t, 12, params.MaxCompletionTokens.Value)
	assert.Equal(t, "openai", m.Info().Provider)
}
