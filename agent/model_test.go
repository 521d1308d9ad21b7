package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/model"
)

func newCoach(t *testing.T, llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	t.Helper()

	a, err := NewModelAgent(Definition{
		ID:       "coach",
		Name:     "Coach",
		Commands: []CommandSpec{{Name: "ask", Description: "Ask the coach"}},
	}, llm, optFns...)
	require.NoError(t, err)

	return a
}

func TestModelAgent_RequiresModel(t *testing.T) {
	_, err := NewModelAgent(Definition{ID: "coach"}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidDefinition)
}

func TestModelAgent_RepliesToFreeText(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	llm.AddResponse("how do I start?", "  Pick one next action.  ")

	a := newCoach(t, llm, func(o *ModelAgentOptions) {
		o.Instruction = NewInstructionFromText("Coach {{.user_name}}")
		o.OutputKey = "last_advice"
	})

	assert.True(t, a.CanHandle(core.Message{Text: "anything at all"}))

	resp, err := a.ProcessMessage(context.Background(), core.Message{Text: "how do I start?"}, core.Context{"user_name": "Sam"})
	require.NoError(t, err)
	assert.Equal(t, "Pick one next action.", resp.Message)
	assert.Equal(t, "coach", resp.AgentID)
	assert.Equal(t, "Pick one next action.", resp.ContextUpdate["last_advice"])

	calls := llm.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Coach Sam", calls[0].System)
	assert.EqualValues(t, 512, calls[0].MaxTokens)
}

func TestModelAgent_AskCommandAndCapability(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	a := newCoach(t, llm)

	resp, err := a.ExecuteCommand(context.Background(), core.Command{Name: "ask", Args: "what next?"}, core.Message{}, core.Context{})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: what next?", resp.Message)

	resp, err = a.InvokeCapability(context.Background(), GenerateCapability, core.Context{core.KeyUserInput: "summarize"})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: summarize", resp.Message)

	resp, err = a.InvokeCapability(context.Background(), GenerateCapability, core.Context{})
	require.NoError(t, err)
	assert.Equal(t, "What would you like to talk about?", resp.Message)
}

func TestModelAgent_ModelError(t *testing.T) {
	llm := model.NewMockModel("mock", "mock")
	llm.SetError(errors.New("quota"))
	a := newCoach(t, llm)

	_, err := a.ProcessMessage(context.Background(), core.Message{Text: "hi"}, core.Context{})
	assert.ErrorContains(t, err, "quota")
}
