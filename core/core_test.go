package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   Command
		wantOK bool
	}{
		{name: "name only", text: "*help", want: Command{Name: "help"}, wantOK: true},
		{name: "with args", text: "*capture buy milk", want: Command{Name: "capture", Args: "buy milk"}, wantOK: true},
		{name: "surrounding space", text: "  *Capture   buy milk  ", want: Command{Name: "capture", Args: "buy milk"}, wantOK: true},
		{name: "plain text", text: "buy milk", wantOK: false},
		{name: "bare prefix", text: "*", wantOK: false},
		{name: "empty", text: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseCommand(tt.text, CommandPrefix)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMessage_CommandCustomPrefix(t *testing.T) {
	msg := Message{Text: "/review weekly", UserID: "u1"}

	cmd, ok := msg.Command("/")
	require.True(t, ok)
	assert.Equal(t, "review", cmd.Name)
	assert.Equal(t, "weekly", cmd.Args)

	_, ok = msg.Command(CommandPrefix)
	assert.False(t, ok)
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "*help", Command{Name: "help"}.String())
	assert.Equal(t, "*capture call mom", Command{Name: "capture", Args: "call mom"}.String())
}

func TestResponse_Classification(t *testing.T) {
	assert.True(t, Response{HandoffTo: "planner"}.IsHandoff())
	assert.True(t, Response{Type: ResponseHandoff}.IsHandoff())
	assert.False(t, Response{Type: ResponseMessage}.IsHandoff())
	assert.True(t, Response{Type: ResponseWorkflowComplete}.IsWorkflowComplete())
	assert.True(t, Response{Type: ResponseAwaitingInput}.IsAwaitingInput())
	assert.True(t, ErrorResponse(ResponseCommandError, "a", "oops").IsError())
	assert.False(t, Response{Type: ResponseHelp}.IsError())
}

func TestAgentExecutionError(t *testing.T) {
	inner := errors.New("boom")
	err := fmt.Errorf("dispatch: %w", &AgentExecutionError{AgentID: "task", Action: "*capture", Err: inner})

	var execErr *AgentExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "task", execErr.AgentID)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "agent task failed during *capture")

	panicked := &AgentExecutionError{AgentID: "task", Action: "can_handle", Panic: "bad"}
	assert.Contains(t, panicked.Error(), "panicked")
}
