package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackManager_RunsInOrderAndStopsOnError(t *testing.T) {
	cm := NewCallbackManager()

	var order []string

	cm.RegisterCallback(NewFunctionCallback(CallbackAfterStep, func(_ context.Context, cc *CallbackContext) error {
		order = append(order, "first:"+string(cc.CallbackType))
		return nil
	}))
	cm.RegisterCallback(NewFunctionCallback(CallbackAfterStep, func(context.Context, *CallbackContext) error {
		order = append(order, "second")
		return errors.New("stop")
	}))
	cm.RegisterCallback(NewFunctionCallback(CallbackAfterStep, func(context.Context, *CallbackContext) error {
		order = append(order, "third")
		return nil
	}))

	assert.Equal(t, 3, cm.Len(CallbackAfterStep))
	assert.Equal(t, 0, cm.Len(CallbackOnComplete))

	err := cm.ExecuteCallbacks(context.Background(), CallbackAfterStep, &CallbackContext{})
	require.Error(t, err)
	assert.Equal(t, "after_step callback: stop", err.Error())
	assert.Equal(t, []string{"first:after_step", "second"}, order)

	require.NoError(t, cm.ExecuteCallbacks(context.Background(), CallbackOnComplete, &CallbackContext{}))
}

func TestLoggingCallback(t *testing.T) {
	var lines []string

	cb := NewLoggingCallback(CallbackOnFailure, func(msg string, args ...any) {
		lines = append(lines, fmt.Sprint(append([]any{msg}, args...)...))
	})

	assert.Equal(t, CallbackOnFailure, cb.Type())
	require.NoError(t, cb.Execute(context.Background(), &CallbackContext{
		ExecutionID: "wf_1",
		WorkflowID:  "wf",
		StepID:      "plan",
		AgentID:     "planning",
		Err:         errors.New("boom"),
	}))

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "workflow lifecycle")
	assert.Contains(t, lines[0], "planning")
	assert.Contains(t, lines[0], "boom")

	require.NoError(t, NewLoggingCallback(CallbackOnFailure, nil).Execute(context.Background(), &CallbackContext{}))
}

func TestContextValidationCallback(t *testing.T) {
	cb := NewContextValidationCallback(func(update map[string]any) error {
		if _, ok := update["workflow_id"]; ok {
			return errors.New("workflow_id is read-only")
		}

		return nil
	})

	assert.Equal(t, CallbackOnContextUpdate, cb.Type())
	assert.NoError(t, cb.Execute(context.Background(), &CallbackContext{}))
	assert.NoError(t, cb.Execute(context.Background(), &CallbackContext{ContextUpdate: map[string]any{"a": 1}}))
	assert.Error(t, cb.Execute(context.Background(), &CallbackContext{ContextUpdate: map[string]any{"workflow_id": "x"}}))
}
