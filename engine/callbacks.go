package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
)

// CallbackType defines the lifecycle points of a workflow execution where
// callbacks run.
//
// Callbacks are executed synchronously on the goroutine driving the
// execution. Errors returned from CallbackBeforeStep fail the current
// attempt and errors from CallbackOnContextUpdate reject the update; errors
// from every other type are logged and otherwise ignored.
type CallbackType string

const (
	// CallbackBeforeStep runs before each dispatch attempt.
	CallbackBeforeStep CallbackType = "before_step"

	// CallbackAfterStep runs after a step completed, including skipped steps.
	CallbackAfterStep CallbackType = "after_step"

	// CallbackOnStepError runs after every failed attempt.
	CallbackOnStepError CallbackType = "on_step_error"

	// CallbackOnHandoff runs when a step response hands off to another agent.
	CallbackOnHandoff CallbackType = "on_handoff"

	// CallbackOnContextUpdate runs before a response's context update is
	// merged into the execution context.
	CallbackOnContextUpdate CallbackType = "on_context_update"

	// CallbackOnComplete runs once when an execution completes.
	CallbackOnComplete CallbackType = "on_complete"

	// CallbackOnFailure runs once when an execution fails.
	CallbackOnFailure CallbackType = "on_failure"
)

// CallbackContext carries the execution details a callback may inspect.
type CallbackContext struct {
	ExecutionID string
	WorkflowID  string
	UserID      string
	StepID      string
	AgentID     string
	// Attempt is 1-based; zero outside of step dispatch.
	Attempt int

	// Response is the agent response, when one exists.
	Response *core.Response

	// ContextUpdate is the pending update for CallbackOnContextUpdate.
	ContextUpdate map[string]any

	// Err is the failure for CallbackOnStepError and CallbackOnFailure.
	Err error

	CallbackType CallbackType

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback defines the interface for execution lifecycle hooks.
//
// Implementations should be fast since they run inline with the workflow.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	audit := NewFunctionCallback(
//	    CallbackOnHandoff,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("handoff from %s to %s", cc.AgentID, cc.Response.HandoffTo)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager keeps callbacks per type and runs them in registration
// order. The first error stops the chain. It is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates a new callback manager instance.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback to the manager for its type.
//
// Example:
//
//	manager := NewCallbackManager()
//	manager.RegisterCallback(NewLoggingCallback(CallbackOnFailure, logger.Warn))
//	manager.RegisterCallback(NewContextValidationCallback(rejectSecrets))
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// Len returns the number of callbacks registered for callbackType.
func (cm *CallbackManager) Len(callbackType CallbackType) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return len(cm.callbacks[callbackType])
}

// ExecuteCallbacks executes all registered callbacks for the specified type.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}

	return nil
}

// LoggingCallback forwards lifecycle events to a logging function.
//
// Example:
//
//	callback := NewLoggingCallback(CallbackAfterStep, func(msg string, args ...any) {
//	    logger.Info(msg, args...)
//	})
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(msg string, args ...any)
}

// NewLoggingCallback creates a new logging callback. logger receives a
// message plus slog style key/value pairs, matching logging.Logger methods.
func NewLoggingCallback(callbackType CallbackType, logger func(msg string, args ...any)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle event. A nil logger makes it a no-op.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}

	args := []any{
		"callback", c.callbackType,
		"execution_id", callbackCtx.ExecutionID,
		"workflow_id", callbackCtx.WorkflowID,
	}

	if callbackCtx.StepID != "" {
		args = append(args, "step_id", callbackCtx.StepID, "agent_id", callbackCtx.AgentID)
	}

	if callbackCtx.Response != nil {
		args = append(args, "response_type", callbackCtx.Response.Type)
	}

	if callbackCtx.Err != nil {
		args = append(args, "error", callbackCtx.Err)
	}

	c.logger("workflow lifecycle", args...)

	return nil
}

// ContextValidationCallback validates context updates before they are
// merged into an execution.
//
// Example:
//
//	validator := func(update map[string]any) error {
//	    if _, ok := update["workflow_id"]; ok {
//	        return errors.New("workflow_id is read-only")
//	    }
//	    return nil
//	}
//	callback := NewContextValidationCallback(validator)
type ContextValidationCallback struct {
	validator func(update map[string]any) error
}

// NewContextValidationCallback creates a new context validation callback.
func NewContextValidationCallback(validator func(update map[string]any) error) *ContextValidationCallback {
	return &ContextValidationCallback{
		validator: validator,
	}
}

// Type returns the callback type (always CallbackOnContextUpdate).
func (c *ContextValidationCallback) Type() CallbackType {
	return CallbackOnContextUpdate
}

// Execute runs the validator against the pending update.
func (c *ContextValidationCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.validator != nil && len(callbackCtx.ContextUpdate) > 0 {
		return c.validator(callbackCtx.ContextUpdate)
	}

	return nil
}
