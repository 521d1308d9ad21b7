package core

import (
	"errors"
	"fmt"
)

var (
	// ErrAgentNotFound is returned when an agent id is not registered.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrUnknownCommand is returned when no agent exposes a command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUnknownAction is returned when an agent lacks the requested command or capability.
	ErrUnknownAction = errors.New("unknown action")
	// ErrCommandConflict is returned in strict mode when two agents claim a command.
	ErrCommandConflict = errors.New("command already registered")
	// ErrWorkflowNotFound is returned for unknown workflow definition ids.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrExecutionNotFound is returned for unknown execution ids.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrInvalidTransition is returned when an execution cannot move to the requested state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidDefinition is returned when a declarative definition fails validation.
	ErrInvalidDefinition = errors.New("invalid definition")
	// ErrStepTimeout is returned when an agent does not answer within the step timeout.
	ErrStepTimeout = errors.New("step timed out")
	// ErrWorkflowTimeout is returned when an execution exceeds its global timeout.
	ErrWorkflowTimeout = errors.New("workflow timed out")
	// ErrStepBudgetExceeded is returned when an execution runs more steps than allowed.
	ErrStepBudgetExceeded = errors.New("step budget exceeded")
	// ErrWorkflowCancelled is the failure reason of a cancelled execution.
	ErrWorkflowCancelled = errors.New("workflow cancelled")
)

// AgentExecutionError wraps a failure raised inside an agent.
type AgentExecutionError struct {
	AgentID string
	Action  string
	Err     error
	// Panic holds the recovered value when the agent panicked.
	Panic any
}

// Error implements error.
func (e *AgentExecutionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("agent %s panicked during %s: %v", e.AgentID, e.Action, e.Panic)
	}

	return fmt.Sprintf("agent %s failed during %s: %v", e.AgentID, e.Action, e.Err)
}

// Unwrap returns the underlying error.
func (e *AgentExecutionError) Unwrap() error { return e.Err }
