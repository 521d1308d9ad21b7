package core

import "context"

// Dispatcher delivers targeted work to registered agents. The registry
// implements it; the workflow engine and coordinating agents consume it.
//
// Implementations SHOULD:
//   - Return ErrAgentNotFound for unknown agent ids
//   - Return ErrUnknownAction for commands or capabilities the agent lacks
//   - Convert agent panics into *AgentExecutionError
//   - Return ErrStepTimeout once ctx expires, even if the agent ignores ctx
type Dispatcher interface {
	// Agent resolves a registered agent by id.
	Agent(id string) (Agent, bool)

	// ExecuteCommand runs an explicit command on a specific agent.
	ExecuteCommand(ctx context.Context, agentID string, cmd Command, msg Message, convCtx Context) (Response, error)

	// InvokeCapability runs a named capability on a specific agent.
	InvokeCapability(ctx context.Context, agentID, name string, convCtx Context) (Response, error)
}

// WorkflowTrigger binds an explicit command to a workflow definition. When
// a user sends the command, the message arguments are stored under InputKey
// in the initial execution context.
type WorkflowTrigger struct {
	Command    string `json:"command" yaml:"command"`
	WorkflowID string `json:"workflow_id" yaml:"workflow_id"`
	InputKey   string `json:"input_key,omitempty" yaml:"input_key,omitempty"`
}
