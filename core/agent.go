package core

import "context"

// Agent defines the contract every FlowCoach agent implements.
//
// Agents are stateless specialists: everything they know about a user arrives
// through the Context argument and everything they want remembered leaves
// through Response.ContextUpdate. The registry and the workflow engine are the
// only callers; neither holds a reference to agent internals.
//
// Implementations must:
//   - Keep CanHandle free of side effects (it may be called for every agent)
//   - Respect ctx cancellation in ProcessMessage, ExecuteCommand and InvokeCapability
//   - Report expected failures through the returned error, not panics
type Agent interface {
	// Info returns the static identity of the agent.
	Info() AgentInfo

	// Commands returns the explicit commands the agent accepts, keyed by name.
	Commands() map[string]CommandInfo

	// Capabilities lists the named operations workflows may invoke directly.
	Capabilities() []string

	// CanHandle reports whether the agent wants to process free text.
	CanHandle(msg Message) bool

	// ProcessMessage handles an inbound message that was routed to this agent.
	ProcessMessage(ctx context.Context, msg Message, convCtx Context) (Response, error)

	// ExecuteCommand runs one of the commands reported by Commands.
	ExecuteCommand(ctx context.Context, cmd Command, msg Message, convCtx Context) (Response, error)

	// InvokeCapability runs one of the capabilities reported by Capabilities.
	InvokeCapability(ctx context.Context, name string, convCtx Context) (Response, error)
}

// AgentInfo carries identifying details about an agent.
// ID is the registry key; Name is the human readable label used in listings.
type AgentInfo struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Title        string   `json:"title,omitempty" yaml:"title,omitempty"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Icon         string   `json:"icon,omitempty" yaml:"icon,omitempty"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// CommandInfo describes an explicit command exposed by an agent.
type CommandInfo struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Examples    []string `json:"examples,omitempty" yaml:"examples,omitempty"`
	Parameters  []string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}
