package core

// ResponseType is the machine readable tag carried by every Response.
type ResponseType string

const (
	ResponseMessage           ResponseType = "message"
	ResponseHelp              ResponseType = "help"
	ResponseTaskCreated       ResponseType = "task_created"
	ResponseUnknownCommand    ResponseType = "unknown_command"
	ResponseCommandError      ResponseType = "command_error"
	ResponseProcessingError   ResponseType = "processing_error"
	ResponseNoAgent           ResponseType = "no_agent"
	ResponseUnhandled         ResponseType = "unhandled"
	ResponseHandoff           ResponseType = "agent_handoff"
	ResponseAwaitingInput     ResponseType = "awaiting_input"
	ResponseWorkflowStarted   ResponseType = "workflow_started"
	ResponseWorkflowComplete  ResponseType = "workflow_complete"
	ResponseWorkflowFailed    ResponseType = "workflow_failed"
	ResponseWorkflowCancelled ResponseType = "workflow_cancelled"
)

// Action is a suggested follow-up a client may render as a button.
type Action struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Response is the uniform result of agent and workflow processing.
//
// ContextUpdate is merged into the user's conversation context by whoever
// receives the response. HandoffTo names the agent that should take over;
// HandoffPayload travels with the handoff and lands in the receiving context.
type Response struct {
	Type           ResponseType   `json:"responseType"`
	Message        string         `json:"message,omitempty"`
	AgentID        string         `json:"agentId,omitempty"`
	Actions        []Action       `json:"actions,omitempty"`
	ContextUpdate  map[string]any `json:"contextUpdate,omitempty"`
	HandoffTo      string         `json:"handoffTo,omitempty"`
	HandoffPayload map[string]any `json:"handoffPayload,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// IsHandoff reports whether the response asks for another agent to take over.
func (r Response) IsHandoff() bool {
	return r.HandoffTo != "" || r.Type == ResponseHandoff
}

// IsWorkflowComplete reports whether the response ends the surrounding workflow.
func (r Response) IsWorkflowComplete() bool { return r.Type == ResponseWorkflowComplete }

// IsAwaitingInput reports whether the agent needs another user turn.
func (r Response) IsAwaitingInput() bool { return r.Type == ResponseAwaitingInput }

// IsError reports whether the response represents a user visible failure.
func (r Response) IsError() bool {
	switch r.Type {
	case ResponseUnknownCommand, ResponseCommandError, ResponseProcessingError, ResponseWorkflowFailed:
		return true
	default:
		return false
	}
}

// ErrorResponse builds a failure response with a short user facing message.
func ErrorResponse(t ResponseType, agentID, msg string) Response {
	return Response{Type: t, AgentID: agentID, Message: msg}
}
