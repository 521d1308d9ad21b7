package core

import "context"

// ContextStore owns the per-user conversation contexts.
//
// Contract:
//   - Get creates a default context on first access and refreshes last access
//   - Every returned Context is a copy; mutate through the store methods
//   - PrepareHandoff is the only operation that writes current_agent
//   - Contexts idle for longer than the store's TTL are discarded
type ContextStore interface {
	// Get returns the user's context, creating a fresh one if missing or expired.
	Get(userID string) Context

	// Lookup returns the user's context without creating one.
	Lookup(userID string) (Context, bool)

	// Update shallow-merges partial into the user's context and returns the result.
	Update(userID string, partial map[string]any) Context

	// PrepareHandoff records a handoff from source to target carrying payload.
	PrepareHandoff(userID, source, target string, payload map[string]any) Context

	// WorkflowContext returns the sub-context of one workflow execution.
	WorkflowContext(userID, executionID string) (map[string]any, bool)

	// UpdateWorkflowContext merges data into a workflow sub-context, creating it
	// with status "active" when missing.
	UpdateWorkflowContext(userID, executionID string, data map[string]any)

	// CompleteWorkflow marks a workflow sub-context completed with result.
	CompleteWorkflow(userID, executionID string, result map[string]any)

	// Clear drops the user's context.
	Clear(userID string)
}

// ContextBackend is the optional persistence hook behind a ContextStore.
// Implementations must be safe for concurrent use.
type ContextBackend interface {
	SaveContext(ctx context.Context, userID string, data Context) error
	// LoadContext returns ok=false when nothing is stored for the user.
	LoadContext(ctx context.Context, userID string) (Context, bool, error)
	DeleteContext(ctx context.Context, userID string) error
}
