// Package registry keeps the set of live agents and routes inbound messages
// to them.
//
// Routing rules:
//   - "*name args" goes to the agent owning command name
//   - Any other text goes to the first agent, in registration order, whose
//     CanHandle predicate claims it
//   - Nothing matching yields a no_agent response
//
// The workflow engine uses the targeted ExecuteCommand and InvokeCapability
// methods instead. They honour the caller's deadline by running the agent
// in a separate goroutine and returning core.ErrStepTimeout when the
// deadline fires first.
package registry
