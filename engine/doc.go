// Package engine executes workflow definitions against registered agents.
//
// The Engine owns every workflow execution: its status, the steps it has
// completed, skipped or failed, the accumulated execution context and the
// stack of steps still to run. Agents are reached only through a
// core.Dispatcher and progress is mirrored into the user's conversation
// context through a core.ContextStore, under workflows[<execution id>].
//
// # Lifecycle
//
//	pending ──► running ──► completed
//	               │  ▲
//	               │  └──── paused (PauseWorkflow, awaiting_input)
//	               └──────► failed  (step failure, timeout, CancelWorkflow)
//
// Completed and failed are terminal. Every other transition returns
// core.ErrInvalidTransition.
//
// # Steps
//
// A step names an agent and an action, either an explicit command
// ("*breakdown {{.initial_request}}") or a capability ("detect_complexity").
// Command arguments are rendered as templates over the execution context.
// The condition, when present, is evaluated first:
//
//   - false: the step is recorded as completed and skipped; its next steps run
//   - evaluation error: logged, and the step runs
//
// Each attempt runs under the step timeout and inside an OpenTelemetry span.
// After retries+1 failed attempts the failure step runs, or the execution
// fails with a *StepError.
//
// # Responses
//
//   - workflow_complete: the execution completes, pending steps are dropped
//   - awaiting_input: the execution pauses on the step; Continue re-runs it
//     with the user's reply in context["user_input"]
//   - handoffs: the payload is merged and the handoff is recorded with
//     ContextStore.PrepareHandoff
//   - anything else: the context update is merged and next steps run
//
// # Safety Limits
//
// Definitions carry a global timeout checked before every step.
// Config.MaxStepExecutions bounds runaway cycles.
//
// # Hooks
//
// A CallbackManager runs user hooks at before_step, after_step,
// on_step_error, on_handoff, on_context_update, on_complete and on_failure.
// A failing before_step hook fails the attempt; a failing on_context_update
// hook rejects the update and fails the step.
package engine
