package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/internal/util"
	"github.com/jeffreydebolt/Flowcoach2-sub000/workflow"
)

// Keys the engine writes into the execution context when a step fails over
// to its failure step.
const (
	KeyFailedStep = "failed_step"
	KeyLastError  = "last_error"
)

// runStep executes one step and schedules what follows it. Callers hold
// ex.runMu.
func (e *Engine) runStep(ctx context.Context, ex *execution, stepID string) {
	step, ok := ex.def.Step(stepID)
	if !ok {
		e.fail(ctx, ex, fmt.Errorf("%w: workflow %s has no step %q", core.ErrInvalidDefinition, ex.def.ID(), stepID))
		return
	}

	ex.mu.Lock()
	if err := ex.countStep(); err != nil {
		ex.mu.Unlock()
		e.fail(ctx, ex, err)

		return
	}

	ex.currentStep = step.ID
	vars := ex.vars.Clone()
	ex.mu.Unlock()

	e.store.UpdateWorkflowContext(ex.userID, ex.id, map[string]any{
		"status":       string(StatusRunning),
		"current_step": step.ID,
	})

	shouldRun, err := step.ShouldRun(vars)
	if err != nil {
		e.opts.Logger.Warn("condition evaluation failed, running step",
			"execution_id", ex.id,
			"step_id", step.ID,
			"condition", step.Condition.String(),
			"error", err,
		)

		shouldRun = true
	}

	if !shouldRun {
		ex.mu.Lock()
		ex.markCompleted(step.ID, true)
		ex.pushNext(step.Next)
		ex.mu.Unlock()

		e.opts.Logger.Info("step skipped", "execution_id", ex.id, "step_id", step.ID, "condition", step.Condition.String())
		e.callback(ctx, CallbackAfterStep, e.callbackContext(ex, step, 0))

		return
	}

	if _, ok := e.dispatcher.Agent(step.Agent); !ok {
		e.stepFailed(ctx, ex, step, 0, fmt.Errorf("%w: %s", core.ErrAgentNotFound, step.Agent))
		return
	}

	var (
		resp    core.Response
		attempt int
	)

	for attempt = 1; attempt <= step.Attempts(); attempt++ {
		resp, err = e.attempt(ctx, ex, step, vars, attempt)
		if err == nil {
			break
		}

		cc := e.callbackContext(ex, step, attempt)
		cc.Err = err
		e.callback(ctx, CallbackOnStepError, cc)

		if ctx.Err() != nil {
			break
		}
	}

	ex.mu.Lock()
	delete(ex.vars, core.KeyUserInput)
	ex.mu.Unlock()

	if err != nil {
		e.stepFailed(ctx, ex, step, min(attempt, step.Attempts()), err)
		return
	}

	e.handleResponse(ctx, ex, step, attempt, resp)
}

// attempt performs one bounded dispatch of step inside its own span.
func (e *Engine) attempt(ctx context.Context, ex *execution, step workflow.Step, vars core.Context, n int) (core.Response, error) {
	start := e.opts.Now()

	ctx, span := e.opts.Tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("flowcoach.workflow_id", ex.def.ID()),
		attribute.String("flowcoach.execution_id", ex.id),
		attribute.String("flowcoach.step_id", step.ID),
		attribute.String("flowcoach.agent_id", step.Agent),
		attribute.String("flowcoach.action", step.Action.String()),
		attribute.Int("flowcoach.attempt", n),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	resp, err := e.dispatch(ctx, ex, step, vars, n)
	if err == nil && resp.IsError() {
		err = &core.AgentExecutionError{
			AgentID: step.Agent,
			Action:  step.Action.String(),
			Err:     fmt.Errorf("%s response: %s", resp.Type, resp.Message),
		}
	}

	e.logStep(ex, step.ID, n, e.opts.Now().Sub(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return core.Response{}, err
	}

	span.SetAttributes(attribute.String("flowcoach.response_type", string(resp.Type)))
	span.SetStatus(codes.Ok, "")

	return resp, nil
}

func (e *Engine) dispatch(ctx context.Context, ex *execution, step workflow.Step, vars core.Context, n int) (core.Response, error) {
	if err := e.opts.Callbacks.ExecuteCallbacks(ctx, CallbackBeforeStep, e.callbackContext(ex, step, n)); err != nil {
		return core.Response{}, err
	}

	switch step.Action.Kind {
	case workflow.InvokeCommand:
		args, err := util.RenderTemplate(step.Action.Args, vars)
		if err != nil {
			return core.Response{}, fmt.Errorf("render arguments of step %s: %w", step.ID, err)
		}

		cmd := core.Command{Name: step.Action.Name, Args: args}
		msg := core.Message{
			Text:   cmd.String(),
			UserID: ex.userID,
			Source: map[string]any{
				"execution_id": ex.id,
				"workflow_id":  ex.def.ID(),
				"step_id":      step.ID,
			},
		}

		return e.dispatcher.ExecuteCommand(ctx, step.Agent, cmd, msg, vars)
	case workflow.InvokeCapability:
		return e.dispatcher.InvokeCapability(ctx, step.Agent, step.Action.Name, vars)
	default:
		return core.Response{}, fmt.Errorf("%w: step %s has no action", core.ErrInvalidDefinition, step.ID)
	}
}

// handleResponse merges a successful response into the execution and
// decides how the execution continues.
func (e *Engine) handleResponse(ctx context.Context, ex *execution, step workflow.Step, attempt int, resp core.Response) {
	update := map[string]any{}

	if resp.IsHandoff() {
		for k, v := range resp.HandoffPayload {
			update[k] = v
		}
	}

	for k, v := range resp.ContextUpdate {
		update[k] = v
	}

	cc := e.callbackContext(ex, step, attempt)
	cc.Response = &resp

	if len(update) > 0 {
		cc.ContextUpdate = update
		if err := e.callback(ctx, CallbackOnContextUpdate, cc); err != nil {
			e.stepFailed(ctx, ex, step, attempt, err)
			return
		}
	}

	ex.mu.Lock()
	if ex.status.IsTerminal() {
		ex.mu.Unlock()
		e.opts.Logger.Info("discarding step result of ended execution", "execution_id", ex.id, "step_id", step.ID)

		return
	}

	ex.vars.Merge(update)
	ex.results[step.ID] = resp
	last := resp
	ex.last = &last

	if !resp.IsAwaitingInput() && resp.Message != "" {
		ex.turn = append(ex.turn, resp)
	}
	ex.mu.Unlock()

	if resp.IsHandoff() {
		source := resp.AgentID
		if source == "" {
			source = step.Agent
		}

		if resp.HandoffTo != "" {
			e.store.PrepareHandoff(ex.userID, source, resp.HandoffTo, resp.HandoffPayload)
		}

		e.opts.Logger.Info("step handed off",
			"execution_id", ex.id,
			"step_id", step.ID,
			"source_agent", source,
			"target_agent", resp.HandoffTo,
		)
		e.callback(ctx, CallbackOnHandoff, cc)
	}

	switch {
	case resp.IsWorkflowComplete():
		ex.mu.Lock()
		ex.markCompleted(step.ID, false)
		ex.pending = nil
		ex.mu.Unlock()

		e.callback(ctx, CallbackAfterStep, cc)
		e.complete(ctx, ex, &resp)
	case resp.IsAwaitingInput():
		ex.mu.Lock()
		ex.pending = append(ex.pending, step.ID)
		if ex.status == StatusRunning {
			ex.status = StatusPaused
		}
		ex.mu.Unlock()

		e.store.UpdateWorkflowContext(ex.userID, ex.id, map[string]any{
			"status":       "waiting",
			"current_step": step.ID,
			"prompt":       resp.Message,
		})
		e.opts.Logger.Info("workflow waiting for input", "execution_id", ex.id, "step_id", step.ID)
		e.recordState(ctx, ex)
	default:
		ex.mu.Lock()
		ex.markCompleted(step.ID, false)
		ex.pushNext(step.Next)
		ex.mu.Unlock()

		e.callback(ctx, CallbackAfterStep, cc)
	}
}

// stepFailed routes a step that exhausted its attempts.
func (e *Engine) stepFailed(ctx context.Context, ex *execution, step workflow.Step, attempts int, err error) {
	stepErr := &StepError{
		ExecutionID: ex.id,
		StepID:      step.ID,
		AgentID:     step.Agent,
		Attempts:    attempts,
		Err:         err,
	}

	ex.mu.Lock()
	if ex.status.IsTerminal() {
		ex.mu.Unlock()
		return
	}

	ex.markFailed(step.ID)

	if step.OnFailure != "" {
		ex.vars[KeyFailedStep] = step.ID
		ex.vars[KeyLastError] = err.Error()
		ex.pending = append(ex.pending, step.OnFailure)
		ex.mu.Unlock()

		e.opts.Logger.Warn("step failed, running failure step",
			"execution_id", ex.id,
			"step_id", step.ID,
			"failure_step", step.OnFailure,
			"error", err,
		)

		return
	}

	ex.mu.Unlock()

	e.fail(ctx, ex, stepErr)
}

func (e *Engine) callbackContext(ex *execution, step workflow.Step, attempt int) *CallbackContext {
	return &CallbackContext{
		ExecutionID: ex.id,
		WorkflowID:  ex.def.ID(),
		UserID:      ex.userID,
		StepID:      step.ID,
		AgentID:     step.Agent,
		Attempt:     attempt,
		Metadata:    map[string]any{},
	}
}

// callback runs the hooks of t; errors are logged and returned.
func (e *Engine) callback(ctx context.Context, t CallbackType, cc *CallbackContext) error {
	err := e.opts.Callbacks.ExecuteCallbacks(ctx, t, cc)
	if err != nil {
		e.opts.Logger.Warn("callback failed", "callback", t, "execution_id", cc.ExecutionID, "step_id", cc.StepID, "error", err)
	}

	return err
}
