package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/internal/util"
	"github.com/jeffreydebolt/Flowcoach2-sub000/logging"
	"github.com/jeffreydebolt/Flowcoach2-sub000/workflow"
)

// Config defines tuning parameters for workflow executions.
//
// Timeouts are not configured here: every workflow definition carries its
// own global timeout and every step its own step timeout.
//
// Example:
//
//	cfg := Config{
//	    MaxStepExecutions: 50,
//	    StateSaveTimeout:  2 * time.Second,
//	}
type Config struct {
	// MaxStepExecutions bounds the number of step executions of a single
	// run, including re-runs of a waiting step and steps reached through
	// cycles. Zero means unlimited.
	MaxStepExecutions int

	// StateSaveTimeout bounds each StateRecorder write.
	StateSaveTimeout time.Duration
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		MaxStepExecutions: 100,
		StateSaveTimeout:  5 * time.Second,
	}
}

// StateRecorder persists execution snapshots. session/sqlite.Backend
// implements it. Failures are logged and never interrupt an execution.
type StateRecorder interface {
	SaveWorkflowState(ctx context.Context, executionID, userID string, state any) error
}

// StateStore is a StateRecorder that can also read snapshots back and
// expire them. When the configured recorder implements it, History reaches
// executions the engine no longer holds in memory and PurgeExpiredStates
// trims the store.
type StateStore interface {
	StateRecorder
	LoadWorkflowState(ctx context.Context, executionID string, dst any) (bool, error)
	UserWorkflowStates(ctx context.Context, userID string) ([]string, error)
	DeleteExpiredStates(ctx context.Context) (int64, error)
}

// Options configures an Engine.
type Options struct {
	Config Config

	// Logger receives engine diagnostics. A *logging.FlowLogger additionally
	// gets per-step and per-execution metrics records.
	Logger logging.Logger

	// Tracer starts one span per step attempt. Defaults to a noop tracer.
	Tracer trace.Tracer

	// Callbacks holds the lifecycle hooks.
	Callbacks *CallbackManager

	// StateRecorder, when set, receives a snapshot whenever an execution
	// pauses, completes or fails.
	StateRecorder StateRecorder

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// Engine runs workflow definitions against the agents reachable through a
// core.Dispatcher and records their progress in a core.ContextStore.
//
// Execution model:
//
// Every public operation drives the execution synchronously on the caller's
// goroutine until the execution completes, fails or pauses. Steps are kept
// on a pending stack: the entry step is pushed first, and after each step
// its declared next steps are pushed so that the first declared one runs
// next (depth first). The execution completes when the stack drains.
//
// A step whose condition evaluates false is recorded as completed and
// skipped, and its next steps still run. A step whose condition cannot be
// evaluated runs. A step is dispatched up to retries+1 times, each attempt
// bounded by the step timeout. When the last attempt fails the declared
// failure step runs instead of the next steps; without one the execution
// fails with a *StepError.
//
// Agent responses steer the execution: workflow_complete ends it at once,
// awaiting_input pauses it on the current step until Continue supplies the
// user's reply, and a handoff is recorded through the context store before
// the next steps run.
//
// Thread Safety:
//
// The engine is safe for concurrent use. Operations on the same execution
// are serialized; distinct executions run independently.
//
// Example:
//
//	eng := engine.New(registry, store, func(o *engine.Options) {
//	    o.Logger = logger
//	})
//	if err := eng.RegisterWorkflow(def); err != nil {
//	    return err
//	}
//	st, err := eng.StartWorkflow(ctx, "project_breakdown", "u1", map[string]any{
//	    "initial_request": "launch the new website",
//	})
type Engine struct {
	dispatcher core.Dispatcher
	store      core.ContextStore
	opts       Options

	mu          sync.RWMutex
	definitions map[string]*workflow.Definition
	executions  map[string]*execution
}

// New creates an engine dispatching through dispatcher and recording
// execution progress in store.
func New(dispatcher core.Dispatcher, store core.ContextStore, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:    DefaultConfig(),
		Logger:    logging.NoOpLogger{},
		Tracer:    noop.NewTracerProvider().Tracer("flowcoach/engine"),
		Callbacks: NewCallbackManager(),
		Now:       time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("flowcoach/engine")
	}

	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		dispatcher:  dispatcher,
		store:       store,
		opts:        opts,
		definitions: make(map[string]*workflow.Definition),
		executions:  make(map[string]*execution),
	}
}

// Callbacks returns the lifecycle hook manager.
func (e *Engine) Callbacks() *CallbackManager { return e.opts.Callbacks }

// RegisterWorkflow makes def startable. Registering an id again replaces the
// definition for new executions; running executions keep theirs.
func (e *Engine) RegisterWorkflow(def *workflow.Definition) error {
	if def == nil {
		return fmt.Errorf("%w: nil workflow", core.ErrInvalidDefinition)
	}

	e.mu.Lock()
	_, replaced := e.definitions[def.ID()]
	e.definitions[def.ID()] = def
	e.mu.Unlock()

	e.opts.Logger.Info("workflow registered", "workflow_id", def.ID(), "steps", def.Len(), "replaced", replaced)

	return nil
}

// Workflow returns a registered definition.
func (e *Engine) Workflow(id string) (*workflow.Definition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	def, ok := e.definitions[id]

	return def, ok
}

// WorkflowInfo summarizes a registered definition.
type WorkflowInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Version     string   `json:"version"`
	Steps       int      `json:"steps"`
	Agents      []string `json:"agents"`
}

// Workflows lists the registered definitions sorted by id.
func (e *Engine) Workflows() []WorkflowInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]WorkflowInfo, 0, len(e.definitions))
	for _, def := range e.definitions {
		out = append(out, WorkflowInfo{
			ID:          def.ID(),
			Name:        def.Name(),
			Description: def.Description(),
			Version:     def.Version(),
			Steps:       def.Len(),
			Agents:      def.Agents(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// StartWorkflow creates an execution of workflowID for userID and runs it
// until it completes, fails or waits for input.
//
// initial seeds the execution context; workflow_id, user_id, execution_id
// and started_at are always set by the engine. A failed execution is not an
// error: inspect the returned status. Errors are reserved for requests that
// could not start an execution at all.
func (e *Engine) StartWorkflow(ctx context.Context, workflowID, userID string, initial map[string]any) (ExecutionStatus, error) {
	def, ok := e.Workflow(workflowID)
	if !ok {
		return ExecutionStatus{}, fmt.Errorf("%w: %s", core.ErrWorkflowNotFound, workflowID)
	}

	now := e.opts.Now()

	vars := core.Context(core.CloneMap(initial))
	if vars == nil {
		vars = core.Context{}
	}

	ex := &execution{
		id:        util.NewExecutionID(workflowID),
		userID:    userID,
		def:       def,
		status:    StatusPending,
		vars:      vars,
		results:   make(map[string]core.Response),
		pending:   []string{def.EntryPoint()},
		startedAt: now,
		maxSteps:  e.opts.Config.MaxStepExecutions,
	}

	ex.vars["workflow_id"] = workflowID
	ex.vars["user_id"] = userID
	ex.vars["execution_id"] = ex.id
	ex.vars["started_at"] = now

	e.mu.Lock()
	e.executions[ex.id] = ex
	e.mu.Unlock()

	e.store.UpdateWorkflowContext(userID, ex.id, map[string]any{
		"workflow_id":  workflowID,
		"status":       "started",
		"current_step": def.EntryPoint(),
		"started_at":   now,
	})

	e.opts.Logger.Info("workflow started",
		"workflow_id", workflowID,
		"execution_id", ex.id,
		"user_id", userID,
	)

	ex.runMu.Lock()
	defer ex.runMu.Unlock()

	ex.mu.Lock()
	ex.status = StatusRunning
	ex.mu.Unlock()

	e.run(ctx, ex)

	return ex.snapshot(e.opts.Now()), nil
}

// ExecuteStep runs stepID of a running execution and then keeps draining
// the pending steps. It lets callers jump to a step explicitly; normal
// progress needs no call to it.
func (e *Engine) ExecuteStep(ctx context.Context, executionID, stepID string) (ExecutionStatus, error) {
	ex, err := e.execution(executionID)
	if err != nil {
		return ExecutionStatus{}, err
	}

	if _, ok := ex.def.Step(stepID); !ok {
		return ExecutionStatus{}, fmt.Errorf("%w: workflow %s has no step %q", core.ErrInvalidDefinition, ex.def.ID(), stepID)
	}

	ex.runMu.Lock()
	defer ex.runMu.Unlock()

	ex.mu.Lock()
	status := ex.status
	ex.mu.Unlock()

	if status != StatusRunning {
		return ExecutionStatus{}, fmt.Errorf("%w: execution %s is %s", core.ErrInvalidTransition, executionID, status)
	}

	ex.mu.Lock()
	ex.beginTurn()
	ex.mu.Unlock()

	e.runStep(ctx, ex, stepID)
	e.run(ctx, ex)

	return ex.snapshot(e.opts.Now()), nil
}

// Continue resumes a paused execution with the user's reply. msg.Text is
// visible to the next dispatched step as context["user_input"].
func (e *Engine) Continue(ctx context.Context, executionID string, msg core.Message) (ExecutionStatus, error) {
	ex, err := e.execution(executionID)
	if err != nil {
		return ExecutionStatus{}, err
	}

	ex.runMu.Lock()
	defer ex.runMu.Unlock()

	ex.mu.Lock()
	if ex.status != StatusPaused {
		status := ex.status
		ex.mu.Unlock()

		return ExecutionStatus{}, fmt.Errorf("%w: cannot continue %s execution %s", core.ErrInvalidTransition, status, executionID)
	}

	ex.status = StatusRunning
	ex.vars[core.KeyUserInput] = msg.Text
	ex.beginTurn()
	ex.mu.Unlock()

	e.store.UpdateWorkflowContext(ex.userID, ex.id, map[string]any{"status": string(StatusRunning)})
	e.opts.Logger.Debug("workflow continued", "execution_id", ex.id, "user_id", ex.userID)

	e.run(ctx, ex)

	return ex.snapshot(e.opts.Now()), nil
}

// PauseWorkflow stops a running execution before its next step. The step in
// flight, if any, finishes normally.
func (e *Engine) PauseWorkflow(executionID string) error {
	ex, err := e.execution(executionID)
	if err != nil {
		return err
	}

	ex.mu.Lock()
	if ex.status != StatusRunning {
		status := ex.status
		ex.mu.Unlock()

		return fmt.Errorf("%w: cannot pause %s execution %s", core.ErrInvalidTransition, status, executionID)
	}

	ex.status = StatusPaused
	ex.mu.Unlock()

	e.store.UpdateWorkflowContext(ex.userID, ex.id, map[string]any{"status": string(StatusPaused)})
	e.opts.Logger.Info("workflow paused", "execution_id", ex.id)

	return nil
}

// ResumeWorkflow moves a paused execution back to running and drains its
// pending steps.
func (e *Engine) ResumeWorkflow(ctx context.Context, executionID string) (ExecutionStatus, error) {
	ex, err := e.execution(executionID)
	if err != nil {
		return ExecutionStatus{}, err
	}

	ex.runMu.Lock()
	defer ex.runMu.Unlock()

	ex.mu.Lock()
	if ex.status != StatusPaused {
		status := ex.status
		ex.mu.Unlock()

		return ExecutionStatus{}, fmt.Errorf("%w: cannot resume %s execution %s", core.ErrInvalidTransition, status, executionID)
	}

	ex.status = StatusRunning
	ex.beginTurn()
	ex.mu.Unlock()

	e.store.UpdateWorkflowContext(ex.userID, ex.id, map[string]any{"status": string(StatusRunning)})
	e.opts.Logger.Info("workflow resumed", "execution_id", ex.id)

	e.run(ctx, ex)

	return ex.snapshot(e.opts.Now()), nil
}

// CancelWorkflow fails a non terminal execution with core.ErrWorkflowCancelled.
func (e *Engine) CancelWorkflow(ctx context.Context, executionID, reason string) error {
	ex, err := e.execution(executionID)
	if err != nil {
		return err
	}

	ex.mu.Lock()
	status := ex.status
	ex.mu.Unlock()

	if status.IsTerminal() {
		return fmt.Errorf("%w: cannot cancel %s execution %s", core.ErrInvalidTransition, status, executionID)
	}

	if reason == "" {
		reason = "cancelled by user"
	}

	e.fail(ctx, ex, fmt.Errorf("%w: %s", core.ErrWorkflowCancelled, reason))

	return nil
}

// Status returns a snapshot of an execution.
func (e *Engine) Status(executionID string) (ExecutionStatus, error) {
	ex, err := e.execution(executionID)
	if err != nil {
		return ExecutionStatus{}, err
	}

	return ex.snapshot(e.opts.Now()), nil
}

// ActiveExecution returns the most recently started non terminal execution
// of userID.
func (e *Engine) ActiveExecution(userID string) (ExecutionStatus, bool) {
	e.mu.RLock()
	candidates := make([]*execution, 0, 1)
	for _, ex := range e.executions {
		if ex.userID == userID {
			candidates = append(candidates, ex)
		}
	}
	e.mu.RUnlock()

	var (
		best  ExecutionStatus
		found bool
	)

	for _, ex := range candidates {
		s := ex.snapshot(e.opts.Now())
		if s.IsTerminal() {
			continue
		}

		if !found || s.StartedAt.After(best.StartedAt) {
			best, found = s, true
		}
	}

	return best, found
}

// History returns the user's executions, oldest first. Executions held in
// memory are reported live; when the recorder is a StateStore, snapshots of
// executions that were already cleaned up or belong to an earlier process
// are added from it.
func (e *Engine) History(ctx context.Context, userID string) ([]ExecutionStatus, error) {
	e.mu.RLock()
	live := make([]*execution, 0)
	for _, ex := range e.executions {
		if ex.userID == userID {
			live = append(live, ex)
		}
	}
	e.mu.RUnlock()

	out := make([]ExecutionStatus, 0, len(live))
	seen := make(map[string]bool, len(live))

	for _, ex := range live {
		out = append(out, ex.snapshot(e.opts.Now()))
		seen[ex.id] = true
	}

	if store, ok := e.opts.StateRecorder.(StateStore); ok {
		ids, err := store.UserWorkflowStates(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list stored executions: %w", err)
		}

		for _, id := range ids {
			if seen[id] {
				continue
			}

			var st ExecutionStatus

			found, err := store.LoadWorkflowState(ctx, id, &st)
			if err != nil {
				e.opts.Logger.Warn("skipping unreadable workflow state", "execution_id", id, "error", err)
				continue
			}

			if found {
				out = append(out, st)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })

	return out, nil
}

// PurgeExpiredStates deletes expired snapshots when the recorder is a
// StateStore and returns how many were removed.
func (e *Engine) PurgeExpiredStates(ctx context.Context) (int, error) {
	store, ok := e.opts.StateRecorder.(StateStore)
	if !ok {
		return 0, nil
	}

	n, err := store.DeleteExpiredStates(ctx)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		e.opts.Logger.Info("purged expired workflow states", "count", n)
	}

	return int(n), nil
}

// CleanupCompletedWorkflows forgets terminal executions that ended more than
// maxAge ago and returns how many were removed.
func (e *Engine) CleanupCompletedWorkflows(maxAge time.Duration) int {
	cutoff := e.opts.Now().Add(-maxAge)

	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0

	for id, ex := range e.executions {
		ex.mu.Lock()
		stale := ex.status.IsTerminal() && ex.endedAt.Before(cutoff)
		ex.mu.Unlock()

		if stale {
			delete(e.executions, id)
			removed++
		}
	}

	if removed > 0 {
		e.opts.Logger.Info("cleaned up workflow executions", "removed", removed)
	}

	return removed
}

// Stats summarizes engine state.
type Stats struct {
	RegisteredWorkflows int            `json:"registered_workflows"`
	TotalExecutions     int            `json:"total_executions"`
	ByStatus            map[Status]int `json:"by_status"`
}

// Statistics returns engine counters.
func (e *Engine) Statistics() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Stats{
		RegisteredWorkflows: len(e.definitions),
		TotalExecutions:     len(e.executions),
		ByStatus:            make(map[Status]int),
	}

	for _, ex := range e.executions {
		ex.mu.Lock()
		st.ByStatus[ex.status]++
		ex.mu.Unlock()
	}

	return st
}

func (e *Engine) execution(id string) (*execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ex, ok := e.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrExecutionNotFound, id)
	}

	return ex, nil
}

// run drains the pending stack. Callers hold ex.runMu.
func (e *Engine) run(ctx context.Context, ex *execution) {
	for {
		ex.mu.Lock()
		if ex.status != StatusRunning {
			ex.mu.Unlock()
			return
		}

		if len(ex.pending) == 0 {
			ex.mu.Unlock()
			e.complete(ctx, ex, nil)

			return
		}

		if elapsed := e.opts.Now().Sub(ex.startedAt); elapsed > ex.def.Timeout() {
			ex.mu.Unlock()
			e.fail(ctx, ex, fmt.Errorf("%w: %s exceeded %s", core.ErrWorkflowTimeout, ex.def.ID(), ex.def.Timeout()))

			return
		}

		if err := ctx.Err(); err != nil {
			ex.mu.Unlock()
			e.fail(ctx, ex, fmt.Errorf("execution interrupted: %w", err))

			return
		}

		stepID, _ := ex.pop()
		ex.mu.Unlock()

		e.runStep(ctx, ex, stepID)
	}
}

// complete ends the execution successfully. resp is the response that
// asked for completion, nil when the pending stack drained.
func (e *Engine) complete(ctx context.Context, ex *execution, resp *core.Response) {
	ex.mu.Lock()
	if ex.status.IsTerminal() {
		ex.mu.Unlock()
		return
	}

	now := e.opts.Now()
	ex.status = StatusCompleted
	ex.endedAt = now
	ex.pending = nil

	result := map[string]any{
		"completed_steps": append([]string(nil), ex.completed...),
		"skipped_steps":   append([]string(nil), ex.skipped...),
	}

	if resp != nil {
		for k, v := range resp.Data {
			result[k] = core.CloneValue(v)
		}

		if resp.Message != "" {
			result["message"] = resp.Message
		}
	}

	ex.result = result
	duration := now.Sub(ex.startedAt)
	steps := ex.steps
	ex.mu.Unlock()

	e.store.CompleteWorkflow(ex.userID, ex.id, result)
	e.store.UpdateWorkflowContext(ex.userID, ex.id, map[string]any{"duration_seconds": duration.Seconds()})

	e.logExecution(ex, steps, duration, nil)
	e.callback(ctx, CallbackOnComplete, e.callbackContext(ex, workflow.Step{}, 0))
	e.recordState(ctx, ex)
}

// fail ends the execution with err unless it already ended.
func (e *Engine) fail(ctx context.Context, ex *execution, err error) {
	ex.mu.Lock()
	if ex.status.IsTerminal() {
		ex.mu.Unlock()
		return
	}

	now := e.opts.Now()
	ex.status = StatusFailed
	ex.endedAt = now
	ex.err = err
	ex.pending = nil
	duration := now.Sub(ex.startedAt)
	steps := ex.steps
	ex.mu.Unlock()

	e.store.UpdateWorkflowContext(ex.userID, ex.id, map[string]any{
		"status":           string(StatusFailed),
		"error":            err.Error(),
		"failed_at":        now,
		"duration_seconds": duration.Seconds(),
	})

	e.logExecution(ex, steps, duration, err)

	cc := e.callbackContext(ex, workflow.Step{}, 0)
	cc.Err = err
	e.callback(ctx, CallbackOnFailure, cc)
	e.recordState(ctx, ex)
}

func (e *Engine) recordState(ctx context.Context, ex *execution) {
	if e.opts.StateRecorder == nil {
		return
	}

	timeout := e.opts.Config.StateSaveTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().StateSaveTimeout
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := e.opts.StateRecorder.SaveWorkflowState(saveCtx, ex.id, ex.userID, ex.snapshot(e.opts.Now())); err != nil {
		e.opts.Logger.Warn("failed to save workflow state", "execution_id", ex.id, "error", err)
	}
}

type executionLogger interface {
	LogWorkflowExecution(workflowID string, steps int, dur time.Duration, success bool, err error)
}

type stepLogger interface {
	LogStepExecution(workflowID, stepID string, attempt int, dur time.Duration, success bool, err error)
}

func (e *Engine) logExecution(ex *execution, steps int, d time.Duration, err error) {
	if l, ok := e.opts.Logger.(executionLogger); ok {
		l.LogWorkflowExecution(ex.def.ID(), steps, d, err == nil, err)
		return
	}

	if err != nil {
		e.opts.Logger.Error("workflow failed", "workflow_id", ex.def.ID(), "execution_id", ex.id, "steps", steps, "duration", d, "error", err)
		return
	}

	e.opts.Logger.Info("workflow completed", "workflow_id", ex.def.ID(), "execution_id", ex.id, "steps", steps, "duration", d)
}

func (e *Engine) logStep(ex *execution, stepID string, attempt int, d time.Duration, err error) {
	if l, ok := e.opts.Logger.(stepLogger); ok {
		l.LogStepExecution(ex.def.ID(), stepID, attempt, d, err == nil, err)
		return
	}

	if err != nil {
		e.opts.Logger.Warn("step attempt failed", "execution_id", ex.id, "step_id", stepID, "attempt", attempt, "error", err)
		return
	}

	e.opts.Logger.Debug("step attempt succeeded", "execution_id", ex.id, "step_id", stepID, "attempt", attempt, "duration", d)
}
