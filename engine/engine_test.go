package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/internal/testutil"
	"github.com/jeffreydebolt/Flowcoach2-sub000/registry"
	"github.com/jeffreydebolt/Flowcoach2-sub000/session"
	"github.com/jeffreydebolt/Flowcoach2-sub000/workflow"
)

var epoch = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type harness struct {
	reg   *registry.Registry
	store *session.Store
	eng   *Engine
	clk   *testutil.Clock
}

func newHarness(t *testing.T, optFns ...func(o *Options)) *harness {
	t.Helper()

	clk := testutil.NewClock(epoch)
	reg := registry.New()
	store := session.NewStore(func(o *session.Options) { o.Now = clk.Now })

	fns := append([]func(o *Options){func(o *Options) { o.Now = clk.Now }}, optFns...)

	return &harness{reg: reg, store: store, eng: New(reg, store, fns...), clk: clk}
}

func (h *harness) workflow(t *testing.T, doc workflow.Document) {
	t.Helper()

	def, err := workflow.New(doc)
	require.NoError(t, err)
	require.NoError(t, h.eng.RegisterWorkflow(def))
}

// recorder answers every capability with a message and remembers the call order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) capability(name string, update map[string]any) (string, func(context.Context, core.Context) (core.Response, error)) {
	return name, func(context.Context, core.Context) (core.Response, error) {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.mu.Unlock()

		return core.Response{Message: name + " done", ContextUpdate: update}, nil
	}
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

func stepDoc(id, action string, next ...string) workflow.StepDocument {
	return workflow.StepDocument{ID: id, Agent: "worker", Action: action, Next: next}
}

func TestEngine_LinearCompletion(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Capability(rec.capability("first", map[string]any{"a": 1})).
		Capability(rec.capability("second", map[string]any{"b": 2})).
		Build())

	h.workflow(t, workflow.Document{ID: "linear", Steps: []workflow.StepDocument{
		stepDoc("one", "first", "two"),
		stepDoc("two", "second"),
	}})

	st, err := h.eng.StartWorkflow(context.Background(), "linear", "u1", map[string]any{"seed": true})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, []string{"one", "two"}, st.CompletedSteps)
	assert.Empty(t, st.FailedSteps)
	assert.Equal(t, []string{"first", "second"}, rec.order())
	assert.Equal(t, 1, st.Context["a"])
	assert.Equal(t, 2, st.Context["b"])
	assert.Equal(t, true, st.Context["seed"])
	assert.Equal(t, "linear", st.Context["workflow_id"])
	assert.Equal(t, "u1", st.Context["user_id"])
	assert.Equal(t, st.ID, st.Context["execution_id"])
	assert.Equal(t, 2, st.StepsExecuted)
	assert.InDelta(t, 1.0, st.Progress(), 0.001)
	assert.Equal(t, "second done", st.LastResponse.Message)
	assert.Contains(t, st.ID, "linear_")

	wf, ok := h.store.WorkflowContext("u1", st.ID)
	require.True(t, ok)
	assert.Equal(t, "completed", wf["status"])
	assert.Equal(t, []string{"one", "two"}, wf["result"].(map[string]any)["completed_steps"])
}

func TestEngine_UnknownWorkflow(t *testing.T) {
	h := newHarness(t)

	_, err := h.eng.StartWorkflow(context.Background(), "ghost", "u1", nil)
	assert.ErrorIs(t, err, core.ErrWorkflowNotFound)

	_, err = h.eng.Status("ghost_123")
	assert.ErrorIs(t, err, core.ErrExecutionNotFound)
}

func TestEngine_DepthFirstFanOut(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}

	b := testutil.NewAgentBuilder("worker")
	for _, name := range []string{"a", "b", "c", "d"} {
		b.Capability(rec.capability(name, nil))
	}

	h.reg.MustRegister(b.Build())
	h.workflow(t, workflow.Document{ID: "fan", Steps: []workflow.StepDocument{
		stepDoc("a", "a", "b", "c"),
		stepDoc("b", "b", "d"),
		stepDoc("c", "c"),
		stepDoc("d", "d"),
	}})

	st, err := h.eng.StartWorkflow(context.Background(), "fan", "u1", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, []string{"a", "b", "d", "c"}, rec.order())
}

func TestEngine_FalseConditionSkipsAndContinues(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Capability(rec.capability("gated", nil)).
		Capability(rec.capability("after", nil)).
		Build())

	gate := stepDoc("gate", "gated", "after")
	gate.Condition = "is_complex == true"

	h.workflow(t, workflow.Document{ID: "skip", Steps: []workflow.StepDocument{gate, stepDoc("after", "after")}})

	st, err := h.eng.StartWorkflow(context.Background(), "skip", "u1", map[string]any{"is_complex": false})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, []string{"gate", "after"}, st.CompletedSteps)
	assert.Equal(t, []string{"gate"}, st.SkippedSteps)
	assert.Equal(t, []string{"after"}, rec.order())
}

func TestEngine_ConditionErrorRunsStep(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").Capability(rec.capability("gated", nil)).Build())

	gate := stepDoc("gate", "gated")
	gate.Condition = "count > 'many'"

	h.workflow(t, workflow.Document{ID: "cond", Steps: []workflow.StepDocument{gate}})

	st, err := h.eng.StartWorkflow(context.Background(), "cond", "u1", map[string]any{"count": 3})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Empty(t, st.SkippedSteps)
	assert.Equal(t, []string{"gated"}, rec.order())
}

func TestEngine_RetriesThenSucceeds(t *testing.T) {
	h := newHarness(t)

	calls := 0
	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Capability("flaky", func(context.Context, core.Context) (core.Response, error) {
			calls++
			if calls < 3 {
				return core.Response{}, errors.New("temporary outage")
			}

			return core.Response{Message: "finally"}, nil
		}).
		Build())

	step := stepDoc("flaky", "flaky")
	step.Retries = 2

	h.workflow(t, workflow.Document{ID: "retry", Steps: []workflow.StepDocument{step}})

	var stepErrors int

	h.eng.Callbacks().RegisterCallback(NewFunctionCallback(CallbackOnStepError, func(_ context.Context, cc *CallbackContext) error {
		stepErrors++
		assert.Equal(t, stepErrors, cc.Attempt)

		return nil
	}))

	st, err := h.eng.StartWorkflow(context.Background(), "retry", "u1", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, stepErrors)
}

func TestEngine_FailureWithoutFailureStep(t *testing.T) {
	h := newHarness(t)

	calls := 0
	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Capability("broken", func(context.Context, core.Context) (core.Response, error) {
			calls++
			return core.Response{}, errors.New("boom")
		}).
		Build())

	step := stepDoc("broken", "broken")
	step.Retries = 1

	h.workflow(t, workflow.Document{ID: "fail", Steps: []workflow.StepDocument{step}})

	var failures int

	h.eng.Callbacks().RegisterCallback(NewFunctionCallback(CallbackOnFailure, func(context.Context, *CallbackContext) error {
		failures++
		return nil
	}))

	st, err := h.eng.StartWorkflow(context.Background(), "fail", "u1", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, []string{"broken"}, st.FailedSteps)
	assert.Empty(t, st.CompletedSteps)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, failures)
	assert.False(t, st.EndedAt.IsZero())

	var stepErr *StepError
	require.ErrorAs(t, st.Err, &stepErr)
	assert.Equal(t, "broken", stepErr.StepID)
	assert.Equal(t, 2, stepErr.Attempts)

	var agentErr *core.AgentExecutionError
	assert.ErrorAs(t, st.Err, &agentErr)

	wf, _ := h.store.WorkflowContext("u1", st.ID)
	assert.Equal(t, "failed", wf["status"])
	assert.Contains(t, wf["error"], "boom")
}

func TestEngine_FailureStepRunsInsteadOfNext(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Capability("broken", func(context.Context, core.Context) (core.Response, error) {
			return core.Response{}, errors.New("boom")
		}).
		Capability(rec.capability("next", nil)).
		Capability(rec.capability("fallback", nil)).
		Build())

	broken := stepDoc("broken", "broken", "next")
	broken.OnFailure = "fallback"

	h.workflow(t, workflow.Document{ID: "fallback", Steps: []workflow.StepDocument{
		broken,
		stepDoc("next", "next"),
		stepDoc("fallback", "fallback"),
	}})

	st, err := h.eng.StartWorkflow(context.Background(), "fallback", "u1", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, []string{"fallback"}, rec.order())
	assert.Equal(t, []string{"broken"}, st.FailedSteps)
	assert.Equal(t, []string{"fallback"}, st.CompletedSteps)
	assert.Equal(t, "broken", st.Context[KeyFailedStep])
	assert.Contains(t, st.Context[KeyLastError], "boom")
}

func TestEngine_MissingAgentFailsWithoutRetry(t *testing.T) {
	h := newHarness(t)

	step := workflow.StepDocument{ID: "lost", Agent: "nobody", Action: "anything", Retries: 3}
	h.workflow(t, workflow.Document{ID: "lost", Steps: []workflow.StepDocument{step}})

	st, err := h.eng.StartWorkflow(context.Background(), "lost", "u1", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, st.Status)
	assert.ErrorIs(t, st.Err, core.ErrAgentNotFound)

	var stepErr *StepError
	require.ErrorAs(t, st.Err, &stepErr)
	assert.Equal(t, 0, stepErr.Attempts)
}

func TestEngine_StepTimeout(t *testing.T) {
	h := newHarness(t)

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Capability("stuck", func(context.Context, core.Context) (core.Response, error) {
			time.Sleep(200 * time.Millisecond)
			return core.Response{Message: "too late"}, nil
		}).
		Build())

	step := stepDoc("stuck", "stuck")
	step.Timeout = workflow.Duration(20 * time.Millisecond)

	h.workflow(t, workflow.Document{ID: "slow", Steps: []workflow.StepDocument{step}})

	st, err := h.eng.StartWorkflow(context.Background(), "slow", "u1", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, st.Status)
	assert.ErrorIs(t, st.Err, core.ErrStepTimeout)
}

func TestEngine_GlobalTimeout(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Capability("slow", func(context.Context, core.Context) (core.Response, error) {
			h.clk.Advance(2 * time.Minute)
			return core.Response{Message: "done"}, nil
		}).
		Capability(rec.capability("never", nil)).
		Build())

	h.workflow(t, workflow.Document{
		ID:      "deadline",
		Timeout: workflow.Duration(time.Minute),
		Steps:   []workflow.StepDocument{stepDoc("slow", "slow", "never"), stepDoc("never", "never")},
	})

	st, err := h.eng.StartWorkflow(context.Background(), "deadline", "u1", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, st.Status)
	assert.ErrorIs(t, st.Err, core.ErrWorkflowTimeout)
	assert.Empty(t, rec.order())
}

func TestEngine_StepBudgetStopsCycles(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.MaxStepExecutions = 5 })
	rec := &recorder{}

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Capability(rec.capability("ping", nil)).
		Capability(rec.capability("pong", nil)).
		Build())

	h.workflow(t, workflow.Document{ID: "cycle", Steps: []workflow.StepDocument{
		stepDoc("ping", "ping", "pong"),
		stepDoc("pong", "pong", "ping"),
	}})

	st, err := h.eng.StartWorkflow(context.Background(), "cycle", "u1", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, st.Status)
	assert.ErrorIs(t, st.Err, core.ErrStepBudgetExceeded)
	assert.Len(t, rec.order(), 5)
	assert.Equal(t, 5, st.StepsExecuted)
}

func TestEngine_WorkflowCompleteDropsPendingSteps(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Answers("finish", core.Response{
			Type:      core.ResponseWorkflowComplete,
			Message:   "simple request",
			HandoffTo: "task",
			Data:      map[string]any{"route": "direct"},
		}).
		Capability(rec.capability("later", nil)).
		Build())

	h.workflow(t, workflow.Document{ID: "short", Steps: []workflow.StepDocument{
		stepDoc("finish", "finish", "later"),
		stepDoc("later", "later"),
	}})

	st, err := h.eng.StartWorkflow(context.Background(), "short", "u1", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Empty(t, rec.order())
	assert.Equal(t, "direct", st.Result["route"])
	assert.Equal(t, "simple request", st.Result["message"])

	c := h.store.Get("u1")
	assert.Equal(t, "task", c.CurrentAgent())
	assert.Equal(t, []string{"worker"}, c.AgentHistory())
}

func TestEngine_HandoffMergesPayload(t *testing.T) {
	h := newHarness(t)

	var seen core.Context

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Answers("delegate", core.Response{
			Type:           core.ResponseHandoff,
			HandoffTo:      "planning",
			HandoffPayload: map[string]any{"project": "website"},
			ContextUpdate:  map[string]any{"is_complex": true},
		}).
		Build())

	h.reg.MustRegister(testutil.NewAgentBuilder("planning").
		Capability("plan", func(_ context.Context, c core.Context) (core.Response, error) {
			seen = c
			return core.Response{Message: "planned"}, nil
		}).
		Build())

	var handoffs int

	h.eng.Callbacks().RegisterCallback(NewFunctionCallback(CallbackOnHandoff, func(_ context.Context, cc *CallbackContext) error {
		handoffs++
		assert.Equal(t, "planning", cc.Response.HandoffTo)

		return nil
	}))

	h.workflow(t, workflow.Document{ID: "handoff", Steps: []workflow.StepDocument{
		stepDoc("delegate", "delegate", "plan"),
		{ID: "plan", Agent: "planning", Action: "plan"},
	}})

	st, err := h.eng.StartWorkflow(context.Background(), "handoff", "u1", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, "website", seen["project"])
	assert.Equal(t, true, seen["is_complex"])
	assert.Equal(t, 1, handoffs)

	last, ok := h.store.Get("u1").LastHandoff()
	require.True(t, ok)
	assert.Equal(t, "worker", last.SourceAgent)
	assert.Equal(t, "planning", last.TargetAgent)
}

func TestEngine_AwaitingInputAndContinue(t *testing.T) {
	h := newHarness(t)

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Command("ask", func(_ context.Context, args string, _ core.Message, c core.Context) (core.Response, error) {
			reply := c.String(core.KeyUserInput)
			if reply == "" {
				return core.Response{Type: core.ResponseAwaitingInput, Message: "What is the outcome for " + args + "?"}, nil
			}

			return core.Response{Message: "noted", ContextUpdate: map[string]any{"outcome": reply}}, nil
		}).
		Build())

	h.workflow(t, workflow.Document{ID: "talk", Steps: []workflow.StepDocument{stepDoc("ask", "*ask {{.project}}")}})

	st, err := h.eng.StartWorkflow(context.Background(), "talk", "u1", map[string]any{"project": "website"})
	require.NoError(t, err)

	assert.Equal(t, StatusPaused, st.Status)
	assert.Equal(t, "ask", st.CurrentStep)
	assert.Equal(t, []string{"ask"}, st.PendingSteps)
	assert.Equal(t, "What is the outcome for website?", st.LastResponse.Message)

	wf, _ := h.store.WorkflowContext("u1", st.ID)
	assert.Equal(t, "waiting", wf["status"])

	active, ok := h.eng.ActiveExecution("u1")
	require.True(t, ok)
	assert.Equal(t, st.ID, active.ID)

	_, err = h.eng.ResumeWorkflow(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrExecutionNotFound)

	st, err = h.eng.Continue(context.Background(), st.ID, core.Message{Text: "a live site", UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, "a live site", st.Context["outcome"])
	assert.NotContains(t, st.Context, core.KeyUserInput)

	_, err = h.eng.Continue(context.Background(), st.ID, core.Message{Text: "again"})
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	_, ok = h.eng.ActiveExecution("u1")
	assert.False(t, ok)
}

func TestEngine_PauseAndResume(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Capability(rec.capability("one", nil)).
		Capability(rec.capability("two", nil)).
		Build())

	h.workflow(t, workflow.Document{ID: "pausable", Steps: []workflow.StepDocument{
		stepDoc("one", "one", "two"),
		stepDoc("two", "two"),
	}})

	h.eng.Callbacks().RegisterCallback(NewFunctionCallback(CallbackBeforeStep, func(_ context.Context, cc *CallbackContext) error {
		if cc.StepID == "one" {
			return h.eng.PauseWorkflow(cc.ExecutionID)
		}

		return nil
	}))

	st, err := h.eng.StartWorkflow(context.Background(), "pausable", "u1", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusPaused, st.Status)
	assert.Equal(t, "one", st.CurrentStep)
	assert.Equal(t, []string{"one"}, rec.order())

	assert.ErrorIs(t, h.eng.PauseWorkflow(st.ID), core.ErrInvalidTransition)

	st, err = h.eng.ResumeWorkflow(context.Background(), st.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, []string{"one", "two"}, rec.order())

	_, err = h.eng.ResumeWorkflow(context.Background(), st.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestEngine_Cancel(t *testing.T) {
	h := newHarness(t)

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Answers("wait", core.Response{Type: core.ResponseAwaitingInput, Message: "?"}).
		Build())

	h.workflow(t, workflow.Document{ID: "wait", Steps: []workflow.StepDocument{stepDoc("wait", "wait")}})

	st, err := h.eng.StartWorkflow(context.Background(), "wait", "u1", nil)
	require.NoError(t, err)
	require.Equal(t, StatusPaused, st.Status)

	require.NoError(t, h.eng.CancelWorkflow(context.Background(), st.ID, ""))

	st, err = h.eng.Status(st.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	assert.ErrorIs(t, st.Err, core.ErrWorkflowCancelled)

	assert.ErrorIs(t, h.eng.CancelWorkflow(context.Background(), st.ID, ""), core.ErrInvalidTransition)
}

func TestEngine_BeforeStepErrorFailsAttempt(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").Capability(rec.capability("guarded", nil)).Build())
	h.workflow(t, workflow.Document{ID: "guard", Steps: []workflow.StepDocument{stepDoc("guarded", "guarded")}})

	h.eng.Callbacks().RegisterCallback(NewFunctionCallback(CallbackBeforeStep, func(context.Context, *CallbackContext) error {
		return errors.New("not allowed")
	}))

	st, err := h.eng.StartWorkflow(context.Background(), "guard", "u1", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, st.Status)
	assert.Contains(t, st.Error, "before_step callback: not allowed")
	assert.Empty(t, rec.order())
}

func TestEngine_ContextValidationRejectsUpdate(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Capability(rec.capability("leaky", map[string]any{"api_key": "secret"})).
		Build())

	h.workflow(t, workflow.Document{ID: "validate", Steps: []workflow.StepDocument{stepDoc("leaky", "leaky")}})

	h.eng.Callbacks().RegisterCallback(NewContextValidationCallback(func(update map[string]any) error {
		if _, ok := update["api_key"]; ok {
			return errors.New("secrets are not allowed in context")
		}

		return nil
	}))

	st, err := h.eng.StartWorkflow(context.Background(), "validate", "u1", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, st.Status)
	assert.NotContains(t, st.Context, "api_key")
}

func TestEngine_ExecuteStepRequiresRunning(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").Capability(rec.capability("one", nil)).Build())
	h.workflow(t, workflow.Document{ID: "single", Steps: []workflow.StepDocument{stepDoc("one", "one")}})

	st, err := h.eng.StartWorkflow(context.Background(), "single", "u1", nil)
	require.NoError(t, err)

	_, err = h.eng.ExecuteStep(context.Background(), st.ID, "one")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	_, err = h.eng.ExecuteStep(context.Background(), st.ID, "ghost")
	assert.ErrorIs(t, err, core.ErrInvalidDefinition)
}

func TestEngine_ExecuteStepRefusesPaused(t *testing.T) {
	h := newHarness(t)

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Answers("wait", core.Response{Type: core.ResponseAwaitingInput, Message: "which one?"}).
		Build())
	h.workflow(t, workflow.Document{ID: "wait", Steps: []workflow.StepDocument{stepDoc("wait", "wait")}})

	st, err := h.eng.StartWorkflow(context.Background(), "wait", "u1", nil)
	require.NoError(t, err)
	require.Equal(t, StatusPaused, st.Status)

	_, err = h.eng.ExecuteStep(context.Background(), st.ID, "wait")
	require.ErrorIs(t, err, core.ErrInvalidTransition)

	after, err := h.eng.Status(st.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, after.Status)
	assert.Equal(t, 1, after.StepsExecuted)
}

func TestEngine_CleanupAndStatistics(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Capability(rec.capability("one", nil)).
		Answers("wait", core.Response{Type: core.ResponseAwaitingInput}).
		Build())

	h.workflow(t, workflow.Document{ID: "quick", Steps: []workflow.StepDocument{stepDoc("one", "one")}})
	h.workflow(t, workflow.Document{ID: "wait", Steps: []workflow.StepDocument{stepDoc("wait", "wait")}})

	_, err := h.eng.StartWorkflow(context.Background(), "quick", "u1", nil)
	require.NoError(t, err)
	_, err = h.eng.StartWorkflow(context.Background(), "wait", "u2", nil)
	require.NoError(t, err)

	stats := h.eng.Statistics()
	assert.Equal(t, 2, stats.RegisteredWorkflows)
	assert.Equal(t, 2, stats.TotalExecutions)
	assert.Equal(t, 1, stats.ByStatus[StatusCompleted])
	assert.Equal(t, 1, stats.ByStatus[StatusPaused])

	assert.Equal(t, 0, h.eng.CleanupCompletedWorkflows(time.Hour))

	h.clk.Advance(2 * time.Hour)
	assert.Equal(t, 1, h.eng.CleanupCompletedWorkflows(time.Hour))
	assert.Equal(t, 1, h.eng.Statistics().TotalExecutions)

	infos := h.eng.Workflows()
	require.Len(t, infos, 2)
	assert.Equal(t, "quick", infos[0].ID)
	assert.Equal(t, []string{"worker"}, infos[0].Agents)
}

type stateSink struct {
	mu     sync.Mutex
	states map[string]any
}

func (s *stateSink) SaveWorkflowState(_ context.Context, executionID, _ string, state any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[executionID] = state

	return nil
}

func TestEngine_RecordsStateAndSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	sink := &stateSink{states: map[string]any{}}

	h := newHarness(t, func(o *Options) {
		o.Tracer = tp.Tracer("engine-test")
		o.StateRecorder = sink
	})
	rec := &recorder{}

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Capability(rec.capability("one", nil)).
		Capability(rec.capability("two", nil)).
		Build())

	h.workflow(t, workflow.Document{ID: "traced", Steps: []workflow.StepDocument{
		stepDoc("one", "one", "two"),
		stepDoc("two", "two"),
	}})

	st, err := h.eng.StartWorkflow(context.Background(), "traced", "u1", nil)
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "workflow.step", spans[0].Name)

	saved, ok := sink.states[st.ID].(ExecutionStatus)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, saved.Status)
}

func TestEngine_TurnResponsesCollectFinishedSteps(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").
		Command("ask", func(_ context.Context, args string, _ core.Message, c core.Context) (core.Response, error) {
			if c.String(core.KeyUserInput) == "" {
				return core.Response{Type: core.ResponseAwaitingInput, Message: "Tell me about " + args}, nil
			}

			return core.Response{Message: args + " noted"}, nil
		}).
		Capability(rec.capability("assist", nil)).
		Capability("quiet", func(context.Context, core.Context) (core.Response, error) {
			return core.Response{}, nil
		}).
		Build())

	h.workflow(t, workflow.Document{ID: "turns", Steps: []workflow.StepDocument{
		stepDoc("first", "*ask goals", "help"),
		stepDoc("help", "assist", "silent"),
		stepDoc("silent", "quiet", "second"),
		stepDoc("second", "*ask risks"),
	}})

	st, err := h.eng.StartWorkflow(context.Background(), "turns", "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, st.TurnResponses)

	st, err = h.eng.Continue(context.Background(), st.ID, core.Message{Text: "ship it", UserID: "u1"})
	require.NoError(t, err)

	require.Equal(t, StatusPaused, st.Status)
	assert.Equal(t, "Tell me about risks", st.LastResponse.Message)

	require.Len(t, st.TurnResponses, 2)
	assert.Equal(t, "goals noted", st.TurnResponses[0].Message)
	assert.Equal(t, "assist done", st.TurnResponses[1].Message)

	st, err = h.eng.Continue(context.Background(), st.ID, core.Message{Text: "none", UserID: "u1"})
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, st.Status)
	require.Len(t, st.TurnResponses, 1)
	assert.Equal(t, "risks noted", st.TurnResponses[0].Message)
}

// jsonStateStore keeps snapshots the way a database would: encoded, with an
// expiry flag per execution.
type jsonStateStore struct {
	mu      sync.Mutex
	users   map[string]string
	states  map[string][]byte
	expired map[string]bool
}

func newJSONStateStore() *jsonStateStore {
	return &jsonStateStore{users: map[string]string{}, states: map[string][]byte{}, expired: map[string]bool{}}
}

func (s *jsonStateStore) SaveWorkflowState(_ context.Context, executionID, userID string, state any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[executionID] = userID
	s.states[executionID] = raw

	return nil
}

func (s *jsonStateStore) LoadWorkflowState(_ context.Context, executionID string, dst any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.states[executionID]
	if !ok || s.expired[executionID] {
		return false, nil
	}

	return true, json.Unmarshal(raw, dst)
}

func (s *jsonStateStore) UserWorkflowStates(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string

	for id, u := range s.users {
		if u == userID && !s.expired[id] {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

func (s *jsonStateStore) DeleteExpiredStates(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64

	for id := range s.expired {
		delete(s.states, id)
		delete(s.users, id)
		delete(s.expired, id)
		n++
	}

	return n, nil
}

func (s *jsonStateStore) expire(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expired[executionID] = true
}

func TestEngine_HistoryReadsStateStore(t *testing.T) {
	store := newJSONStateStore()
	h := newHarness(t, func(o *Options) { o.StateRecorder = store })
	rec := &recorder{}

	h.reg.MustRegister(testutil.NewAgentBuilder("worker").Capability(rec.capability("one", nil)).Build())
	h.workflow(t, workflow.Document{ID: "short", Name: "Short", Steps: []workflow.StepDocument{stepDoc("one", "one")}})

	first, err := h.eng.StartWorkflow(context.Background(), "short", "u1", nil)
	require.NoError(t, err)

	h.clk.Advance(time.Hour)
	assert.Equal(t, 1, h.eng.CleanupCompletedWorkflows(time.Minute))

	second, err := h.eng.StartWorkflow(context.Background(), "short", "u1", nil)
	require.NoError(t, err)

	_, err = h.eng.StartWorkflow(context.Background(), "short", "u2", nil)
	require.NoError(t, err)

	history, err := h.eng.History(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, StatusCompleted, history[0].Status)
	assert.Equal(t, "Short", history[0].WorkflowName)
	assert.Equal(t, []string{"one"}, history[0].CompletedSteps)
	assert.Equal(t, second.ID, history[1].ID)

	store.expire(first.ID)

	n, err := h.eng.PurgeExpiredStates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	history, err = h.eng.History(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, second.ID, history[0].ID)
}

func TestEngine_PurgeWithoutStateStore(t *testing.T) {
	h := newHarness(t)

	n, err := h.eng.PurgeExpiredStates(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
