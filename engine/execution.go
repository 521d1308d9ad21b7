package engine

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/workflow"
)

// Status is the lifecycle state of a workflow execution.
//
//	pending -> running -> completed
//	                   -> failed
//	                   -> paused -> running
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepError reports a step that failed all of its attempts.
type StepError struct {
	ExecutionID string
	StepID      string
	AgentID     string
	Attempts    int
	Err         error
}

// Error implements error.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s of execution %s failed after %d attempt(s): %v", e.StepID, e.ExecutionID, e.Attempts, e.Err)
}

// Unwrap returns the last attempt error.
func (e *StepError) Unwrap() error { return e.Err }

// ExecutionStatus is a point in time copy of an execution. It is safe to
// keep and mutate.
type ExecutionStatus struct {
	ID           string `json:"execution_id"`
	WorkflowID   string `json:"workflow_id"`
	WorkflowName string `json:"workflow_name"`
	UserID       string `json:"user_id"`
	Status       Status `json:"status"`
	CurrentStep  string `json:"current_step,omitempty"`

	CompletedSteps []string `json:"completed_steps"`
	SkippedSteps   []string `json:"skipped_steps"`
	FailedSteps    []string `json:"failed_steps"`
	// PendingSteps lists the steps still to run, next one first.
	PendingSteps []string `json:"pending_steps,omitempty"`

	StepsExecuted int `json:"steps_executed"`
	TotalSteps    int `json:"total_steps"`

	Context      core.Context             `json:"context"`
	Results      map[string]core.Response `json:"results,omitempty"`
	LastResponse *core.Response           `json:"last_response,omitempty"`
	// TurnResponses holds the responses of steps that finished without
	// waiting for input since the execution last started or resumed, in
	// order.
	TurnResponses []core.Response `json:"turn_responses,omitempty"`
	Result       map[string]any           `json:"result,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`

	Error string `json:"error,omitempty"`
	// Err is the failure cause; a *StepError when a step exhausted its attempts.
	Err error `json:"-"`
}

// IsTerminal reports whether the execution has completed or failed.
func (s ExecutionStatus) IsTerminal() bool { return s.Status.IsTerminal() }

// Progress returns the share of declared steps that completed, in [0, 1].
func (s ExecutionStatus) Progress() float64 {
	if s.TotalSteps == 0 {
		return 0
	}

	p := float64(len(s.CompletedSteps)) / float64(s.TotalSteps)
	if p > 1 {
		return 1
	}

	return p
}

// execution is the mutable run state of one workflow instance.
//
// runMu serializes drains of the pending stack so only one goroutine drives
// an execution at a time. mu guards the fields and is never held across
// agent, store or callback calls.
type execution struct {
	runMu sync.Mutex
	mu    sync.Mutex

	id     string
	userID string
	def    *workflow.Definition

	status      Status
	currentStep string
	completed   []string
	skipped     []string
	failed      []string
	pending     []string
	results     map[string]core.Response
	vars        core.Context
	last        *core.Response
	turn        []core.Response
	result      map[string]any

	startedAt time.Time
	endedAt   time.Time
	err       error

	steps    int
	maxSteps int
}

// pushNext schedules next so that the first declared step runs first.
func (ex *execution) pushNext(next []string) {
	for i := len(next) - 1; i >= 0; i-- {
		ex.pending = append(ex.pending, next[i])
	}
}

// countStep records one step execution, refusing it once maxSteps have
// run. Zero maxSteps means unlimited. Callers hold ex.mu.
func (ex *execution) countStep() error {
	if ex.maxSteps > 0 && ex.steps >= ex.maxSteps {
		return fmt.Errorf("%w: %d", core.ErrStepBudgetExceeded, ex.maxSteps)
	}

	ex.steps++

	return nil
}

// beginTurn forgets the responses of the previous drain. Callers hold ex.mu.
func (ex *execution) beginTurn() {
	ex.turn = nil
}

// pop removes the next step from the pending stack.
func (ex *execution) pop() (string, bool) {
	if len(ex.pending) == 0 {
		return "", false
	}

	id := ex.pending[len(ex.pending)-1]
	ex.pending = ex.pending[:len(ex.pending)-1]

	return id, true
}

func (ex *execution) markCompleted(stepID string, skipped bool) {
	ex.failed = without(ex.failed, stepID)
	ex.completed = withUnique(ex.completed, stepID)

	if skipped {
		ex.skipped = withUnique(ex.skipped, stepID)
	} else {
		ex.skipped = without(ex.skipped, stepID)
	}
}

func (ex *execution) markFailed(stepID string) {
	ex.completed = without(ex.completed, stepID)
	ex.skipped = without(ex.skipped, stepID)
	ex.failed = withUnique(ex.failed, stepID)
}

// snapshot copies the execution. Callers must not hold ex.mu.
func (ex *execution) snapshot(now time.Time) ExecutionStatus {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	s := ExecutionStatus{
		ID:             ex.id,
		WorkflowID:     ex.def.ID(),
		WorkflowName:   ex.def.Name(),
		UserID:         ex.userID,
		Status:         ex.status,
		CurrentStep:    ex.currentStep,
		CompletedSteps: slices.Clone(ex.completed),
		SkippedSteps:   slices.Clone(ex.skipped),
		FailedSteps:    slices.Clone(ex.failed),
		StepsExecuted:  ex.steps,
		TotalSteps:     ex.def.Len(),
		Context:        ex.vars.Clone(),
		Results:        make(map[string]core.Response, len(ex.results)),
		Result:         core.CloneMap(ex.result),
		TurnResponses:  slices.Clone(ex.turn),
		StartedAt:      ex.startedAt,
		EndedAt:        ex.endedAt,
		Err:            ex.err,
	}

	for i := len(ex.pending) - 1; i >= 0; i-- {
		s.PendingSteps = append(s.PendingSteps, ex.pending[i])
	}

	for k, v := range ex.results {
		s.Results[k] = v
	}

	if ex.last != nil {
		last := *ex.last
		s.LastResponse = &last
	}

	if ex.err != nil {
		s.Error = ex.err.Error()
	}

	if ex.endedAt.IsZero() {
		s.Duration = now.Sub(ex.startedAt)
	} else {
		s.Duration = ex.endedAt.Sub(ex.startedAt)
	}

	return s
}

func withUnique(list []string, id string) []string {
	if slices.Contains(list, id) {
		return list
	}

	return append(list, id)
}

func without(list []string, id string) []string {
	return slices.DeleteFunc(list, func(s string) bool { return s == id })
}
