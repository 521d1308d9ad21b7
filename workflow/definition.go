package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/expr"
)

const (
	// DefaultStepTimeout bounds a single step attempt.
	DefaultStepTimeout = 5 * time.Minute
	// DefaultWorkflowTimeout bounds a whole execution.
	DefaultWorkflowTimeout = time.Hour
)

// Step is one node of a workflow graph.
type Step struct {
	ID        string
	Name      string
	Agent     string
	Action    Action
	Condition *expr.Expression
	Next      []string
	OnFailure string
	Timeout   time.Duration
	Retries   int
}

// Attempts returns the number of dispatch attempts, retries plus one.
func (s Step) Attempts() int { return s.Retries + 1 }

// ShouldRun evaluates the step condition against vars. Steps without a
// condition always run.
func (s Step) ShouldRun(vars map[string]any) (bool, error) {
	if s.Condition == nil {
		return true, nil
	}

	return s.Condition.Eval(vars)
}

// Definition is an immutable, validated workflow graph. Accessors return
// copies.
type Definition struct {
	id          string
	name        string
	description string
	version     string
	entryPoint  string
	timeout     time.Duration
	steps       map[string]*Step
	order       []string
}

// New validates doc and builds a Definition. Missing timeouts get the
// package defaults and a missing entry point falls back to the first step.
func New(doc Document) (*Definition, error) {
	var errs []error

	if doc.ID == "" {
		errs = append(errs, errors.New("workflow id is required"))
	}

	if len(doc.Steps) == 0 {
		errs = append(errs, errors.New("workflow has no steps"))
	}

	d := &Definition{
		id:          doc.ID,
		name:        doc.Name,
		description: doc.Description,
		version:     doc.Version,
		entryPoint:  doc.EntryPoint,
		timeout:     time.Duration(doc.Timeout),
		steps:       make(map[string]*Step, len(doc.Steps)),
	}

	if d.name == "" {
		d.name = d.id
	}

	if d.version == "" {
		d.version = "1.0"
	}

	if d.timeout <= 0 {
		d.timeout = DefaultWorkflowTimeout
	}

	for i, sd := range doc.Steps {
		step, err := buildStep(sd)
		if err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i, sd.ID, err))
			continue
		}

		if _, dup := d.steps[step.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate step id %q", step.ID))
			continue
		}

		d.steps[step.ID] = step
		d.order = append(d.order, step.ID)
	}

	if d.entryPoint == "" && len(d.order) > 0 {
		d.entryPoint = d.order[0]
	}

	if _, ok := d.steps[d.entryPoint]; !ok && len(d.order) > 0 {
		errs = append(errs, fmt.Errorf("entry point %q is not a step", d.entryPoint))
	}

	for _, id := range d.order {
		s := d.steps[id]

		for _, next := range s.Next {
			if _, ok := d.steps[next]; !ok {
				errs = append(errs, fmt.Errorf("step %s: next step %q does not exist", id, next))
			}
		}

		if s.OnFailure != "" {
			if _, ok := d.steps[s.OnFailure]; !ok {
				errs = append(errs, fmt.Errorf("step %s: failure step %q does not exist", id, s.OnFailure))
			}
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: workflow %s: %w", core.ErrInvalidDefinition, doc.ID, errors.Join(errs...))
	}

	return d, nil
}

// MustNew is New for statically known workflows; it panics on error.
func MustNew(doc Document) *Definition {
	d, err := New(doc)
	if err != nil {
		panic(err)
	}

	return d
}

func buildStep(sd StepDocument) (*Step, error) {
	if sd.ID == "" {
		return nil, errors.New("step id is required")
	}

	if sd.Agent == "" {
		return nil, errors.New("agent is required")
	}

	if sd.Retries < 0 {
		return nil, fmt.Errorf("retries must not be negative, got %d", sd.Retries)
	}

	action, err := ParseAction(sd.Action)
	if err != nil {
		return nil, err
	}

	s := &Step{
		ID:        sd.ID,
		Name:      sd.Name,
		Agent:     sd.Agent,
		Action:    action,
		Next:      append([]string(nil), sd.Next...),
		OnFailure: sd.OnFailure,
		Timeout:   time.Duration(sd.Timeout),
		Retries:   sd.Retries,
	}

	if s.Name == "" {
		s.Name = s.ID
	}

	if s.Timeout <= 0 {
		s.Timeout = DefaultStepTimeout
	}

	if sd.Condition != "" {
		cond, err := expr.Parse(sd.Condition)
		if err != nil {
			return nil, err
		}

		s.Condition = cond
	}

	return s, nil
}

// ID returns the workflow id.
func (d *Definition) ID() string { return d.id }

// Name returns the display name.
func (d *Definition) Name() string { return d.name }

// Description returns the description.
func (d *Definition) Description() string { return d.description }

// Version returns the definition version.
func (d *Definition) Version() string { return d.version }

// EntryPoint returns the id of the first step.
func (d *Definition) EntryPoint() string { return d.entryPoint }

// Timeout returns the global execution timeout.
func (d *Definition) Timeout() time.Duration { return d.timeout }

// Len returns the number of steps.
func (d *Definition) Len() int { return len(d.order) }

// Step returns a copy of the step with id.
func (d *Definition) Step(id string) (Step, bool) {
	s, ok := d.steps[id]
	if !ok {
		return Step{}, false
	}

	return s.clone(), true
}

// Steps returns copies of all steps in declaration order.
func (d *Definition) Steps() []Step {
	out := make([]Step, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.steps[id].clone())
	}

	return out
}

// Agents returns the distinct agent ids referenced by the workflow.
func (d *Definition) Agents() []string {
	seen := map[string]bool{}

	var out []string

	for _, id := range d.order {
		a := d.steps[id].Agent
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}

	return out
}

func (s *Step) clone() Step {
	c := *s
	c.Next = append([]string(nil), s.Next...)

	return c
}
