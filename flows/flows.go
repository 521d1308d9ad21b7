package flows

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/workflow"
)

// Workflow ids.
const (
	ProjectBreakdownID = "project_breakdown"
	WeeklyReviewID     = "weekly_review"
)

//go:embed workflows/*.yaml
var workflowFiles embed.FS

// AgentRegistrar accepts agents. *registry.Registry implements it.
type AgentRegistrar interface {
	Register(a core.Agent) error
}

// WorkflowRegistrar accepts workflow definitions. *engine.Engine implements it.
type WorkflowRegistrar interface {
	RegisterWorkflow(def *workflow.Definition) error
}

// Definitions parses the embedded reference workflows, sorted by id.
func Definitions() ([]*workflow.Definition, error) {
	names, err := fs.Glob(workflowFiles, "workflows/*.yaml")
	if err != nil {
		return nil, err
	}

	sort.Strings(names)

	defs := make([]*workflow.Definition, 0, len(names))

	for _, name := range names {
		data, err := workflowFiles.ReadFile(name)
		if err != nil {
			return nil, err
		}

		def, err := workflow.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(name), err)
		}

		defs = append(defs, def)
	}

	return defs, nil
}

// Triggers returns the commands that start the reference workflows.
// "*project <request>" stores the request under initial_request.
func Triggers() []core.WorkflowTrigger {
	return []core.WorkflowTrigger{
		{Command: "project", WorkflowID: ProjectBreakdownID, InputKey: KeyInitialRequest},
		{Command: "weekly-review-flow", WorkflowID: WeeklyReviewID},
	}
}

// Install registers the coordinator with agents and the reference workflows
// with workflows. The coordinator dispatches through dispatcher, normally the
// same registry.
func Install(agents AgentRegistrar, workflows WorkflowRegistrar, dispatcher core.Dispatcher, optFns ...func(o *CoordinatorOptions)) error {
	coordinator, err := NewCoordinator(dispatcher, optFns...)
	if err != nil {
		return err
	}

	if err := agents.Register(coordinator); err != nil {
		return fmt.Errorf("register coordinator: %w", err)
	}

	defs, err := Definitions()
	if err != nil {
		return err
	}

	for _, def := range defs {
		if err := workflows.RegisterWorkflow(def); err != nil {
			return fmt.Errorf("register workflow %s: %w", def.ID(), err)
		}
	}

	return nil
}
