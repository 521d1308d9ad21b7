package gtd

import (
	"embed"
	"fmt"
	"time"

	"github.com/jeffreydebolt/Flowcoach2-sub000/agent"
	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/logging"
	"github.com/jeffreydebolt/Flowcoach2-sub000/model"
)

// Agent ids.
const (
	TaskAgentID     = "task"
	PlanningAgentID = "planning"
	ReviewAgentID   = "review"
)

//go:embed definitions/*.yaml
var definitions embed.FS

// Definition returns the built-in definition of the agent with id.
func Definition(id string) (agent.Definition, error) {
	data, err := definitions.ReadFile("definitions/" + id + ".yaml")
	if err != nil {
		return agent.Definition{}, fmt.Errorf("%w: no built-in agent %q", core.ErrAgentNotFound, id)
	}

	return agent.ParseDefinition(data)
}

// Options configures the GTD agents.
type Options struct {
	// Sink stores captured tasks. Defaults to a fresh MemorySink.
	Sink TaskSink
	// Model, when set, lets the planning agent suggest brainstorm items.
	Model model.Model
	// DefaultProject is assigned to captured tasks. Defaults to "Inbox".
	DefaultProject string
	// ReviewInterval is the time until the next weekly review. Defaults to a week.
	ReviewInterval time.Duration
	// Overrides replaces built-in definitions by agent id, e.g. with
	// definitions loaded from a catalog.
	Overrides map[string]agent.Definition
	Logger    logging.Logger
	Now       func() time.Time
}

func defaultOptions(optFns ...func(o *Options)) Options {
	opts := Options{
		DefaultProject: "Inbox",
		ReviewInterval: 7 * 24 * time.Hour,
		Logger:         logging.NoOpLogger{},
		Now:            time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Sink == nil {
		opts.Sink = NewMemorySink()
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return opts
}

func (o Options) definition(id string) (agent.Definition, error) {
	if def, ok := o.Overrides[id]; ok {
		return def, nil
	}

	return Definition(id)
}

// NewAgents builds the task, planning and review agents sharing one set of
// options, in that registration order.
func NewAgents(optFns ...func(o *Options)) ([]core.Agent, error) {
	opts := defaultOptions(optFns...)
	share := func(o *Options) { *o = opts }

	task, err := NewTaskAgent(share)
	if err != nil {
		return nil, err
	}

	planning, err := NewPlanningAgent(share)
	if err != nil {
		return nil, err
	}

	review, err := NewReviewAgent(share)
	if err != nil {
		return nil, err
	}

	return []core.Agent{task, planning, review}, nil
}
