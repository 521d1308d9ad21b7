package gtd

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jeffreydebolt/Flowcoach2-sub000/agent"
	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/model"
)

// Context keys written by the planning agent.
const (
	KeyPlanningStage   = "planning_stage"
	KeyProject         = "project"
	KeyOutcome         = "outcome"
	KeyBrainstormItems = "brainstorm_items"
	KeyNextActions     = "next_actions"
)

// Planning stages, in order.
const (
	StageOutcome    = "outcome"
	StageBrainstorm = "brainstorm"
	StageDone       = "done"
)

// MaxNextActions bounds the actions a breakdown produces.
const MaxNextActions = 5

const planningSystemPrompt = "You are a GTD planning coach. Answer with short, concrete tasks, one per line, without numbering."

type planningAgent struct {
	opts Options
}

// NewPlanningAgent builds the agent that breaks projects down.
//
// The breakdown is a three turn conversation kept entirely in the context:
// it asks for the desired outcome, then for a brainstorm, then answers with
// up to MaxNextActions next actions. Each question is an awaiting_input
// response; the reply arrives as context["user_input"].
func NewPlanningAgent(optFns ...func(o *Options)) (*agent.Base, error) {
	opts := defaultOptions(optFns...)

	def, err := opts.definition(PlanningAgentID)
	if err != nil {
		return nil, err
	}

	p := &planningAgent{opts: opts}

	return agent.New(def, func(o *agent.Options) {
		o.Commands = map[string]agent.CommandHandler{
			"breakdown":      p.breakdown,
			"next-actions":   p.nextActions,
			"project-health": p.projectHealth,
		}
		o.CanHandle = agent.MatchKeywords("break down", "breakdown", "plan my", "plan the", "project")
		o.OnMessage = p.onMessage
		o.Logger = opts.Logger
	})
}

func (p *planningAgent) onMessage(ctx context.Context, msg core.Message, c core.Context) (core.Response, error) {
	switch c.String(KeyPlanningStage) {
	case StageOutcome, StageBrainstorm:
		c = c.Clone()
		c[core.KeyUserInput] = msg.Text

		return p.breakdown(ctx, "", msg, c)
	default:
		return p.breakdown(ctx, msg.Text, msg, c)
	}
}

func (p *planningAgent) breakdown(ctx context.Context, args string, _ core.Message, c core.Context) (core.Response, error) {
	input := strings.TrimSpace(c.String(core.KeyUserInput))
	stage := c.String(KeyPlanningStage)

	project := strings.TrimSpace(args)
	if project == "" {
		project = c.String(KeyProject)
	}

	if project == "" {
		return core.Response{Message: "What project should we plan? Try *breakdown launch the new website"}, nil
	}

	switch {
	case stage == StageOutcome && input != "":
		return awaiting(
			fmt.Sprintf("Great outcome. Now brainstorm everything that has to happen for **%s**. List the ideas one per line or separated by commas.", project),
			map[string]any{KeyPlanningStage: StageBrainstorm, KeyOutcome: input, KeyProject: project},
		), nil
	case stage == StageBrainstorm && input != "":
		return p.finish(ctx, project, c.String(KeyOutcome), input)
	case stage == StageBrainstorm:
		return awaiting(
			fmt.Sprintf("What needs to happen for **%s**? List the ideas one per line or separated by commas.", project),
			nil,
		), nil
	default:
		return awaiting(
			fmt.Sprintf("Let's plan **%s**.\n\nWhat will be true when this project is done? Describe the successful outcome.", project),
			map[string]any{KeyPlanningStage: StageOutcome, KeyProject: project},
		), nil
	}
}

func (p *planningAgent) finish(ctx context.Context, project, outcome, brainstorm string) (core.Response, error) {
	items := ParseItems(brainstorm)
	items = append(items, p.suggest(ctx, project, outcome, items)...)
	actions := NextActions(items, MaxNextActions)

	list := make([]any, len(actions))
	for i, a := range actions {
		list[i] = a.Map()
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Here is the plan for **%s**.", project)

	if outcome != "" {
		fmt.Fprintf(&b, "\n**Outcome:** %s", outcome)
	}

	b.WriteString("\n**Next actions:**")

	for _, a := range actions {
		fmt.Fprintf(&b, "\n• %s (%s, %s)", a.Description, a.Estimate, a.Context)
	}

	p.opts.Logger.Info("project broken down", "project", project, "items", len(items), "next_actions", len(actions))

	return core.Response{
		Message: b.String(),
		Data:    map[string]any{KeyNextActions: list, KeyProject: project},
		ContextUpdate: map[string]any{
			KeyPlanningStage:   StageDone,
			KeyBrainstormItems: items,
			KeyNextActions:     list,
		},
	}, nil
}

// suggest asks the model for extra brainstorm items. Model failures only
// cost the suggestions.
func (p *planningAgent) suggest(ctx context.Context, project, outcome string, items []string) []string {
	if p.opts.Model == nil {
		return nil
	}

	prompt := fmt.Sprintf("Project: %s\nOutcome: %s\nIdeas so far:\n%s\n\nSuggest up to 3 additional tasks that are missing.",
		project, outcome, strings.Join(items, "\n"))

	resp, err := p.opts.Model.Generate(ctx, model.Request{System: planningSystemPrompt, Prompt: prompt, MaxTokens: 256})
	if err != nil {
		p.opts.Logger.Warn("brainstorm suggestion failed", "model", p.opts.Model.Info().Name, "error", err)
		return nil
	}

	var extra []string

	for _, s := range ParseItems(resp.Text) {
		if !slices.ContainsFunc(items, func(i string) bool { return strings.EqualFold(i, s) }) {
			extra = append(extra, s)
		}

		if len(extra) == 3 {
			break
		}
	}

	return extra
}

func (p *planningAgent) nextActions(_ context.Context, args string, _ core.Message, _ core.Context) (core.Response, error) {
	items := ParseItems(args)
	if len(items) == 0 {
		return core.Response{Message: "List a few ideas and I'll pick the next actions. Example: *next-actions research hosting, email the designer"}, nil
	}

	actions := NextActions(items, MaxNextActions)
	list := make([]any, len(actions))

	var b strings.Builder

	b.WriteString("**Next actions:**")

	for i, a := range actions {
		list[i] = a.Map()
		fmt.Fprintf(&b, "\n• %s (%s, %s)", a.Description, a.Estimate, a.Context)
	}

	return core.Response{
		Message:       b.String(),
		Data:          map[string]any{KeyNextActions: list},
		ContextUpdate: map[string]any{KeyNextActions: list},
	}, nil
}

// projectHealth suggests how to unblock stalled projects named in args or in
// the weekly review answer about projects.
func (p *planningAgent) projectHealth(_ context.Context, args string, _ core.Message, c core.Context) (core.Response, error) {
	source := strings.TrimSpace(args)
	if source == "" {
		source = c.String(ReviewAnswerKey(StepReviewProjects))
	}

	projects := ParseItems(source)
	if len(projects) == 0 {
		return core.Response{
			Message:       "All projects look healthy. Make sure each one has at least one next action.",
			ContextUpdate: map[string]any{"project_health_checked": true},
		}, nil
	}

	var b strings.Builder

	b.WriteString("Let's get these projects moving again:")

	for _, pr := range projects {
		fmt.Fprintf(&b, "\n• %s: define one next action you can finish in under 10 minutes", pr)
	}

	return core.Response{
		Message:       b.String(),
		ContextUpdate: map[string]any{"project_health_checked": true, "stalled_projects": projects},
	}, nil
}

func awaiting(msg string, update map[string]any) core.Response {
	return core.Response{Type: core.ResponseAwaitingInput, Message: msg, ContextUpdate: update}
}
