package gtd

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jeffreydebolt/Flowcoach2-sub000/agent"
	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
)

// Weekly review checklist steps.
const (
	StepCollectLooseItems  = "collect_loose_items"
	StepProcessInboxes     = "process_inboxes"
	StepReviewCalendar     = "review_calendar"
	StepReviewProjects     = "review_projects"
	StepReviewNextActions  = "review_next_actions"
	StepReviewWaitingFor   = "review_waiting_for"
	StepReviewSomedayMaybe = "review_someday_maybe"
	StepPlanAhead          = "plan_ahead"
)

// Context keys written by the review agent.
const (
	KeyReviewStepsCompleted  = "review_steps_completed"
	KeyInboxNeedsHelp        = "inbox_needs_help"
	KeyProjectsNeedAttention = "projects_need_attention"
	KeyNextReview            = "next_review"
)

type reviewStep struct {
	name   string
	title  string
	prompt string
}

// reviewSteps lists the checklist in review order.
var reviewSteps = []reviewStep{
	{StepCollectLooseItems, "Collect Loose Items", "Gather notes, receipts and open loops into your inbox. Reply when everything is collected."},
	{StepProcessInboxes, "Process Inboxes", "Process every inbox to zero. Reply done, or say stuck if you need help clarifying items."},
	{StepReviewCalendar, "Review Calendar", "Look at last week's and the coming weeks' calendar. Which actions did it surface?"},
	{StepReviewProjects, "Review Projects", "Walk through every active project. Which projects are stuck, stalled or unclear?"},
	{StepReviewNextActions, "Review Next Actions", "Mark completed actions and check that each remaining one is concrete. Anything to add?"},
	{StepReviewWaitingFor, "Review Waiting For", "Who do you need to follow up with?"},
	{StepReviewSomedayMaybe, "Review Someday/Maybe", "Anything to activate or drop from someday/maybe?"},
	{StepPlanAhead, "Plan Ahead", "What are your top priorities for the coming week?"},
}

// ReviewAnswerKey is the context key holding the answer to a review step.
func ReviewAnswerKey(step string) string {
	return "review_" + step
}

func findReviewStep(name string) (reviewStep, bool) {
	i := slices.IndexFunc(reviewSteps, func(s reviewStep) bool { return s.name == name })
	if i < 0 {
		return reviewStep{}, false
	}

	return reviewSteps[i], true
}

type reviewAgent struct {
	opts Options
}

// NewReviewAgent builds the agent that guides the weekly review.
func NewReviewAgent(optFns ...func(o *Options)) (*agent.Base, error) {
	opts := defaultOptions(optFns...)

	def, err := opts.definition(ReviewAgentID)
	if err != nil {
		return nil, err
	}

	r := &reviewAgent{opts: opts}

	return agent.New(def, func(o *agent.Options) {
		o.Commands = map[string]agent.CommandHandler{
			"weekly-review": r.weeklyReview,
			"review-step":   r.reviewStep,
			"insights":      r.insights,
		}
		o.CanHandle = agent.MatchKeywords("weekly review", "review my week", "insights", "productivity")
		o.OnMessage = r.onMessage
		o.Logger = opts.Logger
	})
}

func (r *reviewAgent) onMessage(ctx context.Context, msg core.Message, c core.Context) (core.Response, error) {
	if strings.Contains(strings.ToLower(msg.Text), "insight") {
		return r.insights(ctx, "", msg, c)
	}

	return r.weeklyReview(ctx, "", msg, c)
}

func (r *reviewAgent) weeklyReview(_ context.Context, _ string, _ core.Message, c core.Context) (core.Response, error) {
	done := c.Strings(KeyReviewStepsCompleted)

	var b strings.Builder

	b.WriteString("**Weekly Review**\nGet clear, get current, get creative:")

	checklist := make([]any, len(reviewSteps))

	for i, s := range reviewSteps {
		mark := "☐"
		if slices.Contains(done, s.name) {
			mark = "☑"
		}

		fmt.Fprintf(&b, "\n%s %d. %s", mark, i+1, s.title)

		checklist[i] = map[string]any{"step": s.name, "title": s.title, "done": slices.Contains(done, s.name)}
	}

	return core.Response{
		Message: b.String(),
		Data:    map[string]any{"checklist": checklist, "total_steps": len(reviewSteps)},
	}, nil
}

// reviewStep asks the step's question until context["user_input"] carries the
// answer, then records it.
func (r *reviewAgent) reviewStep(_ context.Context, args string, _ core.Message, c core.Context) (core.Response, error) {
	name := strings.TrimSpace(args)

	step, ok := findReviewStep(name)
	if !ok {
		return core.Response{}, fmt.Errorf("%w: unknown review step %q", core.ErrInvalidDefinition, name)
	}

	answer := strings.TrimSpace(c.String(core.KeyUserInput))
	if answer == "" {
		i := slices.IndexFunc(reviewSteps, func(s reviewStep) bool { return s.name == name })

		return core.Response{
			Type:    core.ResponseAwaitingInput,
			Message: fmt.Sprintf("**Step %d of %d: %s**\n%s", i+1, len(reviewSteps), step.title, step.prompt),
			Data:    map[string]any{"step": step.name, "step_number": i + 1},
		}, nil
	}

	completed := slices.Clone(c.Strings(KeyReviewStepsCompleted))
	if !slices.Contains(completed, step.name) {
		completed = append(completed, step.name)
	}

	update := map[string]any{
		ReviewAnswerKey(step.name): answer,
		KeyReviewStepsCompleted:    completed,
	}

	lower := strings.ToLower(answer)

	switch step.name {
	case StepProcessInboxes:
		update[KeyInboxNeedsHelp] = containsAny(lower, "help", "stuck")
	case StepReviewProjects:
		update[KeyProjectsNeedAttention] = containsAny(lower, "stuck", "stalled", "help", "unclear")
	}

	return core.Response{
		Message:       fmt.Sprintf("✓ %s done.", step.title),
		ContextUpdate: update,
	}, nil
}

// insights reports the completion rate from the task sink and schedules the
// next review.
func (r *reviewAgent) insights(ctx context.Context, _ string, msg core.Message, c core.Context) (core.Response, error) {
	userID := msg.UserID
	if userID == "" {
		userID = c.String("user_id")
	}

	tasks, err := r.opts.Sink.Tasks(ctx, userID)
	if err != nil {
		return core.Response{}, fmt.Errorf("list tasks: %w", err)
	}

	completed := 0

	for _, t := range tasks {
		if t.Done {
			completed++
		}
	}

	rate := 0.0
	if len(tasks) > 0 {
		rate = float64(completed) / float64(len(tasks))
	}

	next := r.opts.Now().Add(r.opts.ReviewInterval)
	steps := len(c.Strings(KeyReviewStepsCompleted))

	msgText := fmt.Sprintf("**Insights**\nCompleted %d of %d tasks (%.0f%%).\nReview steps finished: %d of %d.\nNext review: %s",
		completed, len(tasks), rate*100, steps, len(reviewSteps), next.Format("Monday, January 2"))

	data := map[string]any{
		"total_tasks":     len(tasks),
		"completed_tasks": completed,
		"completion_rate": rate,
		"steps_completed": steps,
		KeyNextReview:     next.Format(time.RFC3339),
	}

	return core.Response{
		Message:       msgText,
		Data:          data,
		ContextUpdate: map[string]any{KeyNextReview: next.Format(time.RFC3339)},
	}, nil
}
