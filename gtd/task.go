package gtd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jeffreydebolt/Flowcoach2-sub000/agent"
	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
)

type taskAgent struct {
	opts Options
}

// NewTaskAgent builds the agent that captures tasks as GTD next actions.
//
// Free text starting with an action verb, or mentioning a task, is claimed
// and captured; lists become several tasks. Text that reads like a project
// is answered with a suggestion to plan it instead.
func NewTaskAgent(optFns ...func(o *Options)) (*agent.Base, error) {
	opts := defaultOptions(optFns...)

	def, err := opts.definition(TaskAgentID)
	if err != nil {
		return nil, err
	}

	t := &taskAgent{opts: opts}

	return agent.New(def, func(o *agent.Options) {
		o.Commands = map[string]agent.CommandHandler{
			"capture":       t.capture,
			"bulk-add":      t.bulkAdd,
			"format-gtd":    t.formatGTD,
			"project-check": t.projectCheck,
			"cleanup":       t.cleanup,
			"organize":      t.organize,
		}
		o.CanHandle = agent.MatchAny(
			func(msg core.Message) bool { return StartsWithActionVerb(msg.Text) },
			agent.MatchKeywords("task", "todo", "to-do", "remind me", "need to"),
		)
		o.OnMessage = t.onMessage
		o.Logger = opts.Logger
	})
}

func (t *taskAgent) onMessage(ctx context.Context, msg core.Message, _ core.Context) (core.Response, error) {
	if tasks := SplitTasks(msg.Text); len(tasks) > 1 {
		return t.addAll(ctx, msg.UserID, tasks)
	}

	if ok, reason := IsLikelyProject(msg.Text); ok && SuggestEstimate(msg.Text) == EstimateLong {
		return projectSuggestion(FormatNextAction(msg.Text), reason), nil
	}

	return t.add(ctx, msg.UserID, msg.Text)
}

func (t *taskAgent) capture(ctx context.Context, args string, msg core.Message, _ core.Context) (core.Response, error) {
	if strings.TrimSpace(args) == "" {
		return core.Response{Message: "What should I capture? Try *capture call the dentist"}, nil
	}

	return t.add(ctx, msg.UserID, args)
}

func (t *taskAgent) bulkAdd(ctx context.Context, args string, msg core.Message, _ core.Context) (core.Response, error) {
	tasks := SplitTasks(args)
	if len(tasks) <= 1 {
		return core.Response{Message: "Please provide multiple tasks. Example: *bulk-add 1) Call dentist 2) Buy groceries"}, nil
	}

	return t.addAll(ctx, msg.UserID, tasks)
}

func (t *taskAgent) formatGTD(_ context.Context, args string, _ core.Message, _ core.Context) (core.Response, error) {
	formatted := FormatNextAction(args)
	estimate, gtdContext := SuggestEstimate(formatted), SuggestContext(formatted)

	return core.Response{
		Message: fmt.Sprintf("GTD Format Preview:\n**Original:** %s\n**Formatted:** %s\n**Suggested:** %s, %s", args, formatted, estimate, gtdContext),
		Data: map[string]any{
			"original":      args,
			"formatted":     formatted,
			"time_estimate": estimate,
			"context":       gtdContext,
		},
	}, nil
}

func (t *taskAgent) projectCheck(_ context.Context, args string, _ core.Message, _ core.Context) (core.Response, error) {
	isProject, reason := IsLikelyProject(args)

	answer := "No"
	if isProject {
		answer = "Yes"
	}

	return core.Response{
		Message: fmt.Sprintf("**Task:** %s\n**Project?** %s\n**Reason:** %s", args, answer, reason),
		Data:    map[string]any{"task": args, "is_project": isProject, "reason": reason},
	}, nil
}

// cleanup lists open inbox tasks that lack a clear next action.
func (t *taskAgent) cleanup(ctx context.Context, _ string, msg core.Message, _ core.Context) (core.Response, error) {
	tasks, err := t.opts.Sink.Tasks(ctx, msg.UserID)
	if err != nil {
		return core.Response{}, fmt.Errorf("list tasks: %w", err)
	}

	var unclear []string

	open := 0

	for _, task := range tasks {
		if task.Done || task.Project != t.opts.DefaultProject {
			continue
		}

		open++

		if task.Context == DefaultContext {
			unclear = append(unclear, task.Content)
		}
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Your %s has %d open task(s).", t.opts.DefaultProject, open)

	if len(unclear) > 0 {
		b.WriteString(" These need a context:\n")

		for _, c := range unclear {
			fmt.Fprintf(&b, "• %s\n", c)
		}
	}

	return core.Response{
		Message:       strings.TrimSpace(b.String()),
		ContextUpdate: map[string]any{"inbox_open": open, "inbox_unclear": len(unclear)},
	}, nil
}

// organize groups open tasks by GTD context.
func (t *taskAgent) organize(ctx context.Context, _ string, msg core.Message, _ core.Context) (core.Response, error) {
	tasks, err := t.opts.Sink.Tasks(ctx, msg.UserID)
	if err != nil {
		return core.Response{}, fmt.Errorf("list tasks: %w", err)
	}

	groups := map[string][]string{}

	for _, task := range tasks {
		if !task.Done {
			groups[task.Context] = append(groups[task.Context], task.Content)
		}
	}

	if len(groups) == 0 {
		return core.Response{Message: "No open tasks to organize."}, nil
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}

	sort.Strings(names)

	var b strings.Builder

	data := map[string]any{}

	for _, name := range names {
		fmt.Fprintf(&b, "**%s**\n", name)

		for _, c := range groups[name] {
			fmt.Fprintf(&b, "• %s\n", c)
		}

		data[name] = groups[name]
	}

	return core.Response{Message: strings.TrimSpace(b.String()), Data: data}, nil
}

func (t *taskAgent) add(ctx context.Context, userID, text string) (core.Response, error) {
	content := FormatNextAction(text)

	task, err := t.opts.Sink.AddTask(ctx, userID, Task{
		Content:  content,
		Estimate: SuggestEstimate(content),
		Context:  SuggestContext(content),
		Project:  t.opts.DefaultProject,
	})
	if err != nil {
		return core.Response{}, fmt.Errorf("add task: %w", err)
	}

	t.opts.Logger.Info("captured task", "user_id", userID, "task_id", task.ID)

	return core.Response{
		Type:          core.ResponseTaskCreated,
		Message:       fmt.Sprintf("Created: **%s** (%s, %s)", task.Content, task.Estimate, task.Context),
		Data:          task.Map(),
		ContextUpdate: map[string]any{"last_task_id": task.ID},
	}, nil
}

func (t *taskAgent) addAll(ctx context.Context, userID string, texts []string) (core.Response, error) {
	var created []string

	for _, text := range texts {
		resp, err := t.add(ctx, userID, text)
		if err != nil {
			return core.Response{}, err
		}

		created = append(created, resp.Data["content"].(string))
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Created %d tasks:", len(created))

	for _, c := range created {
		fmt.Fprintf(&b, "\n• %s", c)
	}

	return core.Response{
		Type:    core.ResponseTaskCreated,
		Message: b.String(),
		Data:    map[string]any{"created": created, "created_count": len(created)},
	}, nil
}

func projectSuggestion(task, reason string) core.Response {
	return core.Response{
		Message: fmt.Sprintf("**Project Detected:** %s\n\n%s\n\nWould you like me to break this down into smaller tasks?", task, reason),
		Actions: []core.Action{
			{Label: "Break it down", Value: core.CommandPrefix + "project " + task},
			{Label: "Keep as single task", Value: core.CommandPrefix + "capture " + task},
		},
		Data: map[string]any{"task": task, "reason": reason},
	}
}
