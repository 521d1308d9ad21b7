package flows

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jeffreydebolt/Flowcoach2-sub000/agent"
	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/engine"
	"github.com/jeffreydebolt/Flowcoach2-sub000/gtd"
	"github.com/jeffreydebolt/Flowcoach2-sub000/logging"
)

// CoordinatorID is the id of the agent that connects the GTD agents inside
// the reference workflows.
const CoordinatorID = "coordinator"

// Context keys shared by the reference workflows.
const (
	KeyInitialRequest    = "initial_request"
	KeyIsComplex         = "is_complex"
	KeyComplexityScore   = "complexity_score"
	KeyComplexityReasons = "complexity_reasons"
	KeyCreatedTasks      = "created_tasks"
)

// ComplexityThreshold is the number of indicators that makes a request a
// project.
const ComplexityThreshold = 2

var (
	projectWords    = []string{"website", "project", "launch", "organize", "implement", "develop", "create", "design", "plan", "strategy"}
	complexityWords = []string{"complex", "multiple", "several", "various", "different"}
)

//go:embed coordinator.yaml
var coordinatorYAML []byte

// Complexity is the outcome of scoring a request.
type Complexity struct {
	Score   int
	Reasons []string
}

// IsComplex reports whether enough indicators matched.
func (c Complexity) IsComplex() bool { return c.Score >= ComplexityThreshold }

// ScoreComplexity counts the indicators found in request: a description
// longer than ten words, project keywords and complexity words.
func ScoreComplexity(request string) Complexity {
	lower := strings.ToLower(request)

	var c Complexity

	add := func(hit bool, reason string) {
		if hit {
			c.Score++
			c.Reasons = append(c.Reasons, reason)
		}
	}

	add(len(strings.Fields(request)) > 10, "Long description (>10 words)")
	add(containsAny(lower, projectWords), "Contains project keywords")
	add(containsAny(lower, complexityWords), "Contains complexity indicators")

	return c
}

// CoordinatorOptions configures the coordinator agent.
type CoordinatorOptions struct {
	// TaskAgent receives captured tasks. Defaults to "task".
	TaskAgent string
	// PlanningAgent takes over complex requests. Defaults to "planning".
	PlanningAgent string
	// CaptureCommand is the task agent command used for captures. Defaults
	// to "capture".
	CaptureCommand string
	Logger         logging.Logger
}

type coordinator struct {
	dispatcher core.Dispatcher
	opts       CoordinatorOptions
}

// NewCoordinator builds the coordinator. It reaches the other agents only
// through dispatcher, so it never holds agent references.
func NewCoordinator(dispatcher core.Dispatcher, optFns ...func(o *CoordinatorOptions)) (*agent.Base, error) {
	opts := CoordinatorOptions{
		TaskAgent:      "task",
		PlanningAgent:  "planning",
		CaptureCommand: "capture",
		Logger:         logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	def, err := agent.ParseDefinition(coordinatorYAML)
	if err != nil {
		return nil, err
	}

	c := &coordinator{dispatcher: dispatcher, opts: opts}

	return agent.New(def, func(o *agent.Options) {
		o.Capabilities = map[string]agent.CapabilityHandler{
			"detect_complexity":  c.detectComplexity,
			"handoff_to_planner": c.handoffToPlanner,
			"create_tasks":       c.createTasks,
			"fallback_capture":   c.fallbackCapture,
		}
		o.Logger = opts.Logger
	})
}

// detectComplexity scores the initial request. Simple requests are captured
// right away and end the workflow with a handoff to the task agent.
func (c *coordinator) detectComplexity(ctx context.Context, convCtx core.Context) (core.Response, error) {
	request := strings.TrimSpace(convCtx.String(KeyInitialRequest))
	if request == "" {
		return core.Response{
			Type:    core.ResponseWorkflowComplete,
			Message: "Tell me about the project. Try *project launch the new website",
		}, nil
	}

	score := ScoreComplexity(request)

	update := map[string]any{
		KeyIsComplex:         score.IsComplex(),
		KeyComplexityScore:   score.Score,
		KeyComplexityReasons: score.Reasons,
	}

	c.opts.Logger.Debug("scored request", "execution_id", convCtx.String("execution_id"), "score", score.Score)

	if score.IsComplex() {
		return core.Response{
			Message:       fmt.Sprintf("This looks like a project (%s). Let's plan it.", strings.Join(score.Reasons, ", ")),
			ContextUpdate: update,
		}, nil
	}

	captured, err := c.capture(ctx, convCtx, request)
	if err != nil {
		return core.Response{}, err
	}

	return core.Response{
		Type:           core.ResponseWorkflowComplete,
		Message:        "This looks like a simple task. " + captured.Message,
		ContextUpdate:  update,
		HandoffTo:      c.opts.TaskAgent,
		HandoffPayload: map[string]any{"simple_task": request},
		Data:           captured.Data,
	}, nil
}

func (c *coordinator) handoffToPlanner(_ context.Context, convCtx core.Context) (core.Response, error) {
	return core.Response{
		Type:      core.ResponseHandoff,
		Message:   "Bringing in the planning agent to break this down.",
		HandoffTo: c.opts.PlanningAgent,
		HandoffPayload: map[string]any{
			"project_request":     convCtx.String(KeyInitialRequest),
			"complexity_detected": true,
		},
	}, nil
}

// createTasks captures every planned next action through the task agent.
// Captures that fail are reported and skipped.
func (c *coordinator) createTasks(ctx context.Context, convCtx core.Context) (core.Response, error) {
	actions := nextActions(convCtx[gtd.KeyNextActions])
	if len(actions) == 0 {
		return core.Response{Message: "The plan has no next actions to capture."}, nil
	}

	created := make([]any, 0, len(actions))

	var (
		b      strings.Builder
		failed int
	)

	for _, a := range actions {
		description, _ := a["description"].(string)
		if description == "" {
			continue
		}

		resp, err := c.capture(ctx, convCtx, description)
		if err != nil {
			if ctx.Err() != nil {
				return core.Response{}, err
			}

			failed++

			c.opts.Logger.Warn("capture failed", "execution_id", convCtx.String("execution_id"), "task", description, "error", err)

			continue
		}

		created = append(created, resp.Data)
		fmt.Fprintf(&b, "\n• **%s** (%v, %v)", description, a["estimate"], a["context"])
	}

	if len(created) == 0 && failed > 0 {
		return core.Response{}, fmt.Errorf("none of the %d next actions could be captured", failed)
	}

	msg := fmt.Sprintf("**Project Breakdown Complete!**\n\n**Project:** %s\n\n**Created %d tasks:**%s",
		convCtx.String(KeyInitialRequest), len(created), b.String())

	return core.Response{
		Type:          core.ResponseWorkflowComplete,
		Message:       msg,
		ContextUpdate: map[string]any{KeyCreatedTasks: created},
		Data:          map[string]any{"tasks_created": len(created), "tasks_failed": failed, KeyCreatedTasks: created},
	}, nil
}

// fallbackCapture keeps the request as a single task when planning failed.
func (c *coordinator) fallbackCapture(ctx context.Context, convCtx core.Context) (core.Response, error) {
	request := strings.TrimSpace(convCtx.String(KeyInitialRequest))

	resp, err := c.capture(ctx, convCtx, request)
	if err != nil {
		return core.Response{}, err
	}

	return core.Response{
		Type:    core.ResponseWorkflowComplete,
		Message: "Planning didn't work out, so I kept it as a single task. " + resp.Message,
		Data: map[string]any{
			engine.KeyFailedStep: convCtx.String(engine.KeyFailedStep),
			engine.KeyLastError:  convCtx.String(engine.KeyLastError),
			"task":               resp.Data,
		},
	}, nil
}

func (c *coordinator) capture(ctx context.Context, convCtx core.Context, text string) (core.Response, error) {
	cmd := core.Command{Name: c.opts.CaptureCommand, Args: text}
	msg := core.Message{
		Text:   cmd.String(),
		UserID: convCtx.String("user_id"),
		Source: map[string]any{"execution_id": convCtx.String("execution_id"), "agent_id": CoordinatorID},
	}

	resp, err := c.dispatcher.ExecuteCommand(ctx, c.opts.TaskAgent, cmd, msg, convCtx)
	if err != nil {
		return core.Response{}, fmt.Errorf("capture %q: %w", text, err)
	}

	if resp.IsError() {
		return core.Response{}, fmt.Errorf("capture %q: %s", text, resp.Message)
	}

	return resp, nil
}

// nextActions accepts the planning output in its native or JSON decoded
// shape.
func nextActions(v any) []map[string]any {
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))

		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}

		return out
	default:
		return nil
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}

	return false
}
