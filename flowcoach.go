// Package flowcoach provides a high-level façade over the agent registry,
// the context store and the workflow engine. Most applications interact
// with this package by:
//  1. Creating a FlowCoach via New() (optionally supplying a persistence
//     backend, a task sink or a language model)
//  2. Registering extra agents, workflows or triggers
//  3. Passing every inbound user message to HandleMessage
//
// HandleMessage decides per message whether it resumes a waiting workflow,
// starts a workflow bound to a trigger command or is routed to an agent. It
// never returns an error: failures become error responses.
package flowcoach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jeffreydebolt/Flowcoach2-sub000/agent"
	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/engine"
	"github.com/jeffreydebolt/Flowcoach2-sub000/flows"
	"github.com/jeffreydebolt/Flowcoach2-sub000/gtd"
	"github.com/jeffreydebolt/Flowcoach2-sub000/logging"
	"github.com/jeffreydebolt/Flowcoach2-sub000/model"
	"github.com/jeffreydebolt/Flowcoach2-sub000/registry"
	"github.com/jeffreydebolt/Flowcoach2-sub000/session"
	"github.com/jeffreydebolt/Flowcoach2-sub000/workflow"
)

// Commands the façade answers itself.
const (
	// CancelCommand cancels the user's active workflow.
	CancelCommand = "cancel"
	// StatusCommand lists the user's workflow executions.
	StatusCommand = "status"
)

// AssistantID is the id of the model backed catch-all agent.
const AssistantID = "assistant"

// Options configures the FlowCoach instance.
type Options struct {
	// EngineConfig bounds workflow executions.
	EngineConfig engine.Config

	// Prefix marks explicit commands. Defaults to core.CommandPrefix.
	Prefix string
	// StrictCommands rejects agents whose commands are already owned.
	StrictCommands bool

	// SessionTTL is the idle lifetime of a user context.
	SessionTTL time.Duration
	// Backend optionally persists contexts.
	Backend core.ContextBackend
	// StateRecorder optionally persists execution snapshots.
	StateRecorder engine.StateRecorder
	// Tracer starts one span per workflow step attempt.
	Tracer trace.Tracer

	// ReferenceAgents registers the task, planning and review agents plus
	// the coordinator and the reference workflows. Defaults to true.
	ReferenceAgents bool
	// GTD configures the reference agents.
	GTD []func(o *gtd.Options)

	// Workflows are registered after the reference workflows, replacing
	// them when the ids match.
	Workflows []*workflow.Definition
	// Triggers bind extra commands to workflows.
	Triggers []core.WorkflowTrigger

	// Assistant, when set, answers free text no other agent claims.
	Assistant model.Model

	// Closers are closed by Close, e.g. a database behind Backend.
	Closers []io.Closer

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
	Now    func() time.Time
}

// FlowCoach aggregates the registry, the context store and the engine.
type FlowCoach struct {
	opts     Options
	registry *registry.Registry
	store    *session.Store
	engine   *engine.Engine
	logger   logging.Logger

	mu       sync.RWMutex
	triggers map[string]core.WorkflowTrigger
}

// New creates a FlowCoach instance. Any unset service is initialized with an
// in-memory implementation.
func New(optFns ...func(o *Options)) (*FlowCoach, error) {
	opts := Options{
		EngineConfig:    engine.DefaultConfig(),
		Prefix:          core.CommandPrefix,
		SessionTTL:      session.DefaultTTL,
		ReferenceAgents: true,
		Logger:          logging.NoOpLogger{},
		Now:             time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.Prefix == "" {
		opts.Prefix = core.CommandPrefix
	}

	reg := registry.New(func(o *registry.Options) {
		o.Prefix = opts.Prefix
		o.StrictCommands = opts.StrictCommands
		o.Logger = opts.Logger
	})

	store := session.NewStore(func(o *session.Options) {
		o.TTL = opts.SessionTTL
		o.Backend = opts.Backend
		o.Logger = opts.Logger
		o.Now = opts.Now
	})

	eng := engine.New(reg, store, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Logger = opts.Logger
		o.Tracer = opts.Tracer
		o.StateRecorder = opts.StateRecorder
		o.Now = opts.Now
	})

	f := &FlowCoach{
		opts:     opts,
		registry: reg,
		store:    store,
		engine:   eng,
		logger:   opts.Logger,
		triggers: make(map[string]core.WorkflowTrigger),
	}

	if opts.ReferenceAgents {
		if err := f.installReference(); err != nil {
			return nil, err
		}
	}

	for _, def := range opts.Workflows {
		if err := f.RegisterWorkflow(def); err != nil {
			return nil, err
		}
	}

	for _, t := range opts.Triggers {
		if err := f.AddTrigger(t); err != nil {
			return nil, err
		}
	}

	if opts.Assistant != nil {
		if err := f.registerAssistant(opts.Assistant); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func (f *FlowCoach) installReference() error {
	gtdOpts := append([]func(o *gtd.Options){func(o *gtd.Options) {
		o.Logger = f.logger
		o.Now = f.opts.Now
	}}, f.opts.GTD...)

	agents, err := gtd.NewAgents(gtdOpts...)
	if err != nil {
		return fmt.Errorf("build reference agents: %w", err)
	}

	for _, a := range agents {
		if err := f.RegisterAgent(a); err != nil {
			return err
		}
	}

	if err := flows.Install(f, f.engine, f.registry, func(o *flows.CoordinatorOptions) {
		o.Logger = f.logger
	}); err != nil {
		return fmt.Errorf("install reference workflows: %w", err)
	}

	for _, t := range flows.Triggers() {
		if err := f.AddTrigger(t); err != nil {
			return err
		}
	}

	return nil
}

func (f *FlowCoach) registerAssistant(llm model.Model) error {
	def := agent.Definition{
		ID:          AssistantID,
		Name:        "Assistant",
		Title:       "GTD Coach",
		Description: "Answers general productivity questions.",
		Commands:    []agent.CommandSpec{{Name: agent.AskCommand, Description: "Ask the coach anything"}},
	}

	a, err := agent.NewModelAgent(def, llm, func(o *agent.ModelAgentOptions) {
		o.Logger = f.logger
	})
	if err != nil {
		return err
	}

	return f.RegisterAgent(a)
}

// RegisterAgent adds an agent to the registry. Agents registered later are
// consulted later for free text.
func (f *FlowCoach) RegisterAgent(a core.Agent) error { return f.registry.Register(a) }

// Register implements flows.AgentRegistrar.
func (f *FlowCoach) Register(a core.Agent) error { return f.RegisterAgent(a) }

// RegisterWorkflow makes def startable.
func (f *FlowCoach) RegisterWorkflow(def *workflow.Definition) error {
	return f.engine.RegisterWorkflow(def)
}

// AddTrigger binds t.Command to a registered workflow.
func (f *FlowCoach) AddTrigger(t core.WorkflowTrigger) error {
	name := strings.ToLower(strings.TrimSpace(t.Command))
	if name == "" {
		return fmt.Errorf("%w: trigger without command", core.ErrInvalidDefinition)
	}

	if _, ok := f.engine.Workflow(t.WorkflowID); !ok {
		return fmt.Errorf("%w: trigger %s: %s", core.ErrWorkflowNotFound, name, t.WorkflowID)
	}

	t.Command = name

	f.mu.Lock()
	f.triggers[name] = t
	f.mu.Unlock()

	return nil
}

// Trigger returns the trigger bound to command.
func (f *FlowCoach) Trigger(command string) (core.WorkflowTrigger, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	t, ok := f.triggers[strings.ToLower(command)]

	return t, ok
}

// Registry returns the agent registry.
func (f *FlowCoach) Registry() *registry.Registry { return f.registry }

// Store returns the context store.
func (f *FlowCoach) Store() *session.Store { return f.store }

// Engine returns the workflow engine.
func (f *FlowCoach) Engine() *engine.Engine { return f.engine }

// Logger returns the logger the components share.
func (f *FlowCoach) Logger() logging.Logger { return f.logger }

// HandleMessage processes one inbound message.
//
// A cancel command ends the user's active workflow and a status command
// lists the user's workflows. Otherwise a paused
// workflow receives the message as the reply it is waiting for, a trigger
// command starts its workflow and anything else is routed to an agent.
func (f *FlowCoach) HandleMessage(ctx context.Context, msg core.Message) core.Response {
	cmd, isCommand := msg.Command(f.opts.Prefix)

	active, hasActive := f.engine.ActiveExecution(msg.UserID)

	if isCommand {
		switch cmd.Name {
		case CancelCommand:
			return f.cancel(ctx, msg, active, hasActive)
		case StatusCommand:
			return f.status(ctx, msg)
		}
	}

	if hasActive && active.Status == engine.StatusPaused {
		st, err := f.engine.Continue(ctx, active.ID, msg)
		if err != nil {
			f.logger.Error("failed to continue workflow", "execution_id", active.ID, "user_id", msg.UserID, "error", err)
			return core.ErrorResponse(core.ResponseWorkflowFailed, "", "Sorry, I couldn't continue your workflow.")
		}

		return f.statusResponse(st)
	}

	if isCommand {
		if t, ok := f.Trigger(cmd.Name); ok {
			return f.start(ctx, msg, cmd, t)
		}
	}

	return f.route(ctx, msg, isCommand)
}

func (f *FlowCoach) start(ctx context.Context, msg core.Message, cmd core.Command, t core.WorkflowTrigger) core.Response {
	initial := map[string]any{}
	if t.InputKey != "" {
		initial[t.InputKey] = cmd.Args
	}

	st, err := f.engine.StartWorkflow(ctx, t.WorkflowID, msg.UserID, initial)
	if err != nil {
		f.logger.Error("failed to start workflow", "workflow_id", t.WorkflowID, "user_id", msg.UserID, "error", err)
		return core.ErrorResponse(core.ResponseWorkflowFailed, "", fmt.Sprintf("Sorry, I couldn't start %s.", t.WorkflowID))
	}

	return f.statusResponse(st)
}

func (f *FlowCoach) cancel(ctx context.Context, msg core.Message, active engine.ExecutionStatus, ok bool) core.Response {
	if !ok {
		return core.Response{Type: core.ResponseMessage, Message: "There is no active workflow to cancel."}
	}

	if err := f.engine.CancelWorkflow(ctx, active.ID, "cancelled by user"); err != nil {
		f.logger.Warn("failed to cancel workflow", "execution_id", active.ID, "user_id", msg.UserID, "error", err)
		return core.Response{Type: core.ResponseMessage, Message: "There is no active workflow to cancel."}
	}

	return core.Response{
		Type:    core.ResponseWorkflowCancelled,
		Message: fmt.Sprintf("Cancelled %s.", active.WorkflowName),
		Data:    map[string]any{"execution_id": active.ID, "workflow_id": active.WorkflowID},
	}
}

// status reports the user's executions, including those only the state
// store still remembers.
func (f *FlowCoach) status(ctx context.Context, msg core.Message) core.Response {
	history, err := f.engine.History(ctx, msg.UserID)
	if err != nil {
		f.logger.Error("failed to load workflow history", "user_id", msg.UserID, "error", err)
		return core.ErrorResponse(core.ResponseProcessingError, "", "Sorry, I couldn't load your workflows.")
	}

	if len(history) == 0 {
		return core.Response{Type: core.ResponseMessage, Message: "You have no workflows yet."}
	}

	var b strings.Builder

	b.WriteString("**Your workflows**")

	executions := make([]any, len(history))

	for i, st := range history {
		fmt.Fprintf(&b, "\n• %s (%s): %s", st.WorkflowName, st.ID, st.Status)

		if st.Status == engine.StatusPaused && st.CurrentStep != "" {
			fmt.Fprintf(&b, " at %s", st.CurrentStep)
		}

		executions[i] = map[string]any{
			"execution_id": st.ID,
			"workflow_id":  st.WorkflowID,
			"status":       string(st.Status),
			"current_step": st.CurrentStep,
			"started_at":   st.StartedAt,
		}
	}

	return core.Response{
		Type:    core.ResponseMessage,
		Message: b.String(),
		Data:    map[string]any{"executions": executions},
	}
}

// route delivers msg to an agent and applies the response to the user's
// context. Free text goes to the agent that asked for a reply, if any.
func (f *FlowCoach) route(ctx context.Context, msg core.Message, isCommand bool) core.Response {
	convCtx := f.store.Get(msg.UserID)
	waiting := convCtx.AwaitingAgent()

	var resp core.Response

	if _, ok := f.registry.Agent(waiting); ok && !isCommand {
		resp = f.registry.DeliverMessage(ctx, waiting, msg, convCtx)
	} else {
		resp = f.registry.RouteMessage(ctx, msg, convCtx)
	}

	update := make(map[string]any, len(resp.ContextUpdate)+1)
	for k, v := range resp.ContextUpdate {
		update[k] = v
	}

	switch {
	case resp.IsAwaitingInput():
		update[core.KeyAwaitingAgent] = resp.AgentID
	case waiting != "":
		update[core.KeyAwaitingAgent] = nil
	}

	if len(update) > 0 {
		f.store.Update(msg.UserID, update)
	}

	if resp.HandoffTo != "" {
		f.store.PrepareHandoff(msg.UserID, resp.AgentID, resp.HandoffTo, resp.HandoffPayload)

		if target, ok := f.registry.Agent(resp.HandoffTo); ok {
			if a, ok := target.(interface{ Activate() core.Response }); ok {
				resp.Message = strings.TrimSpace(resp.Message + "\n\n" + a.Activate().Message)
			}
		}
	}

	return resp
}

// statusResponse turns an execution snapshot into the reply for the user.
func (f *FlowCoach) statusResponse(st engine.ExecutionStatus) core.Response {
	data := map[string]any{
		"execution_id": st.ID,
		"workflow_id":  st.WorkflowID,
		"status":       string(st.Status),
	}

	switch st.Status {
	case engine.StatusPaused:
		if st.LastResponse != nil && st.LastResponse.IsAwaitingInput() {
			resp := *st.LastResponse
			resp.Data = merge(resp.Data, data)

			// steps finished on the way to this prompt speak first
			var parts []string
			for _, r := range st.TurnResponses {
				parts = append(parts, r.Message)
			}

			resp.Message = strings.Join(append(parts, resp.Message), "\n\n")

			return resp
		}

		return core.Response{Type: core.ResponseMessage, Message: fmt.Sprintf("%s is paused.", st.WorkflowName), Data: data}
	case engine.StatusCompleted:
		msg, _ := st.Result["message"].(string)
		if msg == "" && st.LastResponse != nil {
			msg = st.LastResponse.Message
		}

		if msg == "" {
			msg = fmt.Sprintf("%s complete.", st.WorkflowName)
		}

		resp := core.Response{Type: core.ResponseWorkflowComplete, Message: msg, Data: merge(st.Result, data)}
		if st.LastResponse != nil {
			resp.AgentID = st.LastResponse.AgentID
		}

		return resp
	case engine.StatusFailed:
		if errors.Is(st.Err, core.ErrWorkflowCancelled) {
			return core.Response{Type: core.ResponseWorkflowCancelled, Message: fmt.Sprintf("Cancelled %s.", st.WorkflowName), Data: data}
		}

		data["error"] = st.Error

		resp := core.ErrorResponse(core.ResponseWorkflowFailed, "", fmt.Sprintf("Sorry, %s failed. Please try again.", st.WorkflowName))
		resp.Data = data

		return resp
	default:
		return core.Response{Type: core.ResponseWorkflowStarted, Message: fmt.Sprintf("%s started.", st.WorkflowName), Data: data}
	}
}

// Stats aggregates component counters.
type Stats struct {
	Registry registry.Stats `json:"registry"`
	Engine   engine.Stats   `json:"engine"`
	Sessions session.Stats  `json:"sessions"`
}

// Statistics returns the counters of every component.
func (f *FlowCoach) Statistics() Stats {
	return Stats{
		Registry: f.registry.Statistics(),
		Engine:   f.engine.Statistics(),
		Sessions: f.store.Statistics(),
	}
}

// CleanupStats counts what one Cleanup removed.
type CleanupStats struct {
	Contexts   int `json:"contexts"`
	Executions int `json:"executions"`
	States     int `json:"states"`
}

// Cleanup drops expired contexts, terminal executions older than maxAge and
// expired workflow snapshots of the state store.
func (f *FlowCoach) Cleanup(ctx context.Context, maxAge time.Duration) (CleanupStats, error) {
	stats := CleanupStats{
		Contexts:   f.store.CleanupExpired(),
		Executions: f.engine.CleanupCompletedWorkflows(maxAge),
	}

	states, err := f.engine.PurgeExpiredStates(ctx)
	if err != nil {
		return stats, fmt.Errorf("purge workflow states: %w", err)
	}

	stats.States = states

	return stats, nil
}

// Close releases the closers handed in through Options.
func (f *FlowCoach) Close() error {
	var errs []error

	for _, c := range f.opts.Closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func merge(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}

	for k, v := range extra {
		out[k] = v
	}

	return out
}
