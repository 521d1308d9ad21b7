package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/logging"
)

// Options configures a Registry instance.
type Options struct {
	// Prefix marks explicit commands. Defaults to core.CommandPrefix.
	Prefix string
	// StrictCommands rejects a registration whose command is already owned
	// by another agent. By default the newest registration wins and a
	// warning is logged.
	StrictCommands bool
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Registry holds the live agents in registration order and routes inbound
// messages to them. It implements core.Dispatcher for the workflow engine.
//
// Agent faults never escape the registry: errors and panics raised while
// handling a message are logged with the agent id and converted into
// error responses.
type Registry struct {
	mu       sync.RWMutex
	agents   []core.Agent
	index    map[string]int
	commands map[string]string

	prefix string
	strict bool
	logger logging.Logger
}

var _ core.Dispatcher = (*Registry)(nil)

// New creates an empty registry.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{
		Prefix: core.CommandPrefix,
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Registry{
		index:    make(map[string]int),
		commands: make(map[string]string),
		prefix:   opts.Prefix,
		strict:   opts.StrictCommands,
		logger:   opts.Logger,
	}
}

// Register adds a to the registry under a.Info().ID. Registering an id
// again replaces the previous agent in place, keeping its routing position.
func (r *Registry) Register(a core.Agent) error {
	if a == nil {
		return fmt.Errorf("%w: nil agent", core.ErrInvalidDefinition)
	}

	id := a.Info().ID
	if id == "" {
		return fmt.Errorf("%w: agent without id", core.ErrInvalidDefinition)
	}

	commands := a.Commands()

	r.mu.Lock()
	defer r.mu.Unlock()

	for name := range commands {
		if name == helpCommand {
			continue
		}

		owner, taken := r.commands[name]
		if !taken || owner == id {
			continue
		}

		if r.strict {
			return fmt.Errorf("%w: %s%s is owned by %s", core.ErrCommandConflict, r.prefix, name, owner)
		}

		r.logger.Warn("command reassigned", "command", name, "previous_agent", owner, "agent_id", id)
	}

	if pos, ok := r.index[id]; ok {
		r.agents[pos] = a
		r.logger.Info("replaced agent", "agent_id", id)
	} else {
		r.index[id] = len(r.agents)
		r.agents = append(r.agents, a)
		r.logger.Info("registered agent", "agent_id", id, "commands", len(commands))
	}

	for name, owner := range r.commands {
		if owner == id {
			delete(r.commands, name)
		}
	}

	for name := range commands {
		if name != helpCommand {
			r.commands[name] = id
		}
	}

	return nil
}

// MustRegister is Register for wiring code; it panics on error.
func (r *Registry) MustRegister(agents ...core.Agent) {
	for _, a := range agents {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
}

// Remove drops the agent with id. Commands it owned fall back to the most
// recently registered remaining agent that declares them.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.index[id]
	if !ok {
		return false
	}

	r.agents = append(r.agents[:pos], r.agents[pos+1:]...)
	r.index = make(map[string]int, len(r.agents))
	r.commands = make(map[string]string)

	for i, a := range r.agents {
		aid := a.Info().ID
		r.index[aid] = i

		for name := range a.Commands() {
			if name != helpCommand {
				r.commands[name] = aid
			}
		}
	}

	r.logger.Info("removed agent", "agent_id", id)

	return true
}

// Agent resolves a registered agent by id.
func (r *Registry) Agent(id string) (core.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.index[id]
	if !ok {
		return nil, false
	}

	return r.agents[pos], true
}

// CommandOwner returns the id of the agent that answers a command.
func (r *Registry) CommandOwner(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.commands[strings.ToLower(name)]

	return id, ok
}

// Capabilities returns the capability names of an agent.
func (r *Registry) Capabilities(id string) ([]string, bool) {
	a, ok := r.Agent(id)
	if !ok {
		return nil, false
	}

	return a.Capabilities(), true
}

// snapshot returns the agents in registration order.
func (r *Registry) snapshot() []core.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]core.Agent(nil), r.agents...)
}

// FindAgentForMessage returns the first agent, in registration order, whose
// predicate claims msg.
func (r *Registry) FindAgentForMessage(msg core.Message) (core.Agent, bool) {
	for _, a := range r.snapshot() {
		if r.canHandle(a, msg) {
			return a, true
		}
	}

	return nil, false
}

func (r *Registry) canHandle(a core.Agent, msg core.Message) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("can_handle panicked", "agent_id", a.Info().ID, "panic", rec)
			ok = false
		}
	}()

	return a.CanHandle(msg)
}

// RouteMessage delivers msg to the agent owning its command or, for free
// text, to the first agent claiming it. It always returns a response.
func (r *Registry) RouteMessage(ctx context.Context, msg core.Message, convCtx core.Context) core.Response {
	if cmd, ok := msg.Command(r.prefix); ok {
		return r.routeCommand(ctx, cmd, msg, convCtx)
	}

	a, ok := r.FindAgentForMessage(msg)
	if !ok {
		return core.Response{
			Type:    core.ResponseNoAgent,
			Message: fmt.Sprintf("I'm not sure how to help with that. Try %shelp to see what I can do.", r.prefix),
		}
	}

	return r.deliver(ctx, a, msg, convCtx)
}

// DeliverMessage hands msg to agentID without asking CanHandle. It is how a
// reply reaches the agent that asked for it.
func (r *Registry) DeliverMessage(ctx context.Context, agentID string, msg core.Message, convCtx core.Context) core.Response {
	a, ok := r.Agent(agentID)
	if !ok {
		return core.ErrorResponse(core.ResponseNoAgent, agentID, fmt.Sprintf("Agent %s is not available.", agentID))
	}

	return r.deliver(ctx, a, msg, convCtx)
}

func (r *Registry) deliver(ctx context.Context, a core.Agent, msg core.Message, convCtx core.Context) core.Response {
	id := a.Info().ID
	start := time.Now()

	resp, err := guard(ctx, id, "process_message", func(ctx context.Context) (core.Response, error) {
		return a.ProcessMessage(ctx, msg, convCtx)
	})
	if err != nil {
		r.logger.Error("agent failed to process message", "agent_id", id, "duration", time.Since(start), "error", err)
		return core.ErrorResponse(core.ResponseProcessingError, id, "Sorry, something went wrong while processing your message.")
	}

	r.logger.Debug("message processed", "agent_id", id, "response_type", resp.Type, "duration", time.Since(start))

	return withAgent(resp, id)
}

func (r *Registry) routeCommand(ctx context.Context, cmd core.Command, msg core.Message, convCtx core.Context) core.Response {
	owner, ok := r.CommandOwner(cmd.Name)
	if !ok {
		if cmd.Name == helpCommand {
			return r.help(convCtx)
		}

		r.logger.Debug("unknown command", "command", cmd.Name, "user_id", msg.UserID)

		return core.Response{
			Type:    core.ResponseUnknownCommand,
			Message: fmt.Sprintf("Unknown command: %s. Try %shelp for available commands.", cmd.Name, r.prefix),
		}
	}

	resp, err := r.ExecuteCommand(ctx, owner, cmd, msg, convCtx)
	if err != nil {
		r.logger.Error("command failed", "agent_id", owner, "command", cmd.Name, "error", err)

		if errors.Is(err, core.ErrUnknownAction) {
			return core.Response{
				Type:    core.ResponseUnknownCommand,
				AgentID: owner,
				Message: fmt.Sprintf("Unknown command: %s. Try %shelp for available commands.", cmd.Name, r.prefix),
			}
		}

		return core.ErrorResponse(core.ResponseCommandError, owner, fmt.Sprintf("Sorry, %s%s failed. Please try again.", r.prefix, cmd.Name))
	}

	return resp
}

// help answers a bare help command. The current agent answers when one is
// set; otherwise every agent is listed with its commands.
func (r *Registry) help(convCtx core.Context) core.Response {
	if current := convCtx.CurrentAgent(); current != "" {
		if a, ok := r.Agent(current); ok {
			if h, ok := a.(interface{ Help() core.Response }); ok {
				return h.Help()
			}
		}
	}

	var sb strings.Builder

	sb.WriteString("**Available Agents:**")

	for _, s := range r.ListAgents() {
		fmt.Fprintf(&sb, "\n\n%s", s.Name)

		if s.Title != "" {
			fmt.Fprintf(&sb, " (%s)", s.Title)
		}

		for _, c := range s.Commands {
			fmt.Fprintf(&sb, "\n%s%s", r.prefix, c)
		}
	}

	return core.Response{Type: core.ResponseHelp, Message: sb.String()}
}

// ExecuteCommand runs cmd on a specific agent. ctx bounds the call even
// when the agent ignores it.
func (r *Registry) ExecuteCommand(ctx context.Context, agentID string, cmd core.Command, msg core.Message, convCtx core.Context) (core.Response, error) {
	a, ok := r.Agent(agentID)
	if !ok {
		return core.Response{}, fmt.Errorf("%w: %s", core.ErrAgentNotFound, agentID)
	}

	name := strings.ToLower(cmd.Name)
	if _, ok := a.Commands()[name]; !ok {
		return core.Response{}, fmt.Errorf("%w: agent %s has no command %q", core.ErrUnknownAction, agentID, name)
	}

	cmd.Name = name
	start := time.Now()

	resp, err := guard(ctx, agentID, r.prefix+name, func(ctx context.Context) (core.Response, error) {
		return a.ExecuteCommand(ctx, cmd, msg, convCtx)
	})

	r.logCall(agentID, r.prefix+name, time.Since(start), err)

	if err != nil {
		return core.Response{}, err
	}

	return withAgent(resp, agentID), nil
}

// InvokeCapability runs a named capability on a specific agent.
func (r *Registry) InvokeCapability(ctx context.Context, agentID, name string, convCtx core.Context) (core.Response, error) {
	a, ok := r.Agent(agentID)
	if !ok {
		return core.Response{}, fmt.Errorf("%w: %s", core.ErrAgentNotFound, agentID)
	}

	if !contains(a.Capabilities(), name) {
		return core.Response{}, fmt.Errorf("%w: agent %s has no capability %q", core.ErrUnknownAction, agentID, name)
	}

	start := time.Now()

	resp, err := guard(ctx, agentID, name, func(ctx context.Context) (core.Response, error) {
		return a.InvokeCapability(ctx, name, convCtx)
	})

	r.logCall(agentID, name, time.Since(start), err)

	if err != nil {
		return core.Response{}, err
	}

	return withAgent(resp, agentID), nil
}

// guard runs fn in its own goroutine so that a deadline on ctx is honoured
// even by agents that never look at it. Panics become AgentExecutionErrors.
func guard(ctx context.Context, agentID, action string, fn func(context.Context) (core.Response, error)) (core.Response, error) {
	type result struct {
		resp core.Response
		err  error
	}

	done := make(chan result, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: &core.AgentExecutionError{AgentID: agentID, Action: action, Panic: rec}}
			}
		}()

		resp, err := fn(ctx)
		if err != nil && !errors.Is(err, core.ErrUnknownAction) && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			err = &core.AgentExecutionError{AgentID: agentID, Action: action, Err: err}
		}

		done <- result{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		if errors.Is(res.err, context.DeadlineExceeded) {
			return core.Response{}, fmt.Errorf("%w: agent %s during %s", core.ErrStepTimeout, agentID, action)
		}

		return res.resp, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return core.Response{}, fmt.Errorf("%w: agent %s during %s", core.ErrStepTimeout, agentID, action)
		}

		return core.Response{}, ctx.Err()
	}
}

func withAgent(resp core.Response, agentID string) core.Response {
	if resp.AgentID == "" {
		resp.AgentID = agentID
	}

	if resp.Type == "" {
		resp.Type = core.ResponseMessage
	}

	return resp
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}

const helpCommand = "help"

// AgentSummary describes a registered agent for listings.
type AgentSummary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Icon         string   `json:"icon,omitempty"`
	Commands     []string `json:"commands"`
	Capabilities []string `json:"capabilities,omitempty"`
	Status       string   `json:"status"`
}

// ListAgents returns every agent sorted by name.
func (r *Registry) ListAgents() []AgentSummary {
	agents := r.snapshot()
	out := make([]AgentSummary, 0, len(agents))

	for _, a := range agents {
		info := a.Info()

		cmds := make([]string, 0)
		for name := range a.Commands() {
			cmds = append(cmds, name)
		}

		sort.Strings(cmds)

		out = append(out, AgentSummary{
			ID:           info.ID,
			Name:         info.Name,
			Title:        info.Title,
			Description:  info.Description,
			Icon:         info.Icon,
			Commands:     cmds,
			Capabilities: a.Capabilities(),
			Status:       "active",
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Health summarizes a HealthCheck run.
type Health struct {
	TotalAgents     int               `json:"total_agents"`
	HealthyAgents   int               `json:"healthy_agents"`
	UnhealthyAgents int               `json:"unhealthy_agents"`
	AgentStatus     map[string]string `json:"agent_status"`
}

// HealthCheck probes every agent's introspection methods. An agent that
// panics or exposes neither commands nor capabilities is unhealthy.
func (r *Registry) HealthCheck() Health {
	agents := r.snapshot()
	h := Health{TotalAgents: len(agents), AgentStatus: make(map[string]string, len(agents))}

	for _, a := range agents {
		id := a.Info().ID

		status := probe(a)
		h.AgentStatus[id] = status

		if status == "healthy" {
			h.HealthyAgents++
		} else {
			h.UnhealthyAgents++
		}
	}

	return h
}

func probe(a core.Agent) (status string) {
	defer func() {
		if rec := recover(); rec != nil {
			status = fmt.Sprintf("error: %v", rec)
		}
	}()

	if len(a.Commands()) == 0 && len(a.Capabilities()) == 0 {
		return "unhealthy"
	}

	return "healthy"
}

// Stats reports registry counters.
type Stats struct {
	TotalAgents   int      `json:"total_agents"`
	TotalCommands int      `json:"total_commands"`
	AgentIDs      []string `json:"agent_ids"`
}

// Statistics returns registry counters; AgentIDs are in registration order.
func (r *Registry) Statistics() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.agents))
	for i, a := range r.agents {
		ids[i] = a.Info().ID
	}

	return Stats{TotalAgents: len(r.agents), TotalCommands: len(r.commands), AgentIDs: ids}
}

type callLogger interface {
	LogAgentCall(agentID, action string, dur time.Duration, success bool, err error)
}

func (r *Registry) logCall(agentID, action string, d time.Duration, err error) {
	if l, ok := r.logger.(callLogger); ok {
		l.LogAgentCall(agentID, action, d, err == nil, err)
		return
	}

	r.logger.Debug("agent call", "agent_id", agentID, "action", action, "duration", d, "success", err == nil)
}
