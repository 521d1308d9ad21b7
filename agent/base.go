package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/logging"
)

// HelpCommand is answered by every Base agent without a handler.
const HelpCommand = "help"

// CommandHandler executes an explicit command. args is the text after the command name.
type CommandHandler func(ctx context.Context, args string, msg core.Message, convCtx core.Context) (core.Response, error)

// CapabilityHandler executes a named capability on behalf of a workflow.
type CapabilityHandler func(ctx context.Context, convCtx core.Context) (core.Response, error)

// MessageHandler processes free text the agent claimed through its predicate.
type MessageHandler func(ctx context.Context, msg core.Message, convCtx core.Context) (core.Response, error)

// Predicate decides whether an agent wants to handle free text. It must be
// free of side effects.
type Predicate func(msg core.Message) bool

// Options configures a Base agent.
type Options struct {
	// Commands binds declared command names to handlers.
	Commands map[string]CommandHandler
	// Capabilities binds capability names to handlers.
	Capabilities map[string]CapabilityHandler
	// CanHandle claims free text. Nil never claims anything.
	CanHandle Predicate
	// OnMessage handles claimed free text.
	OnMessage MessageHandler
	// Prefix marks explicit commands. Defaults to core.CommandPrefix.
	Prefix string
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Base is a declarative, command driven agent. The Definition describes its
// identity and command surface; the handlers in Options supply behavior.
// Base keeps no per-user state and is safe for concurrent use.
type Base struct {
	info         core.AgentInfo
	commandOrder []string
	commandInfo  map[string]core.CommandInfo
	commands     map[string]CommandHandler
	capabilities map[string]CapabilityHandler
	canHandle    Predicate
	onMessage    MessageHandler
	prefix       string
	logger       logging.Logger
}

var _ core.Agent = (*Base)(nil)

// New validates def and binds handlers. Every declared command needs a
// handler, handlers need a declared command, and every declared capability
// needs a handler.
func New(def Definition, optFns ...func(o *Options)) (*Base, error) {
	opts := Options{
		Commands:     map[string]CommandHandler{},
		Capabilities: map[string]CapabilityHandler{},
		Prefix:       core.CommandPrefix,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	b := &Base{
		info:         def.AgentInfo(),
		commandInfo:  map[string]core.CommandInfo{},
		commands:     map[string]CommandHandler{},
		capabilities: map[string]CapabilityHandler{},
		canHandle:    opts.CanHandle,
		onMessage:    opts.OnMessage,
		prefix:       opts.Prefix,
		logger:       opts.Logger,
	}

	for _, spec := range def.Commands {
		name := strings.ToLower(spec.Name)
		if name == HelpCommand {
			continue
		}

		h, ok := opts.Commands[name]
		if !ok || h == nil {
			return nil, fmt.Errorf("%w: agent %s declares command %q without a handler", core.ErrInvalidDefinition, def.ID, name)
		}

		info := spec.Info()
		info.Name = name
		b.commandOrder = append(b.commandOrder, name)
		b.commandInfo[name] = info
		b.commands[name] = h
	}

	for name := range opts.Commands {
		if _, ok := b.commands[strings.ToLower(name)]; !ok {
			return nil, fmt.Errorf("%w: agent %s has a handler for undeclared command %q", core.ErrInvalidDefinition, def.ID, name)
		}
	}

	for _, name := range def.Capabilities {
		h, ok := opts.Capabilities[name]
		if !ok || h == nil {
			return nil, fmt.Errorf("%w: agent %s declares capability %q without a handler", core.ErrInvalidDefinition, def.ID, name)
		}
	}

	for name, h := range opts.Capabilities {
		if h == nil {
			continue
		}

		b.capabilities[name] = h
	}

	b.commandInfo[HelpCommand] = core.CommandInfo{Name: HelpCommand, Description: "Show available commands"}

	b.logger.Debug("initialized agent", "agent_id", b.info.ID, "commands", len(b.commands), "capabilities", len(b.capabilities))

	return b, nil
}

// MustNew is New for statically known definitions; it panics on error.
func MustNew(def Definition, optFns ...func(o *Options)) *Base {
	b, err := New(def, optFns...)
	if err != nil {
		panic(err)
	}

	return b
}

// Info returns the agent identity.
func (b *Base) Info() core.AgentInfo { return b.info }

// ID is a shortcut for Info().ID.
func (b *Base) ID() string { return b.info.ID }

// Commands returns a copy of the command table including help.
func (b *Base) Commands() map[string]core.CommandInfo {
	out := make(map[string]core.CommandInfo, len(b.commandInfo))
	for k, v := range b.commandInfo {
		out[k] = v
	}

	return out
}

// Capabilities returns the capability names in sorted order.
func (b *Base) Capabilities() []string {
	out := make([]string, 0, len(b.capabilities))
	for name := range b.capabilities {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// CanHandle evaluates the predicate. Empty text and predicate panics yield false.
func (b *Base) CanHandle(msg core.Message) (ok bool) {
	if b.canHandle == nil || strings.TrimSpace(msg.Text) == "" {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("can_handle panicked", "agent_id", b.info.ID, "panic", r)
			ok = false
		}
	}()

	return b.canHandle(msg)
}

// ProcessMessage dispatches commands to the command table and claimed free
// text to the message handler.
func (b *Base) ProcessMessage(ctx context.Context, msg core.Message, convCtx core.Context) (core.Response, error) {
	if err := ctx.Err(); err != nil {
		return core.Response{}, err
	}

	if cmd, ok := msg.Command(b.prefix); ok {
		if !b.hasCommand(cmd.Name) {
			return b.unknownCommand(cmd.Name), nil
		}

		return b.ExecuteCommand(ctx, cmd, msg, convCtx)
	}

	// a reply to this agent's own question needs no keyword match
	if b.onMessage != nil && (convCtx.AwaitingAgent() == b.info.ID || b.CanHandle(msg)) {
		return b.finish(b.onMessage(ctx, msg, convCtx))
	}

	return core.Response{
		Type:    core.ResponseUnhandled,
		AgentID: b.info.ID,
		Message: fmt.Sprintf("I don't understand '%s'. Try %shelp for available commands.", strings.TrimSpace(msg.Text), b.prefix),
	}, nil
}

// ExecuteCommand runs a declared command. Unknown commands return
// core.ErrUnknownAction alongside an unknown_command response.
func (b *Base) ExecuteCommand(ctx context.Context, cmd core.Command, msg core.Message, convCtx core.Context) (core.Response, error) {
	if err := ctx.Err(); err != nil {
		return core.Response{}, err
	}

	name := strings.ToLower(cmd.Name)
	if name == HelpCommand {
		return b.Help(), nil
	}

	h, ok := b.commands[name]
	if !ok {
		return b.unknownCommand(name), fmt.Errorf("%w: agent %s has no command %q", core.ErrUnknownAction, b.info.ID, name)
	}

	b.logger.Debug("executing command", "agent_id", b.info.ID, "command", name)

	return b.finish(h(ctx, cmd.Args, msg, convCtx))
}

// InvokeCapability runs a named capability.
func (b *Base) InvokeCapability(ctx context.Context, name string, convCtx core.Context) (core.Response, error) {
	if err := ctx.Err(); err != nil {
		return core.Response{}, err
	}

	h, ok := b.capabilities[name]
	if !ok {
		return core.Response{}, fmt.Errorf("%w: agent %s has no capability %q", core.ErrUnknownAction, b.info.ID, name)
	}

	b.logger.Debug("invoking capability", "agent_id", b.info.ID, "capability", name)

	return b.finish(h(ctx, convCtx))
}

// Help lists the agent's commands in declaration order.
func (b *Base) Help() core.Response {
	if len(b.commandOrder) == 0 {
		return core.Response{Type: core.ResponseHelp, AgentID: b.info.ID, Message: fmt.Sprintf("%s has no commands available.", b.info.Name)}
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "**%s Commands:**\n", b.info.Name)

	for _, name := range b.commandOrder {
		info := b.commandInfo[name]
		fmt.Fprintf(&sb, "\n%s%s: %s", b.prefix, name, info.Description)

		if len(info.Examples) > 0 {
			fmt.Fprintf(&sb, "\n  Examples: %s", strings.Join(info.Examples, ", "))
		}
	}

	return core.Response{Type: core.ResponseHelp, AgentID: b.info.ID, Message: sb.String()}
}

// Activate returns the greeting shown when a user starts talking to the agent.
func (b *Base) Activate() core.Response {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Hello! I'm %s", b.info.Name)

	if b.info.Icon != "" {
		fmt.Fprintf(&sb, " (%s)", b.info.Icon)
	}

	if b.info.Title != "" {
		fmt.Fprintf(&sb, ", your %s", b.info.Title)
	}

	sb.WriteString(".")

	if b.info.Description != "" {
		sb.WriteString(" " + b.info.Description)
	}

	if len(b.commandOrder) > 0 {
		sb.WriteString("\n\nAvailable commands:")

		for _, name := range b.commandOrder {
			fmt.Fprintf(&sb, "\n%s%s: %s", b.prefix, name, b.commandInfo[name].Description)
		}
	}

	return core.Response{
		Type:    core.ResponseMessage,
		AgentID: b.info.ID,
		Message: sb.String(),
		Data:    map[string]any{"commands": append([]string(nil), b.commandOrder...)},
	}
}

// Handoff builds a response asking target to take over with payload.
func (b *Base) Handoff(target, message string, payload map[string]any) core.Response {
	if message == "" {
		message = fmt.Sprintf("Transferring you to %s...", target)
	}

	b.logger.Info("handing off", "agent_id", b.info.ID, "target_agent", target)

	return core.Response{
		Type:           core.ResponseHandoff,
		AgentID:        b.info.ID,
		Message:        message,
		HandoffTo:      target,
		HandoffPayload: payload,
	}
}

func (b *Base) hasCommand(name string) bool {
	if name == HelpCommand {
		return true
	}

	_, ok := b.commands[name]

	return ok
}

func (b *Base) unknownCommand(name string) core.Response {
	return core.Response{
		Type:    core.ResponseUnknownCommand,
		AgentID: b.info.ID,
		Message: fmt.Sprintf("Unknown command: %s. Try %shelp for available commands.", name, b.prefix),
	}
}

func (b *Base) finish(resp core.Response, err error) (core.Response, error) {
	if resp.AgentID == "" {
		resp.AgentID = b.info.ID
	}

	if resp.Type == "" {
		resp.Type = core.ResponseMessage
	}

	return resp, err
}
