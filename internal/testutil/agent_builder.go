package testutil

import (
	"context"
	"sort"

	"github.com/jeffreydebolt/Flowcoach2-sub000/agent"
	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
)

// AgentBuilder provides a fluent helper for constructing agents in tests.
// Example:
//
//	a := NewAgentBuilder("task").Reply("capture", core.Response{Message: "ok"}).Build()
//
// Chain only the parts you need; the name defaults to the id.
type AgentBuilder struct {
	def  agent.Definition
	opts agent.Options
}

// NewAgentBuilder creates a builder for an agent with id.
func NewAgentBuilder(id string) *AgentBuilder {
	return &AgentBuilder{
		def: agent.Definition{ID: id, Name: id},
		opts: agent.Options{
			Commands:     map[string]agent.CommandHandler{},
			Capabilities: map[string]agent.CapabilityHandler{},
		},
	}
}

// Name sets the display name (chainable).
func (b *AgentBuilder) Name(n string) *AgentBuilder { b.def.Name = n; return b }

// Command declares a command bound to h (chainable).
func (b *AgentBuilder) Command(name string, h agent.CommandHandler) *AgentBuilder {
	b.def.Commands = append(b.def.Commands, agent.CommandSpec{Name: name})
	b.opts.Commands[name] = h

	return b
}

// Reply declares a command that always answers resp (chainable).
func (b *AgentBuilder) Reply(name string, resp core.Response) *AgentBuilder {
	return b.Command(name, func(context.Context, string, core.Message, core.Context) (core.Response, error) {
		return resp, nil
	})
}

// Capability binds a capability handler (chainable).
func (b *AgentBuilder) Capability(name string, h agent.CapabilityHandler) *AgentBuilder {
	b.opts.Capabilities[name] = h
	return b
}

// Answers binds a capability that always answers resp (chainable).
func (b *AgentBuilder) Answers(name string, resp core.Response) *AgentBuilder {
	return b.Capability(name, func(context.Context, core.Context) (core.Response, error) {
		return resp, nil
	})
}

// Claims makes the agent handle free text containing any keyword (chainable).
func (b *AgentBuilder) Claims(h agent.MessageHandler, keywords ...string) *AgentBuilder {
	b.opts.CanHandle = agent.MatchKeywords(keywords...)
	b.opts.OnMessage = h

	return b
}

// Build creates the agent and panics on an invalid configuration.
func (b *AgentBuilder) Build() *agent.Base {
	names := make([]string, 0, len(b.opts.Capabilities))
	for name := range b.opts.Capabilities {
		names = append(names, name)
	}

	sort.Strings(names)

	def := b.def
	def.Capabilities = names

	return agent.MustNew(def, func(o *agent.Options) {
		o.Commands = b.opts.Commands
		o.Capabilities = b.opts.Capabilities
		o.CanHandle = b.opts.CanHandle
		o.OnMessage = b.opts.OnMessage
	})
}
