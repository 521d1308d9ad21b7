// Package agent provides the building blocks for FlowCoach agents.
//
// An agent is described declaratively by a Definition (usually YAML) and
// given behavior by binding handlers through Options:
//
//	def, _ := agent.ParseDefinition(taskYAML)
//	task, err := agent.New(def, func(o *agent.Options) {
//		o.Commands = map[string]agent.CommandHandler{"capture": captureTask}
//		o.CanHandle = agent.MatchKeywords("buy", "call", "todo")
//		o.OnMessage = captureFreeText
//	})
//
// Base answers "*help" on its own, reports unknown commands as responses
// and recovers from panicking predicates. Agents keep no per-user state:
// everything they need arrives through the conversation context and
// anything they learn leaves through Response.ContextUpdate.
//
// ModelAgent wraps a model.Model for free-text coaching. Its Instruction is
// rendered against the conversation context and used as the system prompt.
package agent
