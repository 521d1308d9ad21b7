// Package gtd provides the reference Getting Things Done agents.
//
// Three agents ship with embedded YAML definitions:
//
//   - task captures free text as next actions with an estimate and a
//     context, splits lists into several tasks and flags text that reads
//     like a project.
//   - planning breaks a project down over three turns (outcome, brainstorm,
//     next actions) keeping its progress in the conversation context.
//   - review walks the weekly review checklist one step at a time and
//     reports completion insights.
//
// The heuristics are small keyword rules. Captured tasks go
// to a TaskSink; MemorySink keeps them in memory.
//
//	agents, err := gtd.NewAgents(func(o *gtd.Options) { o.Sink = sink })
package gtd
