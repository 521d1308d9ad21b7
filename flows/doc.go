// Package flows holds the reference multi-agent workflows and the
// coordinator agent that connects them to the GTD agents.
//
// project_breakdown scores a request for complexity. Simple requests are
// captured at once; projects are handed to the planning agent for a multi
// turn breakdown whose next actions the coordinator captures one by one
// through the task agent. weekly_review walks the review checklist and
// pulls in the task and planning agents when the answers ask for help.
//
//	reg := registry.New()
//	eng := engine.New(reg, store)
//	err := flows.Install(reg, eng, reg)
package flows
