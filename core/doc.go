// Package core provides the foundational domain types and contracts shared by
// every FlowCoach package. It defines:
//
//   - Agents (stateless specialists addressed by id, command or capability)
//   - Messages, parsed Commands and the uniform Response envelope
//   - Conversation Contexts with their handoff audit trail
//   - The ContextStore and ContextBackend contracts for per-user state
//   - The Dispatcher contract used by the workflow engine to reach agents
//   - Sentinel and typed errors used across package boundaries
//
// The package keeps implementation concerns (routing, persistence, workflow
// orchestration, concrete agents) out of scope and exposes small interfaces so
// they can be swapped independently.
package core
