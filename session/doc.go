// Package session houses the ContextStore implementation. The contracts
// (core.ContextStore, core.ContextBackend and the core.Context type) live in
// the core package; keeping only implementations here prevents higher level
// packages (registry, engine, agents) from depending on concrete storage.
//
// Persistence backends live in sub-packages (see session/sqlite) and plug in
// through Options.Backend without changing any calling code.
package session
