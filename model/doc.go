// Package model defines the provider‑agnostic abstraction FlowCoach agents use
// to ask a language model for text (project outcomes, brainstorms, review
// insights).
//
// Core goals:
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (see the anthropic and openai sub-packages) implement the Model
// interface so agents remain decoupled from vendor SDKs.
package model
