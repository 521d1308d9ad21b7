// Package logging provides a minimal logging interface and adapters for FlowCoach.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the registry, engine, context store and agents use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping an existing *slog.Logger
//   - FlowLogger with contextual cloning and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	reg := registry.New(func(o *registry.Options) { o.Logger = logger })
package logging
