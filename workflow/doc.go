// Package workflow defines the immutable workflow graph executed by the
// engine.
//
// A workflow is loaded from a YAML Document, validated once and turned into
// a Definition. Step actions are resolved at load time into either an
// explicit agent command ("*breakdown {{.initial_request}}") or a named
// capability ("detect_complexity"); conditions are parsed with package
// expr. Any reference to a missing step is a load error, so the engine
// never meets a dangling transition at run time.
package workflow
