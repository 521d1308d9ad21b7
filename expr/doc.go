// Package expr compiles the conditions used by workflow steps.
//
// Conditions use the expr-lang language and are compiled once when a
// workflow is loaded. They run in the expr-lang VM against a map of
// context fields and cannot call into the host beyond the language
// built-ins plus empty and exists. The result is judged by truthiness,
// so a bare field name is a valid condition.
//
// Examples:
//
//	is_complex == true
//	context.inbox_needs_help && !empty(inbox_items)
//	len(next_actions) > 0 or review.steps_completed >= 5
package expr
