package core

import (
	"fmt"
	"time"
)

// Reserved conversation context keys.
const (
	KeyCreatedAt        = "created_at"
	KeyLastAccessedAt   = "last_accessed_at"
	KeyCurrentAgent     = "current_agent"
	KeyAgentHistory     = "agent_history"
	KeyWorkflows        = "workflows"
	KeyPreferences      = "preferences"
	KeyConversationData = "conversation_data"
	KeyLastHandoff      = "last_handoff"
	KeyHandoffs         = "handoffs"
	KeyUserInput        = "user_input"
	// KeyAwaitingAgent names the agent whose awaiting_input reply the next
	// free text message answers.
	KeyAwaitingAgent = "awaiting_agent"
)

// Context is the per-user conversation state shared by agents and workflows.
//
// Values written by the process are Go native (time.Time, []string, ...).
// Values read back from a persistence backend may arrive in their JSON decoded
// form ([]any, map[string]any, RFC 3339 strings); the accessors below accept
// both shapes.
type Context map[string]any

// NewContext builds the default context for a user seen for the first time.
func NewContext(now time.Time) Context {
	return Context{
		KeyCreatedAt:        now,
		KeyLastAccessedAt:   now,
		KeyCurrentAgent:     nil,
		KeyAgentHistory:     []string{},
		KeyWorkflows:        map[string]any{},
		KeyPreferences:      map[string]any{},
		KeyConversationData: map[string]any{},
		KeyLastHandoff:      nil,
		KeyHandoffs:         []HandoffRecord{},
	}
}

// Clone returns a deep copy of maps and slices so callers can mutate freely.
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}

	return Context(CloneMap(c))
}

// Merge shallow-merges partial into c; the last write wins.
func (c Context) Merge(partial map[string]any) {
	for k, v := range partial {
		c[k] = CloneValue(v)
	}
}

// String returns the value under key formatted as a string, or "".
func (c Context) String(key string) string {
	switch v := c[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns the boolean under key, false when absent or not a bool.
func (c Context) Bool(key string) bool {
	v, _ := c[key].(bool)
	return v
}

// Int returns the numeric value under key truncated to int.
func (c Context) Int(key string) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Strings returns the string list under key.
func (c Context) Strings(key string) []string { return AsStrings(c[key]) }

// Map returns the nested map under key, or nil.
func (c Context) Map(key string) map[string]any {
	switch v := c[key].(type) {
	case map[string]any:
		return v
	case Context:
		return v
	default:
		return nil
	}
}

// Time returns the timestamp under key.
func (c Context) Time(key string) (time.Time, bool) { return AsTime(c[key]) }

// CurrentAgent returns the agent that most recently received a handoff.
func (c Context) CurrentAgent() string { return c.String(KeyCurrentAgent) }

// AwaitingAgent returns the agent waiting for the user's reply, or "".
func (c Context) AwaitingAgent() string { return c.String(KeyAwaitingAgent) }

// AgentHistory returns the agents that handed off, oldest first.
func (c Context) AgentHistory() []string { return c.Strings(KeyAgentHistory) }

// Workflows returns the per-execution workflow sub-contexts.
func (c Context) Workflows() map[string]any { return c.Map(KeyWorkflows) }

// Workflow returns the sub-context for one execution.
func (c Context) Workflow(executionID string) (map[string]any, bool) {
	wf, ok := c.Workflows()[executionID].(map[string]any)
	return wf, ok
}

// Preferences returns the user's preference map.
func (c Context) Preferences() map[string]any { return c.Map(KeyPreferences) }

// Handoffs returns the handoff audit trail, oldest first.
func (c Context) Handoffs() []HandoffRecord {
	switch v := c[KeyHandoffs].(type) {
	case []HandoffRecord:
		return v
	case []any:
		out := make([]HandoffRecord, 0, len(v))
		for _, item := range v {
			if rec, ok := AsHandoffRecord(item); ok {
				out = append(out, rec)
			}
		}

		return out
	default:
		return nil
	}
}

// LastHandoff returns the newest handoff record.
func (c Context) LastHandoff() (HandoffRecord, bool) { return AsHandoffRecord(c[KeyLastHandoff]) }

// HandoffRecord is one entry of the append-only handoff audit trail.
type HandoffRecord struct {
	SourceAgent string         `json:"source_agent"`
	TargetAgent string         `json:"target_agent"`
	Timestamp   time.Time      `json:"timestamp"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// AsHandoffRecord converts a stored value (native or JSON decoded) into a record.
func AsHandoffRecord(v any) (HandoffRecord, bool) {
	switch t := v.(type) {
	case HandoffRecord:
		return t, true
	case *HandoffRecord:
		if t == nil {
			return HandoffRecord{}, false
		}

		return *t, true
	case map[string]any:
		rec := HandoffRecord{}
		rec.SourceAgent, _ = t["source_agent"].(string)
		rec.TargetAgent, _ = t["target_agent"].(string)
		rec.Timestamp, _ = AsTime(t["timestamp"])
		rec.Payload, _ = t["payload"].(map[string]any)

		return rec, rec.TargetAgent != ""
	default:
		return HandoffRecord{}, false
	}
}

// AsStrings converts []string or []any into []string.
func AsStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}

		return out
	default:
		return nil
	}
}

// AsTime converts a time.Time or an RFC 3339 string into a time.Time.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}

		return parsed, true
	default:
		return time.Time{}, false
	}
}

// CloneMap deep copies a map of context values.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}

	return out
}

// CloneValue deep copies the container types used in contexts. Other values
// are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case Context:
		return Context(CloneMap(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}

		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, item := range t {
			out[i] = CloneMap(item)
		}

		return out
	case []HandoffRecord:
		out := make([]HandoffRecord, len(t))
		for i, rec := range t {
			out[i] = rec
			out[i].Payload = CloneMap(rec.Payload)
		}

		return out
	default:
		return v
	}
}
