package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContext_Defaults(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewContext(now)

	created, ok := c.Time(KeyCreatedAt)
	require.True(t, ok)
	assert.Equal(t, now, created)
	assert.Empty(t, c.CurrentAgent())
	assert.Empty(t, c.AgentHistory())
	assert.NotNil(t, c.Workflows())
	assert.NotNil(t, c.Preferences())
	assert.Empty(t, c.Handoffs())

	_, ok = c.LastHandoff()
	assert.False(t, ok)
}

func TestContext_CloneIsDeep(t *testing.T) {
	c := NewContext(time.Now())
	c[KeyAgentHistory] = []string{"task"}
	c.Workflows()["wf_1"] = map[string]any{"status": "active"}

	cp := c.Clone()
	cp[KeyAgentHistory] = append(cp.AgentHistory(), "planning")
	wf, ok := cp.Workflow("wf_1")
	require.True(t, ok)
	wf["status"] = "completed"

	assert.Equal(t, []string{"task"}, c.AgentHistory())
	orig, _ := c.Workflow("wf_1")
	assert.Equal(t, "active", orig["status"])
}

func TestContext_Merge(t *testing.T) {
	c := Context{"a": 1, "b": "x"}
	c.Merge(map[string]any{"b": "y", "c": true})

	assert.Equal(t, 1, c.Int("a"))
	assert.Equal(t, "y", c.String("b"))
	assert.True(t, c.Bool("c"))
}

func TestContext_AccessorsAfterJSONRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	c := NewContext(now)
	rec := HandoffRecord{SourceAgent: "task", TargetAgent: "planning", Timestamp: now, Payload: map[string]any{"k": "v"}}
	c[KeyHandoffs] = []HandoffRecord{rec}
	c[KeyLastHandoff] = rec
	c[KeyAgentHistory] = []string{"task"}
	c[KeyCurrentAgent] = "planning"

	raw, err := json.Marshal(c)
	require.NoError(t, err)

	var decoded Context
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "planning", decoded.CurrentAgent())
	assert.Equal(t, []string{"task"}, decoded.AgentHistory())

	created, ok := decoded.Time(KeyCreatedAt)
	require.True(t, ok)
	assert.True(t, now.Equal(created))

	handoffs := decoded.Handoffs()
	require.Len(t, handoffs, 1)
	assert.Equal(t, "task", handoffs[0].SourceAgent)
	assert.Equal(t, "planning", handoffs[0].TargetAgent)
	assert.Equal(t, "v", handoffs[0].Payload["k"])

	last, ok := decoded.LastHandoff()
	require.True(t, ok)
	assert.Equal(t, "planning", last.TargetAgent)
}

func TestContext_IntAcceptsFloat(t *testing.T) {
	c := Context{"n": float64(3)}
	assert.Equal(t, 3, c.Int("n"))
	assert.Equal(t, 0, c.Int("missing"))
}
