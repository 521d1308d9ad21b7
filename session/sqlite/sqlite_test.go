package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/session"
)

func openTestBackend(t *testing.T) *Backend {
	t.Helper()

	b, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return b
}

func TestBackend_ContextRoundTrip(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	_, ok, err := b.LoadContext(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	c := core.NewContext(now)
	c["note"] = "hello"
	c[core.KeyAgentHistory] = []string{"task"}
	require.NoError(t, b.SaveContext(ctx, "u1", c))

	c["note"] = "updated"
	require.NoError(t, b.SaveContext(ctx, "u1", c))

	got, ok, err := b.LoadContext(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "updated", got.String("note"))
	assert.Equal(t, []string{"task"}, got.AgentHistory())

	created, ok := got.Time(core.KeyCreatedAt)
	require.True(t, ok)
	assert.True(t, now.Equal(created))

	require.NoError(t, b.DeleteContext(ctx, "u1"))
	_, ok, err = b.LoadContext(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_MigrationsAreIdempotent(t *testing.T) {
	b := openTestBackend(t)
	require.NoError(t, b.migrate())

	var n int
	require.NoError(t, b.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestBackend_WorkflowStates(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	b.SetStateTTL(time.Hour)

	type snapshot struct {
		Status string `json:"status"`
		Step   string `json:"step"`
	}

	require.NoError(t, b.SaveWorkflowState(ctx, "wf_1", "u1", snapshot{Status: "paused", Step: "plan"}))
	require.NoError(t, b.SaveWorkflowState(ctx, "wf_2", "u1", snapshot{Status: "running"}))

	var got snapshot
	ok, err := b.LoadWorkflowState(ctx, "wf_1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snapshot{Status: "paused", Step: "plan"}, got)

	ids, err := b.UserWorkflowStates(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"wf_1", "wf_2"}, ids)

	now = now.Add(2 * time.Hour)

	ok, err = b.LoadWorkflowState(ctx, "wf_1", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := b.DeleteExpiredStates(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)
}

func TestBackend_WithStore(t *testing.T) {
	b := openTestBackend(t)

	first := session.NewStore(func(o *session.Options) { o.Backend = b })
	first.Update("u1", map[string]any{"project": "website"})
	first.PrepareHandoff("u1", "task", "planning", map[string]any{"reason": "complex"})

	second := session.NewStore(func(o *session.Options) { o.Backend = b })
	c, ok := second.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, "website", c.String("project"))
	assert.Equal(t, "planning", c.CurrentAgent())

	last, ok := c.LastHandoff()
	require.True(t, ok)
	assert.Equal(t, "complex", last.Payload["reason"])
}
