package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/afs/file"

	"github.com/jeffreydebolt/Flowcoach2-sub000/agent"
	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/workflow"
)

const taskYAML = `id: task
name: Inbox Agent
commands:
  - capture: Capture a task
`

const reviewYAML = `id: quick_review
name: Quick Review
steps:
  - id: insights
    agent: review
    action: "*insights"
`

// root returns a fresh mem:// folder per test; the mem file system is
// process wide.
func root(t *testing.T) string {
	t.Helper()
	return "mem://localhost/catalog/" + strings.ReplaceAll(t.Name(), "/", "_")
}

func upload(t *testing.T, fs afs.Service, dest, content string) {
	t.Helper()
	require.NoError(t, fs.Upload(context.Background(), dest, file.DefaultFileOsMode, strings.NewReader(content)))
}

func TestLoad(t *testing.T) {
	fs := afs.New()
	base := root(t)

	upload(t, fs, base+"/agents/task.yaml", taskYAML)
	upload(t, fs, base+"/agents/README.md", "not a definition")
	upload(t, fs, base+"/workflows/quick_review.yml", reviewYAML)

	defs, err := New(func(o *Options) { o.FS = fs }).Load(context.Background(), base)
	require.NoError(t, err)

	require.Len(t, defs.Agents, 1)
	assert.Equal(t, "Inbox Agent", defs.Agents[0].Name)
	assert.Equal(t, "Inbox Agent", defs.AgentOverrides()["task"].Name)

	require.Len(t, defs.Workflows, 1)
	assert.Equal(t, "quick_review", defs.Workflows[0].ID())
}

func TestLoadMissingFolders(t *testing.T) {
	defs, err := New().Load(context.Background(), root(t))
	require.NoError(t, err)
	assert.Empty(t, defs.Agents)
	assert.Empty(t, defs.Workflows)
}

func TestLoadReportsInvalidDocuments(t *testing.T) {
	fs := afs.New()
	base := root(t)

	upload(t, fs, base+"/workflows/broken.yaml", "id: broken\nsteps: []\n")
	upload(t, fs, base+"/workflows/quick_review.yaml", reviewYAML)

	defs, err := New(func(o *Options) { o.FS = fs }).Load(context.Background(), base)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidDefinition)
	assert.Contains(t, err.Error(), "broken.yaml")

	require.Len(t, defs.Workflows, 1)
	assert.Equal(t, "quick_review", defs.Workflows[0].ID())
}

func TestSaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	base := root(t)
	c := New()

	wf, err := workflow.Parse([]byte(reviewYAML))
	require.NoError(t, err)
	require.NoError(t, c.SaveWorkflow(ctx, base, wf))

	def := agent.Definition{
		ID:       "task",
		Name:     "Task Agent",
		Commands: []agent.CommandSpec{{Name: "capture", Description: "Capture a task", Examples: []string{"*capture call mom"}}},
	}
	require.NoError(t, c.SaveAgent(ctx, base, def))

	defs, err := c.Load(ctx, base)
	require.NoError(t, err)

	require.Len(t, defs.Agents, 1)
	assert.Equal(t, def.Commands, defs.Agents[0].Commands)

	require.Len(t, defs.Workflows, 1)
	assert.Equal(t, wf.Steps(), defs.Workflows[0].Steps())
}

func TestSaveAgentValidates(t *testing.T) {
	err := New().SaveAgent(context.Background(), root(t), agent.Definition{Name: "nameless"})
	assert.ErrorIs(t, err, core.ErrInvalidDefinition)
}
