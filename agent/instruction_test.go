package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
)

type mockProvider struct {
	text string
	err  error
}

func (m mockProvider) Instruction(core.Context) (string, error) { return m.text, m.err }

func TestInstruction_Static(t *testing.T) {
	inst := NewInstructionFromText("static instruction")
	require.True(t, inst.IsStatic())

	got, err := inst.Resolve(core.Context{})
	require.NoError(t, err)
	assert.Equal(t, "static instruction", got)
}

func TestInstruction_TemplateRendersContext(t *testing.T) {
	inst := NewInstructionFromText("Help with {{.project}} for {{.user_id}}")

	got, err := inst.Resolve(core.Context{"project": "website launch", "user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "Help with website launch for u1", got)
}

func TestInstruction_NewInstructionFromFunc(t *testing.T) {
	inst := NewInstructionFromFunc(func(c core.Context) (string, error) { return "dynamic " + c.String("k"), nil })
	require.False(t, inst.IsStatic())

	got, err := inst.Resolve(core.Context{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "dynamic v", got)
}

func TestInstruction_ProviderError(t *testing.T) {
	inst := NewInstructionFromProvider(mockProvider{err: errors.New("provider failed")})

	_, err := inst.Resolve(core.Context{})
	assert.EqualError(t, err, "provider failed")
}
