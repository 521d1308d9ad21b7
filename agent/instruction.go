package agent

import (
	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from the conversation context.
type Provider interface {
	Instruction(core.Context) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(core.Context) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(c core.Context) (string, error) { return f(c) }

// Instruction represents either a static instruction string or a dynamic provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string. The
// text may reference context fields as {{.field}}.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(core.Context) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed and
// rendering template references against c.
func (i Instruction) Resolve(c core.Context) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(c)
	}

	return util.RenderTemplate(i.text, c)
}
