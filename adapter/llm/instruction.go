package llm

import (
	"context"
	"strings"

	"github.com/hupe1980/meepo/internal/util"
)

// InstructionFunc supplies dynamic instruction text at run time.
type InstructionFunc func(ctx context.Context, vars map[string]any) (string, error)

// Instruction is either a static (optionally templated) string or a dynamic
// function.
type Instruction struct {
	text string
	fn   InstructionFunc
}

// NewInstruction creates an instruction from text. Text containing template
// actions ({{ .name }}) is rendered with the run variables.
func NewInstruction(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromFunc creates an instruction from a function.
func NewInstructionFromFunc(fn InstructionFunc) Instruction { return Instruction{fn: fn} }

// IsStatic reports whether the instruction is backed by a string.
func (i Instruction) IsStatic() bool { return i.fn == nil }

// IsZero reports whether no instruction was configured.
func (i Instruction) IsZero() bool { return i.fn == nil && i.text == "" }

// Resolve returns the instruction text for a run.
func (i Instruction) Resolve(ctx context.Context, vars map[string]any) (string, error) {
	if i.fn != nil {
		return i.fn(ctx, vars)
	}
	if !strings.Contains(i.text, "{{") {
		return i.text, nil
	}
	return util.RenderTemplate(i.text, vars)
}
