package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/meepo/core"
)

// RunFunc is the behaviour of a StubAgent.
type RunFunc func(ctx context.Context, input core.Message, cfg core.RunConfig) (*core.RunResult, error)

// StubAgent is a core.Agent double with a scripted Run. It records every
// input it receives.
type StubAgent struct {
	Desc    core.Descriptor
	Fn      RunFunc
	Mem     core.Memory
	AsToolF func(name, description string) (*core.ToolSpec, error)

	mu     sync.Mutex
	inputs []core.Message
	cfgs   []core.RunConfig
}

// NewStubAgent creates a tool-capable stub that echoes its input.
func NewStubAgent(name string) *StubAgent {
	return &StubAgent{
		Desc: core.Descriptor{Name: name, Description: name + " stub", Framework: "stub", Provider: "scripted", SupportsTools: true},
		Fn: func(_ context.Context, input core.Message, _ core.RunConfig) (*core.RunResult, error) {
			return core.Final(core.AssistantMessage(name+": "+input.Text()), nil), nil
		},
	}
}

// Replying makes the stub answer with text (chainable).
func (a *StubAgent) Replying(text string) *StubAgent {
	a.Fn = func(context.Context, core.Message, core.RunConfig) (*core.RunResult, error) {
		return core.Final(core.AssistantMessage(text), &core.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}), nil
	}
	return a
}

// Failing makes every run fail with err (chainable).
func (a *StubAgent) Failing(err error) *StubAgent {
	a.Fn = func(context.Context, core.Message, core.RunConfig) (*core.RunResult, error) { return nil, err }
	return a
}

// Run implements core.Agent.
func (a *StubAgent) Run(ctx context.Context, input core.Message, cfg core.RunConfig) (*core.RunResult, error) {
	a.mu.Lock()
	a.inputs = append(a.inputs, input.Clone())
	a.cfgs = append(a.cfgs, cfg)
	a.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.Fn(ctx, input, cfg)
}

// AsTool implements core.Agent.
func (a *StubAgent) AsTool(name, description string) (*core.ToolSpec, error) {
	if a.AsToolF == nil {
		return nil, core.CapabilityUnsupported(a.Desc.Name, "as_tool")
	}
	return a.AsToolF(name, description)
}

// Memory implements core.Agent.
func (a *StubAgent) Memory() (core.Memory, error) {
	if a.Mem == nil {
		return nil, core.CapabilityUnsupported(a.Desc.Name, "memory")
	}
	return a.Mem, nil
}

// Describe implements core.Agent.
func (a *StubAgent) Describe() core.Descriptor { return a.Desc }

// Inputs returns the recorded inputs.
func (a *StubAgent) Inputs() []core.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]core.Message(nil), a.inputs...)
}

// Configs returns the recorded run configurations.
func (a *StubAgent) Configs() []core.RunConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]core.RunConfig(nil), a.cfgs...)
}
