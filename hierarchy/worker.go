package hierarchy

import (
	"context"

	"github.com/hupe1980/meepo/core"
)

// Worker is anything the coordinator can dispatch to. Every core.Agent is a
// Worker.
type Worker interface {
	Describe() core.Descriptor
	Run(ctx context.Context, input core.Message, cfg core.RunConfig) (*core.RunResult, error)
}

var _ Worker = core.Agent(nil)

// ToolWorker turns a tool (typically an agent wrapped by the tool bridge) into
// a worker. The task input is passed as the "input" argument and the session
// key, when set, as "session_key".
func ToolWorker(spec *core.ToolSpec) Worker {
	return &toolWorker{spec: spec}
}

type toolWorker struct {
	spec *core.ToolSpec
}

func (w *toolWorker) Describe() core.Descriptor {
	return core.Descriptor{
		Name:          w.spec.Name,
		Description:   w.spec.Description,
		Framework:     "tool",
		Kind:          core.AgentKindCustom,
		SupportsTools: true,
	}
}

func (w *toolWorker) Run(ctx context.Context, input core.Message, cfg core.RunConfig) (*core.RunResult, error) {
	args := map[string]any{"input": input.Text()}
	if cfg.SessionKey != "" {
		args["session_key"] = cfg.SessionKey
	}
	raw, err := core.EncodeJSON(args)
	if err != nil {
		return nil, core.ToolInvocationError(w.spec.Name, err)
	}

	out, err := w.spec.Call(ctx, core.ToolCall{ID: "task_" + core.NewID(), Name: w.spec.Name, Arguments: raw})
	if err != nil {
		return nil, err
	}

	opts := []core.MessageOption{core.WithName(w.spec.Name), core.WithMetadata(out.Metadata)}
	if len(out.Data) > 0 {
		opts = append(opts, core.WithData(out.Data))
	}
	msg, err := core.NewMessage(core.RoleAssistant, out.Text(), opts...)
	if err != nil {
		return nil, core.ToolInvocationError(w.spec.Name, err)
	}
	return core.Final(msg, nil), nil
}

// FuncWorker turns a function into a worker.
func FuncWorker(name string, fn func(ctx context.Context, input core.Message) (core.Message, error)) Worker {
	return &funcWorker{name: name, fn: fn}
}

type funcWorker struct {
	name string
	fn   func(ctx context.Context, input core.Message) (core.Message, error)
}

func (w *funcWorker) Describe() core.Descriptor {
	return core.Descriptor{Name: w.name, Framework: "func", Kind: core.AgentKindCustom}
}

func (w *funcWorker) Run(ctx context.Context, input core.Message, _ core.RunConfig) (*core.RunResult, error) {
	out, err := w.fn(ctx, input)
	if err != nil {
		return nil, err
	}
	out.Role = core.RoleAssistant
	out.ToolCallID = ""
	return core.Final(out, nil), nil
}
