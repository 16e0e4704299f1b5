// Package fn adapts plain Go functions into agents.
package fn

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/meepo/adapter/internal/kit"
	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/logging"
	"github.com/hupe1980/meepo/telemetry"
)

// Framework is the descriptor framework tag of function agents.
const Framework = "fn"

// Func is the native surface: one input message in, one answer out.
type Func func(ctx context.Context, input core.Message) (core.Message, error)

// Definition describes a function agent.
type Definition struct {
	Name        string
	Description string
	Fn          Func
	Kind        core.AgentKind
	// DisableTools wraps the function without tool support.
	DisableTools bool
}

// Options configure an Agent.
type Options struct {
	ProviderTag string
	Memory      core.Memory
	Logger      logging.Logger
	Telemetry   *telemetry.Instruments
}

// Agent runs a Func behind core.Agent.
type Agent struct {
	*kit.Base
	fn Func
}

type toolsKey struct{}

// ToolsFrom returns the tools available to the current run: the run's
// foreign tools. It returns an empty set outside a run.
func ToolsFrom(ctx context.Context) *core.ToolSet {
	if ts, ok := ctx.Value(toolsKey{}).(*core.ToolSet); ok {
		return ts
	}
	ts, _ := core.NewToolSet()
	return ts
}

// New wraps def.
func New(def Definition, optFns ...func(o *Options)) (*Agent, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if def.Fn == nil {
		return nil, core.AdapterBindingError(Framework, "function must be set", nil)
	}
	base, err := kit.NewBase(core.Descriptor{
		Name:          def.Name,
		Description:   def.Description,
		Framework:     Framework,
		Provider:      opts.ProviderTag,
		Kind:          def.Kind,
		SupportsTools: !def.DisableTools,
	}, func(o *kit.BaseOptions) {
		o.Memory = opts.Memory
		o.Logger = opts.Logger
		o.Telemetry = opts.Telemetry
	})
	if err != nil {
		return nil, err
	}
	return &Agent{Base: base, fn: def.Fn}, nil
}

// AsTool implements core.Agent.
func (a *Agent) AsTool(name, description string) (*core.ToolSpec, error) {
	return a.Wrap(a, name, description)
}

// Run implements core.Agent. The answer is coerced into an assistant message.
func (a *Agent) Run(ctx context.Context, input core.Message, cfg core.RunConfig) (*core.RunResult, error) {
	start := time.Now()
	desc := a.Describe()

	input, err := input.Normalized()
	if err == nil {
		err = input.Validate()
	}
	if err != nil {
		return nil, err
	}

	if len(cfg.Tools) > 0 {
		if !desc.SupportsTools {
			return nil, core.CapabilityUnsupported(desc.Name, "tools")
		}
		tools, err := a.ToolsFor(cfg)
		if err != nil {
			return nil, err
		}
		ctx = context.WithValue(ctx, toolsKey{}, tools)
	}

	var out core.Message
	err = kit.Guard(Framework, func() error {
		var err error
		out, err = a.fn(ctx, input)
		return err
	})
	if err != nil {
		a.Logger().Warn("fn.run.error", "agent", desc.Name, "error", err.Error())
		return nil, err
	}

	out.Role = core.RoleAssistant
	out.ToolCallID = ""
	out, err = out.Normalized()
	if err == nil {
		err = out.Validate()
	}
	if err != nil {
		return nil, core.PermanentProviderError(Framework+".run", fmt.Errorf("function %q returned an invalid message: %w", desc.Name, err))
	}

	if len(out.ToolCalls) > 0 {
		return &core.RunResult{Output: out, ToolCalls: out.ToolCalls}, nil
	}
	if err := a.Remember(ctx, cfg.SessionKey, input, out); err != nil {
		return nil, err
	}
	a.Logger().Debug("fn.run.complete", "agent", desc.Name, "duration_ms", time.Since(start).Milliseconds())
	return core.Final(out, nil), nil
}
