// Package llm is the built-in model agent framework: an instruction, a
// provider and a local tool set driven by a call-model / execute-tools loop.
//
// Tool calls that name a local tool are executed in parallel with results
// kept in call order. Calls naming tools the agent does not know are raised to
// the caller in a non-terminal RunResult.
package llm

import (
	"context"
	"time"

	"github.com/hupe1980/meepo/adapter/internal/kit"
	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/logging"
	"github.com/hupe1980/meepo/provider"
	"github.com/hupe1980/meepo/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Framework is the descriptor framework tag of llm agents.
const Framework = "llm"

// Definition is the native description of a model agent.
type Definition struct {
	Name        string
	Description string
	Instruction Instruction
	Tools       []*core.ToolSpec
	Kind        core.AgentKind

	// Config holds provider settings applied to every run. RunConfig.Provider
	// overrides them per run.
	Config core.ProviderConfig

	// MaxSteps bounds model calls per run (default 10).
	MaxSteps int
	// MaxParallelTools bounds concurrent tool calls; <= 0 runs a batch at once.
	MaxParallelTools int
	// ToolTimeout bounds each local tool call (default 30s).
	ToolTimeout time.Duration
	// HistoryLimit is the number of remembered messages loaded per run
	// (default 20).
	HistoryLimit int
}

// Options configure an Agent.
type Options struct {
	Memory    core.Memory
	Logger    logging.Logger
	Telemetry *telemetry.Instruments
}

// Agent runs a Definition against a provider and satisfies core.Agent.
type Agent struct {
	*kit.Base
	def      Definition
	provider provider.Provider
	executor *Executor
	tel      *telemetry.Instruments
}

// New binds def to p.
func New(def Definition, p provider.Provider, optFns ...func(o *Options)) (*Agent, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if p == nil {
		return nil, core.AdapterBindingError(Framework, "provider must be set", nil)
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Default()
	}
	if def.MaxSteps <= 0 {
		def.MaxSteps = 10
	}
	if def.ToolTimeout <= 0 {
		def.ToolTimeout = 30 * time.Second
	}
	if def.HistoryLimit == 0 {
		def.HistoryLimit = 20
	}

	base, err := kit.NewBase(core.Descriptor{
		Name:          def.Name,
		Description:   def.Description,
		Framework:     Framework,
		Provider:      p.Info().Provider,
		Kind:          def.Kind,
		SupportsTools: true,
	}, func(o *kit.BaseOptions) {
		o.Memory = opts.Memory
		o.Tools = def.Tools
		o.Logger = opts.Logger
		o.Telemetry = opts.Telemetry
	})
	if err != nil {
		return nil, err
	}

	return &Agent{
		Base:     base,
		def:      def,
		provider: p,
		tel:      opts.Telemetry,
		executor: NewExecutor(func(o *ExecutorOptions) {
			o.MaxParallel = def.MaxParallelTools
			o.Timeout = def.ToolTimeout
			o.Logger = base.Logger()
		}),
	}, nil
}

// AsTool implements core.Agent.
func (a *Agent) AsTool(name, description string) (*core.ToolSpec, error) {
	return a.Wrap(a, name, description)
}

// Provider returns the bound provider.
func (a *Agent) Provider() provider.Provider { return a.provider }

// Run implements core.Agent. The completed turn (input, tool traffic and final
// answer) is committed to memory in one append when cfg.SessionKey is set.
// A run that stops to hand foreign tool calls back to the caller, fails or is
// cancelled leaves memory untouched.
func (a *Agent) Run(ctx context.Context, input core.Message, cfg core.RunConfig) (res *core.RunResult, err error) {
	start := time.Now()
	desc := a.Describe()

	ctx, span := a.tel.Tracer.Start(ctx, "llm.run "+desc.Name)
	span.SetAttributes(
		attribute.String(telemetry.AttrAgentName, desc.Name),
		attribute.String(telemetry.AttrProvider, desc.Provider),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	logger := a.Logger()
	if cl, ok := logger.(*logging.ContextLogger); ok && cfg.SessionKey != "" {
		logger = cl.WithSession(cfg.SessionKey)
	}

	input, err = input.Normalized()
	if err == nil {
		err = input.Validate()
	}
	if err != nil {
		return nil, err
	}

	tools, err := a.ToolsFor(cfg)
	if err != nil {
		return nil, err
	}

	messages, err := a.prompt(ctx, input, cfg)
	if err != nil {
		return nil, err
	}

	logger.Debug("llm.run.start", "agent", desc.Name, "messages", len(messages), "tools", tools.Len())

	turn := []core.Message{input}
	limiter := newStepLimiter(a.def.MaxSteps)
	providerCfg := a.def.Config.Merge(cfg.Provider)
	var usage *core.Usage

	for {
		if err := limiter.Increment(); err != nil {
			logger.Warn("llm.run.step_limit", "agent", desc.Name, "max_steps", a.def.MaxSteps)
			return nil, core.PermanentProviderError(Framework+".run", err).WithContext("max_steps", a.def.MaxSteps)
		}

		callStart := time.Now()
		step, err := a.provider.Complete(ctx, messages, tools.List(), providerCfg)
		if err != nil {
			logger.Warn("llm.model.error", "agent", desc.Name, "step", limiter.Count(), "duration_ms", time.Since(callStart).Milliseconds(), "error", err.Error())
			return nil, kit.Translate(Framework, err)
		}
		usage = core.MergeUsage(usage, step.Usage)

		out := step.Output
		if len(out.ToolCalls) == 0 && len(step.ToolCalls) > 0 {
			out.ToolCalls = step.ToolCalls
		}
		messages = append(messages, out)
		turn = append(turn, out)

		if len(out.ToolCalls) == 0 {
			if err := a.Remember(ctx, cfg.SessionKey, turn...); err != nil {
				return nil, err
			}
			logger.Info("llm.run.complete", "agent", desc.Name, "steps", limiter.Count(), "duration_ms", time.Since(start).Milliseconds())
			return core.Final(out, usage), nil
		}

		local, foreign := partition(tools, out.ToolCalls)
		results, err := a.executor.Execute(ctx, tools, local)
		if err != nil {
			return nil, err
		}
		messages = append(messages, results...)
		turn = append(turn, results...)

		if len(foreign) > 0 {
			// The turn has unanswered calls; only completed turns are remembered.
			logger.Info("llm.run.tools_requested", "agent", desc.Name, "count", len(foreign))
			return &core.RunResult{Output: out, Usage: usage, ToolCalls: foreign}, nil
		}
	}
}

// prompt assembles the instruction, remembered history and input.
func (a *Agent) prompt(ctx context.Context, input core.Message, cfg core.RunConfig) ([]core.Message, error) {
	var messages []core.Message

	if !a.def.Instruction.IsZero() {
		text, err := a.def.Instruction.Resolve(ctx, cfg.Variables)
		if err != nil {
			return nil, core.NewError(core.KindInvalidConfig, Framework+".instruction", "failed to resolve instruction", err)
		}
		if text != "" {
			messages = append(messages, core.SystemMessage(text))
		}
	}

	history, err := a.Recall(ctx, cfg.SessionKey, a.def.HistoryLimit)
	if err != nil {
		return nil, err
	}
	messages = append(messages, history...)
	return append(messages, input), nil
}

// partition splits calls into those served by tools and the rest, each in
// call order.
func partition(tools *core.ToolSet, calls []core.ToolCall) (local, foreign []core.ToolCall) {
	for _, c := range calls {
		if _, ok := tools.Get(c.Name); ok {
			local = append(local, c)
		} else {
			foreign = append(foreign, c)
		}
	}
	return local, foreign
}
