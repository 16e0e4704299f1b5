// Package kit holds the pieces every framework adapter shares: the Base
// embedded by adapter agents and translation of native failures into the
// core error taxonomy.
package kit

import (
	"context"

	"github.com/hupe1980/meepo/bridge"
	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/logging"
	"github.com/hupe1980/meepo/telemetry"
)

// BaseOptions configure a Base.
type BaseOptions struct {
	// Memory enables the memory capability when non-nil.
	Memory    core.Memory
	Tools     []*core.ToolSpec
	Logger    logging.Logger
	Telemetry *telemetry.Instruments
}

// Base carries the state shared by all adapter agents: descriptor, memory
// facade, local tool set and logger. Adapters embed it and add Run.
type Base struct {
	desc      core.Descriptor
	memory    core.Memory
	tools     *core.ToolSet
	logger    logging.Logger
	telemetry *telemetry.Instruments
}

// NewBase validates desc and builds the shared state. SupportsMemory is
// derived from the presence of a memory facade.
func NewBase(desc core.Descriptor, optFns ...func(o *BaseOptions)) (*Base, error) {
	opts := BaseOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if desc.Name == "" {
		return nil, core.AdapterBindingError(desc.Framework, "agent name must be set", nil)
	}
	if desc.Kind == "" {
		desc.Kind = core.AgentKindAssistant
	}
	desc.SupportsMemory = opts.Memory != nil

	tools, err := core.NewToolSet(opts.Tools...)
	if err != nil {
		return nil, err
	}

	logger := logging.OrNoOp(opts.Logger)
	if cl, ok := logger.(*logging.ContextLogger); ok {
		logger = cl.WithAgent(desc.Name)
	}

	return &Base{
		desc:      desc,
		memory:    opts.Memory,
		tools:     tools,
		logger:    logger,
		telemetry: opts.Telemetry,
	}, nil
}

// Describe returns the descriptor by value.
func (b *Base) Describe() core.Descriptor { return b.desc }

// Memory returns the memory facade or CapabilityUnsupported.
func (b *Base) Memory() (core.Memory, error) {
	if !b.desc.SupportsMemory {
		return nil, core.CapabilityUnsupported(b.desc.Name, "memory")
	}
	return b.memory, nil
}

// Tools returns the local tool set.
func (b *Base) Tools() *core.ToolSet { return b.tools }

// Logger returns the agent scoped logger.
func (b *Base) Logger() logging.Logger { return b.logger }

// ToolsFor merges the run's foreign tools into the local set. A foreign tool
// reusing a local name fails with ToolNameCollision.
func (b *Base) ToolsFor(cfg core.RunConfig) (*core.ToolSet, error) {
	if len(cfg.Tools) == 0 {
		return b.tools, nil
	}
	return b.tools.With(cfg.Tools...)
}

// Wrap exposes self (the adapter agent embedding b) through the tool bridge.
func (b *Base) Wrap(self core.Agent, name, description string) (*core.ToolSpec, error) {
	return bridge.WrapAsTool(self, name, description, func(o *bridge.Options) {
		o.Logger = b.logger
		o.Telemetry = b.telemetry
	})
}

// Remember appends msgs to the session when memory is enabled and key is set.
// Facades that support multi-message appends commit the whole turn at once.
func (b *Base) Remember(ctx context.Context, key string, msgs ...core.Message) error {
	if b.memory == nil || key == "" || len(msgs) == 0 {
		return nil
	}
	if ext, ok := b.memory.(interface {
		Extend(ctx context.Context, key string, msgs ...core.Message) error
	}); ok {
		return ext.Extend(ctx, key, msgs...)
	}
	for _, m := range msgs {
		if err := b.memory.Append(ctx, key, m); err != nil {
			return err
		}
	}
	return nil
}

// Recall reads up to limit messages of the session, or nothing when memory is
// disabled or key is empty.
func (b *Base) Recall(ctx context.Context, key string, limit int) ([]core.Message, error) {
	if b.memory == nil || key == "" {
		return nil, nil
	}
	res, err := b.memory.Read(ctx, key, limit)
	if err != nil {
		return nil, err
	}
	return res.Messages, nil
}
