// Package chat adapts message-handler agents: natives that receive a batch of
// chat messages and answer with a response, keeping their own conversation
// state. Optional native interfaces unlock tools, memory, model binding and
// state management.
package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/meepo/adapter/internal/kit"
	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/logging"
	"github.com/hupe1980/meepo/memory"
	"github.com/hupe1980/meepo/provider"
	"github.com/hupe1980/meepo/telemetry"
)

// Framework is the descriptor framework tag of chat agents.
const Framework = "chat"

// MetaInnerMessages is the output metadata key counting the handler's inner
// messages.
const MetaInnerMessages = "chat.inner_messages"

// Options configure an Agent.
type Options struct {
	// Provider is bound to handlers implementing ModelBinder.
	Provider provider.Provider
	// ProviderTag names the provider in the descriptor when Provider is nil.
	ProviderTag string
	// Memory is used when the handler does not own one.
	Memory core.Memory
	// HistoryLimit bounds the remembered messages replayed to handlers without
	// their own memory (default 20).
	HistoryLimit int
	Kind         core.AgentKind
	Logger       logging.Logger
	Telemetry    *telemetry.Instruments
}

// Agent wraps a Handler behind core.Agent.
type Agent struct {
	*kit.Base
	native      Handler
	ownsMemory  bool
	historySize int

	mu         sync.Mutex
	registered map[string]*core.ToolSpec
}

// New wraps h.
func New(h Handler, optFns ...func(o *Options)) (*Agent, error) {
	opts := Options{HistoryLimit: 20}
	for _, fn := range optFns {
		fn(&opts)
	}
	if h == nil {
		return nil, core.AdapterBindingError(Framework, "handler must be set", nil)
	}

	tag := opts.ProviderTag
	if opts.Provider != nil {
		tag = opts.Provider.Info().Provider
		if b, ok := h.(ModelBinder); ok {
			if err := b.BindModel(opts.Provider); err != nil {
				return nil, core.AdapterBindingError(Framework, "handler rejected the model", err)
			}
		}
	}

	mem := opts.Memory
	owner, ownsMemory := h.(MemoryOwner)
	if ownsMemory {
		native := owner.Memory()
		if native == nil {
			ownsMemory = false
		} else {
			mem = memory.NewFacade(&nativeStore{native: native, self: h.Name()}, func(o *memory.FacadeOptions) {
				o.Logger = opts.Logger
			})
		}
	}

	_, supportsTools := h.(ToolRegistrar)

	base, err := kit.NewBase(core.Descriptor{
		Name:          h.Name(),
		Description:   h.Description(),
		Framework:     Framework,
		Provider:      tag,
		Kind:          opts.Kind,
		SupportsTools: supportsTools,
	}, func(o *kit.BaseOptions) {
		o.Memory = mem
		o.Logger = opts.Logger
		o.Telemetry = opts.Telemetry
	})
	if err != nil {
		return nil, err
	}

	return &Agent{
		Base:        base,
		native:      h,
		ownsMemory:  ownsMemory,
		historySize: opts.HistoryLimit,
		registered:  map[string]*core.ToolSpec{},
	}, nil
}

// Native returns the wrapped handler.
func (a *Agent) Native() Handler { return a.native }

// AsTool implements core.Agent.
func (a *Agent) AsTool(name, description string) (*core.ToolSpec, error) {
	return a.Wrap(a, name, description)
}

// Run implements core.Agent. The handler receives the input, preceded by the
// remembered session history when the memory is not its own.
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

	if len(cfg.Tools) > 0 && !desc.SupportsTools {
		return nil, core.CapabilityUnsupported(desc.Name, "tools")
	}
	if err := a.registerTools(cfg.Tools); err != nil {
		return nil, err
	}

	batch := []Message{toNative(input)}
	if !a.ownsMemory {
		history, err := a.Recall(ctx, cfg.SessionKey, a.historySize)
		if err != nil {
			return nil, err
		}
		prefix := make([]Message, 0, len(history)+1)
		for _, m := range history {
			prefix = append(prefix, toNative(m))
		}
		batch = append(prefix, batch...)
	}

	var resp *Response
	err = kit.Guard(Framework, func() error {
		var err error
		resp, err = a.native.OnMessages(ctx, batch)
		return err
	})
	if err != nil {
		a.Logger().Warn("chat.run.error", "agent", desc.Name, "duration_ms", time.Since(start).Milliseconds(), "error", err.Error())
		return nil, err
	}
	if resp == nil {
		return nil, core.PermanentProviderError(Framework+".run", fmt.Errorf("handler %q returned no response", desc.Name))
	}

	reply := resp.ChatMessage
	if reply.Source == "" {
		reply.Source = desc.Name
	}
	if reply.Metadata == nil {
		reply.Metadata = map[string]string{}
	}
	out, err := fromNative(reply, desc.Name)
	if err != nil {
		return nil, err
	}
	if out.Role != core.RoleAssistant {
		out.Role = core.RoleAssistant
		out.ToolCallID = ""
	}
	if len(resp.InnerMessages) > 0 {
		out.Metadata[MetaInnerMessages] = int64(len(resp.InnerMessages))
	}

	if len(out.ToolCalls) > 0 {
		a.Logger().Info("chat.run.tools_requested", "agent", desc.Name, "count", len(out.ToolCalls))
		return &core.RunResult{Output: out, Usage: resp.Usage, ToolCalls: out.ToolCalls}, nil
	}

	if err := a.Remember(ctx, cfg.SessionKey, input, out); err != nil {
		return nil, err
	}
	a.Logger().Info("chat.run.complete", "agent", desc.Name, "inner_messages", len(resp.InnerMessages), "duration_ms", time.Since(start).Milliseconds())
	return core.Final(out, resp.Usage), nil
}

// registerTools hands foreign tools to the handler. A tool is registered once;
// a different tool reusing a registered name fails with ToolNameCollision.
func (a *Agent) registerTools(tools []*core.ToolSpec) error {
	if len(tools) == 0 {
		return nil
	}
	registrar := a.native.(ToolRegistrar)

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, t := range tools {
		if err := t.Validate(); err != nil {
			return err
		}
		if prev, ok := a.registered[t.Name]; ok {
			if prev == t {
				continue
			}
			return core.NewError(core.KindToolNameCollision, Framework+".tools",
				fmt.Sprintf("tool %q is already registered with %s", t.Name, a.Describe().Name), nil)
		}
		if err := kit.Guard(Framework, func() error { return registrar.RegisterTool(nativeTool(t)) }); err != nil {
			return err
		}
		a.registered[t.Name] = t
		a.Logger().Debug("chat.tool.registered", "agent", a.Describe().Name, "tool", t.Name)
	}
	return nil
}

func nativeTool(t *core.ToolSpec) NativeTool {
	return NativeTool{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
		Run: func(ctx context.Context, arguments string) (string, error) {
			if arguments == "" {
				arguments = "{}"
			}
			out, err := t.Call(ctx, core.ToolCall{ID: "call_" + core.NewID(), Name: t.Name, Arguments: []byte(arguments)})
			if err != nil {
				return "", err
			}
			return out.Text(), nil
		},
	}
}

// Reset drops the handler's conversation state.
func (a *Agent) Reset(ctx context.Context) error {
	r, ok := a.native.(Resetter)
	if !ok {
		return core.CapabilityUnsupported(a.Describe().Name, "reset")
	}
	return kit.Guard(Framework, func() error { return r.OnReset(ctx) })
}

// SaveState exports the handler's state.
func (a *Agent) SaveState(ctx context.Context) (map[string]any, error) {
	s, ok := a.native.(StateSaver)
	if !ok {
		return nil, core.CapabilityUnsupported(a.Describe().Name, "save_state")
	}
	var state map[string]any
	err := kit.Guard(Framework, func() error {
		var err error
		state, err = s.SaveState(ctx)
		return err
	})
	return state, err
}

// LoadState restores state exported by SaveState.
func (a *Agent) LoadState(ctx context.Context, state map[string]any) error {
	l, ok := a.native.(StateLoader)
	if !ok {
		return core.CapabilityUnsupported(a.Describe().Name, "load_state")
	}
	return kit.Guard(Framework, func() error { return l.LoadState(ctx, state) })
}

// Close releases the handler's resources. Handlers without resources close
// trivially.
func (a *Agent) Close(ctx context.Context) error {
	c, ok := a.native.(Closer)
	if !ok {
		return nil
	}
	return kit.Guard(Framework, func() error { return c.Close(ctx) })
}
