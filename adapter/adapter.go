// Package adapter turns native agents of the supported frameworks into
// core.Agent values.
//
// FromAgent inspects the native object once, at construction, and binds the
// matching adapter:
//
//	core.Agent                         returned unchanged
//	llm.Definition / *llm.Definition   adapter/llm, with the tagged provider
//	chat.Handler                       adapter/chat, provider bound via ModelBinder
//	fn.Definition / fn.Func / func     adapter/fn
//
// Anything else fails with an AdapterBindingError.
package adapter

import (
	"context"
	"fmt"

	"github.com/hupe1980/meepo/adapter/chat"
	"github.com/hupe1980/meepo/adapter/fn"
	"github.com/hupe1980/meepo/adapter/internal/kit"
	"github.com/hupe1980/meepo/adapter/llm"
	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/logging"
	"github.com/hupe1980/meepo/provider"
	"github.com/hupe1980/meepo/provider/builtin"
	"github.com/hupe1980/meepo/telemetry"
)

// Base is the state shared by every adapter agent.
type Base = kit.Base

// BaseOptions configure a Base.
type BaseOptions = kit.BaseOptions

// NewBase builds the shared adapter state for custom adapters.
func NewBase(desc core.Descriptor, optFns ...func(o *BaseOptions)) (*Base, error) {
	return kit.NewBase(desc, optFns...)
}

// Translate maps a native framework failure into the core error taxonomy.
func Translate(framework string, err error) error { return kit.Translate(framework, err) }

// Guard runs fn, translating its error and recovering a panic.
func Guard(framework string, fn func() error) error { return kit.Guard(framework, fn) }

// Options configure FromAgent.
type Options struct {
	// Registry resolves provider tags (default builtin.DefaultRegistry()).
	Registry *provider.Registry
	// Provider holds defaults for the constructed provider.
	Provider  core.ProviderConfig
	Memory    core.Memory
	Logger    logging.Logger
	Telemetry *telemetry.Instruments
}

// FromAgent wraps native for providerTag. The tag is resolved before the
// native is inspected, so an unknown tag fails with UnsupportedProvider even
// for natives no adapter accepts.
func FromAgent(native any, providerTag string, creds core.Credentials, optFns ...func(o *Options)) (core.Agent, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Registry == nil {
		opts.Registry = builtin.DefaultRegistry()
	}
	logger := logging.OrNoOp(opts.Logger)

	if !opts.Registry.Has(providerTag) {
		return nil, core.UnsupportedProvider(providerTag)
	}

	newProvider := func() (provider.Provider, error) {
		return opts.Registry.New(providerTag, creds, opts.Provider, logger)
	}

	var (
		agent core.Agent
		err   error
	)
	switch n := native.(type) {
	case nil:
		return nil, core.AdapterBindingError("adapter", "native agent is nil", nil)
	case core.Agent:
		agent = n
	case llm.Definition:
		agent, err = bindLLM(n, newProvider, opts)
	case *llm.Definition:
		if n == nil {
			return nil, core.AdapterBindingError(llm.Framework, "definition is nil", nil)
		}
		agent, err = bindLLM(*n, newProvider, opts)
	case chat.Handler:
		agent, err = bindChat(n, providerTag, newProvider, opts)
	case fn.Definition:
		agent, err = bindFn(n, providerTag, opts)
	case fn.Func:
		agent, err = bindFn(fn.Definition{Name: "fn", Fn: n}, providerTag, opts)
	case func(context.Context, core.Message) (core.Message, error):
		agent, err = bindFn(fn.Definition{Name: "fn", Fn: n}, providerTag, opts)
	default:
		return nil, core.AdapterBindingError("adapter", fmt.Sprintf("unsupported agent type %T", native), nil)
	}
	if err != nil {
		return nil, err
	}

	d := agent.Describe()
	logger.Debug("adapter.bound", "agent", d.Name, "framework", d.Framework, "provider", providerTag)
	return agent, nil
}

func bindLLM(def llm.Definition, newProvider func() (provider.Provider, error), opts Options) (core.Agent, error) {
	p, err := newProvider()
	if err != nil {
		return nil, err
	}
	return llm.New(def, p, func(o *llm.Options) {
		o.Memory = opts.Memory
		o.Logger = opts.Logger
		o.Telemetry = opts.Telemetry
	})
}

// bindChat binds a provider only for handlers that accept one.
func bindChat(h chat.Handler, tag string, newProvider func() (provider.Provider, error), opts Options) (core.Agent, error) {
	var p provider.Provider
	if _, ok := h.(chat.ModelBinder); ok {
		var err error
		if p, err = newProvider(); err != nil {
			return nil, err
		}
	}
	return chat.New(h, func(o *chat.Options) {
		o.Provider = p
		o.ProviderTag = tag
		o.Memory = opts.Memory
		o.Logger = opts.Logger
		o.Telemetry = opts.Telemetry
	})
}

func bindFn(def fn.Definition, tag string, opts Options) (core.Agent, error) {
	return fn.New(def, func(o *fn.Options) {
		o.ProviderTag = tag
		o.Memory = opts.Memory
		o.Logger = opts.Logger
		o.Telemetry = opts.Telemetry
	})
}
