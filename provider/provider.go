// Package provider defines the uniform LLM backend interface used by every
// adapter, a registry keyed by provider tag, error classification helpers,
// cost estimation and a scripted test double. Concrete backends live in the
// subpackages openai, anthropic, gemini and ollama.
package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/logging"
)

// Info contains metadata about a provider implementation.
type Info struct {
	Name          string `json:"name"`     // default model
	Provider      string `json:"provider"` // tag: "openai", "anthropic", ...
	SupportsTools bool   `json:"supports_tools"`
}

// Provider is the minimal interface adapters need to drive generation. A
// completion returns a terminal result, or a non-terminal one whose ToolCalls
// the caller is expected to execute.
type Provider interface {
	Complete(ctx context.Context, messages []core.Message, tools []*core.ToolSpec, cfg core.ProviderConfig) (*core.RunResult, error)
	Info() Info
}

// Factory constructs a provider from explicit credentials and default call
// configuration.
type Factory func(creds core.Credentials, defaults core.ProviderConfig, logger logging.Logger) (Provider, error)

// Registry maps provider tags to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds or replaces the factory for tag.
func (r *Registry) Register(tag string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[tag] = f
}

// Has reports whether tag is registered.
func (r *Registry) Has(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[tag]
	return ok
}

// New builds the provider registered under tag. Unknown tags fail with
// UnsupportedProvider.
func (r *Registry) New(tag string, creds core.Credentials, defaults core.ProviderConfig, logger logging.Logger) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, core.UnsupportedProvider(tag)
	}
	return f(creds, defaults, logging.OrNoOp(logger))
}

// Tags lists the registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.factories))
	for t := range r.factories {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Prepare merges per-call overrides into the provider defaults and validates
// the result against the messages and tools of the call.
func Prepare(defaults, override core.ProviderConfig, messages []core.Message, tools []*core.ToolSpec) (core.ProviderConfig, error) {
	cfg := defaults.Merge(override)
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	if err := cfg.Validate(names...); err != nil {
		return cfg, err
	}
	if len(messages) == 0 {
		return cfg, core.NewError(core.KindInvalidMessage, "provider", "at least one message is required", nil)
	}
	for _, m := range messages {
		if err := m.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// SplitSystem separates system turns (concatenated with blank lines) from the
// rest of the transcript for backends that take the system prompt apart.
func SplitSystem(messages []core.Message) (string, []core.Message) {
	var system string
	rest := make([]core.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == core.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

// Result assembles a RunResult from the assistant output of a completion.
// The result is non-terminal iff the output requests tool calls.
func Result(out core.Message, usage *core.Usage) *core.RunResult {
	return &core.RunResult{
		Output:    out,
		Usage:     usage,
		ToolCalls: out.ToolCalls,
		Terminal:  len(out.ToolCalls) == 0,
	}
}

// Call runs fn under the per-call timeout of cfg, classifies its error and
// logs the outcome. status extracts an HTTP-like status code from backend
// errors.
func Call(ctx context.Context, info Info, cfg core.ProviderConfig, logger logging.Logger, status StatusFunc, fn func(ctx context.Context) (*core.RunResult, error)) (*core.RunResult, error) {
	callCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	op := info.Provider + ".complete"
	start := time.Now()
	res, err := fn(callCtx)
	dur := time.Since(start)

	logger = logging.OrNoOp(logger)
	cl, contextual := logger.(*logging.ContextLogger)
	if err != nil {
		err = Classify(ctx, op, err, status)
		if contextual {
			cl.WithContext("transient", core.IsTransient(err)).LogProviderCall(info.Provider, cfg.Model, 0, dur, err)
		} else {
			logger.Warn("provider.call.error", "provider", info.Provider, "model", cfg.Model, "duration", dur, "transient", core.IsTransient(err), "error", err.Error())
		}
		return nil, err
	}

	if res.Usage != nil && !res.Usage.Cost.Known {
		res.Usage.Cost = EstimateCost(info.Provider, cfg.Model, *res.Usage)
	}
	tokens := 0
	if res.Usage != nil {
		tokens = res.Usage.TotalTokens
	}
	if contextual {
		cl.LogProviderCall(info.Provider, cfg.Model, tokens, dur, nil)
	} else {
		logger.Debug("provider.call.success", "provider", info.Provider, "model", cfg.Model, "duration", dur, "token_count", tokens, "terminal", res.Terminal)
	}
	return res, nil
}
