// Package ollama implements provider.Provider on a local or remote Ollama
// server through its /api/chat endpoint.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/logging"
	"github.com/hupe1980/meepo/provider"
	"github.com/ollama/ollama/api"
)

// DefaultEndpoint is the address of a locally running Ollama server.
const DefaultEndpoint = "http://localhost:11434"

// Options configure the Ollama provider.
type Options struct {
	Defaults   core.ProviderConfig
	Logger     logging.Logger
	HTTPClient *http.Client
}

// Provider wraps the Ollama chat API behind provider.Provider.
type Provider struct {
	client *api.Client
	opts   Options
}

// New creates a provider for the server at creds.BaseURL (DefaultEndpoint if
// empty). Ollama does not authenticate; APIKey is ignored.
func New(creds core.Credentials, optFns ...func(o *Options)) (*Provider, error) {
	opts := Options{
		Defaults:   core.ProviderConfig{Model: "llama3.2"},
		HTTPClient: http.DefaultClient,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	endpoint := creds.BaseURL
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, core.AdapterBindingError("ollama", fmt.Sprintf("invalid endpoint %q", endpoint), err)
	}
	return &Provider{client: api.NewClient(base, opts.HTTPClient), opts: opts}, nil
}

// Factory builds Ollama providers for a registry.
func Factory(creds core.Credentials, defaults core.ProviderConfig, logger logging.Logger) (provider.Provider, error) {
	return New(creds, func(o *Options) {
		o.Defaults = o.Defaults.Merge(defaults)
		o.Logger = logger
	})
}

// Complete implements provider.Provider.
func (p *Provider) Complete(ctx context.Context, messages []core.Message, tools []*core.ToolSpec, cfg core.ProviderConfig) (*core.RunResult, error) {
	cfg, err := provider.Prepare(p.opts.Defaults, cfg, messages, tools)
	if err != nil {
		return nil, err
	}

	req, err := buildRequest(cfg, messages, tools)
	if err != nil {
		return nil, err
	}

	return provider.Call(ctx, p.Info(), cfg, p.opts.Logger, statusOf, func(ctx context.Context) (*core.RunResult, error) {
		var final api.ChatResponse
		if err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			final = resp
			return nil
		}); err != nil {
			return nil, err
		}
		return convertResponse(final)
	})
}

// Info returns metadata describing this provider.
func (p *Provider) Info() provider.Info {
	return provider.Info{Name: p.opts.Defaults.Model, Provider: "ollama", SupportsTools: true}
}

func statusOf(err error) (int, bool) {
	var se api.StatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	return 0, false
}

// buildRequest renders messages and tools through their JSON wire shapes so
// the request matches what the server would receive over HTTP.
func buildRequest(cfg core.ProviderConfig, messages []core.Message, tools []*core.ToolSpec) (*api.ChatRequest, error) {
	stream := false
	req := &api.ChatRequest{Model: cfg.Model, Stream: &stream, Options: map[string]any{}}

	for _, m := range messages {
		raw, err := core.ToProviderFormat("ollama", m)
		if err != nil {
			return nil, err
		}
		var msg api.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, core.NewError(core.KindInvalidMessage, "ollama.request", "message does not fit the chat API", err)
		}
		req.Messages = append(req.Messages, msg)
	}

	if cfg.Temperature != nil {
		req.Options["temperature"] = *cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		req.Options["num_predict"] = cfg.MaxTokens
	}

	// Ollama has no tool choice control; "none" withholds the tools.
	if cfg.ToolChoice.Mode == core.ToolChoiceNone {
		return req, nil
	}
	for _, t := range tools {
		if cfg.ToolChoice.Mode == core.ToolChoiceForced && t.Name != cfg.ToolChoice.Name {
			continue
		}
		raw, err := json.Marshal(map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
		if err != nil {
			return nil, core.NewError(core.KindInvalidConfig, "ollama.tools", fmt.Sprintf("tool %q cannot be encoded", t.Name), err)
		}
		var tool api.Tool
		if err := json.Unmarshal(raw, &tool); err != nil {
			return nil, core.NewError(core.KindInvalidConfig, "ollama.tools", fmt.Sprintf("tool %q has an unsupported schema", t.Name), err)
		}
		req.Tools = append(req.Tools, tool)
	}
	return req, nil
}

func convertResponse(resp api.ChatResponse) (*core.RunResult, error) {
	raw, err := core.EncodeJSON(resp.Message)
	if err != nil {
		return nil, core.PermanentProviderError("ollama.complete", err)
	}
	out, err := core.FromProviderFormat("ollama", raw)
	if err != nil {
		return nil, core.PermanentProviderError("ollama.complete", err)
	}
	for i := range out.ToolCalls {
		if out.ToolCalls[i].ID == "" {
			out.ToolCalls[i].ID = "call_" + core.NewID()
		}
	}

	usage := &core.Usage{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}
	return provider.Result(out, usage), nil
}
