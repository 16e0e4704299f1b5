// Package gemini implements provider.Provider on the Google Gen AI SDK
// (Gemini API backend).
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/logging"
	"github.com/hupe1980/meepo/provider"
	"google.golang.org/genai"
)

// Options configure the Gemini provider.
type Options struct {
	Defaults core.ProviderConfig
	Logger   logging.Logger
}

// Provider wraps Models.GenerateContent behind provider.Provider.
type Provider struct {
	client *genai.Client
	opts   Options
}

// New creates a provider with an explicit API key. The client is built with
// context.Background since construction performs no I/O for the Gemini API
// backend.
func New(creds core.Credentials, optFns ...func(o *Options)) (*Provider, error) {
	cfg := &genai.ClientConfig{APIKey: creds.APIKey, Backend: genai.BackendGeminiAPI}
	if creds.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: creds.BaseURL}
	}
	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, core.AdapterBindingError("gemini", "failed to create Gemini client", err)
	}
	return NewFromClient(client, optFns...), nil
}

// NewFromClient creates a provider from an existing client.
func NewFromClient(client *genai.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{Defaults: core.ProviderConfig{Model: "gemini-2.0-flash", MaxTokens: 4096}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Provider{client: client, opts: opts}
}

// Factory builds Gemini providers for a registry.
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

	system, rest := provider.SplitSystem(messages)
	contents, err := buildContents(rest)
	if err != nil {
		return nil, err
	}
	config, err := buildConfig(cfg, system, tools)
	if err != nil {
		return nil, err
	}

	return provider.Call(ctx, p.Info(), cfg, p.opts.Logger, statusOf, func(ctx context.Context) (*core.RunResult, error) {
		resp, err := p.client.Models.GenerateContent(ctx, cfg.Model, contents, config)
		if err != nil {
			return nil, err
		}
		return convertResponse(resp)
	})
}

// Info returns metadata describing this provider.
func (p *Provider) Info() provider.Info {
	return provider.Info{Name: p.opts.Defaults.Model, Provider: "gemini", SupportsTools: true}
}

func statusOf(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code, true
	}
	return 0, false
}

func buildConfig(cfg core.ProviderConfig, system string, tools []*core.ToolSpec) (*genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if cfg.Temperature != nil {
		t := float32(*cfg.Temperature)
		config.Temperature = &t
	}
	if cfg.MaxTokens > 0 {
		config.MaxOutputTokens = int32(cfg.MaxTokens)
	}
	if len(tools) == 0 {
		return config, nil
	}

	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		schema, err := toSchema(t.Parameters)
		if err != nil {
			return nil, core.NewError(core.KindInvalidConfig, "gemini.tools", fmt.Sprintf("tool %q has an unsupported schema", t.Name), err)
		}
		decls = append(decls, &genai.FunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: schema})
	}
	config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}

	switch cfg.ToolChoice.Mode {
	case core.ToolChoiceNone:
		config.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeNone}}
	case core.ToolChoiceForced:
		config.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode:                 genai.FunctionCallingConfigModeAny,
			AllowedFunctionNames: []string{cfg.ToolChoice.Name},
		}}
	case core.ToolChoiceAuto:
		config.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto}}
	}
	return config, nil
}

func buildContents(messages []core.Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		text := m.Text()
		switch m.Role {
		case core.RoleAssistant:
			c := &genai.Content{Role: "model"}
			if text != "" {
				c.Parts = append(c.Parts, &genai.Part{Text: text})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal(tc.Arguments, &args); err != nil {
					return nil, core.NewError(core.KindInvalidMessage, "gemini.contents", fmt.Sprintf("tool call %q arguments are not an object", tc.Name), err)
				}
				c.Parts = append(c.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			contents = append(contents, c)
		case core.RoleTool:
			var response map[string]any
			if err := json.Unmarshal([]byte(text), &response); err != nil || response == nil {
				response = map[string]any{"output": text}
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       m.ToolCallID,
					Name:     m.Name,
					Response: response,
				}}},
			})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: text}}})
		}
	}
	return contents, nil
}

func convertResponse(resp *genai.GenerateContentResponse) (*core.RunResult, error) {
	var usage *core.Usage
	if resp.UsageMetadata != nil {
		usage = &core.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		return nil, core.PermanentProviderError("gemini.complete", errors.New("no candidates returned"))
	}

	var text strings.Builder
	var calls []core.ToolCall
	if content := resp.Candidates[0].Content; content != nil {
		for i, part := range content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			if fc := part.FunctionCall; fc != nil {
				args, err := core.EncodeJSON(fc.Args)
				if err != nil {
					return nil, core.PermanentProviderError("gemini.complete", err)
				}
				id := fc.ID
				if id == "" {
					id = fmt.Sprintf("%s-%d", fc.Name, i)
				}
				calls = append(calls, core.ToolCall{ID: id, Name: fc.Name, Arguments: args})
			}
		}
	}

	out, err := core.NewMessage(core.RoleAssistant, text.String(), core.WithToolCalls(calls...))
	if err != nil {
		return nil, err
	}
	return provider.Result(out, usage), nil
}

// toSchema converts a JSON schema map into genai.Schema, upper-casing type
// names as the Gemini schema dialect expects.
func toSchema(params map[string]any) (*genai.Schema, error) {
	if len(params) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(upperTypes(params))
	if err != nil {
		return nil, err
	}
	var schema genai.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

func upperTypes(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if k == "type" {
				if s, ok := val.(string); ok {
					out[k] = strings.ToUpper(s)
					continue
				}
			}
			out[k] = upperTypes(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = upperTypes(val)
		}
		return out
	}
	return v
}
