// Package anthropic implements provider.Provider on the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/logging"
	"github.com/hupe1980/meepo/provider"
)

// Options configure the Anthropic provider.
type Options struct {
	Defaults core.ProviderConfig
	Logger   logging.Logger
}

// Provider wraps the Messages API behind provider.Provider.
type Provider struct {
	client *anthropic.Client
	opts   Options
}

// New creates a provider from explicit credentials.
func New(creds core.Credentials, optFns ...func(o *Options)) *Provider {
	clientOpts := []option.RequestOption{option.WithAPIKey(creds.APIKey), option.WithMaxRetries(0)}
	if creds.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(creds.BaseURL))
	}
	client := anthropic.NewClient(clientOpts...)
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a provider from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{
		Defaults: core.ProviderConfig{
			Model:     string(anthropic.ModelClaude3_5Sonnet20241022),
			MaxTokens: 4096,
		},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Provider{client: client, opts: opts}
}

// Factory builds Anthropic providers for a registry.
func Factory(creds core.Credentials, defaults core.ProviderConfig, logger logging.Logger) (provider.Provider, error) {
	return New(creds, func(o *Options) {
		o.Defaults = o.Defaults.Merge(defaults)
		o.Logger = logger
	}), nil
}

// Complete implements provider.Provider.
func (p *Provider) Complete(ctx context.Context, messages []core.Message, tools []*core.ToolSpec, cfg core.ProviderConfig) (*core.RunResult, error) {
	cfg, err := provider.Prepare(p.opts.Defaults, cfg, messages, tools)
	if err != nil {
		return nil, err
	}

	system, rest := provider.SplitSystem(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		Messages:  buildMessages(rest),
		MaxTokens: int64(cfg.MaxTokens),
	}
	if params.MaxTokens == 0 {
		params.MaxTokens = 4096
	}
	if cfg.Temperature != nil {
		params.Temperature = anthropic.Float(*cfg.Temperature)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = buildTools(tools)
		switch cfg.ToolChoice.Mode {
		case core.ToolChoiceNone:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		case core.ToolChoiceForced:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: cfg.ToolChoice.Name}}
		case core.ToolChoiceAuto:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	return provider.Call(ctx, p.Info(), cfg, p.opts.Logger, statusOf, func(ctx context.Context) (*core.RunResult, error) {
		resp, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return nil, err
		}

		var text string
		var calls []core.ToolCall
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text += block.AsText().Text
			case "tool_use":
				tu := block.AsToolUse()
				args, err := core.EncodeJSON(tu.Input)
				if err != nil {
					return nil, core.PermanentProviderError("anthropic.complete", err)
				}
				calls = append(calls, core.ToolCall{ID: tu.ID, Name: tu.Name, Arguments: args})
			}
		}

		out, err := core.NewMessage(core.RoleAssistant, text, core.WithToolCalls(calls...))
		if err != nil {
			return nil, err
		}
		in, outTok := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
		return provider.Result(out, &core.Usage{PromptTokens: in, CompletionTokens: outTok, TotalTokens: in + outTok}), nil
	})
}

// Info returns metadata describing this provider.
func (p *Provider) Info() provider.Info {
	return provider.Info{Name: p.opts.Defaults.Model, Provider: "anthropic", SupportsTools: true}
}

func statusOf(err error) (int, bool) {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}

// buildMessages converts the non-system transcript. Consecutive tool results
// are merged into one user turn as the API expects.
func buildMessages(messages []core.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range messages {
		text := m.Text()
		switch m.Role {
		case core.RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, text, false))
			continue
		case core.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			flush()
			if text != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		}
	}
	flush()
	return out
}

func buildTools(tools []*core.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if props, ok := t.Parameters["properties"]; ok {
			schema.Properties = props
		}
		schema.Required = requiredOf(t.Parameters["required"])
		out[i] = anthropic.ToolUnionParamOfTool(schema, t.Name)
		if out[i].OfTool != nil && t.Description != "" {
			out[i].OfTool.Description = anthropic.String(t.Description)
		}
	}
	return out
}

func requiredOf(v any) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, s := range r {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
