// Package openai implements provider.Provider on the OpenAI Chat Completions
// API. The same client speaks to OpenRouter, which exposes an
// OpenAI-compatible endpoint in front of many model vendors.
package openai

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/logging"
	"github.com/hupe1980/meepo/provider"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// Options configure the OpenAI provider.
type Options struct {
	// Tag is reported in Info and used for cost lookup ("openai" or "openrouter").
	Tag      string
	Defaults core.ProviderConfig
	Logger   logging.Logger
}

// Provider wraps the Chat Completions API behind provider.Provider.
type Provider struct {
	client *openai.Client
	opts   Options
}

// New creates a provider from explicit credentials. Nothing is read from the
// environment.
func New(creds core.Credentials, optFns ...func(o *Options)) *Provider {
	reqOpts := []option.RequestOption{option.WithAPIKey(creds.APIKey), option.WithMaxRetries(0)}
	if creds.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(creds.BaseURL))
	}
	if creds.Organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(creds.Organization))
	}
	client := openai.NewClient(reqOpts...)
	return NewFromClient(&client, optFns...)
}

// NewOpenRouter creates a provider talking to OpenRouter. An empty BaseURL
// defaults to OpenRouterBaseURL.
func NewOpenRouter(creds core.Credentials, optFns ...func(o *Options)) *Provider {
	if creds.BaseURL == "" {
		creds.BaseURL = OpenRouterBaseURL
	}
	optFns = append([]func(o *Options){func(o *Options) {
		o.Tag = "openrouter"
		if o.Defaults.Model == "" || o.Defaults.Model == openai.ChatModelGPT4oMini {
			o.Defaults.Model = "openai/gpt-4o-mini"
		}
	}}, optFns...)
	return New(creds, optFns...)
}

// NewFromClient creates a provider from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{
		Tag: "openai",
		Defaults: core.ProviderConfig{
			Model:     openai.ChatModelGPT4oMini,
			MaxTokens: 4096,
		},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Provider{client: client, opts: opts}
}

// Factory returns a provider.Factory registering under tag.
func Factory(tag string) provider.Factory {
	return func(creds core.Credentials, defaults core.ProviderConfig, logger logging.Logger) (provider.Provider, error) {
		optFn := func(o *Options) {
			o.Defaults = o.Defaults.Merge(defaults)
			o.Logger = logger
		}
		if tag == "openrouter" {
			return NewOpenRouter(creds, optFn), nil
		}
		return New(creds, optFn), nil
	}
}

// Complete implements provider.Provider.
func (p *Provider) Complete(ctx context.Context, messages []core.Message, tools []*core.ToolSpec, cfg core.ProviderConfig) (*core.RunResult, error) {
	cfg, err := provider.Prepare(p.opts.Defaults, cfg, messages, tools)
	if err != nil {
		return nil, err
	}
	params := buildParams(cfg, buildMessages(messages), tools)

	return provider.Call(ctx, p.Info(), cfg, p.opts.Logger, statusOf, func(ctx context.Context) (*core.RunResult, error) {
		resp, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, core.PermanentProviderError(p.opts.Tag+".complete", errors.New("no choices returned"))
		}
		out, err := fromChoice(resp.Choices[0].Message)
		if err != nil {
			return nil, err
		}
		usage := &core.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		}
		return provider.Result(out, usage), nil
	})
}

// Info returns metadata describing this provider.
func (p *Provider) Info() provider.Info {
	return provider.Info{Name: p.opts.Defaults.Model, Provider: p.opts.Tag, SupportsTools: true}
}

func statusOf(err error) (int, bool) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}

// buildMessages converts canonical messages into chat messages. Tool results
// follow their assistant turn in transcript order.
func buildMessages(messages []core.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		text := m.Text()
		switch m.Role {
		case core.RoleSystem:
			out = append(out, openai.SystemMessage(text))
		case core.RoleUser:
			out = append(out, openai.UserMessage(text))
		case core.RoleTool:
			out = append(out, openai.ToolMessage(text, m.ToolCallID))
		case core.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(text))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			asst := &openai.ChatCompletionAssistantMessageParam{Role: "assistant", ToolCalls: calls}
			if text != "" {
				asst.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: asst})
		}
	}
	return out
}

func buildParams(cfg core.ProviderConfig, messages []openai.ChatCompletionMessageParamUnion, tools []*core.ToolSpec) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    cfg.Model,
	}
	if cfg.Temperature != nil {
		params.Temperature = openai.Float(*cfg.Temperature)
	}
	if cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(cfg.MaxTokens))
	}
	if len(tools) == 0 {
		return params
	}

	params.Tools = make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		params.Tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.Parameters,
			},
		}
	}

	switch cfg.ToolChoice.Mode {
	case core.ToolChoiceNone:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
	case core.ToolChoiceForced:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: cfg.ToolChoice.Name},
			},
		}
	case core.ToolChoiceAuto:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
	}
	return params
}

func fromChoice(msg openai.ChatCompletionMessage) (core.Message, error) {
	calls := make([]core.ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if tc.Function.Arguments != "" && !json.Valid(args) {
			return core.Message{}, core.PermanentProviderError("openai.complete", errors.New("model returned non-JSON tool arguments for "+tc.Function.Name))
		}
		calls = append(calls, core.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return core.NewMessage(core.RoleAssistant, msg.Content, core.WithToolCalls(calls...))
}
