package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hupe1980/meepo/adapter/chat"
	"github.com/hupe1980/meepo/adapter/fn"
	"github.com/hupe1980/meepo/adapter/llm"
	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/internal/testutil"
	"github.com/hupe1980/meepo/logging"
	"github.com/hupe1980/meepo/memory"
	"github.com/hupe1980/meepo/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scriptedRegistry(p *provider.Scripted) *provider.Registry {
	r := provider.NewRegistry()
	r.Register("scripted", func(core.Credentials, core.ProviderConfig, logging.Logger) (provider.Provider, error) {
		return p, nil
	})
	return r
}

type chatHandler struct{ name string }

func (h *chatHandler) Name() string        { return h.name }
func (h *chatHandler) Description() string { return "chat " + h.name }
func (h *chatHandler) OnMessages(_ context.Context, msgs []chat.Message) (*chat.Response, error) {
	return &chat.Response{ChatMessage: chat.Message{Source: h.name, Content: "re: " + msgs[len(msgs)-1].Content}}, nil
}

func TestFromAgent_Detection(t *testing.T) {
	p := provider.NewScripted("scripted", provider.Reply("model says hi"))
	withRegistry := func(o *Options) { o.Registry = scriptedRegistry(p) }

	tests := []struct {
		name      string
		native    any
		framework string
		output    string
	}{
		{"llm definition", llm.Definition{Name: "m"}, llm.Framework, "model says hi"},
		{"chat handler", &chatHandler{name: "c"}, chat.Framework, "re: ping"},
		{"fn definition", fn.Definition{Name: "f", Fn: func(_ context.Context, in core.Message) (core.Message, error) {
			return core.Message{Content: strings.ToUpper(in.Text())}, nil
		}}, fn.Framework, "PING"},
		{"func literal", func(context.Context, core.Message) (core.Message, error) {
			return core.Message{Content: "literal"}, nil
		}, fn.Framework, "literal"},
		{"core agent", testutil.NewStubAgent("stub"), "stub", "stub: ping"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent, err := FromAgent(tt.native, "scripted", core.Credentials{}, withRegistry)
			require.NoError(t, err)
			assert.Equal(t, tt.framework, agent.Describe().Framework)

			res, err := agent.Run(context.Background(), core.Text("ping"), core.RunConfig{})
			require.NoError(t, err)
			assert.Equal(t, tt.output, res.Output.Content)
		})
	}
}

func TestFromAgent_UnsupportedProvider(t *testing.T) {
	_, err := FromAgent(llm.Definition{Name: "m"}, "watson", core.Credentials{})
	assert.True(t, errors.Is(err, core.ErrUnsupportedProvider))

	_, err = FromAgent(42, "watson", core.Credentials{})
	assert.True(t, errors.Is(err, core.ErrUnsupportedProvider))
}

func TestFromAgent_UnsupportedNative(t *testing.T) {
	_, err := FromAgent(struct{ Name string }{"x"}, "openai", core.Credentials{APIKey: "sk-test"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrAdapterBinding))

	_, err = FromAgent(nil, "openai", core.Credentials{APIKey: "sk-test"})
	assert.True(t, errors.Is(err, core.ErrAdapterBinding))
}

func TestFromAgent_DefaultRegistry(t *testing.T) {
	agent, err := FromAgent(llm.Definition{Name: "writer"}, "anthropic", core.Credentials{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", agent.Describe().Provider)
}

func TestFromAgent_AsToolRequiresToolSupport(t *testing.T) {
	agent, err := FromAgent(&chatHandler{name: "plain"}, "openai", core.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, "openai", agent.Describe().Provider)

	_, err = agent.AsTool("", "")
	assert.True(t, errors.Is(err, core.ErrCapabilityUnsupported))
}

func TestFromAgent_Memory(t *testing.T) {
	mem := memory.NewFacade(memory.NewInMemoryStore())
	agent, err := FromAgent(fn.Func(func(context.Context, core.Message) (core.Message, error) {
		return core.Message{Content: "ok"}, nil
	}), "ollama", core.Credentials{}, func(o *Options) { o.Memory = mem })
	require.NoError(t, err)
	assert.True(t, agent.Describe().SupportsMemory)

	got, err := agent.Memory()
	require.NoError(t, err)
	assert.Same(t, mem, got)
}

func TestFromAgent_CrossFrameworkTool(t *testing.T) {
	p := provider.NewScripted("scripted",
		provider.CallTools(core.ToolCall{ID: "c1", Name: "shouter", Arguments: []byte(`{"input":"hello"}`)}),
		provider.Reply("relayed"),
	)
	withRegistry := func(o *Options) { o.Registry = scriptedRegistry(p) }

	shouter, err := FromAgent(fn.Definition{Name: "shouter", Description: "shouts", Fn: func(_ context.Context, in core.Message) (core.Message, error) {
		return core.Message{Content: strings.ToUpper(in.Text())}, nil
	}}, "scripted", core.Credentials{}, withRegistry)
	require.NoError(t, err)
	tool, err := shouter.AsTool("", "")
	require.NoError(t, err)

	boss, err := FromAgent(llm.Definition{Name: "boss"}, "scripted", core.Credentials{}, withRegistry)
	require.NoError(t, err)

	res, err := boss.Run(context.Background(), core.Text("delegate"), core.RunConfig{Tools: []*core.ToolSpec{tool}})
	require.NoError(t, err)
	assert.Equal(t, "relayed", res.Output.Content)

	toolMsg := p.Requests()[1].Messages[2]
	assert.Equal(t, "HELLO", toolMsg.Content)
	assert.Equal(t, "c1", toolMsg.ToolCallID)
}
