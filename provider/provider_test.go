package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("scripted", func(_ core.Credentials, _ core.ProviderConfig, _ logging.Logger) (Provider, error) {
		return NewScripted("scripted"), nil
	})

	assert.True(t, r.Has("scripted"))
	assert.Equal(t, []string{"scripted"}, r.Tags())

	p, err := r.New("scripted", core.Credentials{}, core.ProviderConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "scripted", p.Info().Provider)

	_, err = r.New("watson", core.Credentials{}, core.ProviderConfig{}, nil)
	assert.True(t, errors.Is(err, core.ErrUnsupportedProvider))
}

func TestClassify(t *testing.T) {
	bg := context.Background()

	tests := []struct {
		name      string
		err       error
		transient bool
		kind      core.Kind
	}{
		{"rate limit", &StatusError{Code: 429}, true, core.KindProvider},
		{"server", &StatusError{Code: 503}, true, core.KindProvider},
		{"request timeout", &StatusError{Code: 408}, true, core.KindProvider},
		{"conflict", &StatusError{Code: 409}, true, core.KindProvider},
		{"unauthorized", &StatusError{Code: 401}, false, core.KindProvider},
		{"forbidden", &StatusError{Code: 403}, false, core.KindProvider},
		{"bad request", &StatusError{Code: 400}, false, core.KindProvider},
		{"unprocessable", &StatusError{Code: 422}, false, core.KindProvider},
		{"per-call timeout", fmt.Errorf("do: %w", context.DeadlineExceeded), true, core.KindProvider},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, true, core.KindProvider},
		{"unknown", errors.New("weird"), false, core.KindProvider},
		{"already typed", core.CapabilityUnsupported("a", "memory"), false, core.KindCapabilityUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(bg, "test.complete", tt.err, StatusOf)
			assert.Equal(t, tt.kind, core.KindOf(err))
			assert.Equal(t, tt.transient, core.IsTransient(err))
		})
	}
}

func TestClassify_CallerCancellationPassesThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Classify(ctx, "op", errors.New("request aborted"), StatusOf)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, core.Kind(""), core.KindOf(err))
	assert.False(t, core.IsTransient(err))
}

func TestPrepare(t *testing.T) {
	tool := &core.ToolSpec{Name: "search", Invoke: func(context.Context, core.ToolCall) (core.Message, error) { return core.Message{}, nil }}

	cfg, err := Prepare(core.ProviderConfig{Model: "m", MaxTokens: 10}, core.ProviderConfig{MaxTokens: 20}, []core.Message{core.UserMessage("x")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "m", cfg.Model)
	assert.Equal(t, 20, cfg.MaxTokens)

	_, err = Prepare(core.ProviderConfig{}, core.ProviderConfig{}, nil, nil)
	assert.True(t, errors.Is(err, core.ErrInvalidMessage))

	forced := core.ProviderConfig{ToolChoice: core.ToolChoice{Mode: core.ToolChoiceForced, Name: "search"}}
	_, err = Prepare(core.ProviderConfig{}, forced, []core.Message{core.UserMessage("x")}, []*core.ToolSpec{tool})
	assert.NoError(t, err)
	_, err = Prepare(core.ProviderConfig{}, forced, []core.Message{core.UserMessage("x")}, nil)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}

func TestSplitSystem(t *testing.T) {
	sys, rest := SplitSystem([]core.Message{core.SystemMessage("a"), core.UserMessage("u"), core.SystemMessage("b")})
	assert.Equal(t, "a\n\nb", sys)
	require.Len(t, rest, 1)
	assert.Equal(t, core.RoleUser, rest[0].Role)
}

func TestEstimateCost(t *testing.T) {
	c := EstimateCost("openai", "gpt-4o-mini-2024-07-18", core.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000})
	assert.True(t, c.Known)
	assert.InDelta(t, 0.75, c.USD, 1e-9)

	c = EstimateCost("openai", "gpt-4o-2024-08-06", core.Usage{PromptTokens: 1_000_000})
	assert.InDelta(t, 2.5, c.USD, 1e-9)

	assert.Equal(t, core.Cost{}, EstimateCost("openai", "mystery-model", core.Usage{PromptTokens: 5}))
	assert.Equal(t, core.Cost{USD: 0, Known: true}, EstimateCost("ollama", "llama3.2", core.Usage{PromptTokens: 5}))

	SetPrice("custom", "m", Price{Input: 1})
	assert.True(t, EstimateCost("custom", "m-1", core.Usage{}).Known)
}

func TestScripted_ReplaysAndRecords(t *testing.T) {
	s := NewScripted("openai",
		CallTools(core.ToolCall{ID: "c1", Name: "search"}),
		Reply("done"),
		Fail(&StatusError{Code: 429}),
	)
	msgs := []core.Message{core.UserMessage("hi")}

	r1, err := s.Complete(context.Background(), msgs, nil, core.ProviderConfig{})
	require.NoError(t, err)
	assert.False(t, r1.Terminal)
	assert.Equal(t, "search", r1.ToolCalls[0].Name)

	r2, err := s.Complete(context.Background(), msgs, nil, core.ProviderConfig{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.True(t, r2.Terminal)
	assert.Equal(t, "done", r2.Output.Content)
	assert.True(t, r2.Usage.Cost.Known)

	_, err = s.Complete(context.Background(), msgs, nil, core.ProviderConfig{})
	assert.True(t, core.IsTransient(err))

	r4, err := s.Complete(context.Background(), msgs, nil, core.ProviderConfig{})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", r4.Output.Content)

	reqs := s.Requests()
	require.Len(t, reqs, 4)
	assert.Equal(t, "gpt-4o", reqs[1].Config.Model)
}

func TestScripted_TimeoutIsTransient(t *testing.T) {
	s := NewScripted("openai", Step{Delay: time.Second, Result: Result(core.AssistantMessage("late"), nil)})
	_, err := s.Complete(context.Background(), []core.Message{core.UserMessage("x")}, nil, core.ProviderConfig{Timeout: 10 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))
}

func TestScripted_CancellationIsNotTransient(t *testing.T) {
	s := NewScripted("openai", Step{Delay: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := s.Complete(ctx, []core.Message{core.UserMessage("x")}, nil, core.ProviderConfig{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, core.IsTransient(err))
}

func TestCall_LogsThroughContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "json", Output: &buf})
	info := Info{Name: "m", Provider: "scripted"}
	cfg := core.ProviderConfig{Model: "m"}

	_, err := Call(context.Background(), info, cfg, logger, nil, func(context.Context) (*core.RunResult, error) {
		return Result(core.AssistantMessage("ok"), &core.Usage{TotalTokens: 7}), nil
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"provider.call.success"`)
	assert.Contains(t, buf.String(), `"token_count":7`)

	buf.Reset()
	_, err = Call(context.Background(), info, cfg, logger, nil, func(context.Context) (*core.RunResult, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"msg":"provider.call.error"`)
	assert.Contains(t, buf.String(), `"transient":false`)
}
