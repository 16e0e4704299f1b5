package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/internal/testutil"
	"github.com/hupe1980/meepo/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestWrapAsTool_Success(t *testing.T) {
	agent := testutil.NewStubAgent("researcher")
	logger := &testutil.RecordingLogger{}
	rec := tracetest.NewSpanRecorder()
	in, err := telemetry.New(func(o *telemetry.Options) {
		o.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	})
	require.NoError(t, err)

	tool, err := WrapAsTool(agent, "", "", func(o *Options) {
		o.Logger = logger
		o.Telemetry = in
	})
	require.NoError(t, err)
	assert.Equal(t, "researcher", tool.Name)
	assert.Equal(t, "researcher stub", tool.Description)

	out, err := tool.Call(context.Background(), core.ToolCall{
		ID:        "call-1",
		Name:      "researcher",
		Arguments: json.RawMessage(`{"input":"find go","session_key":"s-9","depth":2}`),
	})
	require.NoError(t, err)

	assert.Equal(t, core.RoleTool, out.Role)
	assert.Equal(t, "call-1", out.ToolCallID)
	assert.Equal(t, "researcher: find go", out.Content)
	assert.Equal(t, "researcher", out.Metadata[MetaAgent])
	assert.IsType(t, int64(0), out.Metadata[MetaDurationMS])

	inputs := agent.Inputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, core.RoleUser, inputs[0].Role)
	assert.JSONEq(t, `{"depth":2}`, string(inputs[0].Data))
	assert.Equal(t, "s-9", agent.Configs()[0].SessionKey)

	assert.Len(t, logger.Find("bridge.call.start"), 1)
	success := logger.Find("bridge.call.success")
	require.Len(t, success, 1)
	assert.Equal(t, "researcher", success[0].Fields["agent"])
	assert.Equal(t, "stub", success[0].Fields["framework"])

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "bridge.call researcher", spans[0].Name())
}

func TestWrapAsTool_NonTerminalIsToolError(t *testing.T) {
	agent := testutil.NewStubAgent("planner")
	agent.Fn = func(context.Context, core.Message, core.RunConfig) (*core.RunResult, error) {
		call := core.ToolCall{ID: "x", Name: "browse", Arguments: json.RawMessage(`{}`)}
		out := core.AssistantMessage("", core.WithToolCalls(call))
		return &core.RunResult{Output: out, ToolCalls: []core.ToolCall{call}}, nil
	}

	tool, err := WrapAsTool(agent, "plan", "plans things")
	require.NoError(t, err)

	_, err = tool.Call(context.Background(), core.ToolCall{ID: "c", Arguments: json.RawMessage(`{"input":"go"}`)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrToolInvocation))
	assert.True(t, errors.Is(err, core.ErrCapabilityUnsupported))
}

func TestWrapAsTool_CalleeFailure(t *testing.T) {
	transient := core.TransientProviderError("openai.complete", errors.New("429"))
	agent := testutil.NewStubAgent("flaky").Failing(transient)
	logger := &testutil.RecordingLogger{}

	tool, err := WrapAsTool(agent, "flaky", "", func(o *Options) { o.Logger = logger })
	require.NoError(t, err)

	_, err = tool.Call(context.Background(), core.ToolCall{ID: "c", Arguments: json.RawMessage(`{"input":"go"}`)})
	require.Error(t, err)
	assert.Equal(t, core.KindToolInvocation, core.KindOf(err))
	assert.True(t, core.IsTransient(err))
	assert.Len(t, logger.Find("bridge.call.error"), 1)
}

func TestWrapAsTool_InvalidArguments(t *testing.T) {
	agent := testutil.NewStubAgent("a")
	tool, err := WrapAsTool(agent, "a", "")
	require.NoError(t, err)

	_, err = tool.Call(context.Background(), core.ToolCall{ID: "c", Arguments: json.RawMessage(`{"session_key":"s"}`)})
	assert.True(t, errors.Is(err, core.ErrToolInvocation))
	assert.True(t, errors.Is(err, core.ErrInvalidMessage))
	assert.Empty(t, agent.Inputs())
}

func TestWrapAsTool_RequiresToolSupport(t *testing.T) {
	agent := testutil.NewStubAgent("mute")
	agent.Desc.SupportsTools = false

	_, err := WrapAsTool(agent, "", "")
	assert.True(t, errors.Is(err, core.ErrCapabilityUnsupported))
}

func TestParameters(t *testing.T) {
	p := Parameters()
	assert.Equal(t, "object", p["type"])
	props := p["properties"].(map[string]any)
	assert.Contains(t, props, "input")
	assert.Contains(t, props, "session_key")
	assert.Equal(t, []any{"input"}, p["required"])
	assert.NotContains(t, p, "additionalProperties")
}
