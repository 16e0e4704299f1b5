package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTripFixtures(tag string) map[string]Message {
	return map[string]Message{
		"system": SystemMessage("be brief"),
		"user with metadata": UserMessage("hello", WithName("alice"), WithMetadata(Metadata{
			"trace":      "abc",
			"count":      int64(7),
			"ratio":      float64(3),
			"tiny":       1e-9,
			"flag":       true,
			tag + ".raw": "kept",
		})),
		"user with data": UserMessage("", WithData(map[string]any{"items": []int{1, 2}, "nested": map[string]any{"a": "b"}})),
		"assistant tool calls": AssistantMessage("",
			WithToolCalls(
				ToolCall{ID: "call_1", Name: "search", Arguments: json.RawMessage(`{"q":"go","n":2}`)},
				ToolCall{ID: "call_2", Name: "clock"},
			)),
		"assistant text and calls": AssistantMessage("thinking", WithToolCalls(ToolCall{ID: "c", Name: "t", Arguments: json.RawMessage(`{"x":[1,2,{"y":null}]}`)})),
		"tool result":              ToolMessage("call_1", "42 results", WithName("search"), WithData(json.RawMessage(`{"hits":42}`))),
		"empty user":               UserMessage(""),
		"html in data":             UserMessage("<b>a & b</b>", WithData(json.RawMessage(`{"html":"<b>a & b</b>"}`))),
		"html in arguments":        AssistantMessage("", WithToolCalls(ToolCall{ID: "c<1>", Name: "search", Arguments: json.RawMessage(`{"q":"a<b && c>d"}`)})),
		"html in tool result":      ToolMessage("call_1", "<ok>", WithName("search"), WithData(json.RawMessage(`{"html":"<b>a & b</b>"}`))),
	}
}

func TestProviderFormat_RoundTrip(t *testing.T) {
	for _, tag := range []string{"openai", "openrouter", "anthropic", "gemini", "ollama"} {
		for name, m := range roundTripFixtures(tag) {
			t.Run(tag+"/"+name, func(t *testing.T) {
				raw, err := ToProviderFormat(tag, m)
				require.NoError(t, err)
				require.True(t, json.Valid(raw))

				back, err := FromProviderFormat(tag, raw)
				require.NoError(t, err)
				assert.True(t, m.Equal(back), "want %+v\n got %+v\n raw %s", m, back, raw)
			})
		}
	}
}

func TestProviderFormat_KeepsHTMLCharactersVerbatim(t *testing.T) {
	m := AssistantMessage("", WithData(json.RawMessage(`{"html":"<b>a & b</b>"}`)),
		WithToolCalls(ToolCall{ID: "c1", Name: "search", Arguments: json.RawMessage(`{"q":"a<b"}`)}))

	for _, tag := range []string{"openai", "anthropic", "gemini", "ollama"} {
		t.Run(tag, func(t *testing.T) {
			raw, err := ToProviderFormat(tag, m)
			require.NoError(t, err)
			assert.NotContains(t, string(raw), `\u003c`)
			assert.NotContains(t, string(raw), `\u0026`)

			back, err := FromProviderFormat(tag, raw)
			require.NoError(t, err)
			assert.Equal(t, `{"html":"<b>a & b</b>"}`, string(back.Data))
			require.Len(t, back.ToolCalls, 1)
			assert.Equal(t, `{"q":"a<b"}`, string(back.ToolCalls[0].Arguments))
		})
	}
}

func TestMessage_MarshalJSONKeepsHTMLCharacters(t *testing.T) {
	m := UserMessage("<b>", WithData(json.RawMessage(`{"html":"<b>a & b</b>"}`)), WithMetadata(Metadata{"note": "x<y"}))

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `\u003c`)

	var back Message
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, string(m.Data), string(back.Data))
	assert.True(t, m.Equal(back))
}

func TestEncodeJSON(t *testing.T) {
	raw, err := EncodeJSON(map[string]any{"a": "<&>"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<&>"}`, string(raw))
}

func TestProviderFormat_NumberTypesSurvive(t *testing.T) {
	m := UserMessage("x", WithMetadata(Metadata{"i": int64(2), "f": float64(2), "big": 1e21}))
	raw, err := ToProviderFormat("anthropic", m)
	require.NoError(t, err)
	back, err := FromProviderFormat("anthropic", raw)
	require.NoError(t, err)

	assert.IsType(t, int64(0), back.Metadata["i"])
	assert.IsType(t, float64(0), back.Metadata["f"])
	assert.Equal(t, 1e21, back.Metadata["big"])
}

func TestProviderFormat_DropsForeignMetadata(t *testing.T) {
	m := UserMessage("x", WithMetadata(Metadata{"openai.logprobs": true, "anthropic.cache": "ephemeral", "bridge.agent": "a"}))

	raw, err := ToProviderFormat("anthropic", m)
	require.NoError(t, err)
	back, err := FromProviderFormat("anthropic", raw)
	require.NoError(t, err)

	assert.Equal(t, Metadata{"anthropic.cache": "ephemeral", "bridge.agent": "a"}, back.Metadata)
}

func TestProviderFormat_WireShapes(t *testing.T) {
	call := AssistantMessage("", WithToolCalls(ToolCall{ID: "c1", Name: "search", Arguments: json.RawMessage(`{"q":"go"}`)}))

	t.Run("openai arguments are a string", func(t *testing.T) {
		raw, err := ToProviderFormat("openai", call)
		require.NoError(t, err)
		assert.JSONEq(t, `{"role":"assistant","content":null,"tool_calls":[{"id":"c1","type":"function","function":{"name":"search","arguments":"{\"q\":\"go\"}"}}]}`, string(raw))
	})

	t.Run("anthropic tool result is a user turn", func(t *testing.T) {
		raw, err := ToProviderFormat("anthropic", ToolMessage("c1", "done"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"role":"user","content":[{"type":"tool_result","tool_use_id":"c1","content":"done"}]}`, string(raw))
	})

	t.Run("gemini assistant is model", func(t *testing.T) {
		raw, err := ToProviderFormat("gemini", call)
		require.NoError(t, err)
		assert.JSONEq(t, `{"role":"model","parts":[{"functionCall":{"id":"c1","name":"search","args":{"q":"go"}}}]}`, string(raw))
	})

	t.Run("ollama arguments are an object", func(t *testing.T) {
		raw, err := ToProviderFormat("ollama", call)
		require.NoError(t, err)
		assert.JSONEq(t, `{"role":"assistant","content":"","tool_calls":[{"id":"c1","function":{"name":"search","arguments":{"q":"go"}}}]}`, string(raw))
	})
}

func TestFromProviderFormat_NativePayloads(t *testing.T) {
	m, err := FromProviderFormat("openai", json.RawMessage(`{"role":"developer","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`))
	require.NoError(t, err)
	assert.Equal(t, RoleSystem, m.Role)
	assert.Equal(t, "ab", m.Content)

	m, err = FromProviderFormat("gemini", json.RawMessage(`{"role":"user","parts":[{"functionResponse":{"name":"clock","response":{"time":"noon"}}}]}`))
	require.NoError(t, err)
	assert.Equal(t, RoleTool, m.Role)
	assert.Equal(t, "clock", m.Name)
	assert.JSONEq(t, `{"time":"noon"}`, m.Content)

	_, err = FromProviderFormat("openai", json.RawMessage(`{"role":"assistant","tool_calls":[{"id":"1","type":"function","function":{"name":"x","arguments":"not json"}}]}`))
	assert.True(t, errors.Is(err, ErrInvalidMessage))
}

func TestProviderFormat_UnknownTag(t *testing.T) {
	_, err := ToProviderFormat("watson", UserMessage("x"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, err = FromProviderFormat("watson", json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestProviderFormat_RejectsInvalid(t *testing.T) {
	_, err := ToProviderFormat("openai", Message{Role: RoleUser, ToolCalls: []ToolCall{{Name: "x"}}})
	assert.True(t, errors.Is(err, ErrInvalidMessage))
}

func TestToProviderMessages(t *testing.T) {
	out, err := ToProviderMessages("ollama", []Message{SystemMessage("s"), UserMessage("u")})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	_, err = ToProviderMessages("ollama", []Message{UserMessage("u"), {}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message 1")
}
