package core

import (
	"encoding/json"
	"fmt"
)

// openAIFormat renders the Chat Completions message shape. OpenRouter speaks
// the same shape and shares this codec.
type openAIFormat struct{}

type openAIToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    json.RawMessage  `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Ext        *extension       `json:"meepo,omitempty"`
}

func (openAIFormat) Encode(m Message) (json.RawMessage, error) {
	out := openAIMessage{Role: string(m.Role), Name: m.Name, ToolCallID: m.ToolCallID}

	if m.Content == "" && len(m.ToolCalls) > 0 {
		out.Content = json.RawMessage("null")
	} else {
		c, err := EncodeJSON(m.Content)
		if err != nil {
			return nil, err
		}
		out.Content = c
	}

	for _, tc := range m.ToolCalls {
		call := openAIToolCall{ID: tc.ID, Type: "function"}
		call.Function.Name = tc.Name
		call.Function.Arguments = string(tc.Arguments)
		out.ToolCalls = append(out.ToolCalls, call)
	}

	ext, err := newExtension("", m)
	if err != nil {
		return nil, err
	}
	out.Ext = ext

	return EncodeJSON(out)
}

func (openAIFormat) Decode(raw json.RawMessage) (Message, error) {
	var in openAIMessage
	ext, err := splitObject(raw, &in)
	if err != nil {
		return Message{}, err
	}

	content, err := textOf(in.Content)
	if err != nil {
		return Message{}, NewError(KindInvalidMessage, "openai.decode", "unsupported content shape", err)
	}

	role := Role(in.Role)
	if role == "developer" {
		role = RoleSystem
	}

	m := Message{Role: role, Name: in.Name, Content: content, ToolCallID: in.ToolCallID}
	for _, tc := range in.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if tc.Function.Arguments != "" && !json.Valid(args) {
			return Message{}, NewError(KindInvalidMessage, "openai.decode", fmt.Sprintf("tool call %q has non-JSON arguments", tc.Function.Name), nil)
		}
		m.ToolCalls = append(m.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	if err := ext.apply(&m); err != nil {
		return Message{}, err
	}

	return m, nil
}
