package core

import "encoding/json"

// ollamaFormat renders the /api/chat message shape. Ollama tool calls carry
// arguments as a JSON object and have no id of their own; the id rides along
// as an extra field that the server ignores.
type ollamaFormat struct{}

type ollamaToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName   string           `json:"tool_name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Ext        *extension       `json:"meepo,omitempty"`
}

func (ollamaFormat) Encode(m Message) (json.RawMessage, error) {
	out := ollamaMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}

	name := m.Name
	if m.Role == RoleTool {
		out.ToolName = m.Name
		name = ""
	}

	for _, tc := range m.ToolCalls {
		call := ollamaToolCall{ID: tc.ID}
		call.Function.Name = tc.Name
		call.Function.Arguments = tc.Arguments
		out.ToolCalls = append(out.ToolCalls, call)
	}

	ext, err := newExtension(name, m)
	if err != nil {
		return nil, err
	}
	out.Ext = ext

	return EncodeJSON(out)
}

func (ollamaFormat) Decode(raw json.RawMessage) (Message, error) {
	var in ollamaMessage
	ext, err := splitObject(raw, &in)
	if err != nil {
		return Message{}, err
	}

	m := Message{Role: Role(in.Role), Content: in.Content, ToolCallID: in.ToolCallID}
	if m.Role == RoleTool {
		m.Name = in.ToolName
	}
	for _, tc := range in.ToolCalls {
		m.ToolCalls = append(m.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}

	if err := ext.apply(&m); err != nil {
		return Message{}, err
	}

	return m, nil
}
