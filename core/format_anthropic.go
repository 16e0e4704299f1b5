package core

import (
	"encoding/json"
	"strings"
)

// anthropicFormat renders the Messages API shape: a role plus an ordered list
// of content blocks. Tool results travel as user turns holding a tool_result
// block. System turns keep the "system" role; the provider lifts them into
// the request's top-level system prompt.
type anthropicFormat struct{}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
	Ext     *extension       `json:"meepo,omitempty"`
}

func (anthropicFormat) Encode(m Message) (json.RawMessage, error) {
	out := anthropicMessage{Role: string(m.Role), Content: []anthropicBlock{}}

	switch m.Role {
	case RoleTool:
		out.Role = string(RoleUser)
		c, err := EncodeJSON(m.Content)
		if err != nil {
			return nil, err
		}
		out.Content = append(out.Content, anthropicBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: c})
	default:
		if m.Content != "" {
			out.Content = append(out.Content, anthropicBlock{Type: "text", Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			out.Content = append(out.Content, anthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
		}
	}

	ext, err := newExtension(m.Name, m)
	if err != nil {
		return nil, err
	}
	out.Ext = ext

	return EncodeJSON(out)
}

func (anthropicFormat) Decode(raw json.RawMessage) (Message, error) {
	var in anthropicMessage
	ext, err := splitObject(raw, &in)
	if err != nil {
		return Message{}, err
	}

	m := Message{Role: Role(in.Role)}
	var text strings.Builder
	for _, b := range in.Content {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
		case "tool_use":
			m.ToolCalls = append(m.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Arguments: b.Input})
		case "tool_result":
			m.Role = RoleTool
			m.ToolCallID = b.ToolUseID
			s, err := textOf(b.Content)
			if err != nil {
				return Message{}, NewError(KindInvalidMessage, "anthropic.decode", "unsupported tool_result content", err)
			}
			text.WriteString(s)
		}
	}
	m.Content = text.String()

	if err := ext.apply(&m); err != nil {
		return Message{}, err
	}

	return m, nil
}
