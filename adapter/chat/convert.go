package chat

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/meepo/core"
)

// MetaSource is the metadata key carrying the native message source.
const MetaSource = "chat.source"

// toNative converts a canonical message into a chat message.
func toNative(m core.Message) Message {
	out := Message{
		Source:     string(m.Role),
		Content:    m.Text(),
		Kind:       KindText,
		ToolCallID: m.ToolCallID,
	}
	if m.Name != "" && m.Role != core.RoleTool {
		out.Source = m.Name
	}
	if src, ok := m.Metadata[MetaSource].(string); ok && src != "" {
		out.Source = src
	}
	if m.Role == core.RoleTool {
		out.Kind = KindToolResult
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, FunctionCall{ID: tc.ID, Name: tc.Name, Arguments: string(tc.Arguments)})
	}
	if len(out.ToolCalls) > 0 {
		out.Kind = KindToolCall
	}
	for k, v := range m.Metadata {
		if k == MetaSource {
			continue
		}
		if out.Metadata == nil {
			out.Metadata = map[string]string{}
		}
		out.Metadata[k] = fmt.Sprint(v)
	}
	return out
}

// fromNative converts a chat message into a canonical message. Messages from
// self become assistant messages; anything else from "user" is user input.
func fromNative(m Message, self string) (core.Message, error) {
	role := core.RoleUser
	switch {
	case m.Kind == KindToolResult:
		role = core.RoleTool
	case m.Source == string(core.RoleSystem):
		role = core.RoleSystem
	case m.Source == self || m.Source == string(core.RoleAssistant) || len(m.ToolCalls) > 0:
		role = core.RoleAssistant
	}

	md := core.Metadata{MetaSource: m.Source}
	for k, v := range m.Metadata {
		md[k] = v
	}
	opts := []core.MessageOption{core.WithMetadata(md)}

	if role == core.RoleAssistant && len(m.ToolCalls) > 0 {
		calls := make([]core.ToolCall, 0, len(m.ToolCalls))
		for _, fc := range m.ToolCalls {
			args := json.RawMessage(fc.Arguments)
			if fc.Arguments == "" {
				args = json.RawMessage(`{}`)
			}
			if !json.Valid(args) {
				return core.Message{}, core.NewError(core.KindInvalidMessage, "chat.convert",
					fmt.Sprintf("tool call %q has non-JSON arguments", fc.Name), nil)
			}
			id := fc.ID
			if id == "" {
				id = "call_" + core.NewID()
			}
			calls = append(calls, core.ToolCall{ID: id, Name: fc.Name, Arguments: args})
		}
		opts = append(opts, core.WithToolCalls(calls...))
	}

	out, err := core.NewMessage(role, m.Content, opts...)
	if err != nil {
		return core.Message{}, err
	}
	if role == core.RoleTool {
		out.ToolCallID = m.ToolCallID
	}
	return out, out.Validate()
}
