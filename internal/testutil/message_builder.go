package testutil

import (
	"encoding/json"

	"github.com/hupe1980/meepo/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	m := NewMessageBuilder().Assistant("").Call("c1", "search", `{"q":"go"}`).Build()
//
// Chain only the parts you need; the role defaults to user.
type MessageBuilder struct {
	msg core.Message
}

// NewMessageBuilder creates a builder for a user message.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{msg: core.Message{Role: core.RoleUser}}
}

// User sets role user and the content (chainable).
func (b *MessageBuilder) User(text string) *MessageBuilder {
	b.msg.Role, b.msg.Content = core.RoleUser, text
	return b
}

// Assistant sets role assistant and the content (chainable).
func (b *MessageBuilder) Assistant(text string) *MessageBuilder {
	b.msg.Role, b.msg.Content = core.RoleAssistant, text
	return b
}

// System sets role system and the content (chainable).
func (b *MessageBuilder) System(text string) *MessageBuilder {
	b.msg.Role, b.msg.Content = core.RoleSystem, text
	return b
}

// ToolResult sets role tool, the correlated call id and the content (chainable).
func (b *MessageBuilder) ToolResult(callID, text string) *MessageBuilder {
	b.msg.Role, b.msg.ToolCallID, b.msg.Content = core.RoleTool, callID, text
	return b
}

// Name sets the participant name (chainable).
func (b *MessageBuilder) Name(n string) *MessageBuilder { b.msg.Name = n; return b }

// Call appends a tool call with raw JSON arguments (chainable).
func (b *MessageBuilder) Call(id, name, args string) *MessageBuilder {
	b.msg.ToolCalls = append(b.msg.ToolCalls, core.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)})
	return b
}

// Data attaches a structured payload (chainable).
func (b *MessageBuilder) Data(v any) *MessageBuilder {
	core.WithData(v)(&b.msg)
	return b
}

// Meta sets one metadata entry (chainable).
func (b *MessageBuilder) Meta(k string, v any) *MessageBuilder {
	core.WithMetadata(core.Metadata{k: v})(&b.msg)
	return b
}

// Build returns the normalized message. It panics on invalid input, which is
// a bug in the test.
func (b *MessageBuilder) Build() core.Message {
	m, err := b.msg.Normalized()
	if err != nil {
		panic(err)
	}
	if err := m.Validate(); err != nil {
		panic(err)
	}
	return m
}
