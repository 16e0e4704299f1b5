package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Role identifies the author of a message turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the four canonical roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolCall is a single tool invocation requested by an assistant turn.
// Arguments is a compact JSON object.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Metadata is an open mapping of string keys to scalar values (string, bool,
// int64, float64). Provider specific extras use a "<provider>." key prefix.
type Metadata map[string]any

// Message is the canonical representation of an agent turn. Messages are
// values: once constructed they are not mutated by the core.
//
// Invariants:
//   - Role is always set
//   - ToolCalls is empty unless Role is assistant
//   - ToolCallID is only set on tool messages
type Message struct {
	Role       Role            `json:"role"`
	Name       string          `json:"name,omitempty"`
	Content    string          `json:"content,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"` // optional structured payload
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Metadata   Metadata        `json:"metadata,omitempty"`
}

// MessageOption customizes a message during construction.
type MessageOption func(m *Message)

// WithName sets the participant name.
func WithName(name string) MessageOption { return func(m *Message) { m.Name = name } }

// WithData attaches a structured payload (any JSON-marshalable value or raw JSON).
func WithData(v any) MessageOption {
	return func(m *Message) {
		switch d := v.(type) {
		case json.RawMessage:
			m.Data = d
		case []byte:
			m.Data = d
		default:
			if b, err := EncodeJSON(v); err == nil {
				m.Data = b
			}
		}
	}
}

// WithToolCalls appends tool calls (assistant messages only).
func WithToolCalls(calls ...ToolCall) MessageOption {
	return func(m *Message) { m.ToolCalls = append(m.ToolCalls, calls...) }
}

// WithMetadata merges metadata entries.
func WithMetadata(md Metadata) MessageOption {
	return func(m *Message) {
		if len(md) == 0 {
			return
		}
		if m.Metadata == nil {
			m.Metadata = make(Metadata, len(md))
		}
		for k, v := range md {
			m.Metadata[k] = v
		}
	}
}

// NewMessage builds, normalizes and validates a message.
func NewMessage(role Role, content string, opts ...MessageOption) (Message, error) {
	m := Message{Role: role, Content: content}
	for _, opt := range opts {
		opt(&m)
	}
	if err := m.normalize(); err != nil {
		return Message{}, err
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// mustMessage is used by the role helpers whose inputs cannot violate invariants
// except through caller supplied options.
func mustMessage(role Role, content string, opts ...MessageOption) Message {
	m, err := NewMessage(role, content, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// SystemMessage creates a system message. It panics on invalid options.
func SystemMessage(content string, opts ...MessageOption) Message {
	return mustMessage(RoleSystem, content, opts...)
}

// UserMessage creates a user message. It panics on invalid options.
func UserMessage(content string, opts ...MessageOption) Message {
	return mustMessage(RoleUser, content, opts...)
}

// AssistantMessage creates an assistant message. It panics on invalid options.
func AssistantMessage(content string, opts ...MessageOption) Message {
	return mustMessage(RoleAssistant, content, opts...)
}

// ToolMessage creates a tool result message correlated with callID.
func ToolMessage(callID, content string, opts ...MessageOption) Message {
	opts = append([]MessageOption{func(m *Message) { m.ToolCallID = callID }}, opts...)
	return mustMessage(RoleTool, content, opts...)
}

// Text is the text form of an agent input: a user message with content s.
func Text(s string) Message { return Message{Role: RoleUser, Content: s} }

// Validate checks the message invariants.
func (m Message) Validate() error {
	if m.Role == "" {
		return NewError(KindInvalidMessage, "message", "role must be set", nil)
	}
	if !m.Role.Valid() {
		return NewError(KindInvalidMessage, "message", fmt.Sprintf("unknown role %q", m.Role), nil)
	}
	if len(m.ToolCalls) > 0 && m.Role != RoleAssistant {
		return NewError(KindInvalidMessage, "message", "tool calls are only allowed on assistant messages", nil)
	}
	if m.ToolCallID != "" && m.Role != RoleTool {
		return NewError(KindInvalidMessage, "message", "tool_call_id is only allowed on tool messages", nil)
	}
	for _, tc := range m.ToolCalls {
		if tc.Name == "" {
			return NewError(KindInvalidMessage, "message", "tool call without name", nil)
		}
	}
	if len(m.Data) > 0 && !json.Valid(m.Data) {
		return NewError(KindInvalidMessage, "message", "data is not valid JSON", nil)
	}
	for k, v := range m.Metadata {
		if !isScalar(v) {
			return NewError(KindInvalidMessage, "message", fmt.Sprintf("metadata %q is not a scalar (%T)", k, v), nil)
		}
	}
	return nil
}

// normalize brings JSON payloads into compact form and metadata numbers into
// their canonical int64/float64 representation.
func (m *Message) normalize() error {
	if len(m.Data) > 0 {
		d, err := compactJSON(m.Data)
		if err != nil {
			return NewError(KindInvalidMessage, "message", "data is not valid JSON", err)
		}
		m.Data = d
	}
	for i, tc := range m.ToolCalls {
		args, err := normalizeArguments(tc.Arguments)
		if err != nil {
			return NewError(KindInvalidMessage, "message", fmt.Sprintf("tool call %q has invalid arguments", tc.Name), err)
		}
		m.ToolCalls[i].Arguments = args
	}
	for k, v := range m.Metadata {
		m.Metadata[k] = normalizeScalar(v)
	}
	return nil
}

// Normalized returns a normalized copy of m, used by codecs and stores that
// receive hand-built messages.
func (m Message) Normalized() (Message, error) {
	c := m.Clone()
	if err := c.normalize(); err != nil {
		return Message{}, err
	}
	return c, nil
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	c := m
	if m.Data != nil {
		c.Data = append(json.RawMessage(nil), m.Data...)
	}
	if m.ToolCalls != nil {
		c.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			c.ToolCalls[i] = tc
			if tc.Arguments != nil {
				c.ToolCalls[i].Arguments = append(json.RawMessage(nil), tc.Arguments...)
			}
		}
	}
	if m.Metadata != nil {
		c.Metadata = make(Metadata, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Equal reports structural equality. Nil and empty collections compare equal.
func (m Message) Equal(o Message) bool {
	if m.Role != o.Role || m.Name != o.Name || m.Content != o.Content || m.ToolCallID != o.ToolCallID {
		return false
	}
	if !bytes.Equal(m.Data, o.Data) {
		return false
	}
	if len(m.ToolCalls) != len(o.ToolCalls) {
		return false
	}
	for i := range m.ToolCalls {
		a, b := m.ToolCalls[i], o.ToolCalls[i]
		if a.ID != b.ID || a.Name != b.Name || !bytes.Equal(a.Arguments, b.Arguments) {
			return false
		}
	}
	if len(m.Metadata) != len(o.Metadata) {
		return false
	}
	for k, v := range m.Metadata {
		ov, ok := o.Metadata[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	return true
}

// Text returns the content, falling back to the raw data payload.
func (m Message) Text() string {
	if m.Content != "" || len(m.Data) == 0 {
		return m.Content
	}
	return string(m.Data)
}

// ProviderMetadata returns the entries carrying the "<provider>." prefix.
func (m Message) ProviderMetadata(provider string) Metadata {
	prefix := provider + "."
	out := Metadata{}
	for k, v := range m.Metadata {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}

// EncodeJSON is json.Marshal without HTML escaping: <, > and & inside
// strings and raw payloads are written verbatim, so encoded messages decode
// back byte for byte.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func compactJSON(raw []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func normalizeArguments(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return compactJSON(raw)
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

func normalizeScalar(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return float64(n)
	}
	return v
}
