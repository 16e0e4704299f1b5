package chat

import (
	"context"

	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/provider"
)

// MessageKind distinguishes the chat message variants a handler exchanges.
type MessageKind string

const (
	KindText       MessageKind = "text"
	KindToolCall   MessageKind = "tool_call_request"
	KindToolResult MessageKind = "tool_call_result"
)

// FunctionCall is a tool request inside a chat message. Arguments is a JSON
// object encoded as a string.
type FunctionCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is the native chat message. Source names the sender ("user" for
// external input).
type Message struct {
	Source     string
	Content    string
	Kind       MessageKind
	ToolCalls  []FunctionCall
	ToolCallID string
	Metadata   map[string]string
}

// Response is the answer of a handler: the final chat message plus the
// messages it produced on the way (tool requests, tool results, thoughts).
type Response struct {
	ChatMessage   Message
	InnerMessages []Message
	Usage         *core.Usage
}

// Handler is the native surface of a message-handler agent.
type Handler interface {
	Name() string
	Description() string
	OnMessages(ctx context.Context, messages []Message) (*Response, error)
}

// Resetter is implemented by handlers that can drop their conversation state.
type Resetter interface {
	OnReset(ctx context.Context) error
}

// StateSaver is implemented by handlers that can export their state.
type StateSaver interface {
	SaveState(ctx context.Context) (map[string]any, error)
}

// StateLoader is implemented by handlers that can restore exported state.
type StateLoader interface {
	LoadState(ctx context.Context, state map[string]any) error
}

// Closer is implemented by handlers holding resources.
type Closer interface {
	Close(ctx context.Context) error
}

// NativeTool is a tool in the shape handlers register. Run receives the JSON
// argument string and returns the result text.
type NativeTool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Run         func(ctx context.Context, arguments string) (string, error)
}

// ToolRegistrar is implemented by handlers that accept tools. Handlers that do
// not implement it are wrapped without tool support.
type ToolRegistrar interface {
	RegisterTool(tool NativeTool) error
}

// NativeMemory is a session-scoped message store owned by the handler.
type NativeMemory interface {
	Add(ctx context.Context, session string, m Message) error
	Query(ctx context.Context, session string) ([]Message, error)
	Clear(ctx context.Context, session string) error
}

// EvictionReporter is optionally implemented by a NativeMemory that drops old
// messages on its own.
type EvictionReporter interface {
	Evicted(ctx context.Context, session string) bool
}

// MemoryOwner is implemented by handlers that bring their own memory.
type MemoryOwner interface {
	Memory() NativeMemory
}

// ModelBinder is implemented by handlers that accept the bound provider as
// their model client.
type ModelBinder interface {
	BindModel(p provider.Provider) error
}
