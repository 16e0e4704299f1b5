package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ToolFunc executes a tool call and returns the tool result message.
type ToolFunc func(ctx context.Context, call ToolCall) (Message, error)

// ToolSpec is the framework-neutral description of a callable tool: name,
// description, JSON-schema parameters and the invocation target.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Invoke      ToolFunc       `json:"-"`
}

// Call invokes the tool. The result is always a tool message correlated with
// call.ID, even when the implementation forgot to set it.
func (t *ToolSpec) Call(ctx context.Context, call ToolCall) (Message, error) {
	if t.Invoke == nil {
		return Message{}, NewError(KindToolInvocation, t.Name, "tool has no invocation target", nil)
	}
	if call.Name == "" {
		call.Name = t.Name
	}
	out, err := t.Invoke(ctx, call)
	if err != nil {
		return Message{}, err
	}
	out.Role = RoleTool
	out.ToolCalls = nil
	if out.ToolCallID == "" {
		out.ToolCallID = call.ID
	}
	if out.Name == "" {
		out.Name = t.Name
	}
	return out, nil
}

// Validate checks that the tool is callable.
func (t *ToolSpec) Validate() error {
	if t == nil {
		return NewError(KindInvalidConfig, "tool", "nil tool spec", nil)
	}
	if t.Name == "" {
		return NewError(KindInvalidConfig, "tool", "tool name must be set", nil)
	}
	if t.Invoke == nil {
		return NewError(KindInvalidConfig, "tool", fmt.Sprintf("tool %q has no invocation target", t.Name), nil)
	}
	return nil
}

// ToolSet is a name-unique, registration-ordered collection of tools. It is
// safe for concurrent use.
type ToolSet struct {
	mu    sync.RWMutex
	byKey map[string]*ToolSpec
	order []string
}

// NewToolSet creates a set and registers tools in order.
func NewToolSet(tools ...*ToolSpec) (*ToolSet, error) {
	s := &ToolSet{byKey: map[string]*ToolSpec{}}
	for _, t := range tools {
		if err := s.Register(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Register adds a tool. A duplicate name fails with ToolNameCollision and the
// first registration stays active.
func (s *ToolSet) Register(t *ToolSpec) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byKey == nil {
		s.byKey = map[string]*ToolSpec{}
	}
	if _, exists := s.byKey[t.Name]; exists {
		return NewError(KindToolNameCollision, "tool.register", fmt.Sprintf("tool %q is already registered", t.Name), nil)
	}
	s.byKey[t.Name] = t
	s.order = append(s.order, t.Name)
	return nil
}

// Get returns the tool registered under name.
func (s *ToolSet) Get(name string) (*ToolSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byKey[name]
	return t, ok
}

// List returns the tools in registration order.
func (s *ToolSet) List() []*ToolSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ToolSpec, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.byKey[n])
	}
	return out
}

// Names returns the registered names sorted alphabetically.
func (s *ToolSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]string(nil), s.order...)
	sort.Strings(out)
	return out
}

// Len returns the number of registered tools.
func (s *ToolSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// With returns a new set holding s's tools followed by extra. Collisions with
// already registered names fail.
func (s *ToolSet) With(extra ...*ToolSpec) (*ToolSet, error) {
	return NewToolSet(append(s.List(), extra...)...)
}
