package core

import (
	"sync"

	"github.com/google/uuid"
)

// NewID returns a random identifier.
func NewID() string { return uuid.NewString() }

// Conversation is an ordered scratch transcript with an identifier. It is safe
// for concurrent use.
type Conversation struct {
	ID       string
	Metadata map[string]any

	mu       sync.RWMutex
	messages []Message
}

// NewConversation creates an empty conversation seeded with msgs.
func NewConversation(msgs ...Message) *Conversation {
	c := &Conversation{ID: NewID(), Metadata: map[string]any{}}
	for _, m := range msgs {
		c.messages = append(c.messages, m.Clone())
	}
	return c
}

// Add appends messages.
func (c *Conversation) Add(msgs ...Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		c.messages = append(c.messages, m.Clone())
	}
}

// Messages returns a copy of the transcript.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}

// Last returns the most recent message.
func (c *Conversation) Last() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1].Clone(), true
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Clear removes all messages.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
