package memory

import (
	"context"
	"sync"

	"github.com/hupe1980/meepo/core"
)

type session struct {
	messages []core.Message
	evicted  bool
}

// InMemoryStore is a process-local Store. With MaxMessages > 0 it keeps only
// the newest MaxMessages messages per session; evicted sessions read back
// with WasTruncated set until they are cleared.
//
// Concurrency: protected by RWMutex.
type InMemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*session
	maxMessages int
}

// InMemoryOptions configure an InMemoryStore.
type InMemoryOptions struct {
	// MaxMessages caps each session; 0 means unbounded.
	MaxMessages int
}

// NewInMemoryStore creates a new in-memory message store.
func NewInMemoryStore(optFns ...func(o *InMemoryOptions)) *InMemoryStore {
	opts := InMemoryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{
		sessions:    make(map[string]*session),
		maxMessages: opts.MaxMessages,
	}
}

// Append commits msgs for key and evicts the oldest messages over capacity.
func (s *InMemoryStore) Append(ctx context.Context, key string, msgs ...core.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		sess = &session{}
		s.sessions[key] = sess
	}
	for _, m := range msgs {
		sess.messages = append(sess.messages, m.Clone())
	}
	if s.maxMessages > 0 && len(sess.messages) > s.maxMessages {
		drop := len(sess.messages) - s.maxMessages
		sess.messages = append([]core.Message(nil), sess.messages[drop:]...)
		sess.evicted = true
	}
	return nil
}

// Load returns deep copies of the session's messages.
func (s *InMemoryStore) Load(ctx context.Context, key string, limit int) (core.ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return core.ReadResult{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[key]
	if !ok {
		return core.ReadResult{Messages: []core.Message{}}, nil
	}
	msgs, cut := window(sess.messages, limit)
	out := make([]core.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return core.ReadResult{Messages: out, WasTruncated: cut || sess.evicted}, nil
}

// Clear removes the session and its eviction marker.
func (s *InMemoryStore) Clear(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

