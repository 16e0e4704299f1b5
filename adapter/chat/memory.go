package chat

import (
	"context"

	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/memory"
)

// BatchAdder is optionally implemented by a NativeMemory that can commit
// several messages at once.
type BatchAdder interface {
	AddAll(ctx context.Context, session string, msgs []Message) error
}

// nativeStore adapts a handler-owned NativeMemory to memory.Store so it can
// sit behind the shared memory facade.
type nativeStore struct {
	native NativeMemory
	self   string
}

var _ memory.Store = (*nativeStore)(nil)

// Append commits through AddAll when the native memory supports it; otherwise
// messages are added one by one.
func (s *nativeStore) Append(ctx context.Context, key string, msgs ...core.Message) error {
	batch := make([]Message, len(msgs))
	for i, m := range msgs {
		batch[i] = toNative(m)
	}
	if b, ok := s.native.(BatchAdder); ok {
		return b.AddAll(ctx, key, batch)
	}
	for _, m := range batch {
		if err := s.native.Add(ctx, key, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *nativeStore) Load(ctx context.Context, key string, limit int) (core.ReadResult, error) {
	raw, err := s.native.Query(ctx, key)
	if err != nil {
		return core.ReadResult{}, err
	}
	msgs := make([]core.Message, 0, len(raw))
	for _, m := range raw {
		c, err := fromNative(m, s.self)
		if err != nil {
			return core.ReadResult{}, err
		}
		msgs = append(msgs, c)
	}

	truncated := false
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
		truncated = true
	}
	if ev, ok := s.native.(EvictionReporter); ok && ev.Evicted(ctx, key) {
		truncated = true
	}
	return core.ReadResult{Messages: msgs, WasTruncated: truncated}, nil
}

func (s *nativeStore) Clear(ctx context.Context, key string) error {
	return s.native.Clear(ctx, key)
}
