package core

import "context"

// ReadResult is the answer of Memory.Read. WasTruncated is true when messages
// of the session were evicted by the store or cut off by the read limit.
type ReadResult struct {
	Messages     []Message `json:"messages"`
	WasTruncated bool      `json:"was_truncated"`
}

// Memory is the uniform session-scoped conversation store exposed by agents.
// Reads return messages in append order; limit <= 0 returns everything,
// otherwise the latest limit messages.
type Memory interface {
	Append(ctx context.Context, key string, m Message) error
	Read(ctx context.Context, key string, limit int) (ReadResult, error)
	Clear(ctx context.Context, key string) error
}
