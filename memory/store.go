package memory

import (
	"context"

	"github.com/hupe1980/meepo/core"
)

// Store persists ordered messages per session key. Implementations must
// commit an Append atomically: either all messages of the call become visible
// or none do. Stores with a capacity evict oldest-first and report the
// eviction through ReadResult.WasTruncated.
type Store interface {
	Append(ctx context.Context, key string, msgs ...core.Message) error
	// Load returns messages in append order. limit <= 0 returns all of them,
	// otherwise the latest limit.
	Load(ctx context.Context, key string, limit int) (core.ReadResult, error)
	Clear(ctx context.Context, key string) error
}

// window cuts msgs to the latest limit entries.
func window(msgs []core.Message, limit int) ([]core.Message, bool) {
	if limit <= 0 || len(msgs) <= limit {
		return msgs, false
	}
	return msgs[len(msgs)-limit:], true
}
