package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/logging"
)

// Compile-time check.
var _ core.Memory = (*Facade)(nil)

var errEmptyKey = errors.New("session key is empty")

// FacadeOptions configure a Facade.
type FacadeOptions struct {
	Logger logging.Logger
}

// Facade implements core.Memory over a Store.
type Facade struct {
	store  Store
	locks  *keyLocks
	logger logging.Logger
}

// NewFacade wraps store.
func NewFacade(store Store, optFns ...func(o *FacadeOptions)) *Facade {
	opts := FacadeOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Facade{
		store:  store,
		locks:  newKeyLocks(),
		logger: logging.OrNoOp(opts.Logger),
	}
}

// Store returns the wrapped store.
func (f *Facade) Store() Store { return f.store }

// Append implements core.Memory.
func (f *Facade) Append(ctx context.Context, key string, m core.Message) error {
	return f.Extend(ctx, key, m)
}

// Extend appends msgs as one atomic unit under the session lock. When ctx is
// cancelled before the store commits, nothing is written and the context
// error is returned.
func (f *Facade) Extend(ctx context.Context, key string, msgs ...core.Message) error {
	if key == "" {
		return core.MemoryError("memory.append", errEmptyKey)
	}
	normalized := make([]core.Message, len(msgs))
	for i, m := range msgs {
		n, err := m.Normalized()
		if err != nil {
			return err
		}
		if err := n.Validate(); err != nil {
			return err
		}
		normalized[i] = n
	}

	unlock, err := f.locks.lock(ctx, key)
	if err != nil {
		return fmt.Errorf("memory.append: %w", err)
	}
	defer unlock()

	if err := ctx.Err(); err != nil {
		f.logger.Debug("memory.append.discarded", "session", key, "messages", len(msgs))
		return fmt.Errorf("memory.append: %w", err)
	}
	if err := f.store.Append(ctx, key, normalized...); err != nil {
		if core.IsCancellation(err) {
			return fmt.Errorf("memory.append: %w", err)
		}
		return core.MemoryError("memory.append", err).WithContext("session", key)
	}
	f.logger.Debug("memory.append", "session", key, "messages", len(msgs))
	return nil
}

// Read implements core.Memory.
func (f *Facade) Read(ctx context.Context, key string, limit int) (core.ReadResult, error) {
	if key == "" {
		return core.ReadResult{}, core.MemoryError("memory.read", errEmptyKey)
	}
	res, err := f.store.Load(ctx, key, limit)
	if err != nil {
		if core.IsCancellation(err) {
			return core.ReadResult{}, fmt.Errorf("memory.read: %w", err)
		}
		return core.ReadResult{}, core.MemoryError("memory.read", err).WithContext("session", key)
	}
	if res.Messages == nil {
		res.Messages = []core.Message{}
	}
	return res, nil
}

// Clear implements core.Memory.
func (f *Facade) Clear(ctx context.Context, key string) error {
	if key == "" {
		return core.MemoryError("memory.clear", errEmptyKey)
	}
	unlock, err := f.locks.lock(ctx, key)
	if err != nil {
		return fmt.Errorf("memory.clear: %w", err)
	}
	defer unlock()

	if err := f.store.Clear(ctx, key); err != nil {
		if core.IsCancellation(err) {
			return fmt.Errorf("memory.clear: %w", err)
		}
		return core.MemoryError("memory.clear", err).WithContext("session", key)
	}
	f.logger.Debug("memory.clear", "session", key)
	return nil
}

// keyLocks hands out one mutex per session key. Waiting for a lock can be
// abandoned through the context; entries are dropped once unreferenced.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (l *keyLocks) lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		return func() {
			<-kl.ch
			l.release(key, kl)
		}, nil
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}
}

func (l *keyLocks) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// ConversationFrom builds a scratch conversation from a read result. The
// truncation flag is recorded under the "memory.was_truncated" metadata key.
func ConversationFrom(res core.ReadResult) *core.Conversation {
	c := core.NewConversation(res.Messages...)
	c.Metadata["memory.was_truncated"] = res.WasTruncated
	return c
}
