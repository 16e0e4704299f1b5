package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/meepo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T, maxMessages int) Store

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"in-memory": func(_ *testing.T, maxMessages int) Store {
			return NewInMemoryStore(func(o *InMemoryOptions) { o.MaxMessages = maxMessages })
		},
		"sqlite": func(t *testing.T, maxMessages int) Store {
			dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", core.NewID())
			s, err := OpenSQLite(dsn, func(o *SQLiteOptions) { o.MaxMessages = maxMessages })
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestFacade_AppendReadClear(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mem := NewFacade(newStore(t, 0))

			call := core.ToolCall{ID: "c1", Name: "search", Arguments: []byte(`{"q":"go"}`)}
			msgs := []core.Message{
				core.UserMessage("hi", core.WithMetadata(core.Metadata{"turn": 1, "score": 0.5})),
				core.AssistantMessage("", core.WithToolCalls(call)),
				core.ToolMessage("c1", "result"),
			}
			for _, m := range msgs {
				require.NoError(t, mem.Append(ctx, "s1", m))
			}

			res, err := mem.Read(ctx, "s1", 0)
			require.NoError(t, err)
			require.Len(t, res.Messages, 3)
			assert.False(t, res.WasTruncated)
			for i := range msgs {
				assert.True(t, msgs[i].Equal(res.Messages[i]), "message %d", i)
			}
			assert.Equal(t, int64(1), res.Messages[0].Metadata["turn"])

			latest, err := mem.Read(ctx, "s1", 2)
			require.NoError(t, err)
			require.Len(t, latest.Messages, 2)
			assert.Equal(t, core.RoleAssistant, latest.Messages[0].Role)
			assert.True(t, latest.WasTruncated)

			other, err := mem.Read(ctx, "s2", 0)
			require.NoError(t, err)
			assert.Empty(t, other.Messages)
			assert.NotNil(t, other.Messages)

			require.NoError(t, mem.Clear(ctx, "s1"))
			res, err = mem.Read(ctx, "s1", 0)
			require.NoError(t, err)
			assert.Empty(t, res.Messages)
		})
	}
}

func TestFacade_EvictionIsObservable(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mem := NewFacade(newStore(t, 3))

			for i := 0; i < 5; i++ {
				require.NoError(t, mem.Append(ctx, "s", core.UserMessage(fmt.Sprintf("m%d", i))))
			}

			res, err := mem.Read(ctx, "s", 0)
			require.NoError(t, err)
			require.Len(t, res.Messages, 3)
			assert.True(t, res.WasTruncated)
			assert.Equal(t, "m2", res.Messages[0].Content)
			assert.Equal(t, "m4", res.Messages[2].Content)

			require.NoError(t, mem.Clear(ctx, "s"))
			require.NoError(t, mem.Append(ctx, "s", core.UserMessage("fresh")))
			res, err = mem.Read(ctx, "s", 0)
			require.NoError(t, err)
			assert.False(t, res.WasTruncated)
		})
	}
}

func TestFacade_ConcurrentAppends(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mem := NewFacade(newStore(t, 0))

			const n = 50
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, mem.Extend(ctx, "shared", core.UserMessage(fmt.Sprintf("q%d", i)), core.AssistantMessage(fmt.Sprintf("a%d", i))))
				}(i)
			}
			wg.Wait()

			res, err := mem.Read(ctx, "shared", 0)
			require.NoError(t, err)
			require.Len(t, res.Messages, 2*n)
			// Pairs committed by one Extend stay adjacent.
			for i := 0; i < len(res.Messages); i += 2 {
				q, a := res.Messages[i].Content, res.Messages[i+1].Content
				assert.Equal(t, "a"+q[1:], a)
			}
		})
	}
}

func TestFacade_CancelledAppendIsDiscarded(t *testing.T) {
	mem := NewFacade(NewInMemoryStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := mem.Append(ctx, "s", core.UserMessage("lost"))
	assert.True(t, errors.Is(err, context.Canceled))

	res, err := mem.Read(context.Background(), "s", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Messages)
}

func TestFacade_LockWaitHonoursContext(t *testing.T) {
	mem := NewFacade(NewInMemoryStore())

	unlock, err := mem.locks.lock(context.Background(), "s")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = mem.Append(ctx, "s", core.UserMessage("late"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	unlock()
	require.NoError(t, mem.Append(context.Background(), "s", core.UserMessage("ok")))

	res, err := mem.Read(context.Background(), "s", 0)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "ok", res.Messages[0].Content)
	assert.Empty(t, mem.locks.locks)
}

// blockingStore holds the append numbered blockOn until its context is
// done, then hands the cancelled context to the wrapped store.
type blockingStore struct {
	Store
	blockOn int
	calls   int
	mu      sync.Mutex
	blocked chan struct{}
}

func (s *blockingStore) Append(ctx context.Context, key string, msgs ...core.Message) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	if n == s.blockOn {
		close(s.blocked)
		<-ctx.Done()
	}
	return s.Store.Append(ctx, key, msgs...)
}

func TestFacade_CancelDuringStoreAppendKeepsEarlierMessages(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			store := &blockingStore{Store: newStore(t, 0), blockOn: 3, blocked: make(chan struct{})}
			mem := NewFacade(store)

			require.NoError(t, mem.Append(context.Background(), "s", core.UserMessage("one")))
			require.NoError(t, mem.Append(context.Background(), "s", core.AssistantMessage("two")))

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- mem.Append(ctx, "s", core.UserMessage("three")) }()

			<-store.blocked
			cancel()

			select {
			case err := <-done:
				assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
				assert.False(t, errors.Is(err, core.ErrMemory))
			case <-time.After(2 * time.Second):
				t.Fatal("append did not return after cancellation")
			}

			res, err := mem.Read(context.Background(), "s", 0)
			require.NoError(t, err)
			require.Len(t, res.Messages, 2)
			assert.Equal(t, "one", res.Messages[0].Content)
			assert.Equal(t, "two", res.Messages[1].Content)
		})
	}
}

func TestStores_KeepHTMLCharactersVerbatim(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mem := NewFacade(newStore(t, 0))

			m := core.AssistantMessage("<b>a & b</b>",
				core.WithData([]byte(`{"html":"<b>a & b</b>"}`)),
				core.WithToolCalls(core.ToolCall{ID: "c1", Name: "search", Arguments: []byte(`{"q":"a<b"}`)}))
			require.NoError(t, mem.Append(ctx, "s", m))

			res, err := mem.Read(ctx, "s", 0)
			require.NoError(t, err)
			require.Len(t, res.Messages, 1)
			got := res.Messages[0]
			assert.Equal(t, `{"html":"<b>a & b</b>"}`, string(got.Data))
			assert.Equal(t, `{"q":"a<b"}`, string(got.ToolCalls[0].Arguments))
			assert.True(t, m.Equal(got))
		})
	}
}

type failingStore struct{ Store }

func (failingStore) Append(context.Context, string, ...core.Message) error {
	return errors.New("disk full")
}

func TestFacade_StoreErrorsAreMemoryErrors(t *testing.T) {
	mem := NewFacade(failingStore{NewInMemoryStore()})

	err := mem.Append(context.Background(), "s", core.UserMessage("x"))
	assert.True(t, errors.Is(err, core.ErrMemory))

	err = mem.Append(context.Background(), "", core.UserMessage("x"))
	assert.True(t, errors.Is(err, core.ErrMemory))

	err = mem.Append(context.Background(), "s", core.Message{})
	assert.True(t, errors.Is(err, core.ErrInvalidMessage))
}

func TestConversationFrom(t *testing.T) {
	c := ConversationFrom(core.ReadResult{Messages: []core.Message{core.UserMessage("a")}, WasTruncated: true})
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, true, c.Metadata["memory.was_truncated"])
}
