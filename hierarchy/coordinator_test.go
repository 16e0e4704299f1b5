package hierarchy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/meepo/bridge"
	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/internal/testutil"
	"github.com/hupe1980/meepo/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func fastRetries(o *Options) {
	o.InitialInterval = time.Millisecond
	o.MaxInterval = 2 * time.Millisecond
}

// flaky fails with err for the first n runs, then answers.
func flaky(name string, n int32, err error) (Worker, *int32) {
	var calls int32
	return FuncWorker(name, func(context.Context, core.Message) (core.Message, error) {
		if atomic.AddInt32(&calls, 1) <= n {
			return core.Message{}, err
		}
		return core.Message{Content: name + " done"}, nil
	}), &calls
}

func TestDelegate_Success(t *testing.T) {
	c := New()
	agent := testutil.NewStubAgent("writer")

	task, err := c.Delegate(context.Background(), "draft the intro", agent)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, task.Status)
	assert.Equal(t, 1, task.Attempts)
	require.Len(t, task.History, 1)
	assert.Equal(t, "writer", task.History[0].Worker)
	assert.Equal(t, "writer: draft the intro", task.Result.Output.Content)
	assert.Equal(t, []core.Descriptor{agent.Describe()}, task.Workers)
	assert.NotEmpty(t, task.ID)
	assert.Positive(t, task.Duration())
}

func TestDelegate_TransientIsRetriedThenFails(t *testing.T) {
	logger := &testutil.RecordingLogger{}
	c := New(fastRetries, func(o *Options) { o.Logger = logger })
	w, calls := flaky("w", 100, core.TransientProviderError("openai.complete", errors.New("503")))

	task, err := c.Delegate(context.Background(), "job", w)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, core.KindProvider, task.Kind())
	assert.Equal(t, 3, task.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
	require.Len(t, task.History, 3)
	for i, a := range task.History {
		assert.Equal(t, i+1, a.Number)
		assert.True(t, a.Transient)
		assert.Equal(t, core.KindProvider, a.ErrKind)
	}
	assert.Len(t, logger.Find("hierarchy.task.retry"), 2)
	assert.Len(t, logger.Find("hierarchy.task.failed"), 1)
}

func TestDelegate_TransientThenSuccess(t *testing.T) {
	c := New(fastRetries)
	w, _ := flaky("w", 2, core.TransientProviderError("op", errors.New("429")))

	task, err := c.Delegate(context.Background(), "job", w)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, task.Status)
	assert.Equal(t, 3, task.Attempts)
	assert.Equal(t, "w done", task.Result.Output.Content)
}

func TestDelegate_NonTransientFailsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind core.Kind
	}{
		{"permanent provider", core.PermanentProviderError("op", errors.New("401")), core.KindProvider},
		{"capability", core.CapabilityUnsupported("w", "memory"), core.KindCapabilityUnsupported},
		{"plain", errors.New("bug"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, calls := flaky("w", 100, tt.err)
			task, err := New(fastRetries).Delegate(context.Background(), "job", w)
			require.Error(t, err)
			assert.Equal(t, StatusFailed, task.Status)
			assert.Equal(t, tt.kind, task.Kind())
			assert.Equal(t, 1, task.Attempts)
			assert.Equal(t, int32(1), atomic.LoadInt32(calls))
		})
	}
}

func TestDelegate_ThroughToolBridge(t *testing.T) {
	var calls int32
	callee := testutil.NewStubAgent("remote")
	callee.Fn = func(_ context.Context, in core.Message, _ core.RunConfig) (*core.RunResult, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, core.TransientProviderError("anthropic.complete", errors.New("overloaded"))
		}
		return core.Final(core.AssistantMessage("remote says "+in.Text()), nil), nil
	}
	spec, err := bridge.WrapAsTool(callee, "", "")
	require.NoError(t, err)

	task, err := New(fastRetries).Delegate(context.Background(), "hello", ToolWorker(spec))
	require.NoError(t, err)
	assert.Equal(t, 2, task.Attempts)
	assert.Equal(t, core.KindToolInvocation, task.History[0].ErrKind)
	assert.True(t, task.History[0].Transient)
	assert.Equal(t, "remote says hello", task.Result.Output.Content)
	assert.Equal(t, core.RoleAssistant, task.Result.Output.Role)
}

func TestFanOut_PreservesAssignmentOrder(t *testing.T) {
	slow := FuncWorker("W2", func(ctx context.Context, _ core.Message) (core.Message, error) {
		time.Sleep(40 * time.Millisecond)
		return core.Message{Content: "from W2"}, nil
	})
	fast := FuncWorker("W1", func(context.Context, core.Message) (core.Message, error) {
		return core.Message{Content: "from W1"}, nil
	})

	agg, err := New().FanOut(context.Background(), "research", fast, slow)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, agg.Task.Status)

	msgs := agg.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "from W1", msgs[0].Content)
	assert.Equal(t, "from W2", msgs[1].Content)
	assert.Equal(t, "from W1\n\nfrom W2", agg.Task.Result.Output.Content)
	assert.Equal(t, "W1", agg.Results()[0].Worker.Name)
}

func TestFanOut_PartialFailure(t *testing.T) {
	ok := FuncWorker("ok", func(context.Context, core.Message) (core.Message, error) {
		return core.Message{Content: "fine"}, nil
	})
	bad, _ := flaky("bad", 100, core.PermanentProviderError("op", errors.New("denied")))

	agg, err := New(fastRetries).FanOut(context.Background(), "job", ok, bad)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, agg.Task.Status)
	assert.Contains(t, err.Error(), "worker bad")
	assert.Len(t, agg.Messages(), 1)
	assert.Equal(t, core.KindProvider, agg.Task.Kind())
}

func TestFanOut_BoundedParallelism(t *testing.T) {
	var running, peak int32
	mk := func(name string) Worker {
		return FuncWorker(name, func(context.Context, core.Message) (core.Message, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return core.Message{Content: name}, nil
		})
	}

	agg, err := New(func(o *Options) { o.MaxParallel = 2 }).FanOut(context.Background(), "x", mk("a"), mk("b"), mk("c"), mk("d"))
	require.NoError(t, err)
	assert.Len(t, agg.Messages(), 4)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestTaskTimeout_CancelsRunningWorkers(t *testing.T) {
	var cancelled int32
	blocking := func(name string) Worker {
		return FuncWorker(name, func(ctx context.Context, _ core.Message) (core.Message, error) {
			<-ctx.Done()
			atomic.AddInt32(&cancelled, 1)
			return core.Message{}, ctx.Err()
		})
	}
	stubborn := FuncWorker("stubborn", func(context.Context, core.Message) (core.Message, error) {
		time.Sleep(500 * time.Millisecond)
		return core.Message{Content: "too late"}, nil
	})

	start := time.Now()
	agg, err := New(func(o *Options) { o.TaskTimeout = 30 * time.Millisecond }).
		FanOut(context.Background(), "job", blocking("a"), blocking("b"), stubborn)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.True(t, errors.Is(err, ErrTaskTimeout))
	assert.Equal(t, StatusFailed, agg.Task.Status)
	assert.Empty(t, agg.Messages())
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&cancelled) == 2 }, time.Second, 5*time.Millisecond)
}

func TestTaskTimeout_DuringBackoff(t *testing.T) {
	w, _ := flaky("w", 100, core.TransientProviderError("op", errors.New("503")))
	c := New(func(o *Options) {
		o.InitialInterval = time.Second
		o.MaxInterval = time.Second
		o.TaskTimeout = 30 * time.Millisecond
	})

	task, err := c.Delegate(context.Background(), "job", w)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTaskTimeout))
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, core.KindProvider, task.Kind())
}

func TestDelegate_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := FuncWorker("w", func(ctx context.Context, _ core.Message) (core.Message, error) {
		cancel()
		<-ctx.Done()
		return core.Message{}, ctx.Err()
	})

	task, err := New().Delegate(ctx, "job", w)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrTaskTimeout))
	assert.Equal(t, StatusFailed, task.Status)
}

func TestDelegate_WorkerPanic(t *testing.T) {
	w := FuncWorker("w", func(context.Context, core.Message) (core.Message, error) { panic("oops") })
	task, err := New().Delegate(context.Background(), "job", w)
	require.Error(t, err)
	assert.Equal(t, core.KindProvider, task.Kind())
	assert.Equal(t, 1, task.Attempts)
}

func TestCoordinator_Validation(t *testing.T) {
	_, err := New().Delegate(context.Background(), "x", nil)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
	_, err = New().FanOut(context.Background(), "x")
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}

func TestCoordinator_Span(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	in, err := telemetry.New(func(o *telemetry.Options) {
		o.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	})
	require.NoError(t, err)

	_, err = New(func(o *Options) { o.Telemetry = in }).Delegate(context.Background(), "x", testutil.NewStubAgent("a"))
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "hierarchy.task", spans[0].Name())
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusRunning))
	assert.True(t, CanTransition(StatusRunning, StatusRetried))
	assert.True(t, CanTransition(StatusRetried, StatusRunning))
	assert.True(t, CanTransition(StatusRunning, StatusSucceeded))
	assert.False(t, CanTransition(StatusPending, StatusSucceeded))
	assert.False(t, CanTransition(StatusSucceeded, StatusRunning))
	assert.False(t, CanTransition(StatusRetried, StatusSucceeded))
	assert.True(t, StatusFailed.Terminal())

	task := newTask("x", nil)
	require.NoError(t, task.advance(StatusRunning))
	require.NoError(t, task.advance(StatusRunning))
	assert.Error(t, task.advance(StatusPending))
}

func TestTransition_LogsRejectedSteps(t *testing.T) {
	logger := &testutil.RecordingLogger{}
	task := newTask("x", nil)

	transition(task, StatusRunning, logger)
	transition(task, StatusSucceeded, logger)
	assert.Empty(t, logger.Entries())

	transition(task, StatusRunning, logger)
	assert.Equal(t, StatusSucceeded, task.Status)

	rejected := logger.Find("hierarchy.task.transition_rejected")
	require.Len(t, rejected, 1)
	assert.Equal(t, "debug", rejected[0].Level)
	assert.Equal(t, task.ID, rejected[0].Fields["task_id"])
	assert.Equal(t, "running", rejected[0].Fields["to"])
	assert.Contains(t, rejected[0].Fields["error"], "succeeded -> running")
}

func TestDelegate_LogsNoRejectedTransitions(t *testing.T) {
	logger := &testutil.RecordingLogger{}
	c := New(fastRetries, func(o *Options) { o.Logger = logger })
	w, _ := flaky("w", 2, core.TransientProviderError("openai.complete", errors.New("503")))

	task, err := c.Delegate(context.Background(), "job", w)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, task.Status)
	assert.Empty(t, logger.Find("hierarchy.task.transition_rejected"))
}
