package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/logging"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

// Metadata key marking a tool result that reports a failure to the model.
const MetaToolError = "tool.error"

// ExecutorOptions configure the tool executor.
type ExecutorOptions struct {
	// MaxParallel bounds concurrent tool calls; <= 0 runs the whole batch at once.
	MaxParallel int
	// Timeout bounds each tool call; 0 disables it.
	Timeout time.Duration
	Logger  logging.Logger
}

// Executor runs a batch of tool calls in parallel. It never panics: a
// panicking tool is reported as a failed result. Results are returned in the
// order of the calls.
type Executor struct {
	opts ExecutorOptions
}

// NewExecutor creates an executor.
func NewExecutor(optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Executor{opts: opts}
}

// Execute runs calls against tools and returns one tool message per call.
// Tool failures become tool messages flagged with MetaToolError so the model
// can react; only cancellation of ctx is returned as an error.
func (e *Executor) Execute(ctx context.Context, tools *core.ToolSet, calls []core.ToolCall) ([]core.Message, error) {
	n := len(calls)
	if n == 0 {
		return nil, nil
	}

	results := make([]core.Message, n)
	if n == 1 {
		results[0] = e.executeOne(ctx, tools, calls[0])
		return results, ctx.Err()
	}

	maxPar := e.opts.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	batchStart := time.Now()
	p := pool.New().WithMaxGoroutines(maxPar)
	for i, call := range calls {
		p.Go(func() {
			results[i] = e.executeOne(ctx, tools, call)
		})
	}
	p.Wait()

	e.opts.Logger.Debug("tool.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return results, ctx.Err()
}

func (e *Executor) executeOne(ctx context.Context, tools *core.ToolSet, call core.ToolCall) core.Message {
	if err := ctx.Err(); err != nil {
		return failure(call, err)
	}
	spec, ok := tools.Get(call.Name)
	if !ok {
		return failure(call, fmt.Errorf("tool %s not found", call.Name))
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	var (
		out core.Message
		err error
	)
	var pc panics.Catcher
	pc.Try(func() { out, err = spec.Call(ctx, call) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
		e.opts.Logger.Error("tool.call.panic", "tool", call.Name, "call_id", call.ID, "recover", fmt.Sprint(r.Value))
	}
	dur := time.Since(start)

	if cl, ok := e.opts.Logger.(*logging.ContextLogger); ok {
		cl.WithContext("call_id", call.ID).LogToolCall(call.Name, dur, err)
	} else if err != nil {
		e.opts.Logger.Warn("tool.call.error", "tool", call.Name, "call_id", call.ID, "duration_ms", dur.Milliseconds(), "error", err.Error())
	} else {
		e.opts.Logger.Info("tool.call.success", "tool", call.Name, "call_id", call.ID, "duration_ms", dur.Milliseconds())
	}
	if err != nil {
		return failure(call, err)
	}
	return out
}

func failure(call core.ToolCall, err error) core.Message {
	kind := string(core.KindOf(err))
	if kind == "" {
		kind = string(core.KindToolInvocation)
	}
	if errors.Is(err, context.Canceled) {
		kind = "CANCELLED"
	}
	return core.ToolMessage(call.ID, "error: "+err.Error(),
		core.WithName(call.Name),
		core.WithMetadata(core.Metadata{MetaToolError: kind}),
	)
}
