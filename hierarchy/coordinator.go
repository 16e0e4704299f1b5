// Package hierarchy composes agents as supervisor and workers. A Coordinator
// dispatches a task to a single worker (Delegate) or to several in parallel
// (FanOut), retries transient provider failures with exponential backoff and
// aggregates results in assignment order.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/logging"
	"github.com/hupe1980/meepo/telemetry"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
)

// ErrTaskTimeout reports a task that exceeded Options.TaskTimeout.
var ErrTaskTimeout = errors.New("task timed out")

// Options configure a Coordinator.
type Options struct {
	// MaxAttempts bounds attempts per worker, including the first (default 3).
	MaxAttempts int

	// Backoff between attempts of the same worker.
	InitialInterval     time.Duration // default 200ms
	Multiplier          float64       // default 2
	MaxInterval         time.Duration // default 5s
	RandomizationFactor float64       // default 0.2

	// TaskTimeout bounds a whole task including retries; 0 disables it.
	TaskTimeout time.Duration
	// MaxParallel bounds concurrent workers of a fan-out; <= 0 is unbounded.
	MaxParallel int
	// RunConfig is passed to every worker run.
	RunConfig core.RunConfig

	Logger    logging.Logger
	Telemetry *telemetry.Instruments
}

// Coordinator dispatches tasks to workers.
type Coordinator struct {
	opts Options
}

// New creates a coordinator.
func New(optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		MaxAttempts:         3,
		InitialInterval:     200 * time.Millisecond,
		Multiplier:          2,
		MaxInterval:         5 * time.Second,
		RandomizationFactor: 0.2,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Default()
	}
	return &Coordinator{opts: opts}
}

// Delegate runs description on a single worker. The returned error equals
// Task.Err.
func (c *Coordinator) Delegate(ctx context.Context, description string, w Worker) (*Task, error) {
	if w == nil {
		return nil, core.NewError(core.KindInvalidConfig, "hierarchy.delegate", "worker must be set", nil)
	}
	t := c.execute(ctx, newTask(description, []Worker{w}), []Worker{w}, core.Text(description))
	return t, t.Err
}

// FanOut runs description on every worker concurrently. The returned error
// equals Aggregate.Err.
func (c *Coordinator) FanOut(ctx context.Context, description string, workers ...Worker) (*Aggregate, error) {
	if len(workers) == 0 {
		return nil, core.NewError(core.KindInvalidConfig, "hierarchy.fanout", "at least one worker is required", nil)
	}
	for i, w := range workers {
		if w == nil {
			return nil, core.NewError(core.KindInvalidConfig, "hierarchy.fanout", fmt.Sprintf("worker %d is nil", i), nil)
		}
	}
	t := c.execute(ctx, newTask(description, workers), workers, core.Text(description))
	agg := &Aggregate{Task: t}
	return agg, agg.Err()
}

func (c *Coordinator) execute(ctx context.Context, t *Task, workers []Worker, input core.Message) *Task {
	t.Started = time.Now()

	ctx, span := c.opts.Telemetry.Tracer.Start(ctx, "hierarchy.task")
	span.SetAttributes(attribute.String(telemetry.AttrTaskID, t.ID), attribute.Int("meepo.task.workers", len(workers)))

	logger := c.opts.Logger
	if cl, ok := logger.(*logging.ContextLogger); ok {
		logger = cl.WithComponent("hierarchy")
	}

	parent := ctx
	if c.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, c.opts.TaskTimeout, ErrTaskTimeout)
		defer cancel()
	}

	transition(t, StatusRunning, logger)
	logger.Info("hierarchy.task.start", "task_id", t.ID, "workers", len(workers), "description", t.Description)

	if len(workers) == 1 {
		t.Assignments[0] = c.runWorker(ctx, parent, t, workers[0], input, logger)
	} else {
		maxPar := c.opts.MaxParallel
		if maxPar <= 0 || maxPar > len(workers) {
			maxPar = len(workers)
		}
		p := pool.New().WithMaxGoroutines(maxPar)
		for i, w := range workers {
			p.Go(func() {
				t.Assignments[i] = c.runWorker(ctx, parent, t, w, input, logger)
			})
		}
		p.Wait()
	}

	c.finish(t, logger)
	t.Finished = time.Now()

	c.opts.Telemetry.RecordTask(ctx, string(t.Status), t.Duration())
	telemetry.EndSpan(span, t.Err)

	if t.Err != nil {
		logger.Error("hierarchy.task.failed", "task_id", t.ID, "attempts", t.Attempts, "kind", string(t.Kind()), "duration_ms", t.Duration().Milliseconds(), "error", t.Err.Error())
	} else {
		logger.Info("hierarchy.task.succeeded", "task_id", t.ID, "attempts", t.Attempts, "duration_ms", t.Duration().Milliseconds())
	}
	return t
}

// finish derives the task outcome from its assignments.
func (c *Coordinator) finish(t *Task, logger logging.Logger) {
	var errs []error
	for _, a := range t.Assignments {
		if a.Err != nil {
			errs = append(errs, fmt.Errorf("worker %s: %w", a.Worker.Name, a.Err))
		}
	}
	if len(errs) > 0 {
		if len(errs) == 1 && len(t.Assignments) == 1 {
			t.Err = t.Assignments[0].Err
		} else {
			t.Err = errors.Join(errs...)
		}
		transition(t, StatusFailed, logger)
		return
	}

	if len(t.Assignments) == 1 {
		t.Result = t.Assignments[0].Result
	} else {
		t.Result = merge(t.Assignments)
	}
	transition(t, StatusSucceeded, logger)
}

// transition advances t. A step the state machine rejects leaves the status
// unchanged and is logged.
func transition(t *Task, to Status, logger logging.Logger) {
	if err := t.advance(to); err != nil {
		logger.Debug("hierarchy.task.transition_rejected", "task_id", t.ID, "to", string(to), "error", err.Error())
	}
}

// runWorker invokes w until it succeeds, fails permanently or exhausts the
// attempt budget. ctx carries the task deadline; parent is the caller's
// context and tells caller cancellation apart from the task timeout.
func (c *Coordinator) runWorker(ctx, parent context.Context, t *Task, w Worker, input core.Message, logger logging.Logger) Assignment {
	desc := w.Describe()
	asg := Assignment{Worker: desc}

	bo := &backoff.ExponentialBackOff{
		InitialInterval:     c.opts.InitialInterval,
		RandomizationFactor: c.opts.RandomizationFactor,
		Multiplier:          c.opts.Multiplier,
		MaxInterval:         c.opts.MaxInterval,
	}
	bo.Reset()

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			transition(t, StatusRunning, logger)
		}

		start := time.Now()
		res, err := c.invoke(ctx, w, input)
		dur := time.Since(start)

		if err == nil && res == nil {
			err = core.PermanentProviderError("hierarchy.worker", fmt.Errorf("worker %q returned no result", desc.Name))
		}
		if err != nil && ctx.Err() != nil {
			err = deadlineError(ctx, parent, err)
		}

		asg.Attempts = attempt
		t.record(Attempt{
			Worker:    desc.Name,
			Number:    attempt,
			Started:   start,
			Duration:  dur,
			Err:       err,
			ErrKind:   core.KindOf(err),
			Transient: core.IsTransient(err),
		})
		c.opts.Telemetry.RecordAttempt(ctx, desc.Name, err)
		if cl, ok := logger.(*logging.ContextLogger); ok {
			cl.LogTaskAttempt(t.ID, desc.Name, attempt, dur, err)
		} else {
			logger.Debug("hierarchy.task.attempt", "task_id", t.ID, "worker", desc.Name, "attempt", attempt, "duration_ms", dur.Milliseconds(), "success", err == nil)
		}

		if err == nil {
			asg.Result = res
			return asg
		}
		if !core.IsTransient(err) || ctx.Err() != nil || attempt >= c.opts.MaxAttempts {
			asg.Err = err
			return asg
		}

		wait := bo.NextBackOff()
		transition(t, StatusRetried, logger)
		logger.Warn("hierarchy.task.retry", "task_id", t.ID, "worker", desc.Name, "attempt", attempt, "backoff_ms", wait.Milliseconds(), "error", err.Error())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			asg.Err = deadlineError(ctx, parent, err)
			return asg
		case <-timer.C:
		}
	}
}

// invoke runs one attempt. The worker runs in its own goroutine so that an
// expired task deadline is reported even if the worker ignores cancellation.
func (c *Coordinator) invoke(ctx context.Context, w Worker, input core.Message) (*core.RunResult, error) {
	type outcome struct {
		res *core.RunResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				o = outcome{err: core.PermanentProviderError("hierarchy.worker", fmt.Errorf("worker panic: %v", r))}
			}
			done <- o
		}()
		o.res, o.err = w.Run(ctx, input, c.opts.RunConfig)
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// deadlineError explains why ctx ended: caller cancellation passes through,
// an expired task deadline becomes ErrTaskTimeout wrapping the last failure.
func deadlineError(ctx, parent context.Context, last error) error {
	if parent.Err() != nil {
		return fmt.Errorf("hierarchy: %w", parent.Err())
	}
	if errors.Is(context.Cause(ctx), ErrTaskTimeout) {
		if last != nil && !errors.Is(last, ErrTaskTimeout) && !core.IsCancellation(last) {
			return fmt.Errorf("hierarchy: %w: %w", ErrTaskTimeout, last)
		}
		return fmt.Errorf("hierarchy: %w: %w", ErrTaskTimeout, context.DeadlineExceeded)
	}
	return last
}

// merge combines successful assignments into one terminal result: output
// texts joined in assignment order, usage summed.
func merge(asgs []Assignment) *core.RunResult {
	parts := make([]string, 0, len(asgs))
	var usage *core.Usage
	for _, a := range asgs {
		if a.Result == nil {
			continue
		}
		parts = append(parts, a.Result.Output.Text())
		usage = core.MergeUsage(usage, a.Result.Usage)
	}
	return core.Final(core.AssistantMessage(strings.Join(parts, "\n\n")), usage)
}

// Aggregate is the supervisor view of a fan-out.
type Aggregate struct {
	Task *Task
}

// Results returns the assignments in assignment order.
func (a *Aggregate) Results() []Assignment { return a.Task.Assignments }

// Messages returns the outputs of successful workers in assignment order.
func (a *Aggregate) Messages() []core.Message {
	out := make([]core.Message, 0, len(a.Task.Assignments))
	for _, asg := range a.Task.Assignments {
		if asg.Result != nil {
			out = append(out, asg.Result.Output)
		}
	}
	return out
}

// Err joins the failures of all workers, or returns nil.
func (a *Aggregate) Err() error { return a.Task.Err }
