// Package telemetry provides the OpenTelemetry tracer and metric instruments
// used at the tool bridge and hierarchy coordinator boundaries. By default the
// global providers are used, which are no-ops until the host installs an SDK.
package telemetry

import (
	"context"
	"time"

	"github.com/hupe1980/meepo/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// ScopeName is the instrumentation scope of every tracer and meter.
const ScopeName = "github.com/hupe1980/meepo"

// Attribute keys.
const (
	AttrToolName       = "meepo.tool.name"
	AttrToolCallID     = "meepo.tool.call_id"
	AttrAgentName      = "meepo.agent.name"
	AttrAgentFramework = "meepo.agent.framework"
	AttrProvider       = "meepo.provider"
	AttrSessionKey     = "meepo.session.key"
	AttrTaskID         = "meepo.task.id"
	AttrTaskStatus     = "meepo.task.status"
	AttrWorker         = "meepo.task.worker"
	AttrAttempt        = "meepo.task.attempt"
	AttrErrorKind      = "meepo.error.kind"
	AttrOutcome        = "meepo.outcome"
)

// Options select the OTel providers.
type Options struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Instruments bundles the tracer and metric instruments of one component.
type Instruments struct {
	Tracer trace.Tracer

	BridgeCalls    metric.Int64Counter
	BridgeDuration metric.Float64Histogram
	TaskAttempts   metric.Int64Counter
	TaskDuration   metric.Float64Histogram
}

// New creates the instruments from the configured (or global) providers.
func New(optFns ...func(o *Options)) (*Instruments, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = otel.GetMeterProvider()
	}

	meter := opts.MeterProvider.Meter(ScopeName)

	bridgeCalls, err := meter.Int64Counter(
		"meepo.bridge.calls",
		metric.WithDescription("Cross-agent tool calls by agent and outcome"),
	)
	if err != nil {
		return nil, err
	}

	bridgeDuration, err := meter.Float64Histogram(
		"meepo.bridge.duration",
		metric.WithDescription("Duration of cross-agent tool calls"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	taskAttempts, err := meter.Int64Counter(
		"meepo.hierarchy.attempts",
		metric.WithDescription("Worker attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	taskDuration, err := meter.Float64Histogram(
		"meepo.hierarchy.task.duration",
		metric.WithDescription("Duration of hierarchy tasks including retries"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:         opts.TracerProvider.Tracer(ScopeName),
		BridgeCalls:    bridgeCalls,
		BridgeDuration: bridgeDuration,
		TaskAttempts:   taskAttempts,
		TaskDuration:   taskDuration,
	}, nil
}

// Default returns instruments on the global providers. Instrument creation on
// the global providers cannot fail; should it ever, a no-op set is returned.
func Default() *Instruments {
	in, err := New()
	if err != nil {
		return Noop()
	}
	return in
}

// Noop returns instruments that record nothing.
func Noop() *Instruments {
	in, _ := New(func(o *Options) {
		o.TracerProvider = tracenoop.NewTracerProvider()
		o.MeterProvider = metricnoop.NewMeterProvider()
	})
	return in
}

// RecordBridgeCall adds one bridge call to the counter and histogram.
func (in *Instruments) RecordBridgeCall(ctx context.Context, tool, agent string, dur time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String(AttrToolName, tool),
		attribute.String(AttrAgentName, agent),
		attribute.String(AttrOutcome, Outcome(err)),
	)
	in.BridgeCalls.Add(ctx, 1, attrs)
	in.BridgeDuration.Record(ctx, Millis(dur), attrs)
}

// RecordAttempt counts one worker attempt.
func (in *Instruments) RecordAttempt(ctx context.Context, worker string, err error) {
	in.TaskAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrWorker, worker),
		attribute.String(AttrOutcome, Outcome(err)),
	))
}

// RecordTask records the total duration of a finished task.
func (in *Instruments) RecordTask(ctx context.Context, status string, dur time.Duration) {
	in.TaskDuration.Record(ctx, Millis(dur), metric.WithAttributes(attribute.String(AttrTaskStatus, status)))
}

// EndSpan records err (if any) on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if kind := core.KindOf(err); kind != "" {
			span.SetAttributes(attribute.String(AttrErrorKind, string(kind)))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Outcome classifies err for metric attributes: "success", "transient",
// "cancelled" or "error".
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case core.IsCancellation(err) && !core.IsTransient(err):
		return "cancelled"
	case core.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}

// Millis converts d into fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
