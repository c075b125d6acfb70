// Package telemetry defines the logging, tracing, and metrics surfaces
// consumed throughout the agent execution core. Every component that logs
// or traces accepts these interfaces through constructor options rather
// than reaching for package-level globals; a no-op implementation is the
// default so the core never forces a logging/tracing backend on a host
// application.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the minimal structured leveled-logging surface.
type Logger interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
}

// Metrics records counters, timers, and gauges. In this module the hook
// presets (package hooks) are what record through it.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, d time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Span is a single traced unit of work.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, kv ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Tracer starts spans for LLM calls, gadget executions, and loop
// iterations.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}
