package observability

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace enriches base with trace_id/span_id pulled from ctx's
// active OTel span, if any, so a log line can be correlated with the
// span it was emitted under.
func LoggerWithTrace(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return base
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return base
	}
	l := base.With().Str("trace_id", sc.TraceID().String())
	if sc.HasSpanID() {
		l = l.Str("span_id", sc.SpanID().String())
	}
	if sc.IsSampled() {
		l = l.Bool("trace_sampled", true)
	}
	return l.Logger()
}
