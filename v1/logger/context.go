package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// Field names added by the *WithContext methods.
const (
	RunIDField       = "run_id"
	TraceIDField     = "trace_id"
	DottedOrderField = "dotted_order"
	SpanIDField      = "span_id"
	OtelTraceIDField = "otel_trace_id"
)

// contextFields returns the identity of the ambient run of ctx and of the
// active OpenTelemetry span, when tracing is enabled.
func (l *Logger) contextFields(ctx context.Context) []zap.Field {
	if !l.tracingEnabled || ctx == nil {
		return nil
	}

	var fields []zap.Field
	if run, ok := runtree.RunFromContext(ctx); ok {
		fields = append(fields,
			zap.String(RunIDField, run.ID().String()),
			zap.String(TraceIDField, run.TraceID().String()),
			zap.String(DottedOrderField, run.DottedOrder()),
		)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String(SpanIDField, sc.SpanID().String()),
			zap.String(OtelTraceIDField, sc.TraceID().String()),
		)
	}
	return fields
}

func (l *Logger) withContext(ctx context.Context, err error, fields ...map[string]interface{}) []zap.Field {
	return append(l.contextFields(ctx), l.convertToZapFields(err, fields...)...)
}

// InfoWithContext logs at info level with the run and span identity of ctx.
//
// Example:
//
//	logger.InfoWithContext(ctx, "Calling model", nil, map[string]interface{}{
//	    "model": "luminous",
//	})
func (l *Logger) InfoWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Info(msg, l.withContext(ctx, err, fields...)...)
}

// DebugWithContext logs at debug level with the run and span identity of ctx.
func (l *Logger) DebugWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Debug(msg, l.withContext(ctx, err, fields...)...)
}

// WarnWithContext logs at warn level with the run and span identity of ctx.
func (l *Logger) WarnWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Warn(msg, l.withContext(ctx, err, fields...)...)
}

// ErrorWithContext logs at error level with the run and span identity of ctx.
func (l *Logger) ErrorWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Error(msg, l.withContext(ctx, err, fields...)...)
}

// FatalWithContext logs at fatal level with the run and span identity of ctx,
// then exits.
func (l *Logger) FatalWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.Zap.Fatal(msg, l.withContext(ctx, err, fields...)...)
}
