package logging

import "context"

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// TraceIDKey returns the context key used to carry a trace ID.
func TraceIDKey() interface{} {
	return traceIDKey
}

// SpanIDKey returns the context key used to carry a span ID.
func SpanIDKey() interface{} {
	return spanIDKey
}

// extractContextFields pulls trace_id/span_id out of a context, returning
// nil when neither is present.
func extractContextFields(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}

	fields := make(map[string]interface{})
	if traceID := ctx.Value(traceIDKey); traceID != nil {
		fields["trace_id"] = traceID
	}
	if spanID := ctx.Value(spanIDKey); spanID != nil {
		fields["span_id"] = spanID
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}
