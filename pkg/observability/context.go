package observability

import "context"

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID returns a context carrying the request correlation id
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFrom extracts the request correlation id from the context,
// returning an empty string when none is set.
func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// RequestFields returns standard log fields for the given context merged
// with any extra fields supplied by the caller.
func RequestFields(ctx context.Context, extra map[string]interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(extra)+1)
	for k, v := range extra {
		fields[k] = v
	}
	if id := RequestIDFrom(ctx); id != "" {
		fields["request_id"] = id
	}
	return fields
}
