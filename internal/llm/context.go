package llm

import "context"

type contextKey string

const requestIDKey contextKey = "llm_request_id"

// WithRequestID attaches the inbound request ID to the context so every
// telemetry event of the call can be correlated with the access log.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom extracts the request ID from the context.
func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
