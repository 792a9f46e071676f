package types

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	runIDKey     contextKey = "run_id"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithRunID stores the reminder run ID in the context so that outbound
// adapters can tag requests with it.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// GetRunID retrieves the reminder run ID from the context.
func GetRunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}
