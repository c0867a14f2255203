package logger

import "context"

// contextKey is unexported so no other package can collide with the request
// ID entry.
type contextKey struct{}

var requestIDKey = contextKey{}

// WithRequestID stores the request ID assigned by the HTTP middleware.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID carried by ctx, or an empty string when
// the request never passed through the middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
