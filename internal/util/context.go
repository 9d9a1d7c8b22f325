// Package util provides common helpers shared across the livechat packages.
package util

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

// traceIDKey is the context key for trace/request IDs.
const traceIDKey contextKey = "trace_id"

// NewTimeoutContext creates a new context with the specified timeout.
//
// Example:
//
//	ctx, cancel := util.NewTimeoutContext(10 * time.Second)
//	defer cancel()
func NewTimeoutContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// NewContextWithTraceID creates a child context carrying a freshly generated trace ID.
func NewContextWithTraceID(parent context.Context) context.Context {
	return context.WithValue(parent, traceIDKey, uuid.NewString())
}

// ContextWithTraceID creates a child context with the provided trace ID.
func ContextWithTraceID(parent context.Context, traceID string) context.Context {
	return context.WithValue(parent, traceIDKey, traceID)
}

// TraceIDFromContext extracts the trace ID from the context.
// Returns empty string if no trace ID is set.
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}
