package context

import (
	"context"

	"github.com/google/uuid"
)

// TraceContext identifies the request or command that caused an allocation
// or rotation. RequestID is copied into audit rows and logs.
type TraceContext struct {
	TraceID   string
	RequestID string
}

type traceContextKey struct{}

// WithTrace stores trace in ctx.
func WithTrace(ctx context.Context, trace *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

// GetTrace returns the TraceContext in ctx, or nil.
func GetTrace(ctx context.Context) *TraceContext {
	if v, ok := ctx.Value(traceContextKey{}).(*TraceContext); ok {
		return v
	}
	return nil
}

// GetRequestID returns the request id in ctx, or "".
func GetRequestID(ctx context.Context) string {
	if t := GetTrace(ctx); t != nil {
		return t.RequestID
	}
	return ""
}

// NewTraceContext starts a trace for a codectl command, which has no
// incoming request id. One id serves as both trace and request id.
func NewTraceContext() *TraceContext {
	id := uuid.Must(uuid.NewV7()).String()
	return &TraceContext{TraceID: id, RequestID: id}
}
