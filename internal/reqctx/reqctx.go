// Package reqctx holds the small set of typed context accessors the gateway
// threads through a request's lifetime: trace ID and operation name. This
// continues the teacher's internal/contexts pattern of typed context
// accessors, scoped down to the two fields the gateway's logging hook
// actually needs (the teacher's admin-plane accessors for API key/user/
// source have no SPEC_FULL.md component).
package reqctx

import (
	"context"
	"time"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	operationNameKey
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func GetTraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey).(string)
	return v, ok
}

func WithOperationName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, operationNameKey, name)
}

func GetOperationName(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(operationNameKey).(string)
	return v, ok
}

// Detach returns a context carrying ctx's values but none of its
// cancellation, bounded by timeout. Grounded on the teacher's
// internal/pkg/xcontext.DetachWithTimeout: used to persist/enqueue
// observability records after the inbound HTTP request context has already
// been canceled (client disconnect, response already written).
func Detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	return context.WithTimeout(detached, timeout)
}
