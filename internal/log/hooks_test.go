package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tensorzero/gateway/internal/reqctx"
)

func traceFields(ctx context.Context, msg string, fields ...Field) []Field {
	if ctx == nil {
		return fields
	}

	if traceID, ok := reqctx.GetTraceID(ctx); ok {
		fields = append(fields, String("trace_id", traceID))
	}

	if operationName, ok := reqctx.GetOperationName(ctx); ok {
		fields = append(fields, String("operation_name", operationName))
	}

	return fields
}

func TestTraceHook(t *testing.T) {
	hook := HookFunc(traceFields)

	t.Run("with trace ID", func(t *testing.T) {
		ctx := reqctx.WithTraceID(context.Background(), "at-test-trace-id")
		fields := hook.Apply(ctx, "test message")
		assert.Len(t, fields, 1)
		assert.Equal(t, "trace_id", fields[0].Key)
		assert.Equal(t, "at-test-trace-id", fields[0].String)
	})

	t.Run("with operation name", func(t *testing.T) {
		ctx := reqctx.WithOperationName(context.Background(), "test-operation-name")
		fields := hook.Apply(ctx, "test message")
		assert.Len(t, fields, 1)
		assert.Equal(t, "operation_name", fields[0].Key)
		assert.Equal(t, "test-operation-name", fields[0].String)
	})

	t.Run("with context that doesn't have trace ID", func(t *testing.T) {
		ctx := context.Background()
		fields := hook.Apply(ctx, "test message")
		assert.Len(t, fields, 0)
	})

	t.Run("with nil context", func(t *testing.T) {
		fields := hook.Apply(nil, "test message")
		assert.Len(t, fields, 0)
	})
}
