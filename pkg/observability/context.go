package observability

import "context"

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	operationKey
)

// Log attribute names added from context.
const (
	CorrelationIDAttr = "correlation_id"
	OperationAttr     = "operation"
)

// WithCorrelationID returns a context carrying the correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext returns the correlation id, or "" when unset.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// WithOperation names the operation a context belongs to, e.g. a CLI
// command path or "sweep.retry".
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey, op)
}

// OperationFromContext returns the operation name, or "" when unset.
func OperationFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	op, _ := ctx.Value(operationKey).(string)
	return op
}
