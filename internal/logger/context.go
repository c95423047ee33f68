package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// ContextWithLogger stores a logger in the context.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext extracts a logger from the context.
// Returns zap.NewNop() if no logger is found.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// Ensure stores fallback in ctx unless the context already carries a logger. Requests
// arriving over gRPC have none; in-process calls inherit the root's request logger.
func Ensure(ctx context.Context, fallback *zap.Logger) context.Context {
	if _, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return ctx
	}
	return ContextWithLogger(ctx, fallback)
}

// With returns a context whose logger carries the extra fields. Leaf and root services
// use it to tag every line of one request with the index and split scope.
func With(ctx context.Context, fields ...zap.Field) context.Context {
	return ContextWithLogger(ctx, FromContext(ctx).With(fields...))
}
