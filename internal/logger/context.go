package logger

import (
	"context"

	"github.com/google/uuid"
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

// With adds fields to the context logger and stores the result back in ctx.
func With(ctx context.Context, fields ...zap.Field) (context.Context, *zap.Logger) {
	l := FromContext(ctx).With(fields...)
	return ContextWithLogger(ctx, l), l
}

// WithPassID tags a unit of background work (a scheduler tick, a
// reconciliation pass) with a fresh pass_id and stores the tagged logger in ctx.
func WithPassID(ctx context.Context, base *zap.Logger) (context.Context, *zap.Logger, string) {
	id := uuid.NewString()
	l := base.With(zap.String("pass_id", id))
	return ContextWithLogger(ctx, l), l, id
}
