package tlog

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey int

const (
	tlogKey contextKey = iota
)

// Get returns a logger from context. If the context carries no logger, a
// no-op logger is returned, so library code can log unconditionally.
func Get(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(tlogKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithLogger adds a logger to a context or replaces an existing one
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, tlogKey, logger)
}

// With returns a context with a sub-logger with passed parameters
func With(ctx context.Context, fields ...zapcore.Field) context.Context {
	return WithLogger(ctx, Get(ctx).With(fields...))
}
