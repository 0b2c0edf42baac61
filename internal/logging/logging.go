// Package logging carries the request-scoped slog logger through contexts.
package logging

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// Into returns ctx carrying logger. A nil logger leaves ctx unchanged.
func Into(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// From returns the logger stored in ctx, else fallback, else slog.Default.
func From(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
			return logger
		}
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// Stored reports the logger stored in ctx without any fallback.
func Stored(ctx context.Context) (*slog.Logger, bool) {
	if ctx == nil {
		return nil, false
	}
	logger, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	return logger, ok
}

// WithUser tags the stored logger with the authenticated user id so every
// later service and handler line names the caller.
func WithUser(ctx context.Context, userID string) context.Context {
	logger, ok := Stored(ctx)
	if !ok || userID == "" {
		return ctx
	}
	return Into(ctx, logger.With("user_id", userID))
}

// Scoped returns From(ctx, fallback) with a component attr and an optional
// operation attr added ahead of attrs.
func Scoped(ctx context.Context, fallback *slog.Logger, component, name, operation string, attrs ...any) *slog.Logger {
	pairs := make([]any, 0, 4+len(attrs))
	pairs = append(pairs, component, name)
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	pairs = append(pairs, attrs...)
	return From(ctx, fallback).With(pairs...)
}
