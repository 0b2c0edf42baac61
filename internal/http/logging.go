package http

import (
	"context"
	"log/slog"

	"github.com/example/attendance-coordinator/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	return logging.From(context.Background(), logger)
}

// handlerLogger prefers the request logger so request_id and user_id follow
// every handler line.
func handlerLogger(ctx context.Context, fallback *slog.Logger, handlerName, operation string, attrs ...any) *slog.Logger {
	return logging.Scoped(ctx, fallback, "handler", handlerName, operation, attrs...)
}
