package server

import (
	"context"
	"log/slog"
	"net/http"
)

type ctxKeyRequestID struct{}

type ctxKeyLogger struct{}

// WithRequestID stores the request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

// RequestIDFrom returns the request id from ctx, or "".
func RequestIDFrom(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKeyRequestID{}).(string); ok {
		return s
	}
	return ""
}

func withLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger{}, l)
}

// loggerFrom returns the request-scoped logger set by WithRequestLogger.
func loggerFrom(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(ctxKeyLogger{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
