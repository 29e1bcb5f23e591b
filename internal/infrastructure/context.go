package infrastructure

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey string

// RunIDContextKey is the key for storing the run id in a context
const RunIDContextKey contextKey = "run_id"

// NewRunID creates a unique run id
func NewRunID() string {
	return uuid.New().String()
}

// WithRunID stores id in ctx
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDContextKey, id)
}

// RunID returns the run id stored in ctx, or ""
func RunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDContextKey).(string); ok {
		return id
	}
	return ""
}

// EnsureRunID returns ctx with a run id, generating one when missing
func EnsureRunID(ctx context.Context) context.Context {
	if RunID(ctx) == "" {
		return WithRunID(ctx, NewRunID())
	}
	return ctx
}

// WithComponent creates a logger with a component field
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}
