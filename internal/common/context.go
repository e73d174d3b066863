package common

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyBatchID contextKey = "batch_id"
	ContextKeyWorker  contextKey = "worker_id"
	ContextKeyLogger  contextKey = "logger"
)

// WithBatchID adds the batch being processed to the context
func WithBatchID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ContextKeyBatchID, id)
}

// BatchIDFromContext extracts the batch ID from context
func BatchIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ContextKeyBatchID).(uuid.UUID)
	return id, ok
}

// WithWorkerID records which dispatcher worker runs the task
func WithWorkerID(ctx context.Context, workerID int) context.Context {
	return context.WithValue(ctx, ContextKeyWorker, workerID)
}

// WorkerIDFromContext extracts the worker ID from context
func WorkerIDFromContext(ctx context.Context) int {
	if id, ok := ctx.Value(ContextKeyWorker).(int); ok {
		return id
	}
	return 0
}

// WithLogger stores a request-scoped logger
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ContextKeyLogger, logger)
}

// LoggerFromContext returns the scoped logger, or fallback when none was set.
// Batch and worker ids found in ctx are attached.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	logger, ok := ctx.Value(ContextKeyLogger).(*slog.Logger)
	if !ok || logger == nil {
		logger = fallback
	}
	if logger == nil {
		logger = slog.Default()
	}
	if id, ok := BatchIDFromContext(ctx); ok {
		logger = logger.With("batch_id", id)
	}
	if w := WorkerIDFromContext(ctx); w > 0 {
		logger = logger.With("worker_id", w)
	}
	return logger
}
