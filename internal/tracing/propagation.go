package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToRole carries tracing context into a role-scoped execution.
// The trace ID is kept from the parent; the role is rebound.
func PropagateToRole(ctx context.Context, role string) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}

	newCtx := WithTraceID(ctx, traceID)
	newCtx = WithRole(newCtx, role)

	if taskID := GetTaskID(ctx); taskID != "" {
		newCtx = WithTaskID(newCtx, taskID)
	}

	return newCtx
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.TaskID != "" {
		logger = logger.With().Str("task_id", tc.TaskID).Logger()
	}
	if tc.Role != "" {
		logger = logger.With().Str("role", tc.Role).Logger()
	}

	return logger
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// MergeContext merges tracing information from source context into target context.
// Values already present on the target win.
func MergeContext(target, source context.Context) context.Context {
	tc := FromContext(source)

	if tc.TraceID != "" && GetTraceID(target) == "" {
		target = WithTraceID(target, tc.TraceID)
	}
	if tc.TaskID != "" && GetTaskID(target) == "" {
		target = WithTaskID(target, tc.TaskID)
	}
	if tc.Role != "" && GetRole(target) == "" {
		target = WithRole(target, tc.Role)
	}

	return target
}

// CloneContext creates a new context with the same tracing information
func CloneContext(ctx context.Context) context.Context {
	tc := FromContext(ctx)
	return NewContext(context.Background(), tc)
}
