package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TaskIDKey is the context key for the routed task ID
	TaskIDKey ContextKey = "task_id"
	// RoleKey is the context key for the agent role handling the task
	RoleKey ContextKey = "role"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID string
	TaskID  string
	Role    string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewTaskID generates a new task ID
func NewTaskID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTaskID adds a task ID to the context
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, TaskIDKey, taskID)
}

// WithRole adds an agent role to the context
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetTaskID retrieves the task ID from the context
func GetTaskID(ctx context.Context) string {
	if taskID, ok := ctx.Value(TaskIDKey).(string); ok {
		return taskID
	}
	return ""
}

// GetRole retrieves the agent role from the context
func GetRole(ctx context.Context) string {
	if role, ok := ctx.Value(RoleKey).(string); ok {
		return role
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID: GetTraceID(ctx),
		TaskID:  GetTaskID(ctx),
		Role:    GetRole(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.TaskID != "" {
		ctx = WithTaskID(ctx, tc.TaskID)
	}
	if tc.Role != "" {
		ctx = WithRole(ctx, tc.Role)
	}
	return ctx
}

// NewTaskContext creates a context for a newly submitted task with a fresh
// trace ID and task ID.
func NewTaskContext(ctx context.Context) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	return WithTaskID(ctx, NewTaskID())
}
