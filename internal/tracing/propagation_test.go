package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToRole(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "parent-trace")
	ctx = WithTaskID(ctx, "task-1")

	child := PropagateToRole(ctx, "TravelAI")

	if GetTraceID(child) != "parent-trace" {
		t.Error("expected trace ID to be inherited")
	}
	if GetTaskID(child) != "task-1" {
		t.Error("expected task ID to be inherited")
	}
	if GetRole(child) != "TravelAI" {
		t.Error("expected role to be rebound")
	}
}

func TestPropagateToRoleWithoutTrace(t *testing.T) {
	child := PropagateToRole(context.Background(), "GeneralAI")

	if GetTraceID(child) == "" {
		t.Error("expected a trace ID to be generated")
	}
	if GetRole(child) != "GeneralAI" {
		t.Error("expected role to be set")
	}
}

func TestPropagateToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-abc")
	ctx = WithRole(ctx, "ResearchAI")

	enriched := PropagateToLogger(ctx, logger)
	enriched.Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, "trace-abc") {
		t.Errorf("expected trace ID in log output, got %s", out)
	}
	if !strings.Contains(out, "ResearchAI") {
		t.Errorf("expected role in log output, got %s", out)
	}
}

func TestMergeContext(t *testing.T) {
	source := context.Background()
	source = WithTraceID(source, "source-trace")
	source = WithRole(source, "source-role")

	target := context.Background()
	target = WithTraceID(target, "target-trace")

	merged := MergeContext(target, source)

	// Target values win
	if GetTraceID(merged) != "target-trace" {
		t.Errorf("expected target trace to win, got %s", GetTraceID(merged))
	}
	// Missing values come from source
	if GetRole(merged) != "source-role" {
		t.Errorf("expected source role to be merged, got %s", GetRole(merged))
	}
}

func TestCloneContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-x")
	ctx = WithTaskID(ctx, "task-x")
	ctx = WithRole(ctx, "role-x")

	clone := CloneContext(ctx)

	if GetTraceID(clone) != "trace-x" || GetTaskID(clone) != "task-x" || GetRole(clone) != "role-x" {
		t.Error("expected clone to carry all tracing values")
	}
}
