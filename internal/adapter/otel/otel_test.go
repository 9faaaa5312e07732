package otel

import (
	"context"
	"testing"

	"github.com/Strob0t/ChatForge/internal/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.Telemetry{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.TurnsStarted.Add(ctx, 1)
	m.TurnDuration.Record(ctx, 0.5)
	m.PromptLength.Record(ctx, 120)
}

func TestToolCallSpanIsChildOfTurn(t *testing.T) {
	ctx, span := StartTurnSpan(context.Background(), "s1", "c1", "u1")
	defer span.End()
	childCtx, child := StartToolCallSpan(ctx, "call-1", "NOTION_SEARCH_NOTION_PAGE")
	defer child.End()
	if childCtx == nil || child == nil {
		t.Fatal("expected a span and its context")
	}
}
