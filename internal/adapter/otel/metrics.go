package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "chatforge"

// Metrics holds all ChatForge metric instruments.
type Metrics struct {
	TurnsStarted   metric.Int64Counter
	TurnsCompleted metric.Int64Counter
	ToolCalls      metric.Int64Counter
	TurnDuration   metric.Float64Histogram
	ToolDuration   metric.Float64Histogram
	PromptLength   metric.Int64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TurnsStarted, err = meter.Int64Counter("chatforge.turns.started",
		metric.WithDescription("Number of turns that started streaming"))
	if err != nil {
		return nil, err
	}

	m.TurnsCompleted, err = meter.Int64Counter("chatforge.turns.completed",
		metric.WithDescription("Number of turns that reached a terminal state, by outcome"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("chatforge.toolcalls",
		metric.WithDescription("Number of tool calls"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("chatforge.turn.duration_seconds",
		metric.WithDescription("Turn duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ToolDuration, err = meter.Float64Histogram("chatforge.toolcall.duration_seconds",
		metric.WithDescription("Tool call duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.PromptLength, err = meter.Int64Histogram("chatforge.prompt.length_chars",
		metric.WithDescription("System prompt length in bytes"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
