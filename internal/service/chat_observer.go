package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/ChatForge/internal/adapter/otel"
)

// TurnStage is a state of the turn pipeline.
type TurnStage string

const (
	StageValidating TurnStage = "validating"
	StageResolving  TurnStage = "resolving"
	StageComposing  TurnStage = "composing"
	StageStreaming  TurnStage = "streaming"
	StageFinished   TurnStage = "finished"
	StageErrored    TurnStage = "errored"
	StageCancelled  TurnStage = "cancelled"
)

// Terminal reports whether the turn ends in this stage.
func (s TurnStage) Terminal() bool {
	return s == StageFinished || s == StageErrored || s == StageCancelled
}

// StageEvent describes one stage transition of a turn.
type StageEvent struct {
	Stage        TurnStage
	UserID       string
	AgentID      string
	Model        string
	PromptLength int
	Elapsed      time.Duration
}

// ToolEvent describes one finished tool call.
type ToolEvent struct {
	Slug     string
	Toolkit  string
	Duration time.Duration
	Failed   bool
}

// TurnObserver receives the stage transitions and tool calls of every turn.
// Implementations must not block.
type TurnObserver interface {
	Stage(ctx context.Context, e StageEvent)
	ToolCall(ctx context.Context, e ToolEvent)
}

// Observers fans events out to several observers.
type Observers []TurnObserver

func (o Observers) Stage(ctx context.Context, e StageEvent) {
	for _, obs := range o {
		obs.Stage(ctx, e)
	}
}

func (o Observers) ToolCall(ctx context.Context, e ToolEvent) {
	for _, obs := range o {
		obs.ToolCall(ctx, e)
	}
}

// LogObserver writes turn transitions to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o LogObserver) Stage(ctx context.Context, e StageEvent) {
	level := slog.LevelDebug
	switch e.Stage {
	case StageFinished, StageCancelled:
		level = slog.LevelInfo
	case StageErrored:
		level = slog.LevelWarn
	}
	o.logger().Log(ctx, level, "chat: turn stage",
		"stage", e.Stage,
		"user_id", e.UserID,
		"agent_id", e.AgentID,
		"model", e.Model,
		"prompt_length", e.PromptLength,
		"elapsed_ms", e.Elapsed.Milliseconds(),
	)
}

func (o LogObserver) ToolCall(ctx context.Context, e ToolEvent) {
	o.logger().InfoContext(ctx, "chat: tool call",
		"tool", e.Slug,
		"toolkit", e.Toolkit,
		"duration_ms", e.Duration.Milliseconds(),
		"failed", e.Failed,
	)
}

// MetricsObserver records turn and tool metrics through OpenTelemetry.
type MetricsObserver struct {
	m *cfotel.Metrics
}

// NewMetricsObserver creates a MetricsObserver.
func NewMetricsObserver(m *cfotel.Metrics) *MetricsObserver {
	return &MetricsObserver{m: m}
}

func (o *MetricsObserver) Stage(ctx context.Context, e StageEvent) {
	switch {
	case e.Stage == StageStreaming:
		o.m.TurnsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("model", e.Model)))
		o.m.PromptLength.Record(ctx, int64(e.PromptLength))
	case e.Stage.Terminal():
		attrs := metric.WithAttributes(
			attribute.String("model", e.Model),
			attribute.String("outcome", string(e.Stage)),
		)
		o.m.TurnsCompleted.Add(ctx, 1, attrs)
		o.m.TurnDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
	}
}

func (o *MetricsObserver) ToolCall(ctx context.Context, e ToolEvent) {
	attrs := metric.WithAttributes(
		attribute.String("toolkit", e.Toolkit),
		attribute.Bool("failed", e.Failed),
	)
	o.m.ToolCalls.Add(ctx, 1, attrs)
	o.m.ToolDuration.Record(ctx, e.Duration.Seconds(), attrs)
}
