package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	cfotel "github.com/Strob0t/ChatForge/internal/adapter/otel"
	"github.com/Strob0t/ChatForge/internal/domain/conversation"
	"github.com/Strob0t/ChatForge/internal/domain/event"
	"github.com/Strob0t/ChatForge/internal/domain/toolkit"
	"github.com/Strob0t/ChatForge/internal/domain/user"
	"github.com/Strob0t/ChatForge/internal/port/inference"
	"github.com/Strob0t/ChatForge/internal/port/toolexec"
)

// Client-facing error texts. Internal detail is only logged.
const (
	errTextGeneric  = "An error occurred while generating the response. Please try again."
	errTextTimeout  = "The response took too long and was stopped."
	errTextPersist  = "The response could not be saved. Please try again."
	errToolFailed   = "tool execution failed"
	errToolDisabled = "tool is not available in this chat"
)

// turnRun is the state of one turn, owned by its pipeline goroutine.
type turnRun struct {
	identity user.Identity
	conv     *conversation.Conversation
	session  *conversation.StreamSession
	res      *Resolution
	prompt   string
	history  []inference.Message
	started  time.Time

	em  *emitter
	out chan event.Frame

	assistant conversation.Message
}

// stepResult is what one model continuation produced.
type stepResult struct {
	text      string
	reasoning string
	calls     []inference.ToolCall
	finish    inference.FinishReason
}

// run drives the turn until a terminal state. ctx is the caller's context:
// when it ends, generation stops and nothing more is persisted.
func (s *ChatService) run(ctx context.Context, t *turnRun) {
	defer close(t.out)

	turnCtx, cancel := context.WithTimeout(ctx, s.cfg.MaxTurnDuration)
	defer cancel()
	turnCtx, span := cfotel.StartTurnSpan(turnCtx, t.session.ID, t.conv.ID, t.identity.ID)
	defer span.End()

	t.assistant = conversation.Message{ID: uuid.NewString(), ConversationID: t.conv.ID, Role: conversation.RoleAssistant}

	err := s.steps(turnCtx, t)
	stage := s.finish(ctx, turnCtx, t, err)
	span.SetAttributes(attribute.String("turn.outcome", string(stage)))

	s.observer.Stage(ctx, StageEvent{
		Stage:        stage,
		UserID:       t.identity.ID,
		AgentID:      t.res.AgentID(),
		Model:        t.res.Model,
		PromptLength: len(t.prompt),
		Elapsed:      time.Since(t.started),
	})
}

// finish classifies the outcome, persists the assistant message of a
// completed turn and emits the terminal frame.
func (s *ChatService) finish(ctx, turnCtx context.Context, t *turnRun, err error) TurnStage {
	switch {
	case ctx.Err() != nil:
		t.em.close(event.StatusCancelled)
		return StageCancelled

	case err == nil:
		t.assistant.CreatedAt = s.now().UTC()
		if perr := s.db.SaveMessages(context.WithoutCancel(ctx), []conversation.Message{t.assistant}); perr != nil {
			slog.ErrorContext(ctx, "chat: save assistant message failed", "conversation_id", t.conv.ID, "error", perr)
			t.em.emit(event.Frame{Type: event.TypeError, ErrorText: errTextPersist})
			t.em.close(event.StatusErrored)
			return StageErrored
		}
		t.em.emit(event.Frame{Type: event.TypeDone, MessageID: t.assistant.ID})
		t.em.close(event.StatusDone)
		return StageFinished

	case errors.Is(turnCtx.Err(), context.DeadlineExceeded):
		slog.WarnContext(ctx, "chat: turn timed out", "conversation_id", t.conv.ID, "limit", s.cfg.MaxTurnDuration)
		t.em.emit(event.Frame{Type: event.TypeError, ErrorText: errTextTimeout})
		t.em.close(event.StatusErrored)
		return StageErrored

	default:
		slog.ErrorContext(ctx, "chat: turn failed", "conversation_id", t.conv.ID, "stream_id", t.session.ID, "error", err)
		t.em.emit(event.Frame{Type: event.TypeError, ErrorText: errTextGeneric})
		t.em.close(event.StatusErrored)
		return StageErrored
	}
}

// steps runs model continuations and their tool round trips, up to MaxSteps.
func (s *ChatService) steps(ctx context.Context, t *turnRun) error {
	if !t.em.emit(event.Frame{Type: event.TypeStart, MessageID: t.assistant.ID, StreamID: t.session.ID}) {
		return ctx.Err()
	}

	msgs := t.history
	for step := 1; ; step++ {
		t.assistant.Parts = append(t.assistant.Parts, conversation.Part{Type: conversation.PartStepStart})

		r, err := s.step(ctx, t, msgs)
		if err != nil {
			return err
		}
		if r.reasoning != "" {
			t.assistant.Parts = append(t.assistant.Parts, conversation.Part{Type: conversation.PartReasoning, Text: r.reasoning})
		}
		if r.text != "" {
			t.assistant.Parts = append(t.assistant.Parts, conversation.Part{Type: conversation.PartText, Text: r.text})
		}
		if r.finish == inference.FinishLength {
			slog.InfoContext(ctx, "chat: continuation cut at the output token limit", "conversation_id", t.conv.ID, "step", step)
		}
		if len(r.calls) == 0 {
			return nil
		}

		msgs = append(msgs, inference.Message{Role: inference.RoleAssistant, Content: r.text, ToolCalls: r.calls})
		for _, call := range r.calls {
			result, err := s.toolRoundTrip(ctx, t, call)
			if err != nil {
				return err
			}
			msgs = append(msgs, result)
		}

		if step >= s.cfg.MaxSteps {
			slog.InfoContext(ctx, "chat: step limit reached", "conversation_id", t.conv.ID, "steps", step)
			return nil
		}
	}
}

// step streams one model continuation to the caller.
func (s *ChatService) step(ctx context.Context, t *turnRun, msgs []inference.Message) (stepResult, error) {
	var r stepResult
	stream, err := s.llm.Stream(ctx, inference.Request{
		Model:    s.providerModel(t.res.Model),
		System:   t.prompt,
		Messages: msgs,
		Tools:    t.res.Declarations,
	})
	if err != nil {
		return r, fmt.Errorf("open model stream: %w", err)
	}
	defer func() { _ = stream.Close() }()

	var text, reasoning strings.Builder
	var chunker wordChunker
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return r, fmt.Errorf("receive model stream: %w", err)
		}
		if chunk.ReasoningDelta != "" {
			reasoning.WriteString(chunk.ReasoningDelta)
			if !t.em.emit(event.Frame{Type: event.TypeReasoningDelta, Delta: chunk.ReasoningDelta}) {
				return r, ctx.Err()
			}
		}
		if chunk.TextDelta != "" {
			text.WriteString(chunk.TextDelta)
			if ready := chunker.push(chunk.TextDelta); ready != "" {
				if !t.em.emit(event.Frame{Type: event.TypeTextDelta, Delta: ready}) {
					return r, ctx.Err()
				}
			}
		}
		if len(chunk.ToolCalls) > 0 {
			r.calls = chunk.ToolCalls
		}
		if chunk.FinishReason != "" {
			r.finish = chunk.FinishReason
		}
	}
	if rest := chunker.flush(); rest != "" {
		if !t.em.emit(event.Frame{Type: event.TypeTextDelta, Delta: rest}) {
			return r, ctx.Err()
		}
	}
	r.text, r.reasoning = text.String(), reasoning.String()
	return r, nil
}

// toolRoundTrip executes one tool call, records it on the assistant message
// and returns the tool message fed back to the model.
func (s *ChatService) toolRoundTrip(ctx context.Context, t *turnRun, call inference.ToolCall) (inference.Message, error) {
	input := call.Arguments
	if len(input) == 0 || !json.Valid(input) {
		input = json.RawMessage(`{}`)
	}
	part := conversation.Part{
		Type:       conversation.PartToolCall,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		State:      conversation.ToolPending,
		Input:      input,
	}
	if !t.em.emit(event.Frame{Type: event.TypeToolCallStart, ToolCallID: call.ID, ToolName: call.Name, Input: input}) {
		return inference.Message{}, ctx.Err()
	}

	output, failed := s.execute(ctx, t, call.Name, call.ID, input)
	if ctx.Err() != nil {
		return inference.Message{}, ctx.Err()
	}
	state := conversation.ToolResult
	if failed {
		state = conversation.ToolError
	}
	if err := part.Resolve(state, output); err != nil {
		return inference.Message{}, err
	}
	t.assistant.Parts = append(t.assistant.Parts, part)

	if !t.em.emit(event.Frame{Type: event.TypeToolCallResult, ToolCallID: call.ID, ToolName: call.Name, Output: output}) {
		return inference.Message{}, ctx.Err()
	}
	return inference.Message{Role: inference.RoleTool, ToolCallID: call.ID, Content: string(output)}, nil
}

// execute runs the tool and reduces its result. It never fails: transport
// errors and disabled tools become {"error": ...} results.
func (s *ChatService) execute(ctx context.Context, t *turnRun, slug, callID string, input json.RawMessage) (json.RawMessage, bool) {
	tk := toolkit.Of(slug)
	if !t.res.Enabled(slug) {
		slog.WarnContext(ctx, "chat: model called a tool that is not enabled", "tool", slug)
		return errorResult(errToolDisabled), true
	}

	start := time.Now()
	spanCtx, span := cfotel.StartToolCallSpan(ctx, callID, slug)
	raw, err := s.tools.Execute(spanCtx, toolexec.Call{Slug: slug, Arguments: input, AccountRef: t.res.Accounts[tk]})
	span.End()

	var value any
	if err != nil {
		slog.WarnContext(ctx, "chat: tool execution failed", "tool", slug, "error", err)
		value = map[string]any{"error": errToolFailed}
	} else {
		value = s.parser.Parse(ctx, slug, tk, raw)
	}
	failed := isErrorResult(value)
	s.observer.ToolCall(ctx, ToolEvent{Slug: slug, Toolkit: tk, Duration: time.Since(start), Failed: failed})

	out, err := json.Marshal(value)
	if err != nil {
		return errorResult(errToolFailed), true
	}
	return out, failed
}

func errorResult(msg string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return b
}

// isErrorResult reports whether a parsed result is a bare {"error": ...}.
func isErrorResult(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	_, ok = m["error"].(string)
	return ok
}
