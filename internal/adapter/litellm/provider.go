package litellm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Strob0t/ChatForge/internal/domain/toolkit"
	"github.com/Strob0t/ChatForge/internal/port/inference"
	"github.com/Strob0t/ChatForge/internal/resilience"
)

// ChatProvider streams continuations through the proxy's OpenAI-compatible
// chat completions endpoint.
type ChatProvider struct {
	client  *openai.Client
	breaker *resilience.Breaker
}

var _ inference.Provider = (*ChatProvider)(nil)

// NewChatProvider creates a ChatProvider for the proxy at baseURL.
func NewChatProvider(baseURL, masterKey string) *ChatProvider {
	cfg := openai.DefaultConfig(masterKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"
	return &ChatProvider{client: openai.NewClientWithConfig(cfg)}
}

// SetBreaker guards stream creation with a circuit breaker.
func (p *ChatProvider) SetBreaker(b *resilience.Breaker) {
	p.breaker = b
}

// Stream opens one streaming continuation.
func (p *ChatProvider) Stream(ctx context.Context, req inference.Request) (inference.Stream, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.System, req.Messages),
		Stream:   true,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	open := func() error {
		var err error
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		return err
	}
	var err error
	if p.breaker != nil {
		err = p.breaker.Execute(open)
	} else {
		err = open()
	}
	if err != nil {
		return nil, fmt.Errorf("litellm: open stream for %s: %w", req.Model, err)
	}
	return &chatStream{inner: stream, calls: map[int]*inference.ToolCall{}}, nil
}

// chatStream adapts the OpenAI stream to inference.Stream. Tool call
// fragments are accumulated by index and released, fully assembled, with
// the last chunk.
type chatStream struct {
	inner  *openai.ChatCompletionStream
	calls  map[int]*inference.ToolCall
	args   map[int]*strings.Builder
	finish inference.FinishReason
	done   bool
}

func (s *chatStream) Recv() (inference.Chunk, error) {
	for {
		if s.done {
			return inference.Chunk{}, io.EOF
		}
		resp, err := s.inner.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			if calls := s.assembled(); len(calls) > 0 {
				return inference.Chunk{ToolCalls: calls, FinishReason: inference.FinishToolCalls}, nil
			}
			return inference.Chunk{}, io.EOF
		}
		if err != nil {
			return inference.Chunk{}, fmt.Errorf("litellm: receive: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		s.accumulate(choice.Delta.ToolCalls)
		out := inference.Chunk{
			TextDelta:      choice.Delta.Content,
			ReasoningDelta: choice.Delta.ReasoningContent,
		}
		if choice.FinishReason != "" {
			s.finish = finishReason(choice.FinishReason)
			if len(s.calls) == 0 {
				out.FinishReason = s.finish
			}
		}
		if out.TextDelta != "" || out.ReasoningDelta != "" || out.FinishReason != "" {
			return out, nil
		}
	}
}

func (s *chatStream) Close() error {
	return s.inner.Close()
}

func (s *chatStream) accumulate(deltas []openai.ToolCall) {
	for _, tc := range deltas {
		index := 0
		if tc.Index != nil {
			index = *tc.Index
		}
		call, ok := s.calls[index]
		if !ok {
			call = &inference.ToolCall{}
			s.calls[index] = call
			if s.args == nil {
				s.args = map[int]*strings.Builder{}
			}
			s.args[index] = &strings.Builder{}
		}
		if tc.ID != "" {
			call.ID = tc.ID
		}
		if tc.Function.Name != "" {
			call.Name = tc.Function.Name
		}
		s.args[index].WriteString(tc.Function.Arguments)
	}
}

// assembled returns the complete tool calls in index order. Calls missing
// an id or a name are dropped.
func (s *chatStream) assembled() []inference.ToolCall {
	indexes := make([]int, 0, len(s.calls))
	for i := range s.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	var out []inference.ToolCall
	for _, i := range indexes {
		call := *s.calls[i]
		if call.ID == "" || call.Name == "" {
			continue
		}
		if args := s.args[i].String(); args != "" {
			call.Arguments = json.RawMessage(args)
		}
		out = append(out, call)
	}
	return out
}

func finishReason(r openai.FinishReason) inference.FinishReason {
	switch r {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return inference.FinishToolCalls
	case openai.FinishReasonLength:
		return inference.FinishLength
	default:
		return inference.FinishStop
	}
}

func toOpenAIMessages(system string, msgs []inference.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		switch m.Role {
		case inference.RoleUser:
			out = append(out, userMessage(m))
		case inference.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				args := string(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: args},
				})
			}
			out = append(out, msg)
		case inference.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

func userMessage(m inference.Message) openai.ChatCompletionMessage {
	if len(m.ImageURLs) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content}
	}
	parts := make([]openai.ChatMessagePart, 0, len(m.ImageURLs)+1)
	if m.Content != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Content})
	}
	for _, u := range m.ImageURLs {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: u},
		})
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

func toOpenAITools(decls []toolkit.Declaration) []openai.Tool {
	out := make([]openai.Tool, len(decls))
	for i, d := range decls {
		var params any = map[string]any{"type": "object", "properties": map[string]any{}}
		if len(d.Parameters) > 0 && json.Valid(d.Parameters) {
			params = d.Parameters
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Slug,
				Description: d.Description,
				Parameters:  params,
			},
		}
	}
	return out
}
