// Package inference defines the model-inference provider port.
package inference

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/ChatForge/internal/domain/toolkit"
)

// Role is the author of a model-facing message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one entry of the history sent to the model.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ImageURLs  []string   `json:"image_urls,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Request is one model continuation.
type Request struct {
	Model    string
	System   string
	Messages []Message
	Tools    []toolkit.Declaration
}

// FinishReason explains why a continuation stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
)

// Chunk is an incremental piece of a continuation. ToolCalls are only set on
// the final chunk, fully assembled.
type Chunk struct {
	TextDelta      string
	ReasoningDelta string
	ToolCalls      []ToolCall
	FinishReason   FinishReason
}

// Stream yields chunks until io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Provider opens streaming continuations against a model.
type Provider interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}
