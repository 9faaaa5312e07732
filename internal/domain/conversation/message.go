package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType tags the variant held by a Part.
type PartType string

const (
	PartText      PartType = "text"
	PartFile      PartType = "file"
	PartStepStart PartType = "step-start"
	PartToolCall  PartType = "tool-call"
	PartReasoning PartType = "reasoning"
)

// ToolState is the lifecycle of a tool-call part.
type ToolState string

const (
	ToolPending ToolState = "pending"
	ToolResult  ToolState = "result"
	ToolError   ToolState = "error"
)

// Part is one element of a message. Which fields are set depends on Type.
type Part struct {
	Type PartType `json:"type"`

	// text, reasoning
	Text string `json:"text,omitempty"`

	// file
	URL       string `json:"url,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	Name      string `json:"name,omitempty"`

	// tool-call
	ToolName   string          `json:"toolName,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	State      ToolState       `json:"state,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

// ErrToolStateRegression is returned when a tool-call part would move backward.
var ErrToolStateRegression = errors.New("tool call state cannot move backward")

// Resolve moves a pending tool-call part to a terminal state with its output.
func (p *Part) Resolve(state ToolState, output json.RawMessage) error {
	if p.Type != PartToolCall {
		return fmt.Errorf("resolve %s part: not a tool call", p.Type)
	}
	if state != ToolResult && state != ToolError {
		return fmt.Errorf("resolve tool call: invalid target state %q", state)
	}
	if p.State != ToolPending {
		return fmt.Errorf("%w: %s -> %s", ErrToolStateRegression, p.State, state)
	}
	p.State = state
	p.Output = output
	return nil
}

// Message is a single message in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Role           Role      `json:"role"`
	Parts          []Part    `json:"parts"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate enforces that the message carries at least one part and a known role.
func (m *Message) Validate() error {
	if m.ID == "" {
		return errors.New("message id is required")
	}
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return fmt.Errorf("unknown message role %q", m.Role)
	}
	if len(m.Parts) == 0 {
		return errors.New("message parts must not be empty")
	}
	return nil
}

// Text concatenates the text parts of the message.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}
