// Package event defines the typed frames streamed to clients during a turn.
package event

import "encoding/json"

// Type identifies the kind of stream frame.
type Type string

const (
	TypeStart          Type = "start"
	TypeTextDelta      Type = "text-delta"
	TypeReasoningDelta Type = "reasoning-delta"
	TypeToolCallStart  Type = "tool-call-start"
	TypeToolCallResult Type = "tool-call-result"
	TypeError          Type = "error"
	TypeDone           Type = "done"
)

// Terminal reports whether no frame can follow one of this type.
func (t Type) Terminal() bool {
	return t == TypeError || t == TypeDone
}

// Frame is one line of the turn event stream. Seq is assigned by the
// emitter and increases by one per frame within a stream session.
type Frame struct {
	Seq  uint64 `json:"seq"`
	Type Type   `json:"type"`

	// start
	MessageID string `json:"messageId,omitempty"`
	StreamID  string `json:"streamId,omitempty"`

	// text-delta, reasoning-delta
	Delta string `json:"delta,omitempty"`

	// tool-call-start, tool-call-result
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`

	// error
	ErrorText string `json:"errorText,omitempty"`
}

// Status is the lifecycle of a stream session as seen by resumers.
type Status string

const (
	StatusActive    Status = "active"
	StatusDone      Status = "done"
	StatusErrored   Status = "errored"
	StatusCancelled Status = "cancelled"
)

// Finished reports whether the stream has no tail left to deliver.
func (s Status) Finished() bool {
	return s != StatusActive
}

// Completion is the SSE data payload that terminates every stream.
const Completion = "[DONE]"
