package service

import (
	"strings"

	"github.com/Strob0t/ChatForge/internal/domain/conversation"
	"github.com/Strob0t/ChatForge/internal/port/inference"
)

// toInferenceMessages converts stored conversation messages to model history.
// Each step of an assistant message becomes one assistant message followed
// by the results of its resolved tool calls. Reasoning is not replayed and
// pending tool calls are dropped.
func toInferenceMessages(msgs []conversation.Message) []inference.Message {
	out := make([]inference.Message, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		switch m.Role {
		case conversation.RoleUser:
			out = append(out, userMessage(m))
		case conversation.RoleAssistant:
			out = append(out, assistantMessages(m)...)
		}
	}
	return out
}

func userMessage(m *conversation.Message) inference.Message {
	var texts []string
	var images []string
	for _, p := range m.Parts {
		switch p.Type {
		case conversation.PartText:
			texts = append(texts, p.Text)
		case conversation.PartFile:
			if strings.HasPrefix(p.MediaType, "image/") && p.URL != "" {
				images = append(images, p.URL)
			}
		}
	}
	return inference.Message{Role: inference.RoleUser, Content: strings.Join(texts, "\n"), ImageURLs: images}
}

func assistantMessages(m *conversation.Message) []inference.Message {
	var (
		out     []inference.Message
		text    strings.Builder
		calls   []inference.ToolCall
		results []inference.Message
	)
	flush := func() {
		if text.Len() > 0 || len(calls) > 0 {
			out = append(out, inference.Message{Role: inference.RoleAssistant, Content: text.String(), ToolCalls: calls})
			out = append(out, results...)
		}
		text.Reset()
		calls, results = nil, nil
	}

	for _, p := range m.Parts {
		switch p.Type {
		case conversation.PartStepStart:
			flush()
		case conversation.PartText:
			text.WriteString(p.Text)
		case conversation.PartToolCall:
			if p.State == conversation.ToolPending {
				continue
			}
			calls = append(calls, inference.ToolCall{ID: p.ToolCallID, Name: p.ToolName, Arguments: p.Input})
			results = append(results, inference.Message{Role: inference.RoleTool, ToolCallID: p.ToolCallID, Content: string(p.Output)})
		}
	}
	flush()
	return out
}
