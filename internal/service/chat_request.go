package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Strob0t/ChatForge/internal/domain"
	"github.com/Strob0t/ChatForge/internal/domain/conversation"
)

// Issue is one schema violation of an inbound turn.
type Issue struct {
	Path    string `json:"path"`
	Keyword string `json:"keyword"`
	Message string `json:"message"`
}

// Rejection is the structured result of a turn that matched no wire format.
type Rejection struct {
	Issues  []Issue `json:"issues"`
	Summary string  `json:"summary"`
}

func (r *Rejection) Error() string { return "validation failed: " + r.Summary }

// Unwrap lets errors.Is(err, domain.ErrValidation) match a rejection.
func (r *Rejection) Unwrap() error { return domain.ErrValidation }

// requestSchema is one accepted wire format of POST /chat.
type requestSchema struct {
	name      string
	schema    *jsonschema.Schema
	normalize func(raw []byte) (conversation.TurnRequest, []Issue, error)
}

// RequestValidator tries each accepted wire format in order and normalizes
// the first one that matches.
type RequestValidator struct {
	schemas []requestSchema
}

// NewRequestValidator compiles the wire formats. modelIDs is the set of
// chat models a client may select.
func NewRequestValidator(modelIDs []string) (*RequestValidator, error) {
	if len(modelIDs) == 0 {
		return nil, errors.New("request validator: no chat models configured")
	}
	ids := slices.Clone(modelIDs)
	slices.Sort(ids)
	enum, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("request validator: %w", err)
	}

	current, err := compileSchema("chat-request.json", fmt.Sprintf(chatRequestSchema, enum, partDefs))
	if err != nil {
		return nil, err
	}
	legacy, err := compileSchema("chat-request-legacy.json", fmt.Sprintf(legacyChatRequestSchema, enum, partDefs))
	if err != nil {
		return nil, err
	}

	return &RequestValidator{schemas: []requestSchema{
		{name: "messages", schema: current, normalize: normalizeCurrent},
		{name: "message", schema: legacy, normalize: normalizeLegacy},
	}}, nil
}

func compileSchema(url, src string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(url, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", url, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", url, err)
	}
	return s, nil
}

// Validate parses body against each wire format and returns the first
// normalized match. A body matching none yields a *Rejection carrying the
// issues of every format.
func (v *RequestValidator) Validate(body []byte) (req conversation.TurnRequest, err error) {
	defer func() {
		if r := recover(); r != nil {
			req = conversation.TurnRequest{}
			err = reject([]Issue{{Path: "/", Keyword: "panic", Message: "request could not be validated"}})
		}
	}()

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return req, reject([]Issue{{Path: "/", Keyword: "json", Message: "request body is not valid JSON"}})
	}

	var issues []Issue
	for _, s := range v.schemas {
		if verr := s.schema.Validate(doc); verr != nil {
			issues = append(issues, schemaIssues(verr)...)
			continue
		}
		out, extra, err := s.normalize(body)
		if err != nil {
			issues = append(issues, Issue{Path: "/", Keyword: "type", Message: fmt.Sprintf("%s request: %v", s.name, err)})
			continue
		}
		if len(extra) > 0 {
			issues = append(issues, extra...)
			continue
		}
		applyDefaults(&out)
		return out, nil
	}
	return req, reject(issues)
}

func applyDefaults(r *conversation.TurnRequest) {
	if r.SelectedChatModel == "" {
		r.SelectedChatModel = conversation.DefaultChatModel
	}
	if r.SelectedVisibilityType == "" {
		r.SelectedVisibilityType = conversation.DefaultVisibility
	}
	if r.History == nil {
		r.History = []conversation.Message{}
	}
}

func reject(issues []Issue) *Rejection {
	if len(issues) == 0 {
		issues = []Issue{{Path: "/", Keyword: "schema", Message: "request matches no accepted format"}}
	}
	return &Rejection{Issues: issues, Summary: summarize(issues)}
}

// schemaIssues flattens a validation error to its leaf causes.
func schemaIssues(err error) []Issue {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []Issue{{Path: "/", Keyword: "schema", Message: err.Error()}}
	}
	var out []Issue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, Issue{
				Path:    instancePath(e.InstanceLocation),
				Keyword: lastSegment(e.KeywordLocation),
				Message: e.Message,
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return out
}

func instancePath(loc string) string {
	if loc == "" {
		return "/"
	}
	return loc
}

func lastSegment(loc string) string {
	if i := strings.LastIndex(loc, "/"); i >= 0 {
		return loc[i+1:]
	}
	return loc
}

// summary categories, in reporting order.
var summaryRules = []struct {
	label string
	match func(Issue) bool
}{
	{"malformed id", func(i Issue) bool { return i.Path == "/id" || (i.Path == "/" && strings.Contains(i.Message, "'id'")) }},
	{"malformed message id", func(i Issue) bool { return strings.HasPrefix(i.Path, "/message") && strings.HasSuffix(i.Path, "/id") }},
	{"malformed parts", func(i Issue) bool { return strings.Contains(i.Path, "/parts") || strings.Contains(i.Message, "'parts'") }},
	{"malformed agent id", func(i Issue) bool { return i.Path == "/selectedAgentId" }},
	{"invalid model selection", func(i Issue) bool { return i.Path == "/selectedChatModel" }},
}

func summarize(issues []Issue) string {
	var found []string
	for _, rule := range summaryRules {
		for _, i := range issues {
			if rule.match(i) {
				found = append(found, rule.label)
				break
			}
		}
	}
	if len(found) == 0 {
		return "invalid request body"
	}
	return strings.Join(found, ", ")
}

type currentWire struct {
	ID                     string                  `json:"id"`
	Messages               []conversation.Message  `json:"messages"`
	SelectedChatModel      string                  `json:"selectedChatModel"`
	SelectedVisibilityType conversation.Visibility `json:"selectedVisibilityType"`
	SelectedAgentID        string                  `json:"selectedAgentId"`
}

func normalizeCurrent(raw []byte) (conversation.TurnRequest, []Issue, error) {
	var w currentWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return conversation.TurnRequest{}, nil, err
	}
	last := len(w.Messages) - 1
	if w.Messages[last].Role != conversation.RoleUser {
		return conversation.TurnRequest{}, []Issue{{
			Path:    fmt.Sprintf("/messages/%d/role", last),
			Keyword: "const",
			Message: "latest message must be from the user",
		}}, nil
	}
	return conversation.TurnRequest{
		ID:                     w.ID,
		LatestMessage:          w.Messages[last],
		History:                w.Messages[:last],
		SelectedChatModel:      w.SelectedChatModel,
		SelectedVisibilityType: w.SelectedVisibilityType,
		SelectedAgentID:        w.SelectedAgentID,
	}, nil, nil
}

type legacyWire struct {
	ID                     string                  `json:"id"`
	Message                conversation.Message    `json:"message"`
	SelectedChatModel      string                  `json:"selectedChatModel"`
	SelectedVisibilityType conversation.Visibility `json:"selectedVisibilityType"`
	SelectedAgentID        string                  `json:"selectedAgentId"`
}

func normalizeLegacy(raw []byte) (conversation.TurnRequest, []Issue, error) {
	var w legacyWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return conversation.TurnRequest{}, nil, err
	}
	return conversation.TurnRequest{
		ID:                     w.ID,
		LatestMessage:          w.Message,
		SelectedChatModel:      w.SelectedChatModel,
		SelectedVisibilityType: w.SelectedVisibilityType,
		SelectedAgentID:        w.SelectedAgentID,
	}, nil, nil
}

// Schemas are filled with the model enum and the shared part definitions.
const chatRequestSchema = `{
  "type": "object",
  "required": ["id", "messages"],
  "properties": {
    "id": { "type": "string", "format": "uuid" },
    "messages": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/message" }
    },
    "selectedChatModel": { "enum": %[1]s },
    "selectedVisibilityType": { "enum": ["public", "private"] },
    "selectedAgentId": { "type": "string", "format": "uuid" }
  },
  "$defs": {
    "message": {
      "type": "object",
      "required": ["id", "role", "parts"],
      "properties": {
        "id": { "type": "string", "format": "uuid" },
        "role": { "enum": ["user", "assistant"] },
        "parts": { "type": "array", "minItems": 1, "items": { "$ref": "#/$defs/part" } }
      }
    },
    %[2]s
  }
}`

const legacyChatRequestSchema = `{
  "type": "object",
  "required": ["id", "message", "selectedChatModel", "selectedVisibilityType"],
  "properties": {
    "id": { "type": "string", "format": "uuid" },
    "message": {
      "type": "object",
      "required": ["id", "role", "parts"],
      "properties": {
        "id": { "type": "string", "format": "uuid" },
        "role": { "const": "user" },
        "parts": {
          "type": "array",
          "minItems": 1,
          "items": {
            "allOf": [
              { "$ref": "#/$defs/part" },
              { "properties": { "type": { "enum": ["text", "file"] } } }
            ]
          }
        }
      }
    },
    "selectedChatModel": { "enum": %[1]s },
    "selectedVisibilityType": { "enum": ["public", "private"] },
    "selectedAgentId": { "type": "string", "format": "uuid" }
  },
  "$defs": {
    %[2]s
  }
}`

const partDefs = `"part": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "enum": ["text", "file", "step-start", "tool-call", "reasoning"] }
      },
      "allOf": [
        {
          "if": { "properties": { "type": { "const": "text" } } },
          "then": {
            "required": ["text"],
            "properties": { "text": { "type": "string", "minLength": 1, "maxLength": 2000 } }
          }
        },
        {
          "if": { "properties": { "type": { "const": "file" } } },
          "then": {
            "required": ["url", "mediaType", "name"],
            "properties": {
              "url": { "type": "string", "format": "uri" },
              "mediaType": { "enum": ["image/jpeg", "image/png"] },
              "name": { "type": "string", "minLength": 1, "maxLength": 100 }
            }
          }
        },
        {
          "if": { "properties": { "type": { "const": "tool-call" } } },
          "then": {
            "required": ["toolName", "toolCallId", "state"],
            "properties": { "state": { "enum": ["pending", "result", "error"] } }
          }
        }
      ]
    }`
