package toolresult

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Parser extracts a compact result from the data of a successful tool call.
type Parser func(data any) (any, error)

// Registry dispatches raw tool results to the Parser registered for the exact
// tool slug. Unknown slugs and failing parsers fall back to the Sanitizer.
type Registry struct {
	mu        sync.RWMutex
	parsers   map[string]Parser
	sanitizer *Sanitizer
	logger    *slog.Logger
}

// NewRegistry creates a Registry holding the built-in parsers.
func NewRegistry(sanitizer *Sanitizer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		parsers:   make(map[string]Parser),
		sanitizer: sanitizer,
		logger:    logger,
	}
	registerBuiltins(r)
	return r
}

// Register adds or replaces the parser for a tool slug.
func (r *Registry) Register(toolSlug string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[toolSlug] = p
}

func (r *Registry) lookup(toolSlug string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[toolSlug]
	return p, ok
}

// Parse turns a raw tool result into the value handed to the model.
// A failed call always yields {"error": "..."}; the rest of the payload is
// dropped. Parser output is only held to the byte ceiling; everything else
// goes through the full Sanitizer.
func (r *Registry) Parse(ctx context.Context, toolSlug, toolkitSlug string, raw json.RawMessage) any {
	var decoded any
	if len(raw) > 0 {
		decoded, _ = decodeJSON(raw)
	}

	env, isEnvelope := asEnvelope(decoded)
	if isEnvelope && env.failed {
		return map[string]any{"error": truncate(env.errorText, r.sanitizer.limits.MaxStringLength)}
	}

	p, ok := r.lookup(toolSlug)
	if !ok {
		return r.sanitizer.Sanitize(ctx, toolSlug, decoded)
	}

	data := decoded
	if isEnvelope {
		data = env.data
	}
	parsed, err := safeParse(p, data)
	if err != nil {
		r.logger.WarnContext(ctx, "toolresult: parser failed, falling back to sanitizer",
			"tool", toolSlug, "toolkit", toolkitSlug, "error", err)
		return r.sanitizer.Sanitize(ctx, toolSlug, decoded)
	}
	// Parsers build typed slices; flatten them to the generic JSON shape.
	if b, err := json.Marshal(parsed); err == nil {
		parsed, _ = decodeJSON(b)
	}
	return r.sanitizer.Bound(ctx, toolSlug, parsed)
}

func safeParse(p Parser, data any) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("parser panic: %v", rec)
		}
	}()
	return p(data)
}

// envelope is the common {successful, data, error} wrapper of tool providers.
type envelope struct {
	data      any
	failed    bool
	errorText string
}

func asEnvelope(v any) (envelope, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return envelope{}, false
	}
	successful, hasFlag := m["successful"].(bool)
	errText, _ := m["error"].(string)
	_, hasData := m["data"]
	if !hasFlag && !hasData && errText == "" {
		return envelope{}, false
	}

	env := envelope{data: m["data"]}
	if (hasFlag && !successful) || errText != "" {
		env.failed = true
		env.errorText = errText
		if env.errorText == "" {
			env.errorText = "tool execution failed"
		}
	}
	return env, true
}

// errUnexpectedShape is returned by parsers when the payload lacks the
// fields they extract.
var errUnexpectedShape = errors.New("unexpected result shape")
