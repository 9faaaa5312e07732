// Package toolresult bounds and compacts external tool results before they
// are shown to the model or persisted.
//
// The Sanitizer is a generic, depth- and size-bounded filter that works on
// any JSON-like value. The Registry maps exact tool slugs to extractors that
// keep only the fields useful for reasoning and falls back to the Sanitizer
// for everything else.
package toolresult

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"unicode/utf8"
)

// Summary type tags.
const (
	TypeHTMLSummary       = "html_summary"
	TypeEncodedContent    = "encoded_content"
	TypeTextSummary       = "text_summary"
	TypeSanitizationError = "sanitization_error"
)

const (
	depthMarker     = "[max depth reached]"
	truncatedMarker = "... [truncated]"
	// truncatedFieldsKey holds the number of object fields dropped at one level.
	truncatedFieldsKey = "_truncated_fields"
)

// Limits bound the sanitizer's output.
type Limits struct {
	MaxDepth        int
	MaxArrayItems   int
	MaxObjectFields int
	MaxStringLength int // bytes
	PreviewLength   int // bytes
	PrefixLength    int // bytes kept from encoded content
	MaxLinks        int
	MaxOutputBytes  int // serialized ceiling of any sanitized value
	ReportThreshold int // inputs above this size are logged
}

// DefaultLimits returns the limits used for every tool result.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:        5,
		MaxArrayItems:   10,
		MaxObjectFields: 50,
		MaxStringLength: 1000,
		PreviewLength:   200,
		PrefixLength:    32,
		MaxLinks:        5,
		MaxOutputBytes:  16 << 10,
		ReportThreshold: 10 << 10,
	}
}

// Sanitizer reduces arbitrary tool results to bounded JSON values.
// It is safe for concurrent use.
type Sanitizer struct {
	limits Limits
	logger *slog.Logger
}

// NewSanitizer creates a Sanitizer. A nil logger uses slog.Default().
func NewSanitizer(limits Limits, logger *slog.Logger) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sanitizer{limits: limits, logger: logger}
}

// Limits returns the configured limits.
func (s *Sanitizer) Limits() Limits { return s.limits }

// Sanitize returns a bounded copy of v. The serialized result is never larger
// than the serialized input and never exceeds Limits.MaxOutputBytes. It never
// panics; internal failures produce a sanitization_error summary.
func (s *Sanitizer) Sanitize(ctx context.Context, tool string, v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "toolresult: sanitize panicked", "tool", tool, "panic", fmt.Sprint(r))
			out = s.failure(v, fmt.Errorf("panic: %v", r))
		}
	}()

	v, err := normalize(v)
	if err != nil {
		return s.failure(v, err)
	}

	orig, origErr := json.Marshal(v)

	w := &walker{Limits: s.limits, budget: s.limits.MaxOutputBytes}
	out = w.value(v, "", 0)

	outBytes, err := json.Marshal(out)
	if err != nil {
		return s.failure(v, err)
	}
	if origErr == nil && len(outBytes) > len(orig) {
		// Markers outweighed what they replaced: the input is already small.
		out, outBytes = v, orig
	}
	if len(outBytes) > s.limits.MaxOutputBytes {
		out = s.collapse(outBytes)
	}

	if origErr == nil && len(orig) > s.limits.ReportThreshold {
		sanitized, _ := json.Marshal(out)
		s.logger.InfoContext(ctx, "toolresult: sanitized",
			"tool", tool,
			"original_bytes", len(orig),
			"sanitized_bytes", len(sanitized),
			"original_tokens_est", EstimateTokens(len(orig)),
			"sanitized_tokens_est", EstimateTokens(len(sanitized)),
		)
	}
	return out
}

// Bound caps an already compact value, such as parser output, at
// Limits.MaxOutputBytes. Values under the ceiling are returned unchanged.
// Larger ones keep their fields and items in order until the byte budget
// runs out; key rules and item caps do not apply.
func (s *Sanitizer) Bound(ctx context.Context, tool string, v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "toolresult: bound panicked", "tool", tool, "panic", fmt.Sprint(r))
			out = s.failure(v, fmt.Errorf("panic: %v", r))
		}
	}()

	v, err := normalize(v)
	if err != nil {
		return s.failure(v, err)
	}
	orig, err := json.Marshal(v)
	if err != nil {
		return s.failure(v, err)
	}
	if len(orig) <= s.limits.MaxOutputBytes {
		return v
	}

	// The budget is approximate; leave room for the element that crosses it.
	w := &walker{Limits: s.limits, budget: s.limits.MaxOutputBytes * 7 / 8, extracted: true}
	out = w.value(v, "", 0)
	if b, err := json.Marshal(out); err != nil || len(b) > s.limits.MaxOutputBytes {
		return s.collapse(orig)
	}
	s.logger.InfoContext(ctx, "toolresult: parsed result bounded", "tool", tool, "original_bytes", len(orig))
	return out
}

// EstimateTokens approximates the token count of n serialized bytes.
func EstimateTokens(n int) int {
	return (n + 3) / 4
}

// collapse replaces an oversized sanitized value by a summary of its
// serialized form.
func (s *Sanitizer) collapse(serialized []byte) map[string]any {
	sum := textSummary(string(serialized), s.limits.PreviewLength)
	sum["truncated"] = true
	return sum
}

// failure wraps a flat truncation of the input in a sanitization_error tag.
func (s *Sanitizer) failure(v any, cause error) map[string]any {
	var preview string
	if b, err := json.Marshal(v); err == nil {
		preview = truncate(string(b), s.limits.PreviewLength)
	} else {
		preview = fmt.Sprintf("unserializable value of type %T", v)
	}
	return map[string]any{
		"type":    TypeSanitizationError,
		"error":   truncate(cause.Error(), s.limits.PreviewLength),
		"preview": preview,
	}
}

// walker carries the limits and the remaining output budget of one call.
// Once the budget is spent, containers stop accepting elements, which bounds
// the work done on very wide inputs.
type walker struct {
	Limits
	budget int
	// extracted values come from a parser: only strings over MaxStringLength
	// are cut, and containers are bounded by the budget alone.
	extracted bool
}

func (w *walker) value(v any, key string, depth int) any {
	if depth > w.MaxDepth {
		w.budget -= len(depthMarker) + 2
		return depthMarker
	}
	switch t := v.(type) {
	case nil:
		w.budget -= 4
		return nil
	case string:
		out := w.str(t, key)
		w.budget -= approxSize(out)
		return out
	case []any:
		return w.array(t, depth)
	case map[string]any:
		return w.object(t, depth)
	case bool, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		w.budget -= 8
		return t
	default:
		n, err := normalize(t)
		if err != nil {
			return fmt.Sprintf("[unserializable %T]", t)
		}
		if reflect.TypeOf(n) == reflect.TypeOf(t) {
			return t
		}
		return w.value(n, key, depth)
	}
}

func (w *walker) array(items []any, depth int) []any {
	n := len(items)
	if !w.extracted {
		n = min(n, w.MaxArrayItems)
	}
	out := make([]any, 0, n+1)
	w.budget -= 2
	for _, item := range items[:n] {
		if w.budget <= 0 {
			break
		}
		out = append(out, w.value(item, "", depth+1))
	}
	if rest := len(items) - len(out); rest > 0 {
		marker := fmt.Sprintf("[... %d more items]", rest)
		w.budget -= len(marker) + 2
		out = append(out, marker)
	}
	return out
}

func (w *walker) object(m map[string]any, depth int) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := len(keys)
	if !w.extracted {
		n = min(n, w.MaxObjectFields)
	}
	out := make(map[string]any, n+1)
	w.budget -= 2
	kept := 0
	for _, k := range keys[:n] {
		if w.budget <= 0 {
			break
		}
		w.budget -= len(k) + 3
		out[k] = w.value(m[k], k, depth+1)
		kept++
	}
	if rest := len(keys) - kept; rest > 0 {
		w.budget -= len(truncatedFieldsKey) + 8
		out[truncatedFieldsKey] = rest
	}
	return out
}

// str applies the string rules: preserved fields are truncated, large or
// encoded content is summarized, everything else passes through.
func (w *walker) str(v, key string) any {
	k := normalizeKey(key)
	if w.extracted || preserved(k) {
		return truncate(v, w.MaxStringLength)
	}

	var sum map[string]any
	switch {
	case isDataURI(v):
		sum = encodedSummary(v, dataURIFormat(v), w.PrefixLength)
	case looksBinary(v):
		sum = encodedSummary(v, "binary", w.PrefixLength)
	case looksBase64(v):
		sum = encodedSummary(v, "base64", w.PrefixLength)
	case looksLongURL(v, w.PreviewLength):
		sum = encodedSummary(v, "url", w.PreviewLength/2)
	case largeContent(k) || len(v) > w.MaxStringLength:
		if looksHTML(v) {
			sum = htmlSummary(v, w.PreviewLength, w.MaxLinks)
		} else {
			sum = textSummary(v, w.PreviewLength)
		}
	default:
		return v
	}

	if approxSize(sum) >= approxSize(v) {
		return truncate(v, w.MaxStringLength)
	}
	return sum
}

func textSummary(v string, preview int) map[string]any {
	return map[string]any{
		"type":      TypeTextSummary,
		"wordCount": len(strings.Fields(v)),
		"charCount": utf8.RuneCountInString(v),
		"preview":   truncate(strings.Join(strings.Fields(v), " "), preview),
	}
}

func encodedSummary(v, format string, prefix int) map[string]any {
	p := v
	if len(p) > prefix {
		p = cutUTF8(p, prefix) + "..."
	}
	if !utf8.ValidString(p) {
		p = strings.ToValidUTF8(p, "?")
	}
	return map[string]any{
		"type":   TypeEncodedContent,
		"format": format,
		"bytes":  len(v),
		"prefix": p,
	}
}

// truncate cuts s so the result, marker included, is at most n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= len(truncatedMarker) {
		return cutUTF8(s, n)
	}
	return cutUTF8(s, n-len(truncatedMarker)) + truncatedMarker
}

// cutUTF8 returns the longest prefix of s of at most n bytes that does not
// split a rune.
func cutUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// approxSize returns the serialized size of v, or a large number when v
// cannot be serialized.
func approxSize(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 1 << 30
	}
	return len(b)
}

// normalize converts typed Go values (structs, typed maps and slices, raw
// JSON) into the generic JSON shape the walker understands.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, float64, json.Number, []any, map[string]any:
		return v, nil
	case json.RawMessage:
		return decodeJSON(t)
	case []byte:
		if json.Valid(t) {
			return decodeJSON(t)
		}
		return string(t), nil
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array, reflect.Pointer, reflect.Interface:
		b, err := json.Marshal(v)
		if err != nil {
			return v, fmt.Errorf("serialize %T: %w", v, err)
		}
		return decodeJSON(b)
	}
	return v, nil
}

func decodeJSON(b []byte) (any, error) {
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return string(b), nil
	}
	return out, nil
}
