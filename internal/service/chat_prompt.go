package service

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"text/template"

	"github.com/Strob0t/ChatForge/internal/domain/conversation"
	"github.com/Strob0t/ChatForge/internal/domain/toolkit"
)

//go:embed templates/chat_persona.tmpl
var fallbackPersona string

//go:embed templates/chat_hints.tmpl
var chatHintsTmplSrc string

// chatHintsTmpl renders the geolocation block of the system prompt.
var chatHintsTmpl = template.Must(template.New("chat_hints").Parse(chatHintsTmplSrc))

//go:embed templates/toolkits/*.tmpl
var toolkitGuidanceFS embed.FS

// PromptComposer assembles the system prompt of a turn.
type PromptComposer struct {
	guidance map[string]string // toolkit key -> guidance block
}

// NewPromptComposer loads the embedded toolkit guidance.
func NewPromptComposer() (*PromptComposer, error) {
	files, err := fs.Glob(toolkitGuidanceFS, "templates/toolkits/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("list toolkit guidance: %w", err)
	}
	g := make(map[string]string, len(files))
	for _, f := range files {
		b, err := toolkitGuidanceFS.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read toolkit guidance %s: %w", f, err)
		}
		key := strings.TrimSuffix(path.Base(f), ".tmpl")
		g[key] = strings.TrimSpace(string(b))
	}
	return &PromptComposer{guidance: g}, nil
}

// Compose joins the persona (or the fallback persona), the request hints and
// the guidance of every toolkit behind enabledTools. Toolkits are emitted in
// sorted order; toolkits without guidance contribute nothing.
func (c *PromptComposer) Compose(persona string, hints conversation.RequestHints, enabledTools []string) string {
	blocks := make([]string, 0, 4)

	persona = strings.TrimSpace(persona)
	if persona == "" {
		persona = strings.TrimSpace(fallbackPersona)
	}
	blocks = append(blocks, persona)

	if !hints.Empty() {
		var buf bytes.Buffer
		if err := chatHintsTmpl.Execute(&buf, hints); err == nil {
			blocks = append(blocks, strings.TrimSpace(buf.String()))
		}
	}

	seen := map[string]bool{}
	var keys []string
	for _, slug := range enabledTools {
		k := toolkit.Of(slug)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if g, ok := c.guidance[k]; ok {
			blocks = append(blocks, g)
		}
	}

	return strings.Join(blocks, "\n\n")
}
