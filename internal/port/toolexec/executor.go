// Package toolexec defines the external tool-execution provider port.
package toolexec

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/ChatForge/internal/domain/toolkit"
)

// Call is one tool invocation requested by the model.
type Call struct {
	Slug       string
	Arguments  json.RawMessage
	AccountRef string
}

// Executor lists and runs the tools of connected toolkits. Execute returns
// the provider's raw JSON result; tool-level failures are encoded in the
// result, and only transport failures are returned as errors.
type Executor interface {
	ListTools(ctx context.Context, toolkitSlug, accountRef string) ([]toolkit.Declaration, error)
	Execute(ctx context.Context, call Call) (json.RawMessage, error)
}
