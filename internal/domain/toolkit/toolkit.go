// Package toolkit defines tool enablement, third-party connections and the
// tool declarations offered to the model.
package toolkit

import (
	"encoding/json"
	"errors"
	"strings"
)

// Separator splits a tool slug into its toolkit prefix and action, e.g. NOTION_APPEND_BLOCK_CHILDREN.
const Separator = "_"

// Of returns the lowercase toolkit key for a tool slug: the text before the
// first separator. A slug without a separator is its own toolkit.
func Of(slug string) string {
	prefix, _, _ := strings.Cut(slug, Separator)
	return strings.ToLower(prefix)
}

// Scope identifies whose enablement applies: exactly one of a user's
// defaults or a single agent.
type Scope struct {
	UserID  string
	AgentID string
}

// UserScope returns the default enablement scope of a user.
func UserScope(userID string) Scope { return Scope{UserID: userID} }

// AgentScope returns the enablement scope of an agent.
func AgentScope(agentID string) Scope { return Scope{AgentID: agentID} }

// Validate enforces that a scope names exactly one owner.
func (s Scope) Validate() error {
	switch {
	case s.UserID == "" && s.AgentID == "":
		return errors.New("enablement scope requires a user or an agent")
	case s.UserID != "" && s.AgentID != "":
		return errors.New("enablement scope cannot name both a user and an agent")
	}
	return nil
}

// Enablement flags a tool (or a whole toolkit when ToolSlug is empty) as
// available within a scope.
type Enablement struct {
	Scope       Scope  `json:"-"`
	ToolkitSlug string `json:"toolkit"`
	ToolSlug    string `json:"tool,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// ConnectionStatus is the lifecycle state of a third-party account link.
type ConnectionStatus string

const (
	ConnectionActive   ConnectionStatus = "active"
	ConnectionInactive ConnectionStatus = "inactive"
	ConnectionExpired  ConnectionStatus = "expired"
)

// Connection links a user to an account on one toolkit's provider.
type Connection struct {
	UserID      string           `json:"user_id"`
	ToolkitSlug string           `json:"toolkit"`
	AccountRef  string           `json:"account_ref"`
	Status      ConnectionStatus `json:"status"`
}

// Declaration is a tool the model may call during a turn.
type Declaration struct {
	Slug        string          `json:"slug"`
	Toolkit     string          `json:"toolkit"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// EnabledSet resolves enablement records into the set of enabled tool slugs,
// given the tools each toolkit offers. Toolkit-level records enable every
// offered tool of that toolkit; a tool-level record overrides its toolkit.
func EnabledSet(records []Enablement, offered map[string][]string) map[string]bool {
	toolkits := map[string]bool{}
	tools := map[string]bool{}
	for _, r := range records {
		if r.ToolSlug == "" {
			toolkits[strings.ToLower(r.ToolkitSlug)] = r.Enabled
			continue
		}
		tools[r.ToolSlug] = r.Enabled
	}

	out := map[string]bool{}
	for tk, slugs := range offered {
		for _, slug := range slugs {
			enabled, explicit := tools[slug]
			if !explicit {
				enabled = toolkits[tk]
			}
			if enabled {
				out[slug] = true
			}
		}
	}
	return out
}
