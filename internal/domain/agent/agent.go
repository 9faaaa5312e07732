// Package agent defines the Agent (persona) domain entity.
package agent

import (
	"time"

	"github.com/Strob0t/ChatForge/internal/domain/user"
)

// Agent is an owned persona binding a system prompt to a model.
type Agent struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	SystemPrompt   string    `json:"system_prompt,omitempty"`
	ModelID        string    `json:"model_id"`
	IsGlobal       bool      `json:"is_global"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OwnedBy reports whether id owns the agent.
func (a *Agent) OwnedBy(id user.Identity) bool {
	return a.OwnerID != "" && a.OwnerID == id.ID
}

// VisibleTo reports whether id may select the agent for a turn: it owns
// the agent, the agent is global, or both share an organization.
func (a *Agent) VisibleTo(id user.Identity) bool {
	if a.OwnedBy(id) || a.IsGlobal {
		return true
	}
	return a.OrganizationID != "" && a.OrganizationID == id.OrgID
}
