// Package user defines the authenticated caller identity.
package user

// Role represents the authorization level of a user within an organization.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Type distinguishes anonymous guest sessions from registered accounts.
type Type string

const (
	TypeGuest   Type = "guest"
	TypeRegular Type = "regular"
)

// Identity is the caller as asserted by the identity provider.
type Identity struct {
	ID    string `json:"id"`
	OrgID string `json:"org_id,omitempty"`
	Role  Role   `json:"role,omitempty"`
	Type  Type   `json:"type"`
}

// IsGuest reports whether the identity is an anonymous guest session.
func (i Identity) IsGuest() bool {
	return i.Type == TypeGuest
}
