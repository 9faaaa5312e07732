package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/ChatForge/internal/domain/toolkit"
)

func (s *Store) ListToolEnablement(ctx context.Context, scope toolkit.Scope) ([]toolkit.Enablement, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("list tool enablement: %w", err)
	}
	query := `SELECT toolkit_slug, tool_slug, enabled FROM tool_enablements WHERE user_id = $1 ORDER BY toolkit_slug, tool_slug`
	arg := scope.UserID
	if scope.AgentID != "" {
		query = `SELECT toolkit_slug, tool_slug, enabled FROM tool_enablements WHERE agent_id = $1 ORDER BY toolkit_slug, tool_slug`
		arg = scope.AgentID
	}

	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list tool enablement: %w", err)
	}
	defer rows.Close()

	var out []toolkit.Enablement
	for rows.Next() {
		e := toolkit.Enablement{Scope: scope}
		if err := rows.Scan(&e.ToolkitSlug, &e.ToolSlug, &e.Enabled); err != nil {
			return nil, fmt.Errorf("scan tool enablement: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetToolEnablement upserts one enablement record of a scope.
func (s *Store) SetToolEnablement(ctx context.Context, e toolkit.Enablement) error {
	if err := e.Scope.Validate(); err != nil {
		return fmt.Errorf("set tool enablement: %w", err)
	}
	conflict := `(user_id, toolkit_slug, tool_slug) WHERE user_id IS NOT NULL`
	if e.Scope.AgentID != "" {
		conflict = `(agent_id, toolkit_slug, tool_slug) WHERE agent_id IS NOT NULL`
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tool_enablements (user_id, agent_id, toolkit_slug, tool_slug, enabled)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT `+conflict+` DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = NOW()`,
		nullIfEmpty(e.Scope.UserID), nullIfEmpty(e.Scope.AgentID), e.ToolkitSlug, e.ToolSlug, e.Enabled)
	if err != nil {
		return conflictWrap(err, "set tool enablement")
	}
	return nil
}

func (s *Store) ListConnections(ctx context.Context, userID string) ([]toolkit.Connection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, toolkit_slug, account_ref, status FROM toolkit_connections
		 WHERE user_id = $1 ORDER BY toolkit_slug, created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []toolkit.Connection
	for rows.Next() {
		var c toolkit.Connection
		if err := rows.Scan(&c.UserID, &c.ToolkitSlug, &c.AccountRef, &c.Status); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertConnection records or updates the status of a toolkit connection.
func (s *Store) UpsertConnection(ctx context.Context, c toolkit.Connection) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO toolkit_connections (user_id, toolkit_slug, account_ref, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, toolkit_slug, account_ref) DO UPDATE SET status = EXCLUDED.status`,
		c.UserID, c.ToolkitSlug, c.AccountRef, c.Status)
	if err != nil {
		return fmt.Errorf("upsert connection: %w", err)
	}
	return nil
}
