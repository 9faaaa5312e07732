package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ChatForge/internal/domain/agent"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Agents ---

const agentColumns = `id, owner_id, COALESCE(organization_id, ''), name, description, system_prompt, model_id, is_global, created_at, updated_at`

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return &a, nil
}

// CreateAgent inserts an agent and fills in its generated id and timestamps.
func (s *Store) CreateAgent(ctx context.Context, a *agent.Agent) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO agents (owner_id, organization_id, name, description, system_prompt, model_id, is_global)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		a.OwnerID, nullIfEmpty(a.OrganizationID), a.Name, a.Description, a.SystemPrompt, a.ModelID, a.IsGlobal,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return conflictWrap(err, "create agent")
	}
	return nil
}

func scanAgent(row scannable) (agent.Agent, error) {
	var a agent.Agent
	err := row.Scan(&a.ID, &a.OwnerID, &a.OrganizationID, &a.Name, &a.Description,
		&a.SystemPrompt, &a.ModelID, &a.IsGlobal, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}
