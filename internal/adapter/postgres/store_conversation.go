package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/ChatForge/internal/domain/conversation"
)

func (s *Store) CreateConversation(ctx context.Context, c *conversation.Conversation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, owner_id, title, visibility, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.OwnerID, c.Title, c.Visibility, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return conflictWrap(err, "create conversation %s", c.ID)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	var c conversation.Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, title, visibility, created_at, updated_at
		 FROM conversations WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.OwnerID, &c.Title, &c.Visibility, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get conversation %s", id)
	}
	return &c, nil
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete conversation %s", id)
}

// --- Messages ---

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, parts, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var result []conversation.Message
	for rows.Next() {
		var (
			m     conversation.Message
			parts []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &parts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal(parts, &m.Parts); err != nil {
			return nil, fmt.Errorf("decode parts of message %s: %w", m.ID, err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// SaveMessages inserts the batch in one transaction and touches the
// conversations it belongs to.
func (s *Store) SaveMessages(ctx context.Context, msgs []conversation.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save messages: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	touched := map[string]bool{}
	for i := range msgs {
		m := &msgs[i]
		parts, err := json.Marshal(m.Parts)
		if err != nil {
			return fmt.Errorf("encode parts of message %s: %w", m.ID, err)
		}
		created := m.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		batch.Queue(
			`INSERT INTO messages (id, conversation_id, role, parts, created_at) VALUES ($1, $2, $3, $4, $5)`,
			m.ID, m.ConversationID, m.Role, parts, created)
		touched[m.ConversationID] = true
	}
	for id := range touched {
		batch.Queue(`UPDATE conversations SET updated_at = NOW() WHERE id = $1`, id)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return conflictWrap(err, "save messages")
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save messages: %w", err)
	}
	return nil
}

// CountUserMessagesSince counts the user messages sent in the caller's own
// conversations since the given time.
func (s *Store) CountUserMessagesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE c.owner_id = $1 AND m.role = 'user' AND m.created_at >= $2`,
		userID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count user messages: %w", err)
	}
	return n, nil
}

// --- Stream sessions ---

func (s *Store) CreateStreamSession(ctx context.Context, ss *conversation.StreamSession) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stream_sessions (id, conversation_id, created_at) VALUES ($1, $2, $3)`,
		ss.ID, ss.ConversationID, ss.CreatedAt)
	if err != nil {
		return conflictWrap(err, "create stream session %s", ss.ID)
	}
	return nil
}

func (s *Store) GetStreamSession(ctx context.Context, id string) (*conversation.StreamSession, error) {
	var ss conversation.StreamSession
	err := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, created_at FROM stream_sessions WHERE id = $1`, id,
	).Scan(&ss.ID, &ss.ConversationID, &ss.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get stream session %s", id)
	}
	return &ss, nil
}

func (s *Store) LatestStreamSession(ctx context.Context, conversationID string) (*conversation.StreamSession, error) {
	var ss conversation.StreamSession
	err := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, created_at FROM stream_sessions
		 WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT 1`, conversationID,
	).Scan(&ss.ID, &ss.ConversationID, &ss.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "latest stream session of %s", conversationID)
	}
	return &ss, nil
}
