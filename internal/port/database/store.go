// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/ChatForge/internal/domain/agent"
	"github.com/Strob0t/ChatForge/internal/domain/conversation"
	"github.com/Strob0t/ChatForge/internal/domain/toolkit"
)

// Store is the port interface for database operations.
// Lookups of absent rows return an error wrapping domain.ErrNotFound.
type Store interface {
	// Agents
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)

	// Conversations
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)
	CreateConversation(ctx context.Context, c *conversation.Conversation) error
	DeleteConversation(ctx context.Context, id string) error

	// Messages
	ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error)
	// SaveMessages persists the batch atomically: all or none become visible.
	SaveMessages(ctx context.Context, msgs []conversation.Message) error
	CountUserMessagesSince(ctx context.Context, userID string, since time.Time) (int, error)

	// Stream sessions
	CreateStreamSession(ctx context.Context, s *conversation.StreamSession) error
	GetStreamSession(ctx context.Context, id string) (*conversation.StreamSession, error)
	LatestStreamSession(ctx context.Context, conversationID string) (*conversation.StreamSession, error)

	// Tools
	ListToolEnablement(ctx context.Context, scope toolkit.Scope) ([]toolkit.Enablement, error)
	ListConnections(ctx context.Context, userID string) ([]toolkit.Connection, error)

	Ping(ctx context.Context) error
}
