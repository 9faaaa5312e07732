package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/ChatForge/internal/domain"
	"github.com/Strob0t/ChatForge/internal/domain/conversation"
	"github.com/Strob0t/ChatForge/internal/domain/event"
	"github.com/Strob0t/ChatForge/internal/domain/user"
)

// ResumeStream returns the frames after afterSeq of an in-flight stream
// session. A nil channel with a nil error means there is nothing left to
// deliver: the stream is unknown, finished, or resumption is unavailable.
func (s *ChatService) ResumeStream(ctx context.Context, id user.Identity, streamID string, afterSeq uint64) (<-chan event.Frame, error) {
	sess, err := s.db.GetStreamSession(ctx, streamID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stream session: %w", err)
	}
	conv, err := s.readableConversation(ctx, id, sess.ConversationID)
	if err != nil || conv == nil {
		return nil, err
	}
	return s.resume(ctx, sess, afterSeq), nil
}

// ResumeConversation resumes the latest stream session of a conversation.
func (s *ChatService) ResumeConversation(ctx context.Context, id user.Identity, conversationID string, afterSeq uint64) (<-chan event.Frame, error) {
	conv, err := s.readableConversation(ctx, id, conversationID)
	if err != nil || conv == nil {
		return nil, err
	}
	sess, err := s.db.LatestStreamSession(ctx, conv.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest stream session: %w", err)
	}
	return s.resume(ctx, sess, afterSeq), nil
}

// readableConversation returns nil without error for an unknown conversation
// and ErrForbidden when the caller may not read it.
func (s *ChatService) readableConversation(ctx context.Context, id user.Identity, conversationID string) (*conversation.Conversation, error) {
	if id.ID == "" {
		return nil, domain.ErrUnauthorized
	}
	conv, err := s.db.GetConversation(ctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if !conv.ReadableBy(id.ID) {
		return nil, domain.ErrForbidden
	}
	return conv, nil
}

// resumeGrace covers the persistence that follows a turn's deadline.
const resumeGrace = 5 * time.Second

func (s *ChatService) resume(ctx context.Context, sess *conversation.StreamSession, afterSeq uint64) <-chan event.Frame {
	store, err := s.streams.Store(ctx)
	if err != nil {
		slog.DebugContext(ctx, "chat: resume without stream store", "stream_id", sess.ID, "error", err)
		return nil
	}

	// A session still marked active past its turn's deadline belongs to a
	// process that died mid-turn; no terminal frame will ever arrive.
	followCtx, cancel := ctx, context.CancelFunc(func() {})
	if !sess.CreatedAt.IsZero() && s.cfg.MaxTurnDuration > 0 {
		deadline := sess.CreatedAt.Add(s.cfg.MaxTurnDuration + resumeGrace)
		if !s.now().Before(deadline) {
			slog.DebugContext(ctx, "chat: stream session outlived its turn", "stream_id", sess.ID, "created_at", sess.CreatedAt)
			return nil
		}
		followCtx, cancel = context.WithDeadline(ctx, deadline)
	}

	frames, ok, err := store.Resume(followCtx, sess.ID, afterSeq)
	if err != nil {
		cancel()
		slog.WarnContext(ctx, "chat: resume stream failed", "stream_id", sess.ID, "error", err)
		return nil
	}
	if !ok {
		cancel()
		return nil
	}

	out := make(chan event.Frame)
	go func() {
		defer cancel()
		defer close(out)
		for f := range frames {
			select {
			case out <- f:
			case <-followCtx.Done():
				return
			}
		}
	}()
	return out
}
