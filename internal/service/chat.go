package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ChatForge/internal/config"
	"github.com/Strob0t/ChatForge/internal/domain"
	"github.com/Strob0t/ChatForge/internal/domain/conversation"
	"github.com/Strob0t/ChatForge/internal/domain/event"
	"github.com/Strob0t/ChatForge/internal/domain/user"
	"github.com/Strob0t/ChatForge/internal/port/database"
	"github.com/Strob0t/ChatForge/internal/port/inference"
	"github.com/Strob0t/ChatForge/internal/port/streamstore"
	"github.com/Strob0t/ChatForge/internal/port/toolexec"
	"github.com/Strob0t/ChatForge/internal/toolresult"
)

// quotaWindow is the rolling window of the per-identity message quota.
const quotaWindow = 24 * time.Hour

// frameBuffer is the capacity of a turn's frame channel.
const frameBuffer = 32

// Turn is a running chat turn. Frames is closed after the terminal frame or
// when the caller goes away.
type Turn struct {
	ConversationID string
	StreamID       string
	Frames         <-chan event.Frame
}

// ChatService runs chat turns: validation, persona and tool resolution,
// prompt composition and the streaming step loop.
type ChatService struct {
	cfg       config.Chat
	db        database.Store
	llm       inference.Provider
	tools     toolexec.Executor
	validator *RequestValidator
	resolver  *AgentResolver
	composer  *PromptComposer
	parser    *toolresult.Registry
	streams   *StreamContext
	observer  TurnObserver
	now       func() time.Time
}

// NewChatService creates a ChatService. Resumable streams and observation are
// optional and set with SetStreamContext and SetObserver.
func NewChatService(
	cfg config.Chat,
	db database.Store,
	llm inference.Provider,
	tools toolexec.Executor,
	validator *RequestValidator,
	resolver *AgentResolver,
	composer *PromptComposer,
	parser *toolresult.Registry,
) *ChatService {
	return &ChatService{
		cfg:       cfg,
		db:        db,
		llm:       llm,
		tools:     tools,
		validator: validator,
		resolver:  resolver,
		composer:  composer,
		parser:    parser,
		observer:  LogObserver{},
		now:       time.Now,
	}
}

// SetStreamContext enables resumable streams.
func (s *ChatService) SetStreamContext(sc *StreamContext) { s.streams = sc }

// SetObserver replaces the turn observer.
func (s *ChatService) SetObserver(o TurnObserver) {
	if o != nil {
		s.observer = o
	}
}

// Submit validates body and starts a turn. Errors returned here happen before
// any frame is produced and map onto the error taxonomy; failures after that
// point are reported as an error frame.
func (s *ChatService) Submit(ctx context.Context, id user.Identity, body []byte, hints conversation.RequestHints) (*Turn, error) {
	started := s.now()
	stage := func(st TurnStage, res *Resolution, promptLen int) {
		e := StageEvent{Stage: st, UserID: id.ID, PromptLength: promptLen, Elapsed: s.now().Sub(started)}
		if res != nil {
			e.AgentID = res.AgentID()
			e.Model = res.Model
		}
		s.observer.Stage(ctx, e)
	}

	stage(StageValidating, nil, 0)
	if id.ID == "" {
		return nil, domain.ErrUnauthorized
	}
	req, err := s.validator.Validate(body)
	if err != nil {
		return nil, err
	}
	if err := s.checkQuota(ctx, id); err != nil {
		return nil, err
	}

	conv, history, err := s.prepareConversation(ctx, id, req)
	if err != nil {
		return nil, err
	}

	userMsg := req.LatestMessage
	userMsg.ConversationID = conv.ID
	userMsg.CreatedAt = s.now().UTC()
	if err := s.db.SaveMessages(ctx, []conversation.Message{userMsg}); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}
	history = append(history, userMsg)

	session := &conversation.StreamSession{ID: uuid.NewString(), ConversationID: conv.ID, CreatedAt: s.now().UTC()}
	if err := s.db.CreateStreamSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create stream session: %w", err)
	}

	stage(StageResolving, nil, 0)
	res := s.resolver.Resolve(ctx, id, req.SelectedAgentID, req.SelectedChatModel)
	if s.isReasoning(res.Model) {
		res.EnabledTools, res.Declarations = nil, nil
	}

	stage(StageComposing, res, 0)
	prompt := s.composer.Compose(res.SystemPrompt, hints, res.EnabledTools)

	frames := make(chan event.Frame, frameBuffer)
	t := &turnRun{
		identity: id,
		conv:     conv,
		session:  session,
		res:      res,
		prompt:   prompt,
		history:  toInferenceMessages(history),
		started:  started,
		em:       &emitter{ctx: ctx, out: frames, writer: s.openWriter(ctx, session.ID)},
		out:      frames,
	}
	stage(StageStreaming, res, len(prompt))
	go s.run(ctx, t)

	return &Turn{ConversationID: conv.ID, StreamID: session.ID, Frames: frames}, nil
}

func (s *ChatService) checkQuota(ctx context.Context, id user.Identity) error {
	limit := s.cfg.DailyQuota
	if id.IsGuest() {
		limit = s.cfg.GuestDailyQuota
	}
	if limit <= 0 {
		return nil
	}
	n, err := s.db.CountUserMessagesSince(ctx, id.ID, s.now().Add(-quotaWindow))
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	if n >= limit {
		return fmt.Errorf("%w: %d messages in the last 24h", domain.ErrRateLimited, n)
	}
	return nil
}

// prepareConversation loads or creates the conversation of the turn and
// returns the history preceding the latest message.
func (s *ChatService) prepareConversation(ctx context.Context, id user.Identity, req conversation.TurnRequest) (*conversation.Conversation, []conversation.Message, error) {
	conv, err := s.db.GetConversation(ctx, req.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		now := s.now().UTC()
		conv = &conversation.Conversation{
			ID:         req.ID,
			OwnerID:    id.ID,
			Title:      conversation.TitleFrom(req.LatestMessage),
			Visibility: req.SelectedVisibilityType,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.db.CreateConversation(ctx, conv); err != nil {
			return nil, nil, fmt.Errorf("create conversation: %w", err)
		}
		return conv, slices.Clone(req.History), nil
	case err != nil:
		return nil, nil, fmt.Errorf("get conversation: %w", err)
	case !conv.OwnedBy(id.ID):
		return nil, nil, domain.ErrForbidden
	}

	stored, err := s.db.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list messages: %w", err)
	}
	return conv, stored, nil
}

func (s *ChatService) isReasoning(model string) bool {
	return slices.Contains(s.cfg.ReasoningModels, model)
}

// providerModel maps a public model id to the proxy model name. Ids outside
// the configured map are passed through.
func (s *ChatService) providerModel(model string) string {
	if m, ok := s.cfg.Models[model]; ok {
		return m
	}
	return model
}

// openWriter returns the resumable writer for a session, or nil when
// resumable streams are unavailable.
func (s *ChatService) openWriter(ctx context.Context, streamID string) streamstore.Writer {
	store, err := s.streams.Store(ctx)
	if err != nil {
		slog.DebugContext(ctx, "chat: resumable streams unavailable", "error", err)
		return nil
	}
	w, err := store.Create(ctx, streamID)
	if err != nil {
		slog.WarnContext(ctx, "chat: create resumable stream failed", "stream_id", streamID, "error", err)
		return nil
	}
	return w
}

// DeleteConversation removes a conversation owned by the caller.
func (s *ChatService) DeleteConversation(ctx context.Context, id user.Identity, conversationID string) error {
	conv, err := s.db.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}
	if !conv.OwnedBy(id.ID) {
		return domain.ErrForbidden
	}
	if err := s.db.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}
