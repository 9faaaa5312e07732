package http

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/ChatForge/internal/domain/conversation"
	"github.com/Strob0t/ChatForge/internal/domain/event"
	"github.com/Strob0t/ChatForge/internal/domain/user"
	"github.com/Strob0t/ChatForge/internal/middleware"
	"github.com/Strob0t/ChatForge/internal/service"
)

// ChatService is the turn API the handlers drive.
type ChatService interface {
	Submit(ctx context.Context, id user.Identity, body []byte, hints conversation.RequestHints) (*service.Turn, error)
	ResumeStream(ctx context.Context, id user.Identity, streamID string, afterSeq uint64) (<-chan event.Frame, error)
	ResumeConversation(ctx context.Context, id user.Identity, conversationID string, afterSeq uint64) (<-chan event.Frame, error)
	DeleteConversation(ctx context.Context, id user.Identity, conversationID string) error
}

var _ ChatService = (*service.ChatService)(nil)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	Chat         ChatService
	Checks       map[string]HealthCheck
	MaxBodyBytes int64
	CheckTimeout time.Duration
}

// SubmitChat handles POST /api/v1/chat. Rejections before the first frame are
// JSON errors; everything after is the SSE frame stream.
func (h *Handlers) SubmitChat(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, h.MaxBodyBytes)
	if !ok {
		return
	}
	id := middleware.IdentityFromContext(r.Context())

	turn, err := h.Chat.Submit(r.Context(), id, body, geoHints(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("X-Conversation-Id", turn.ConversationID)
	if turn.StreamID != "" {
		w.Header().Set("X-Stream-Id", turn.StreamID)
	}
	pipe(r.Context(), w, turn.Frames)
}

// ResumeConversation handles GET /api/v1/chat/{id}/stream.
func (h *Handlers) ResumeConversation(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	frames, err := h.Chat.ResumeConversation(r.Context(), id, urlParam(r, "id"), resumeCursor(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	pipe(r.Context(), w, frames)
}

// ResumeStream handles GET /api/v1/streams/{streamID}.
func (h *Handlers) ResumeStream(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	frames, err := h.Chat.ResumeStream(r.Context(), id, urlParam(r, "streamID"), resumeCursor(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	pipe(r.Context(), w, frames)
}

// DeleteConversation handles DELETE /api/v1/chat/{id}.
func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	if err := h.Chat.DeleteConversation(r.Context(), id, urlParam(r, "id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health. All checks run concurrently; any failure
// reports the service as degraded with 503. Failure details are logged,
// not returned, since the endpoint is public.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	timeout := h.CheckTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]string, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.Checks[name](ctx); err != nil {
				slog.WarnContext(ctx, "http: health check failed", "check", name, "error", err)
				results[i] = "error"
				return
			}
			results[i] = "ok"
		}()
	}
	wg.Wait()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for i, name := range names {
		resp.Checks[name] = results[i]
		if results[i] != "ok" {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}
