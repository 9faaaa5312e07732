package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	cfhttp "github.com/Strob0t/ChatForge/internal/adapter/http"
	"github.com/Strob0t/ChatForge/internal/config"
	"github.com/Strob0t/ChatForge/internal/domain"
	"github.com/Strob0t/ChatForge/internal/domain/conversation"
	"github.com/Strob0t/ChatForge/internal/domain/event"
	"github.com/Strob0t/ChatForge/internal/domain/user"
	"github.com/Strob0t/ChatForge/internal/middleware"
	"github.com/Strob0t/ChatForge/internal/service"
)

// fakeChat implements cfhttp.ChatService for testing.
type fakeChat struct {
	frames    []event.Frame
	submitErr error
	resumeErr error
	deleteErr error
	noTail    bool

	gotID       user.Identity
	gotBody     string
	gotHints    conversation.RequestHints
	gotAfterSeq uint64
	gotTarget   string
}

var _ cfhttp.ChatService = (*fakeChat)(nil)

func (f *fakeChat) channel() <-chan event.Frame {
	if f.noTail {
		return nil
	}
	ch := make(chan event.Frame, len(f.frames))
	for _, fr := range f.frames {
		ch <- fr
	}
	close(ch)
	return ch
}

func (f *fakeChat) Submit(_ context.Context, id user.Identity, body []byte, hints conversation.RequestHints) (*service.Turn, error) {
	f.gotID, f.gotBody, f.gotHints = id, string(body), hints
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &service.Turn{ConversationID: "c-1", StreamID: "s-1", Frames: f.channel()}, nil
}

func (f *fakeChat) ResumeStream(_ context.Context, id user.Identity, streamID string, afterSeq uint64) (<-chan event.Frame, error) {
	f.gotID, f.gotTarget, f.gotAfterSeq = id, streamID, afterSeq
	if f.resumeErr != nil {
		return nil, f.resumeErr
	}
	return f.channel(), nil
}

func (f *fakeChat) ResumeConversation(_ context.Context, id user.Identity, conversationID string, afterSeq uint64) (<-chan event.Frame, error) {
	f.gotID, f.gotTarget, f.gotAfterSeq = id, conversationID, afterSeq
	if f.resumeErr != nil {
		return nil, f.resumeErr
	}
	return f.channel(), nil
}

func (f *fakeChat) DeleteConversation(_ context.Context, id user.Identity, conversationID string) error {
	f.gotID, f.gotTarget = id, conversationID
	return f.deleteErr
}

func newTestRouter(chat cfhttp.ChatService, checks map[string]cfhttp.HealthCheck) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Auth(config.Auth{DevUserID: "dev-user"}))
	cfhttp.MountRoutes(r, &cfhttp.Handlers{Chat: chat, Checks: checks, MaxBodyBytes: 1 << 10}, cfhttp.NewMetrics())
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func sampleFrames() []event.Frame {
	return []event.Frame{
		{Seq: 1, Type: event.TypeStart, MessageID: "a-1", StreamID: "s-1"},
		{Seq: 2, Type: event.TypeTextDelta, Delta: "Hello "},
		{Seq: 3, Type: event.TypeTextDelta, Delta: "there!"},
		{Seq: 4, Type: event.TypeDone},
	}
}

func TestSubmitChat_StreamsFrames(t *testing.T) {
	chat := &fakeChat{frames: sampleFrames()}
	rec := do(t, newTestRouter(chat, nil), http.MethodPost, "/api/v1/chat", `{"id":"x"}`, map[string]string{
		"X-Geo-City":    "Berlin",
		"X-Geo-Country": "DE",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Header().Get("X-Stream-Id") != "s-1" || rec.Header().Get("X-Conversation-Id") != "c-1" {
		t.Errorf("missing stream headers: %v", rec.Header())
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "id: 1\ndata: {\"seq\":1,\"type\":\"start\"") {
		t.Errorf("unexpected stream start: %q", body)
	}
	if !strings.Contains(body, "id: 3\ndata: {\"seq\":3,\"type\":\"text-delta\",\"delta\":\"there!\"}\n\n") {
		t.Errorf("missing text frame: %q", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("stream must end with [DONE]: %q", body)
	}

	if chat.gotBody != `{"id":"x"}` {
		t.Errorf("body = %q", chat.gotBody)
	}
	if chat.gotID.ID != "dev-user" {
		t.Errorf("identity = %+v", chat.gotID)
	}
	if chat.gotHints.City != "Berlin" || chat.gotHints.Country != "DE" || chat.gotHints.Latitude != "" {
		t.Errorf("hints = %+v", chat.gotHints)
	}
}

func TestSubmitChat_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		body     string
		wantCode int
		wantTax  domain.Code
	}{
		{"unauthorized", domain.ErrUnauthorized, `{}`, http.StatusUnauthorized, domain.CodeUnauthorized},
		{"forbidden", wrapped(domain.ErrForbidden), `{}`, http.StatusForbidden, domain.CodeForbidden},
		{"quota", domain.ErrRateLimited, `{}`, http.StatusTooManyRequests, domain.CodeRateLimited},
		{"internal", errors.New("pq: connection reset"), `{}`, http.StatusInternalServerError, domain.CodeInternal},
		{"too large", nil, `{"pad":"` + strings.Repeat("a", 2048) + `"}`, http.StatusRequestEntityTooLarge, domain.CodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestRouter(&fakeChat{submitErr: tt.err}, nil), http.MethodPost, "/api/v1/chat", tt.body, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var resp struct {
				Error string      `json:"error"`
				Code  domain.Code `json:"code"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Code != tt.wantTax {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantTax)
			}
			if strings.Contains(resp.Error, "connection reset") {
				t.Error("internal error details leaked to the client")
			}
		})
	}
}

func wrapped(err error) error { return errors.Join(errors.New("chat: load conversation"), err) }

func TestSubmitChat_RejectionCarriesIssues(t *testing.T) {
	rej := &service.Rejection{
		Summary: "malformed id",
		Issues:  []service.Issue{{Path: "/id", Keyword: "format", Message: "not a uuid"}},
	}
	rec := do(t, newTestRouter(&fakeChat{submitErr: rej}, nil), http.MethodPost, "/api/v1/chat", `{"id":"x"}`, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp struct {
		Code    domain.Code     `json:"code"`
		Summary string          `json:"summary"`
		Issues  []service.Issue `json:"issues"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != domain.CodeValidationFailed || resp.Summary != "malformed id" || len(resp.Issues) != 1 || resp.Issues[0].Path != "/id" {
		t.Errorf("unexpected rejection body %+v", resp)
	}
}

func TestResume(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		headers    map[string]string
		wantTarget string
		wantAfter  uint64
	}{
		{"by stream with Last-Event-ID", "/api/v1/streams/s-1", map[string]string{"Last-Event-ID": "2"}, "s-1", 2},
		{"by conversation with cursor", "/api/v1/chat/c-9/stream?cursor=3", nil, "c-9", 3},
		{"malformed cursor", "/api/v1/streams/s-1", map[string]string{"Last-Event-ID": "abc"}, "s-1", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{frames: sampleFrames()[2:]}
			rec := do(t, newTestRouter(chat, nil), http.MethodGet, tt.path, "", tt.headers)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if chat.gotTarget != tt.wantTarget || chat.gotAfterSeq != tt.wantAfter {
				t.Errorf("resumed %q after %d, want %q after %d", chat.gotTarget, chat.gotAfterSeq, tt.wantTarget, tt.wantAfter)
			}
			if !strings.HasPrefix(rec.Body.String(), "id: 3\n") {
				t.Errorf("unexpected body %q", rec.Body.String())
			}
		})
	}
}

func TestResume_NothingLeftIsEmptyCompletion(t *testing.T) {
	for _, path := range []string{
		"/api/v1/streams/unknown",
		"/api/v1/streams/not-a-uuid",
		"/api/v1/chat/abc/stream",
	} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, newTestRouter(&fakeChat{noTail: true}, nil), http.MethodGet, path, "", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if rec.Body.String() != "data: [DONE]\n\n" {
				t.Errorf("expected empty completion, got %q", rec.Body.String())
			}
		})
	}
}

func TestResume_Forbidden(t *testing.T) {
	rec := do(t, newTestRouter(&fakeChat{resumeErr: domain.ErrForbidden}, nil), http.MethodGet, "/api/v1/chat/c-1/stream", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestDeleteConversation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"owner", nil, http.StatusNoContent},
		{"missing", domain.ErrNotFound, http.StatusNotFound},
		{"malformed id", fmt.Errorf("get conversation c-7: %w", domain.ErrNotFound), http.StatusNotFound},
		{"not owner", domain.ErrForbidden, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{deleteErr: tt.err}
			rec := do(t, newTestRouter(chat, nil), http.MethodDelete, "/api/v1/chat/c-7", "", nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if chat.gotTarget != "c-7" {
				t.Errorf("deleted %q, want c-7", chat.gotTarget)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp db.internal:5432: connection refused") }

	tests := []struct {
		name       string
		checks     map[string]cfhttp.HealthCheck
		wantCode   int
		wantStatus string
	}{
		{"all ok", map[string]cfhttp.HealthCheck{"database": ok, "litellm": ok, "streams": ok}, http.StatusOK, "ok"},
		{"proxy down", map[string]cfhttp.HealthCheck{"database": ok, "litellm": down}, http.StatusServiceUnavailable, "degraded"},
		{"no checks", nil, http.StatusOK, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestRouter(&fakeChat{}, tt.checks), http.MethodGet, "/health", "", nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if strings.Contains(rec.Body.String(), "db.internal") {
				t.Error("check failure details leaked to the client")
			}
			var resp struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if len(resp.Checks) != len(tt.checks) {
				t.Errorf("checks = %v", resp.Checks)
			}
			if tt.checks["litellm"] != nil && tt.wantStatus == "degraded" && resp.Checks["litellm"] != "error" {
				t.Errorf("litellm check = %q", resp.Checks["litellm"])
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(&fakeChat{}, nil)
	rec := do(t, r, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected runtime metrics in exposition")
	}
}
