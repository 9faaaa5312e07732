package logger

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/Strob0t/ChatForge/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc"}
	l, closer := New(cfg)
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc", Async: true}
	l, closer := New(cfg)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	l.Info("async record")
	closer.Close()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()

	// Empty context returns empty string
	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}

	// Set and retrieve
	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}
}

func TestContextHandlerAddsAttrs(t *testing.T) {
	var out lockedBuffer
	log := slog.New(&contextHandler{inner: slog.NewJSONHandler(&out, nil)})

	ctx := WithChatID(WithRequestID(context.Background(), "req-9"), "chat-1")
	log.InfoContext(ctx, "chat: turn started")
	log.Info("no request scope")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), out.String())
	}
	if !strings.Contains(lines[0], `"request_id":"req-9"`) || !strings.Contains(lines[0], `"chat_id":"chat-1"`) {
		t.Errorf("scoped record missing ids: %s", lines[0])
	}
	if strings.Contains(lines[1], "request_id") {
		t.Errorf("unscoped record has a request id: %s", lines[1])
	}
}

func TestContextHandlerBeforeAsync(t *testing.T) {
	var out lockedBuffer
	ah := NewAsyncHandler(slog.NewJSONHandler(&out, nil), 8, 1)
	log := slog.New(&contextHandler{inner: ah}).With("service", "chatforge")

	log.InfoContext(WithRequestID(context.Background(), "req-async"), "http request")
	ah.Close()

	line := out.String()
	if !strings.Contains(line, `"request_id":"req-async"`) || !strings.Contains(line, `"service":"chatforge"`) {
		t.Errorf("unexpected async output: %s", line)
	}
}
