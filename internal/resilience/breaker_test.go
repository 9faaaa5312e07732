package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errUpstream = errors.New("proxy unavailable")

func fail() error { return errUpstream }
func ok() error   { return nil }

func TestBreaker_ClosedAllowsCalls(t *testing.T) {
	b := NewBreaker("litellm", 3, time.Second)
	called := false
	if err := b.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker("mcp:notion", 3, time.Second)
	for range 3 {
		_ = b.Execute(fail)
	}
	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	tests := []struct {
		name  string
		trial func() error
		want  State
	}{
		{"success closes", ok, StateClosed},
		{"failure reopens", fail, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Now()
			b := NewBreaker("litellm", 2, time.Second)
			b.now = func() time.Time { return now }
			_ = b.Execute(fail)
			_ = b.Execute(fail)

			now = now.Add(2 * time.Second)
			if b.State() != StateHalfOpen {
				t.Fatalf("expected half-open after timeout, got %s", b.State())
			}
			_ = b.Execute(tt.trial)
			if got := b.State(); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("litellm", 3, time.Second)
	_ = b.Execute(fail)
	_ = b.Execute(fail)
	_ = b.Execute(ok)
	_ = b.Execute(fail)
	_ = b.Execute(fail)
	if err := b.Execute(ok); err != nil {
		t.Fatalf("expected breaker to stay closed, got %v", err)
	}
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	b := NewBreaker("litellm", 1, time.Minute)
	canceled := func() error { return fmt.Errorf("stream: %w", context.Canceled) }
	for range 5 {
		if err := b.Execute(canceled); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected the caller error back, got %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half_open", State(9): "unknown"} {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
