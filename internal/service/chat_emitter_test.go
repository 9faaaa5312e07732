package service

import (
	"context"
	"strings"
	"testing"

	"github.com/Strob0t/ChatForge/internal/domain/event"
)

func TestWordChunker(t *testing.T) {
	var c wordChunker
	var got []string
	for _, d := range []string{"Hel", "lo wor", "ld, how", " are", " you?"} {
		if out := c.push(d); out != "" {
			got = append(got, out)
		}
	}
	if rest := c.flush(); rest != "" {
		got = append(got, rest)
	}

	want := []string{"Hello ", "world, ", "how ", "are ", "you?"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %q, got %q", want, got)
	}
	if c.flush() != "" {
		t.Error("expected an empty buffer after flush")
	}
}

func TestWordChunker_MultibyteBoundary(t *testing.T) {
	var c wordChunker
	if out := c.push("na\u00efve\u00a0caf"); out != "na\u00efve\u00a0" {
		t.Errorf("expected release after the no-break space, got %q", out)
	}
	if rest := c.flush(); rest != "caf" {
		t.Errorf("expected %q buffered, got %q", "caf", rest)
	}
}

func TestEmitter_NumbersAndRecords(t *testing.T) {
	store := newMockStreamStore()
	w, _ := store.Create(context.Background(), "s1")
	out := make(chan event.Frame, 4)
	em := &emitter{ctx: context.Background(), out: out, writer: w}

	em.emit(event.Frame{Type: event.TypeStart})
	em.emit(event.Frame{Type: event.TypeTextDelta, Delta: "hi"})
	em.close(event.StatusDone)

	if f := <-out; f.Seq != 1 {
		t.Errorf("expected seq 1, got %d", f.Seq)
	}
	if f := <-out; f.Seq != 2 || f.Delta != "hi" {
		t.Errorf("unexpected frame %+v", f)
	}
	frames, status := store.snapshot("s1")
	if len(frames) != 2 || status != event.StatusDone {
		t.Errorf("expected 2 recorded frames and done, got %d %s", len(frames), status)
	}
}

func TestEmitter_StopsWhenCallerGone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	em := &emitter{ctx: ctx, out: make(chan event.Frame)}
	if em.emit(event.Frame{Type: event.TypeStart}) {
		t.Error("expected emit to report the caller is gone")
	}
}
