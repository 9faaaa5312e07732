package service

import (
	"context"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Strob0t/ChatForge/internal/domain/event"
	"github.com/Strob0t/ChatForge/internal/port/streamstore"
)

// emitter numbers the frames of one turn and hands them to the caller and,
// when available, to the resumable stream writer.
type emitter struct {
	ctx    context.Context // caller context; emission stops once it ends
	out    chan<- event.Frame
	writer streamstore.Writer
	seq    uint64
}

// emit reports false once the caller is gone.
func (e *emitter) emit(f event.Frame) bool {
	e.seq++
	f.Seq = e.seq
	if e.writer != nil {
		if err := e.writer.Append(context.WithoutCancel(e.ctx), f); err != nil {
			slog.WarnContext(e.ctx, "chat: stream append failed, continuing without resume", "seq", f.Seq, "error", err)
			e.writer = nil
		}
	}
	select {
	case e.out <- f:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// close records the terminal status of the resumable stream.
func (e *emitter) close(status event.Status) {
	if e.writer == nil {
		return
	}
	if err := e.writer.Close(context.WithoutCancel(e.ctx), status); err != nil {
		slog.WarnContext(e.ctx, "chat: stream close failed", "status", status, "error", err)
	}
}

// wordChunker buffers text deltas and releases them at word boundaries.
type wordChunker struct {
	buf strings.Builder
}

// push adds delta and returns the buffered text up to and including the last
// whitespace, or "" when no boundary is buffered yet.
func (c *wordChunker) push(delta string) string {
	c.buf.WriteString(delta)
	s := c.buf.String()
	i := strings.LastIndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return ""
	}
	_, size := utf8.DecodeRuneInString(s[i:])
	ready, rest := s[:i+size], s[i+size:]
	c.buf.Reset()
	c.buf.WriteString(rest)
	return ready
}

// flush returns whatever is still buffered.
func (c *wordChunker) flush() string {
	s := c.buf.String()
	c.buf.Reset()
	return s
}
