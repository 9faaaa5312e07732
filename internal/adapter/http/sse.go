package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Strob0t/ChatForge/internal/domain/event"
)

// sseWriter writes turn frames as server-sent events. Each frame carries
// its seq as the event id so reconnecting clients can send Last-Event-ID.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	f, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: f}
}

func (s *sseWriter) frame(f event.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "id: %d\ndata: %s\n\n", f.Seq, data); err != nil {
		return err
	}
	s.flush()
	return nil
}

// done writes the completion marker that ends every stream.
func (s *sseWriter) done() {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", event.Completion); err != nil {
		return
	}
	s.flush()
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// pipe relays frames until the channel closes or the client goes away, then
// writes the completion marker. A nil channel yields an empty completion.
func pipe(ctx context.Context, w http.ResponseWriter, frames <-chan event.Frame) {
	sse := newSSEWriter(w)
	if frames != nil {
	loop:
		for {
			select {
			case f, ok := <-frames:
				if !ok {
					break loop
				}
				if err := sse.frame(f); err != nil {
					slog.DebugContext(ctx, "http: client stream closed", "error", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
	sse.done()
}
