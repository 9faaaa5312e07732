// Package streamstore defines the resumable event stream backing port.
package streamstore

import (
	"context"

	"github.com/Strob0t/ChatForge/internal/domain/event"
)

// Writer appends the frames of one stream session.
type Writer interface {
	Append(ctx context.Context, f event.Frame) error
	// Close records the terminal status; resumers then receive no tail.
	Close(ctx context.Context, status event.Status) error
}

// Store keeps turn frames so a disconnected client can resume.
type Store interface {
	Create(ctx context.Context, streamID string) (Writer, error)
	// Resume returns the frames after seq afterSeq of an in-flight stream.
	// ok is false when the stream is unknown or already finished. The channel
	// is closed after the terminal frame or when ctx ends.
	Resume(ctx context.Context, streamID string, afterSeq uint64) (frames <-chan event.Frame, ok bool, err error)
}
