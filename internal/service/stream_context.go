package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Strob0t/ChatForge/internal/port/streamstore"
)

// ErrStreamsUnavailable is returned when no resumable stream store could be set up.
var ErrStreamsUnavailable = errors.New("resumable streams unavailable")

// StreamContext lazily builds the shared resumable stream store on first
// use. The outcome of the first attempt, success or failure, is kept for the
// life of the process.
type StreamContext struct {
	open    func(ctx context.Context) (streamstore.Store, error)
	timeout time.Duration

	once  sync.Once
	store streamstore.Store
	err   error
}

// NewStreamContext creates a StreamContext. open is called at most once,
// bounded by timeout.
func NewStreamContext(open func(ctx context.Context) (streamstore.Store, error), timeout time.Duration) *StreamContext {
	return &StreamContext{open: open, timeout: timeout}
}

// Store returns the shared stream store. A nil StreamContext is unavailable.
func (c *StreamContext) Store(ctx context.Context) (streamstore.Store, error) {
	if c == nil || c.open == nil {
		return nil, ErrStreamsUnavailable
	}
	c.once.Do(func() {
		// Detached from the caller so a cancelled first request cannot poison the result.
		octx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			octx, cancel = context.WithTimeout(octx, c.timeout)
			defer cancel()
		}
		c.store, c.err = c.open(octx)
		if c.err == nil && c.store == nil {
			c.err = ErrStreamsUnavailable
		}
	})
	if c.err != nil {
		return nil, errors.Join(ErrStreamsUnavailable, c.err)
	}
	return c.store, nil
}
