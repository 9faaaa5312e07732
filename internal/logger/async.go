package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// asyncEntry is a queued record together with the handler that must write
// it, so attributes added through With survive the hand-off.
type asyncEntry struct {
	handler slog.Handler
	ctx     context.Context
	rec     slog.Record
}

// asyncPipe is the queue and worker pool shared by an AsyncHandler and all
// handlers derived from it.
type asyncPipe struct {
	mu      sync.RWMutex
	closed  bool
	ch      chan asyncEntry
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
}

// AsyncHandler wraps an slog.Handler with a bounded queue and a worker pool.
// Records are dropped, and counted, when the queue is full.
type AsyncHandler struct {
	inner slog.Handler
	pipe  *asyncPipe
}

// NewAsyncHandler creates an AsyncHandler with the given queue capacity and worker count.
func NewAsyncHandler(inner slog.Handler, queueSize, workers int) *AsyncHandler {
	p := &asyncPipe{ch: make(chan asyncEntry, queueSize)}
	for range workers {
		p.wg.Add(1)
		go p.drain()
	}
	return &AsyncHandler{inner: inner, pipe: p}
}

func (p *asyncPipe) drain() {
	defer p.wg.Done()
	for e := range p.ch {
		_ = e.handler.Handle(e.ctx, e.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues a copy of the record. After Close, records are written
// synchronously.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	p := h.pipe
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return h.inner.Handle(ctx, rec)
	}
	select {
	case p.ch <- asyncEntry{handler: h.inner, ctx: context.WithoutCancel(ctx), rec: rec.Clone()}:
	default:
		p.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the queue whose records carry attrs.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), pipe: h.pipe}
}

// WithGroup returns a handler sharing the queue whose records are grouped under name.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), pipe: h.pipe}
}

// DroppedCount returns the number of records dropped on a full queue.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.pipe.dropped.Load()
}

// Close stops accepting queued records and waits for the workers to drain.
// It is safe to call more than once.
func (h *AsyncHandler) Close() {
	p := h.pipe
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.ch)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
