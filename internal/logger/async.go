package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes buffered log records on shutdown.
type Closer interface {
	Close()
}

// nopCloser is returned in synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// asyncCore is the queue shared by every clone of an AsyncHandler. Clones
// produced by WithAttrs and WithGroup feed the same worker pool, so Close
// on any clone drains them all.
type asyncCore struct {
	queue   chan queuedRecord
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// queuedRecord carries the clone's own inner handler so attrs and groups
// attached after construction still reach the output.
type queuedRecord struct {
	handler slog.Handler
	rec     slog.Record
}

// AsyncHandler decouples log emission from the request path: Handle
// enqueues and a worker pool writes. When the queue is full the record is
// dropped rather than blocking the caller.
type AsyncHandler struct {
	inner slog.Handler
	core  *asyncCore
}

// NewAsyncHandler starts a worker pool of the given size reading from a
// queue with the given capacity.
func NewAsyncHandler(inner slog.Handler, queueSize, workers int) *AsyncHandler {
	core := &asyncCore{queue: make(chan queuedRecord, queueSize)}
	for range workers {
		core.wg.Add(1)
		go func() {
			defer core.wg.Done()
			for q := range core.queue {
				_ = q.handler.Handle(context.Background(), q.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, core: core}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, counting a drop when the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // hugeParam: slog.Handler interface
	select {
	case h.core.queue <- queuedRecord{handler: h.inner, rec: rec}:
	default:
		h.core.dropped.Add(1)
	}
	return nil
}

// WithAttrs clones the handler onto the same queue.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), core: h.core}
}

// WithGroup clones the handler onto the same queue.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), core: h.core}
}

// DroppedCount reports how many records were discarded on a full queue.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.core.dropped.Load()
}

// Close stops the workers after the queue drains.
func (h *AsyncHandler) Close() {
	close(h.core.queue)
	h.core.wg.Wait()
}
