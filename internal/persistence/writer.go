package persistence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultWriterCapacity = 256
	writerMaxAttempts     = 3
	writerRetryStep       = 300 * time.Millisecond
	writerDrainTimeout    = 2 * time.Second
)

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue serializes cache writes on one goroutine and retries failed
// ones with a linear backoff.
type WriterQueue struct {
	logger *slog.Logger
	queue  chan writeCmd

	wg        sync.WaitGroup
	startOnce sync.Once
	stopped   chan struct{}
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if logger == nil {
		logger = slog.Default().With("component", "persistence.writer")
	}
	if capacity <= 0 {
		capacity = defaultWriterCapacity
	}

	return &WriterQueue{
		logger:  logger,
		queue:   make(chan writeCmd, capacity),
		stopped: make(chan struct{}),
	}
}

// Enqueue schedules fn. It never blocks the caller; overflow is handed to a
// helper goroutine that waits for room or for the queue to stop.
func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	cmd := writeCmd{name: name, fn: fn}
	select {
	case w.queue <- cmd:
	default:
		w.logger.Debug("writer queue full, deferring", "cmd", name)
		go func() {
			select {
			case w.queue <- cmd:
			case <-w.stopped:
				w.logger.Warn("dropped write after shutdown", "cmd", name)
			}
		}()
	}
}

// Start runs the writer until ctx is done, then drains what is already queued
// with a short grace period.
func (w *WriterQueue) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer close(w.stopped)
			for {
				select {
				case <-ctx.Done():
					w.drain()

					return
				case cmd := <-w.queue:
					w.runWithRetry(ctx, cmd)
				}
			}
		}()
	})
}

// Wait blocks until the writer goroutine has exited.
func (w *WriterQueue) Wait() {
	w.wg.Wait()
}

func (w *WriterQueue) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), writerDrainTimeout)
	defer cancel()

	for {
		select {
		case cmd := <-w.queue:
			w.runWithRetry(ctx, cmd)
		default:
			return
		}
		if ctx.Err() != nil {
			w.logger.Warn("writer drain timed out", "pending", len(w.queue))

			return
		}
	}
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	for attempt := 1; attempt <= writerMaxAttempts; attempt++ {
		err := cmd.fn(ctx)
		if err == nil {
			return
		}
		w.logger.Error("db write failed", "cmd", cmd.name, "attempt", attempt, "error", err)
		if attempt == writerMaxAttempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * writerRetryStep):
		}
	}
}
