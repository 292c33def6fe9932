package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/nctalk/internal/bus"
	"github.com/skobkin/nctalk/internal/events"
)

const DefaultCheckInterval = time.Second

// Supervisor owns every concurrently running unit of work. Finished tasks are
// collected by a periodic self-check that reports unhandled failures.
type Supervisor struct {
	logger        *slog.Logger
	publisher     bus.Publisher
	checkInterval time.Duration

	mu      sync.Mutex
	handles map[uuid.UUID]*Handle
	closed  bool

	startOnce sync.Once
}

func NewSupervisor(logger *slog.Logger, publisher bus.Publisher, checkInterval time.Duration) *Supervisor {
	if logger == nil {
		logger = slog.Default().With("component", "tasks")
	}
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}

	return &Supervisor{
		logger:        logger,
		publisher:     publisher,
		checkInterval: checkInterval,
		handles:       make(map[uuid.UUID]*Handle),
	}
}

// Start launches the self-check loop. It stops with ctx.
func (s *Supervisor) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.run(ctx)
	})
}

func (s *Supervisor) run(ctx context.Context) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.check()

			return
		case <-ticker.C:
			s.check()
		}
	}
}

// Spawn runs fn in its own goroutine under a child of ctx and tracks it.
func (s *Supervisor) Spawn(ctx context.Context, name string, fn Func) *Handle {
	taskCtx, cancel := context.WithCancel(ctx)
	h := newHandle(name, cancel)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		h.finish(taskCtx, nil)
		s.logger.Debug("spawn after shutdown", "task", name)

		return h
	}
	s.handles[h.id] = h
	s.mu.Unlock()

	s.logger.Debug("task spawned", "task", name, "task_id", h.id)
	go s.execute(taskCtx, h, fn)

	return h
}

func (s *Supervisor) execute(ctx context.Context, h *Handle, fn Func) {
	if !h.markRunning() {
		return
	}
	state := h.finish(ctx, runProtected(ctx, fn))
	s.logger.Debug("task finished", "task", h.name, "task_id", h.id, "state", state.String())

	if state != StateFailed {
		return
	}
	// Handles already dropped from tracking are never seen by the
	// self-check, so their failure is reported here.
	if !s.tracked(h.id) {
		s.report(h)
	}
}

func runProtected(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	return fn(ctx)
}

// Cancel requests cancellation of h and stops tracking it. Safe to call
// repeatedly and on finished handles.
func (s *Supervisor) Cancel(h *Handle) {
	if h == nil {
		return
	}

	s.mu.Lock()
	_, wasTracked := s.handles[h.id]
	delete(s.handles, h.id)
	s.mu.Unlock()

	if !h.State().Finished() {
		h.cancel()
	} else if wasTracked {
		s.report(h)
	}
	if wasTracked {
		s.logger.Debug("task cancelled", "task", h.name, "task_id", h.id)
	}
}

// Shutdown cancels every tracked task and rejects new spawns.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.closed = true
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		s.Cancel(h)
	}
	s.logger.Info("supervisor shut down", "cancelled", len(handles))
}

// Tracked returns the number of tasks currently supervised.
func (s *Supervisor) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.handles)
}

func (s *Supervisor) tracked(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[id]

	return ok
}

// check removes finished handles, reporting failures.
func (s *Supervisor) check() {
	s.mu.Lock()
	finished := make([]*Handle, 0)
	for id, h := range s.handles {
		if h.State().Finished() {
			finished = append(finished, h)
			delete(s.handles, id)
		}
	}
	s.mu.Unlock()

	for _, h := range finished {
		s.report(h)
	}
}

func (s *Supervisor) report(h *Handle) {
	if !h.claimReport() {
		return
	}
	err := h.Err()
	s.logger.Error("task failed", "task", h.name, "task_id", h.id, "error", err)
	if s.publisher != nil {
		s.publisher.Publish(events.TopicTaskFailed, events.TaskFailed{
			TaskID: h.id.String(),
			Name:   h.name,
			Err:    err.Error(),
			At:     time.Now(),
		})
	}
}
