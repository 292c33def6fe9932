package tasks

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// State is a task lifecycle stage: pending → running → {completed, failed, cancelled}.
type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Finished reports whether s is terminal.
func (s State) Finished() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Func is a unit of supervised work. It must return when ctx is done.
type Func func(ctx context.Context) error

// Handle identifies one spawned task.
type Handle struct {
	id     uuid.UUID
	name   string
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    State
	err      error
	reported bool
}

func newHandle(name string, cancel context.CancelFunc) *Handle {
	return &Handle{
		id:     uuid.New(),
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StatePending,
	}
}

func (h *Handle) ID() uuid.UUID { return h.id }

func (h *Handle) Name() string { return h.name }

// Done is closed once the task reached a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

// Err returns the failure of a failed task, nil otherwise.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.err
}

func (h *Handle) markRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StatePending {
		return false
	}
	h.state = StateRunning

	return true
}

// finish moves the handle to its terminal state. Cancellation wins over
// errors that merely echo the cancelled context.
func (h *Handle) finish(ctx context.Context, err error) State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Finished() {
		return h.state
	}

	ctxErr := ctx.Err()
	switch {
	case ctxErr != nil && (err == nil || errors.Is(err, ctxErr)):
		h.state = StateCancelled
	case err != nil:
		h.state = StateFailed
		h.err = err
	default:
		h.state = StateCompleted
	}
	close(h.done)

	return h.state
}

// claimReport returns true exactly once for a failed handle.
func (h *Handle) claimReport() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateFailed || h.reported {
		return false
	}
	h.reported = true

	return true
}
