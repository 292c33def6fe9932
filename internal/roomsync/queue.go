package roomsync

import (
	"context"
	"sync"

	"github.com/skobkin/nctalk/internal/talk"
)

type queuedMessage struct {
	msg     talk.Message
	history bool
}

// deliveryQueue is an unbounded FIFO so that pushing from the poll path
// never blocks on a slow consumer.
type deliveryQueue struct {
	mu     sync.Mutex
	items  []queuedMessage
	signal chan struct{}
}

func newDeliveryQueue() *deliveryQueue {
	return &deliveryQueue{signal: make(chan struct{}, 1)}
}

func (q *deliveryQueue) push(history bool, msgs ...talk.Message) {
	if len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	for _, m := range msgs {
		q.items = append(q.items, queuedMessage{msg: m, history: history})
	}
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *deliveryQueue) pop(ctx context.Context) (queuedMessage, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = queuedMessage{}
			q.items = q.items[1:]
			q.mu.Unlock()

			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return queuedMessage{}, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *deliveryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
