package roomsync

import (
	"sync"

	"github.com/skobkin/nctalk/internal/events"
)

// Subscription receives a room's rendered lines in delivery order, starting
// with the retained backlog.
type Subscription struct {
	owner *Synchronizer
	ch    chan events.RoomLine
	done  chan struct{}
	once  sync.Once
}

func (s *Subscription) Lines() <-chan events.RoomLine { return s.ch }

// Done is closed when the subscription is closed or its room is left.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Close() {
	s.owner.subsMu.Lock()
	delete(s.owner.subs, s)
	s.owner.subsMu.Unlock()
	s.once.Do(func() { close(s.done) })
}

// Subscribe replays the backlog into a new subscription and attaches it.
func (s *Synchronizer) Subscribe() *Subscription {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	sub := &Subscription{
		owner: s,
		ch:    make(chan events.RoomLine, len(s.backlog)+subscriptionBuffer),
		done:  make(chan struct{}),
	}
	for _, line := range s.backlog {
		sub.ch <- line
	}
	s.subs[sub] = struct{}{}

	return sub
}

func (s *Synchronizer) closeSubscriptions() {
	s.subsMu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[*Subscription]struct{})
	s.subsMu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
}
