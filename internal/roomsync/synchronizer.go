package roomsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/skobkin/nctalk/internal/bus"
	"github.com/skobkin/nctalk/internal/events"
	"github.com/skobkin/nctalk/internal/talk"
)

const (
	DefaultHistoryLimit    = 200
	DefaultPollLimit       = 100
	DefaultLongPollTimeout = time.Second
	DefaultFastPollTimeout = 200 * time.Millisecond
	defaultBacklogSize     = 500
	subscriptionBuffer     = 64
	pollFlightKey          = "poll"
)

// ErrEmptyMessage is returned by Send for blank text.
var ErrEmptyMessage = errors.New("message body is empty")

// Options tunes one room's polling.
type Options struct {
	UpdateInterval  time.Duration
	LongPollTimeout time.Duration
	FastPollTimeout time.Duration
	HistoryLimit    int
	PollLimit       int
	Jitter          float64
	BacklogSize     int
	Location        *time.Location
	Rand            func() float64
}

func (o Options) withDefaults() Options {
	if o.UpdateInterval <= 0 {
		o.UpdateInterval = DefaultBackgroundInterval
	}
	if o.LongPollTimeout <= 0 {
		o.LongPollTimeout = DefaultLongPollTimeout
	}
	if o.FastPollTimeout <= 0 {
		o.FastPollTimeout = DefaultFastPollTimeout
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.PollLimit <= 0 {
		o.PollLimit = DefaultPollLimit
	}
	if o.Jitter <= 0 {
		o.Jitter = DefaultJitter
	}
	if o.BacklogSize <= 0 {
		o.BacklogSize = defaultBacklogSize
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}

	return o
}

// Cursor is a room's read position. Both fields only move forward.
type Cursor struct {
	LastRead       int64
	LastCommonRead int64
}

// Room is a point-in-time snapshot of a synchronizer.
type Room struct {
	Token          string
	DisplayName    string
	Cursor         Cursor
	UpdateInterval time.Duration
	LastPollAt     time.Time
	Health         events.Health
}

// PollOptions parameterizes a single fetch.
type PollOptions struct {
	WaitForNew bool
	Limit      int
	Timeout    time.Duration
}

// Synchronizer keeps one room's message stream in sync with the server.
// PollLoop and DeliverLoop are meant to run as separate supervised tasks.
type Synchronizer struct {
	token   string
	service talk.Service
	bus     bus.Publisher
	logger  *slog.Logger
	opts    Options

	flight singleflight.Group
	queue  *deliveryQueue
	wake   chan struct{}

	mu          sync.RWMutex
	displayName string
	cursor      Cursor
	interval    time.Duration
	lastPollAt  time.Time
	health      events.Health
	initialized bool

	subsMu          sync.Mutex
	subs            map[*Subscription]struct{}
	backlog         []events.RoomLine
	lastDeliveredID int64
	lastDeliveredAt time.Time
}

func NewSynchronizer(conv talk.Conversation, service talk.Service, publisher bus.Publisher, logger *slog.Logger, opts Options) *Synchronizer {
	if logger == nil {
		logger = slog.Default().With("component", "roomsync", "room", conv.Token)
	}
	opts = opts.withDefaults()

	return &Synchronizer{
		token:       conv.Token,
		service:     service,
		bus:         publisher,
		logger:      logger,
		opts:        opts,
		queue:       newDeliveryQueue(),
		wake:        make(chan struct{}, 1),
		displayName: conv.DisplayName,
		interval:    opts.UpdateInterval,
		health:      events.HealthUpdating,
		subs:        make(map[*Subscription]struct{}),
	}
}

func (s *Synchronizer) Token() string { return s.token }

func (s *Synchronizer) Snapshot() Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Room{
		Token:          s.token,
		DisplayName:    s.displayName,
		Cursor:         s.cursor,
		UpdateInterval: s.interval,
		LastPollAt:     s.lastPollAt,
		Health:         s.health,
	}
}

func (s *Synchronizer) Cursor() Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cursor
}

func (s *Synchronizer) Health() events.Health {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.health
}

func (s *Synchronizer) UpdateInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.interval
}

func (s *Synchronizer) SetDisplayName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	s.mu.Lock()
	s.displayName = name
	s.mu.Unlock()
}

// Seed replays cached messages and restores a cached cursor. It must be
// called before the loops start.
func (s *Synchronizer) Seed(history []talk.Message, cursor Cursor) {
	s.applyCursor(talk.Cursor{LastGiven: cursor.LastRead, LastCommonRead: cursor.LastCommonRead})
	s.queue.push(true, sortedByTimestamp(history)...)
	s.logger.Debug("seeded from cache", "messages", len(history), "last_read", cursor.LastRead)
}

// Initialize backfills recent history without waiting for new messages.
func (s *Synchronizer) Initialize(ctx context.Context) error {
	n, err := s.poll(ctx, PollOptions{Limit: s.opts.HistoryLimit}, true)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	s.logger.Info("room initialized", "messages", n, "last_read", s.Cursor().LastRead)

	return nil
}

// PollOnce fetches messages newer than the cursor. Concurrent callers share
// the in-flight request instead of issuing a second one.
func (s *Synchronizer) PollOnce(ctx context.Context, opts PollOptions) (int, error) {
	return s.poll(ctx, opts, false)
}

func (s *Synchronizer) poll(ctx context.Context, opts PollOptions, history bool) (int, error) {
	v, err, shared := s.flight.Do(pollFlightKey, func() (any, error) {
		return s.fetch(ctx, opts, history)
	})
	if shared {
		s.logger.Debug("joined in-flight poll")
	}
	n, _ := v.(int)

	return n, err
}

func (s *Synchronizer) fetch(ctx context.Context, opts PollOptions, history bool) (int, error) {
	s.setHealth(events.HealthUpdating, nil)

	page, err := s.service.GetConversationMessages(ctx, talk.MessagesRequest{
		Token:      s.token,
		SinceID:    s.Cursor().LastRead,
		WaitForNew: opts.WaitForNew,
		Timeout:    opts.Timeout,
		Limit:      opts.Limit,
	})

	s.mu.Lock()
	s.lastPollAt = time.Now()
	s.mu.Unlock()

	switch {
	case errors.Is(err, talk.ErrNotModified):
		s.setHealth(events.HealthHealthy, nil)

		return 0, nil
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		if talk.IsTransient(err) {
			s.logger.Warn("poll failed, retrying next cycle", "error", err)
		} else {
			s.logger.Error("poll failed", "error", err)
		}
		s.setHealth(events.HealthDegraded, err)

		return 0, fmt.Errorf("poll room %s: %w", s.token, err)
	}

	msgs := sortedByTimestamp(page.Messages)
	s.applyCursor(page.Cursor)
	s.queue.push(history, msgs...)
	s.setHealth(events.HealthHealthy, nil)

	return len(msgs), nil
}

// applyCursor takes the server's read markers, ignoring any that would move
// the cursor backwards.
func (s *Synchronizer) applyCursor(c talk.Cursor) {
	s.mu.Lock()
	next := s.cursor
	if c.LastGiven > next.LastRead {
		next.LastRead = c.LastGiven
	}
	if c.LastCommonRead > next.LastCommonRead {
		next.LastCommonRead = c.LastCommonRead
	}
	changed := next != s.cursor
	s.cursor = next
	name := s.displayName
	s.mu.Unlock()

	if c.LastGiven != 0 && c.LastGiven < next.LastRead {
		s.logger.Debug("ignored stale cursor", "last_given", c.LastGiven, "last_read", next.LastRead)
	}
	if changed && s.bus != nil {
		s.bus.Publish(events.TopicRoomCursor, events.CursorAdvanced{
			Token:          s.token,
			DisplayName:    name,
			LastRead:       next.LastRead,
			LastCommonRead: next.LastCommonRead,
			Timestamp:      time.Now(),
		})
	}
}

func (s *Synchronizer) setHealth(h events.Health, cause error) {
	s.mu.Lock()
	prev := s.health
	s.health = h
	s.mu.Unlock()
	if prev == h {
		return
	}

	if h == events.HealthDegraded || prev == events.HealthDegraded {
		s.logger.Info("room health changed", "from", prev, "to", h)
	}
	if s.bus == nil {
		return
	}
	ev := events.HealthChanged{Token: s.token, Health: h, Timestamp: time.Now()}
	if cause != nil {
		ev.Err = cause.Error()
	}
	s.bus.Publish(events.TopicRoomHealth, ev)
}

func (s *Synchronizer) isInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.initialized
}

// PollLoop initializes the room, then long-polls on a jittered cadence until
// ctx is cancelled. Request failures never end the loop.
func (s *Synchronizer) PollLoop(ctx context.Context) error {
	for {
		if !s.isInitialized() {
			if err := s.Initialize(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}

		fast, err := s.sleep(ctx)
		if err != nil {
			return err
		}
		if !s.isInitialized() {
			continue
		}

		opts := PollOptions{WaitForNew: true, Limit: s.opts.PollLimit, Timeout: s.opts.LongPollTimeout}
		if fast {
			opts.Timeout = s.opts.FastPollTimeout
		}
		if _, err := s.PollOnce(ctx, opts); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// sleep waits one jittered interval or until a poll is triggered.
func (s *Synchronizer) sleep(ctx context.Context) (bool, error) {
	timer := time.NewTimer(s.nextDelay())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-s.wake:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

func (s *Synchronizer) nextDelay() time.Duration {
	return jitteredDelay(s.UpdateInterval(), s.opts.Jitter, s.opts.Rand)
}

// TriggerPoll asks the poll loop for an out-of-cycle fast poll.
func (s *Synchronizer) TriggerPoll() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SetUpdateInterval changes the cadence. A shorter interval polls right away.
func (s *Synchronizer) SetUpdateInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	prev := s.interval
	s.interval = d
	s.mu.Unlock()

	if d < prev {
		s.logger.Debug("update interval shortened", "from", prev, "to", d)
		s.TriggerPoll()
	}
}

// Send posts text to the room and polls right after so the author sees it.
func (s *Synchronizer) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if err := s.service.SendMessage(ctx, s.token, text); err != nil {
		return fmt.Errorf("send to room %s: %w", s.token, err)
	}
	s.TriggerPoll()

	return nil
}

func (s *Synchronizer) Participants(ctx context.Context) ([]talk.Participant, error) {
	people, err := s.service.GetConversationParticipants(ctx, s.token)
	if err != nil {
		return nil, fmt.Errorf("participants of room %s: %w", s.token, err)
	}

	return people, nil
}

// DeliverLoop drains the queue in FIFO order into subscribers.
func (s *Synchronizer) DeliverLoop(ctx context.Context) error {
	for {
		item, err := s.queue.pop(ctx)
		if err != nil {
			return err
		}
		if err := s.deliver(ctx, item); err != nil {
			return err
		}
	}
}

func (s *Synchronizer) deliver(ctx context.Context, item queuedMessage) error {
	msg := item.msg

	s.subsMu.Lock()
	lastID, lastAt := s.lastDeliveredID, s.lastDeliveredAt
	s.subsMu.Unlock()

	if msg.ID <= lastID {
		s.logger.Debug("suppressed already delivered message", "message_id", msg.ID, "last_delivered", lastID)

		return nil
	}

	at := time.Unix(msg.Timestamp, 0).In(s.opts.Location)
	if at.Before(lastAt) {
		at = lastAt
	}
	if lastAt.IsZero() || !sameDay(at, lastAt) {
		if err := s.emit(ctx, events.RoomLine{
			Token:   s.token,
			Kind:    events.LineDateSeparator,
			At:      at,
			Text:    formatDateSeparator(at),
			History: item.history,
		}); err != nil {
			return err
		}
	}

	s.subsMu.Lock()
	s.lastDeliveredID = msg.ID
	s.lastDeliveredAt = at
	s.subsMu.Unlock()

	return s.emit(ctx, events.RoomLine{
		Token:   s.token,
		Kind:    events.LineMessage,
		At:      at,
		Text:    formatMessageLine(msg, at),
		Message: msg,
		History: item.history,
	})
}

func (s *Synchronizer) emit(ctx context.Context, line events.RoomLine) error {
	s.subsMu.Lock()
	s.backlog = append(s.backlog, line)
	if over := len(s.backlog) - s.opts.BacklogSize; over > 0 {
		s.backlog = append(s.backlog[:0:0], s.backlog[over:]...)
	}
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subsMu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- line:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if line.Kind == events.LineMessage && s.bus != nil {
		s.bus.Publish(events.TopicRoomLine, line)
	}

	return nil
}

// LastDeliveredID is the id of the newest message handed to subscribers.
func (s *Synchronizer) LastDeliveredID() int64 {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	return s.lastDeliveredID
}

func sortedByTimestamp(msgs []talk.Message) []talk.Message {
	out := make([]talk.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp == out[j].Timestamp {
			return out[i].ID < out[j].ID
		}

		return out[i].Timestamp < out[j].Timestamp
	})

	return out
}
