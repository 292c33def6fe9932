package roomsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/nctalk/internal/bus"
	"github.com/skobkin/nctalk/internal/events"
	"github.com/skobkin/nctalk/internal/talk"
	"github.com/skobkin/nctalk/internal/tasks"
)

const (
	DefaultFocusedInterval    = 5 * time.Second
	DefaultBackgroundInterval = 30 * time.Second
)

var (
	ErrNotStarted  = errors.New("room registry is not started")
	ErrUnknownRoom = errors.New("unknown room")
)

// HistoryStore restores cached messages and cursors for a room.
type HistoryStore interface {
	LoadRoom(ctx context.Context, token string, limit int) ([]talk.Message, Cursor, error)
}

type RegistryConfig struct {
	FocusedInterval    time.Duration
	BackgroundInterval time.Duration
	// CachedHistory caps how many cached messages are replayed per room.
	CachedHistory int
	Sync          Options
}

type roomEntry struct {
	sync    *Synchronizer
	poll    *tasks.Handle
	deliver *tasks.Handle
}

// Registry owns one Synchronizer per joined room and keeps their update
// intervals in line with the focused room.
type Registry struct {
	cfg        RegistryConfig
	supervisor *tasks.Supervisor
	bus        bus.Publisher
	history    HistoryStore
	logger     *slog.Logger

	mu       sync.RWMutex
	lifetime context.Context // from Start; bounds every room task
	service  talk.Service
	user     talk.User
	rooms    map[string]*roomEntry
	order    []string
	focused  string
}

func NewRegistry(cfg RegistryConfig, supervisor *tasks.Supervisor, publisher bus.Publisher, history HistoryStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default().With("component", "roomsync")
	}
	if cfg.FocusedInterval <= 0 {
		cfg.FocusedInterval = DefaultFocusedInterval
	}
	if cfg.BackgroundInterval <= 0 {
		cfg.BackgroundInterval = DefaultBackgroundInterval
	}
	if cfg.CachedHistory <= 0 {
		cfg.CachedHistory = DefaultHistoryLimit
	}

	return &Registry{
		cfg:        cfg,
		supervisor: supervisor,
		bus:        publisher,
		history:    history,
		logger:     logger,
		rooms:      make(map[string]*roomEntry),
	}
}

// Start confirms the session, then joins every conversation the account is
// a member of. Room tasks live until ctx is cancelled or the room is left.
func (r *Registry) Start(ctx context.Context, service talk.Service) error {
	user, err := service.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("confirm session: %w", err)
	}

	r.mu.Lock()
	r.lifetime = ctx
	r.service = service
	r.user = user
	r.mu.Unlock()
	r.logger.Info("session confirmed", "user", user.ID)
	r.publish(events.TopicSessionUser, user)

	convs, err := service.GetConversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	return r.InitializeFrom(ctx, convs)
}

// InitializeFrom joins each conversation. Failures of individual rooms do
// not prevent the others from joining.
func (r *Registry) InitializeFrom(ctx context.Context, convs []talk.Conversation) error {
	var errs []error
	for _, conv := range convs {
		if _, err := r.Join(ctx, conv); err != nil {
			errs = append(errs, fmt.Errorf("join %q: %w", conv.Token, err))
		}
	}
	r.logger.Info("rooms initialized", "requested", len(convs), "joined", len(r.Rooms()))

	return errors.Join(errs...)
}

// Join registers conv and spawns its poll and deliver tasks. ctx only bounds
// the cache lookup; the tasks run until the room is left or the context
// given to Start is done. Joining a room that is already registered returns
// the existing synchronizer.
func (r *Registry) Join(ctx context.Context, conv talk.Conversation) (*Synchronizer, error) {
	conv.Token = strings.TrimSpace(conv.Token)
	if conv.Token == "" {
		return nil, &talk.ValidationError{Kind: "conversation", Field: "token"}
	}
	if conv.DisplayName == "" {
		conv.DisplayName = conv.Token
	}

	r.mu.RLock()
	service := r.service
	lifetime := r.lifetime
	cfg := r.cfg
	existing, ok := r.rooms[conv.Token]
	r.mu.RUnlock()
	if service == nil {
		return nil, ErrNotStarted
	}
	if ok {
		existing.sync.SetDisplayName(conv.DisplayName)

		return existing.sync, nil
	}

	opts := cfg.Sync
	opts.UpdateInterval = cfg.BackgroundInterval
	syncer := NewSynchronizer(conv, service, r.bus, r.logger.With("room", conv.Token), opts)
	if r.history != nil {
		msgs, cursor, err := r.history.LoadRoom(ctx, conv.Token, cfg.CachedHistory)
		if err != nil {
			r.logger.Warn("cached history unavailable", "room", conv.Token, "error", err)
		} else {
			syncer.Seed(msgs, cursor)
		}
	}

	r.mu.Lock()
	if existing, ok := r.rooms[conv.Token]; ok {
		r.mu.Unlock()

		return existing.sync, nil
	}
	if r.focused == conv.Token {
		syncer.SetUpdateInterval(r.cfg.FocusedInterval)
	}
	entry := &roomEntry{sync: syncer}
	entry.deliver = r.supervisor.Spawn(lifetime, "deliver:"+conv.Token, syncer.DeliverLoop)
	entry.poll = r.supervisor.Spawn(lifetime, "poll:"+conv.Token, syncer.PollLoop)
	r.rooms[conv.Token] = entry
	r.order = append(r.order, conv.Token)
	r.mu.Unlock()

	r.logger.Info("room joined", "room", conv.Token, "name", conv.DisplayName)
	r.publish(events.TopicRoomJoined, events.RoomJoined{Token: conv.Token, DisplayName: conv.DisplayName})

	return syncer, nil
}

// Leave cancels the room's tasks and forgets it.
func (r *Registry) Leave(token string) error {
	r.mu.Lock()
	entry, ok := r.rooms[token]
	if !ok {
		r.mu.Unlock()

		return fmt.Errorf("leave %q: %w", token, ErrUnknownRoom)
	}
	delete(r.rooms, token)
	for i, t := range r.order {
		if t == token {
			r.order = append(r.order[:i], r.order[i+1:]...)

			break
		}
	}
	if r.focused == token {
		r.focused = ""
	}
	r.mu.Unlock()

	r.supervisor.Cancel(entry.poll)
	r.supervisor.Cancel(entry.deliver)
	entry.sync.closeSubscriptions()

	r.logger.Info("room left", "room", token)
	r.publish(events.TopicRoomLeft, events.RoomLeft{Token: token})

	return nil
}

// Close leaves every room.
func (r *Registry) Close() {
	for _, room := range r.Rooms() {
		_ = r.Leave(room.Token)
	}
}

// OnFocusChanged gives the focused room the short interval and every other
// room the long one. An empty token means no room is visible.
func (r *Registry) OnFocusChanged(token string) {
	r.mu.Lock()
	r.focused = token
	r.mu.Unlock()

	r.applyIntervals()
	r.logger.Debug("focus changed", "room", token)
	r.publish(events.TopicFocus, events.FocusChanged{Token: token})
}

// SetIntervals replaces the focused and background intervals of every room.
// Non-positive values keep the current setting.
func (r *Registry) SetIntervals(focused, background time.Duration) {
	r.mu.Lock()
	if focused > 0 {
		r.cfg.FocusedInterval = focused
	}
	if background > 0 {
		r.cfg.BackgroundInterval = background
	}
	r.mu.Unlock()

	r.applyIntervals()
}

func (r *Registry) applyIntervals() {
	r.mu.RLock()
	focused := r.focused
	focusedInterval := r.cfg.FocusedInterval
	backgroundInterval := r.cfg.BackgroundInterval
	entries := make(map[string]*Synchronizer, len(r.rooms))
	for t, e := range r.rooms {
		entries[t] = e.sync
	}
	r.mu.RUnlock()

	for t, s := range entries {
		if t == focused {
			s.SetUpdateInterval(focusedInterval)
		} else {
			s.SetUpdateInterval(backgroundInterval)
		}
	}
}

func (r *Registry) Focused() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.focused
}

func (r *Registry) CurrentUser() talk.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.user
}

func (r *Registry) Synchronizer(token string) (*Synchronizer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.rooms[token]
	if !ok {
		return nil, false
	}

	return entry.sync, true
}

func (r *Registry) Room(token string) (Room, bool) {
	s, ok := r.Synchronizer(token)
	if !ok {
		return Room{}, false
	}

	return s.Snapshot(), true
}

// Health reports the sync state of a joined room.
func (r *Registry) Health(token string) (events.Health, bool) {
	s, ok := r.Synchronizer(token)
	if !ok {
		return "", false
	}

	return s.Health(), true
}

// Rooms returns snapshots in join order.
func (r *Registry) Rooms() []Room {
	r.mu.RLock()
	syncers := make([]*Synchronizer, 0, len(r.order))
	for _, t := range r.order {
		syncers = append(syncers, r.rooms[t].sync)
	}
	r.mu.RUnlock()

	out := make([]Room, 0, len(syncers))
	for _, s := range syncers {
		out = append(out, s.Snapshot())
	}

	return out
}

func (r *Registry) Subscribe(token string) (*Subscription, error) {
	s, ok := r.Synchronizer(token)
	if !ok {
		return nil, fmt.Errorf("subscribe %q: %w", token, ErrUnknownRoom)
	}

	return s.Subscribe(), nil
}

func (r *Registry) Send(ctx context.Context, token, text string) error {
	s, ok := r.Synchronizer(token)
	if !ok {
		return fmt.Errorf("send to %q: %w", token, ErrUnknownRoom)
	}

	return s.Send(ctx, text)
}

func (r *Registry) Participants(ctx context.Context, token string) ([]talk.Participant, error) {
	s, ok := r.Synchronizer(token)
	if !ok {
		return nil, fmt.Errorf("participants of %q: %w", token, ErrUnknownRoom)
	}

	return s.Participants(ctx)
}

// Conversations lists the account's conversations, including ones that are
// not joined locally.
func (r *Registry) Conversations(ctx context.Context) ([]talk.Conversation, error) {
	r.mu.RLock()
	service := r.service
	r.mu.RUnlock()
	if service == nil {
		return nil, ErrNotStarted
	}

	return service.GetConversations(ctx)
}

func (r *Registry) publish(topic string, msg any) {
	if r.bus != nil {
		r.bus.Publish(topic, msg)
	}
}
