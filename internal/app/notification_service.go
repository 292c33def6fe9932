package app

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/skobkin/nctalk/internal/bus"
	"github.com/skobkin/nctalk/internal/config"
	"github.com/skobkin/nctalk/internal/events"
	"github.com/skobkin/nctalk/internal/notifications"
	"github.com/skobkin/nctalk/internal/talk"
)

// NotificationService listens to bus events and emits user-facing notifications
// for new messages in rooms the user is not looking at.
type NotificationService struct {
	bus           bus.MessageBus
	currentConfig func() config.AppConfig
	isForeground  func() bool
	sender        notifications.Sender
	logger        *slog.Logger

	mu      sync.Mutex
	userID  string
	focused string
	names   map[string]string
}

func NewNotificationService(
	messageBus bus.MessageBus,
	currentConfig func() config.AppConfig,
	isForeground func() bool,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}

	return &NotificationService{
		bus:           messageBus,
		currentConfig: currentConfig,
		isForeground:  isForeground,
		sender:        sender,
		logger:        logger,
		names:         make(map[string]string),
	}
}

var notificationTopics = []string{
	events.TopicRoomLine,
	events.TopicRoomJoined,
	events.TopicRoomLeft,
	events.TopicFocus,
	events.TopicSessionUser,
}

func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	sub := s.bus.Subscribe(notificationTopics...)

	go func() {
		defer s.bus.Unsubscribe(sub, notificationTopics...)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				s.handle(raw)
			}
		}
	}()
}

func (s *NotificationService) handle(raw any) {
	switch ev := raw.(type) {
	case events.RoomLine:
		s.handleLine(ev)
	case events.RoomJoined:
		s.mu.Lock()
		s.names[ev.Token] = strings.TrimSpace(ev.DisplayName)
		s.mu.Unlock()
	case events.RoomLeft:
		s.mu.Lock()
		delete(s.names, ev.Token)
		s.mu.Unlock()
	case events.FocusChanged:
		s.mu.Lock()
		s.focused = ev.Token
		s.mu.Unlock()
	case talk.User:
		s.mu.Lock()
		s.userID = ev.ID
		s.mu.Unlock()
	}
}

func (s *NotificationService) handleLine(line events.RoomLine) {
	if line.Kind != events.LineMessage || line.History {
		return
	}
	msg := line.Message
	if strings.TrimSpace(msg.SystemMessage) != "" {
		return
	}

	s.mu.Lock()
	own := s.userID != "" && msg.ActorID == s.userID
	focused := s.focused == line.Token
	roomName := s.names[line.Token]
	s.mu.Unlock()

	if own {
		return
	}
	if !s.shouldNotify(s.notificationPrefs(), focused) {
		return
	}

	senderName := strings.TrimSpace(msg.ActorDisplayName)
	if senderName == "" {
		senderName = msg.ActorID
	}
	payload := notifications.Payload{
		RoomToken: line.Token,
		RoomName:  roomName,
		Sender:    senderName,
		Body:      msg.Text,
	}
	if payload.Empty() {
		return
	}
	s.logger.Debug("sending notification", "room", line.Token, "message_id", msg.ID)
	s.sender.Send(payload)
}

// shouldNotify suppresses notifications for the focused room while the window
// is in the foreground, unless the user asked for them anyway.
func (s *NotificationService) shouldNotify(prefs config.NotificationConfig, roomFocused bool) bool {
	if !prefs.Enabled {
		return false
	}
	if prefs.NotifyWhenFocused || !roomFocused {
		return true
	}
	if s.isForeground == nil {
		return true
	}

	return !s.isForeground()
}

func (s *NotificationService) notificationPrefs() config.NotificationConfig {
	cfg := config.Default()
	if s.currentConfig != nil {
		cfg = s.currentConfig()
	}

	return cfg.UI.Notifications
}
