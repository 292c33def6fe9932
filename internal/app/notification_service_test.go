package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/nctalk/internal/bus"
	"github.com/skobkin/nctalk/internal/config"
	"github.com/skobkin/nctalk/internal/events"
	"github.com/skobkin/nctalk/internal/notifications"
	"github.com/skobkin/nctalk/internal/talk"
)

type notificationFixture struct {
	bus    *bus.PubSubBus
	sender *collectingNotificationSender

	mu         sync.Mutex
	cfg        config.AppConfig
	foreground bool
}

func newNotificationFixture(t *testing.T) *notificationFixture {
	t.Helper()

	f := &notificationFixture{
		bus:    newTestMessageBus(t),
		sender: newCollectingNotificationSender(),
		cfg:    config.Default(),
	}
	service := NewNotificationService(
		f.bus,
		func() config.AppConfig {
			f.mu.Lock()
			defer f.mu.Unlock()

			return f.cfg
		},
		func() bool {
			f.mu.Lock()
			defer f.mu.Unlock()

			return f.foreground
		},
		f.sender,
		nil,
	)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	service.Start(ctx)

	f.bus.Publish(events.TopicSessionUser, talk.User{ID: "me", DisplayName: "Me"})
	f.bus.Publish(events.TopicRoomJoined, events.RoomJoined{Token: "abc", DisplayName: "General"})

	return f
}

func (f *notificationFixture) setForeground(v bool) {
	f.mu.Lock()
	f.foreground = v
	f.mu.Unlock()
}

func (f *notificationFixture) line(token, actorID, actorName, text string) events.RoomLine {
	return events.RoomLine{
		Token: token,
		Kind:  events.LineMessage,
		At:    time.Now(),
		Message: talk.Message{
			ID:               1,
			Token:            token,
			ActorID:          actorID,
			ActorDisplayName: actorName,
			Text:             text,
		},
	}
}

func TestNotificationServiceIncomingMessage(t *testing.T) {
	f := newNotificationFixture(t)

	f.bus.Publish(events.TopicRoomLine, f.line("abc", "alice", "Alice", "Hello there"))

	got := f.sender.waitForCount(t, 1)
	if got[0].Title() != "#General" {
		t.Fatalf("expected title #General, got %q", got[0].Title())
	}
	if got[0].Content() != "Alice: Hello there" {
		t.Fatalf("expected content %q, got %q", "Alice: Hello there", got[0].Content())
	}
}

func TestNotificationServiceFallsBackToTokenAndActorID(t *testing.T) {
	f := newNotificationFixture(t)

	f.bus.Publish(events.TopicRoomLine, f.line("zzz", "bob", "", "  "))

	got := f.sender.waitForCount(t, 1)
	if got[0].Title() != "#zzz" {
		t.Fatalf("expected token title, got %q", got[0].Title())
	}
	if got[0].Content() != "bob: (empty)" {
		t.Fatalf("unexpected content %q", got[0].Content())
	}
}

func TestNotificationServiceSkipsOwnHistoryAndSystemLines(t *testing.T) {
	f := newNotificationFixture(t)

	f.bus.Publish(events.TopicRoomLine, f.line("abc", "me", "Me", "my own message"))

	history := f.line("abc", "alice", "Alice", "old")
	history.History = true
	f.bus.Publish(events.TopicRoomLine, history)

	system := f.line("abc", "alice", "Alice", "Alice joined")
	system.Message.SystemMessage = "user_added"
	f.bus.Publish(events.TopicRoomLine, system)

	f.bus.Publish(events.TopicRoomLine, events.RoomLine{Token: "abc", Kind: events.LineDateSeparator, Text: "Monday"})

	f.sender.assertCount(t, 0)
}

func TestNotificationServiceFocusedRoomInForeground(t *testing.T) {
	f := newNotificationFixture(t)
	f.setForeground(true)
	f.bus.Publish(events.TopicFocus, events.FocusChanged{Token: "abc"})

	f.bus.Publish(events.TopicRoomLine, f.line("abc", "alice", "Alice", "seen already"))
	f.sender.assertCount(t, 0)

	f.bus.Publish(events.TopicRoomJoined, events.RoomJoined{Token: "other", DisplayName: "Random"})
	f.bus.Publish(events.TopicRoomLine, f.line("other", "alice", "Alice", "elsewhere"))
	got := f.sender.waitForCount(t, 1)
	if got[0].Title() != "#Random" {
		t.Fatalf("expected notification for unfocused room, got %q", got[0].Title())
	}

	f.setForeground(false)
	f.bus.Publish(events.TopicRoomLine, f.line("abc", "alice", "Alice", "window hidden"))
	f.sender.waitForCount(t, 2)
}

func TestNotificationServiceRespectsPreferences(t *testing.T) {
	f := newNotificationFixture(t)
	f.setForeground(true)
	f.bus.Publish(events.TopicFocus, events.FocusChanged{Token: "abc"})

	f.mu.Lock()
	f.cfg.UI.Notifications.NotifyWhenFocused = true
	f.mu.Unlock()
	f.bus.Publish(events.TopicRoomLine, f.line("abc", "alice", "Alice", "focused but wanted"))
	f.sender.waitForCount(t, 1)

	f.mu.Lock()
	f.cfg.UI.Notifications.Enabled = false
	f.mu.Unlock()
	f.bus.Publish(events.TopicRoomLine, f.line("other", "alice", "Alice", "disabled"))
	f.sender.assertCount(t, 1)
}

func newTestMessageBus(t *testing.T) *bus.PubSubBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	messageBus := bus.New(logger)
	t.Cleanup(func() {
		messageBus.Close()
	})

	return messageBus
}

type collectingNotificationSender struct {
	mu            sync.Mutex
	notifications []notifications.Payload
	changes       chan struct{}
}

func newCollectingNotificationSender() *collectingNotificationSender {
	return &collectingNotificationSender{
		changes: make(chan struct{}, 1),
	}
}

func (s *collectingNotificationSender) Send(notification notifications.Payload) {
	s.mu.Lock()
	s.notifications = append(s.notifications, notification)
	s.mu.Unlock()

	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *collectingNotificationSender) snapshot() []notifications.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]notifications.Payload, len(s.notifications))
	copy(out, s.notifications)

	return out
}

func (s *collectingNotificationSender) waitForCount(t *testing.T, expected int) []notifications.Payload {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		current := s.snapshot()
		if len(current) >= expected {
			return current
		}
		select {
		case <-s.changes:
		case <-time.After(10 * time.Millisecond):
		}
	}

	t.Fatalf("timed out waiting for %d notifications", expected)

	return nil
}

func (s *collectingNotificationSender) assertCount(t *testing.T, expected int) {
	t.Helper()

	time.Sleep(100 * time.Millisecond)
	current := s.snapshot()
	if len(current) != expected {
		t.Fatalf("expected %d notifications, got %d", expected, len(current))
	}
}
