package ui

import (
	"context"

	"github.com/skobkin/nctalk/internal/bus"
	"github.com/skobkin/nctalk/internal/config"
	"github.com/skobkin/nctalk/internal/logging"
	"github.com/skobkin/nctalk/internal/notifications"
	"github.com/skobkin/nctalk/internal/roomsync"
	"github.com/skobkin/nctalk/internal/talk"
)

// RoomSource is the part of the room registry the window drives.
type RoomSource interface {
	Rooms() []roomsync.Room
	Subscribe(token string) (*roomsync.Subscription, error)
	Send(ctx context.Context, token, text string) error
	Participants(ctx context.Context, token string) ([]talk.Participant, error)
	Conversations(ctx context.Context) ([]talk.Conversation, error)
	Join(ctx context.Context, conv talk.Conversation) (*roomsync.Synchronizer, error)
	Leave(token string) error
	OnFocusChanged(token string)
}

type DataDependencies struct {
	Rooms         RoomSource
	Bus           bus.MessageBus
	Logs          *logging.Buffer
	CurrentConfig func() config.AppConfig
	Credentials   config.Credentials
	Avatar        func(ctx context.Context, token string) ([]byte, error)
}

type ActionDependencies struct {
	OnLogin              func(ctx context.Context, creds config.Credentials) error
	OnRoomSelected       func(token string)
	OnStartNotifications func(sender notifications.Sender, isForeground func() bool)
	OnQuit               func()
}

type RuntimeDependencies struct {
	Data    DataDependencies
	Actions ActionDependencies
}
