package persistence

import (
	"context"
	"fmt"

	"github.com/skobkin/nctalk/internal/roomsync"
	"github.com/skobkin/nctalk/internal/talk"
)

// History serves cached messages and cursors to the room registry.
type History struct {
	rooms    *RoomRepo
	messages *MessageRepo
}

func NewHistory(rooms *RoomRepo, messages *MessageRepo) *History {
	return &History{rooms: rooms, messages: messages}
}

func (h *History) LoadRoom(ctx context.Context, token string, limit int) ([]talk.Message, roomsync.Cursor, error) {
	rec, ok, err := h.rooms.Get(ctx, token)
	if err != nil {
		return nil, roomsync.Cursor{}, fmt.Errorf("load cached room %s: %w", token, err)
	}
	if !ok {
		return nil, roomsync.Cursor{}, nil
	}
	msgs, err := h.messages.ListRecentByRoom(ctx, token, limit)
	if err != nil {
		return nil, roomsync.Cursor{}, fmt.Errorf("load cached messages %s: %w", token, err)
	}

	return msgs, roomsync.Cursor{LastRead: rec.LastRead, LastCommonRead: rec.LastCommonRead}, nil
}
