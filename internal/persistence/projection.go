package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skobkin/nctalk/internal/bus"
	"github.com/skobkin/nctalk/internal/events"
)

// WriteQueue serializes persistence writes from async bus events.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

// StartProjection mirrors room events from the bus into the cache until ctx
// is done or the bus is closed.
func StartProjection(ctx context.Context, b bus.MessageBus, queue WriteQueue, rooms *RoomRepo, messages *MessageRepo, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default().With("component", "persistence.projection")
	}
	topics := []string{events.TopicRoomJoined, events.TopicRoomCursor, events.TopicRoomLine}
	sub := b.Subscribe(topics...)

	go func() {
		defer b.Unsubscribe(sub, topics...)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				project(raw, queue, rooms, messages, logger)
			}
		}
	}()
}

func project(raw any, queue WriteQueue, rooms *RoomRepo, messages *MessageRepo, logger *slog.Logger) {
	switch ev := raw.(type) {
	case events.RoomJoined:
		rec := RoomRecord{Token: ev.Token, DisplayName: ev.DisplayName}
		queue.Enqueue("upsert_room", func(writeCtx context.Context) error {
			return rooms.Upsert(writeCtx, rec)
		})
	case events.CursorAdvanced:
		// last_read follows delivered messages only, so a poll that never
		// reached subscribers is fetched again after a restart.
		rec := RoomRecord{
			Token:          ev.Token,
			DisplayName:    ev.DisplayName,
			LastCommonRead: ev.LastCommonRead,
			UpdatedAt:      ev.Timestamp,
		}
		queue.Enqueue("advance_common_read", func(writeCtx context.Context) error {
			return rooms.Upsert(writeCtx, rec)
		})
	case events.RoomLine:
		if ev.Kind != events.LineMessage {
			return
		}
		msg := ev.Message
		if msg.Token == "" {
			msg.Token = ev.Token
		}
		queue.Enqueue("insert_message", func(writeCtx context.Context) error {
			if _, err := messages.Insert(writeCtx, msg); err != nil {
				return err
			}

			return rooms.Upsert(writeCtx, RoomRecord{Token: msg.Token, LastRead: msg.ID})
		})
	default:
		logger.Debug("ignored bus payload", "payload_type", fmt.Sprintf("%T", raw))
	}
}
