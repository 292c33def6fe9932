package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/skobkin/nctalk/internal/bus"
	"github.com/skobkin/nctalk/internal/events"
	"github.com/skobkin/nctalk/internal/roomsync"
)

func TestProjection_PersistsRoomEventsAndServesHistory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := openTestDB(t)
	rooms := NewRoomRepo(db)
	messages := NewMessageRepo(db)
	queue := NewWriterQueue(nil, 8)
	queue.Start(ctx)

	b := bus.New(nil)
	defer b.Close()
	StartProjection(ctx, b, queue, rooms, messages, nil)

	b.Publish(events.TopicRoomJoined, events.RoomJoined{Token: "abc", DisplayName: "General"})
	for _, id := range []int64{1, 2} {
		b.Publish(events.TopicRoomLine, events.RoomLine{Token: "abc", Kind: events.LineMessage, Message: testMessage("abc", id)})
	}
	b.Publish(events.TopicRoomLine, events.RoomLine{Token: "abc", Kind: events.LineDateSeparator})
	b.Publish(events.TopicRoomCursor, events.CursorAdvanced{Token: "abc", LastRead: 5, LastCommonRead: 1, Timestamp: time.Now()})

	history := NewHistory(rooms, messages)
	var (
		ids    []int64
		cursor roomsync.Cursor
	)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		loaded, c, err := history.LoadRoom(ctx, "abc", 10)
		if err != nil {
			t.Fatalf("load room: %v", err)
		}
		ids, cursor = nil, c
		for _, m := range loaded {
			ids = append(ids, m.ID)
		}
		if len(ids) == 2 && cursor.LastRead == 2 && cursor.LastCommonRead == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(ids) != 2 || cursor.LastRead != 2 || cursor.LastCommonRead != 1 {
		t.Fatalf("unexpected cached state: messages=%v cursor=%+v", ids, cursor)
	}

	rec, ok, err := rooms.Get(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("get room: ok=%v err=%v", ok, err)
	}
	if rec.DisplayName != "General" {
		t.Fatalf("expected display name General, got %q", rec.DisplayName)
	}
}

func TestHistory_UnknownRoomIsEmpty(t *testing.T) {
	db := openTestDB(t)
	history := NewHistory(NewRoomRepo(db), NewMessageRepo(db))

	msgs, cursor, err := history.LoadRoom(context.Background(), "missing", 10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(msgs) != 0 || cursor != (roomsync.Cursor{}) {
		t.Fatalf("expected empty history, got %v %+v", msgs, cursor)
	}
}
