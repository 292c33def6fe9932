package ui

import (
	"fmt"
	"sync"

	"github.com/skobkin/nctalk/internal/bus"
	"github.com/skobkin/nctalk/internal/events"
)

var roomTopics = []string{events.TopicRoomJoined, events.TopicRoomLeft, events.TopicRoomHealth}

type roomEventHandlers struct {
	onJoined func(events.RoomJoined)
	onLeft   func(events.RoomLeft)
	onHealth func(events.HealthChanged)
}

// startRoomEventListeners forwards room lifecycle events until the returned
// func is called. Handlers run on the listener goroutine.
func startRoomEventListeners(messageBus bus.MessageBus, handlers roomEventHandlers) func() {
	if messageBus == nil {
		appLogger.Debug("skipping UI event listeners: message bus is nil")

		return func() {}
	}

	sub := messageBus.Subscribe(roomTopics...)
	appLogger.Debug("subscribed to UI bus topics", "topics", roomTopics)
	done := make(chan struct{})
	var stopOnce sync.Once

	go func() {
		for {
			select {
			case <-done:
				return
			case raw, ok := <-sub:
				if !ok {
					appLogger.Debug("room event subscription closed")

					return
				}
				dispatchRoomEvent(raw, handlers)
			}
		}
	}()

	return func() {
		stopOnce.Do(func() {
			close(done)
			messageBus.Unsubscribe(sub, roomTopics...)
		})
	}
}

func dispatchRoomEvent(raw any, handlers roomEventHandlers) {
	switch ev := raw.(type) {
	case events.RoomJoined:
		if handlers.onJoined != nil {
			handlers.onJoined(ev)
		}
	case events.RoomLeft:
		if handlers.onLeft != nil {
			handlers.onLeft(ev)
		}
	case events.HealthChanged:
		if handlers.onHealth != nil {
			handlers.onHealth(ev)
		}
	default:
		appLogger.Debug("ignoring unexpected room event payload", "payload_type", fmt.Sprintf("%T", raw))
	}
}
