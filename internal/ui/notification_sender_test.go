package ui

import (
	"testing"

	"fyne.io/fyne/v2"
	fynetest "fyne.io/fyne/v2/test"

	"github.com/skobkin/nctalk/internal/notifications"
)

func TestFyneNotificationSenderRendersRoomMessage(t *testing.T) {
	fyApp := fynetest.NewApp()
	t.Cleanup(fyApp.Quit)
	sender := NewFyneNotificationSender(fyApp)

	want := fyne.NewNotification("#General", "Alice: hello there")
	fynetest.AssertNotificationSent(t, want, func() {
		sender.Send(notifications.Payload{
			RoomToken: "abc",
			RoomName:  "General",
			Sender:    "Alice",
			Body:      "hello\nthere",
		})
	})
}

func TestFyneNotificationSenderIgnoresEmptyPayload(t *testing.T) {
	var nilSender *FyneNotificationSender
	nilSender.Send(notifications.Payload{Body: "x"})

	fyApp := fynetest.NewApp()
	t.Cleanup(fyApp.Quit)
	fynetest.AssertNotificationSent(t, nil, func() {
		NewFyneNotificationSender(fyApp).Send(notifications.Payload{})
	})
}
