package ui

import (
	"fyne.io/fyne/v2"

	"github.com/skobkin/nctalk/internal/notifications"
)

// FyneNotificationSender shows room messages as native notifications through
// the running fyne app.
type FyneNotificationSender struct {
	app fyne.App
}

func NewFyneNotificationSender(app fyne.App) *FyneNotificationSender {
	return &FyneNotificationSender{app: app}
}

func (s *FyneNotificationSender) Send(payload notifications.Payload) {
	if s == nil || s.app == nil || payload.Empty() {
		return
	}
	note := fyne.NewNotification(payload.Title(), payload.Content())

	fyne.Do(func() {
		s.app.SendNotification(note)
	})
}
