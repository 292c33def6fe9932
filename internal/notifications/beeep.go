package notifications

import (
	"log/slog"
	"strings"

	"github.com/gen2brain/beeep"
)

// BeeepSender shows native desktop notifications without a GUI toolkit.
type BeeepSender struct {
	icon   string
	logger *slog.Logger
	notify func(title, message string, icon any) error
}

func NewBeeepSender(appName, icon string, logger *slog.Logger) *BeeepSender {
	if logger == nil {
		logger = slog.Default().With("component", "notifications.beeep")
	}
	if name := strings.TrimSpace(appName); name != "" {
		beeep.AppName = name
	}

	return &BeeepSender{icon: icon, logger: logger, notify: beeep.Notify}
}

func (s *BeeepSender) Send(payload Payload) {
	if s == nil || s.notify == nil {
		return
	}
	if payload.Empty() {
		return
	}
	if err := s.notify(payload.Title(), payload.Content(), s.icon); err != nil {
		s.logger.Warn("desktop notification failed", "room", payload.RoomToken, "error", err)
	}
}
