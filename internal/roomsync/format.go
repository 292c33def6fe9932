package roomsync

import (
	"fmt"
	"strings"
	"time"

	"github.com/skobkin/nctalk/internal/talk"
)

const (
	messageTimeLayout   = "15:04"
	dateSeparatorLayout = "Monday, 02 January 2006"
)

func formatMessageLine(msg talk.Message, at time.Time) string {
	author := strings.TrimSpace(msg.ActorDisplayName)
	if author == "" {
		author = strings.TrimSpace(msg.ActorID)
	}
	if author == "" {
		author = "unknown"
	}

	return fmt.Sprintf("%s %s: %s", at.Format(messageTimeLayout), author, msg.Text)
}

func formatDateSeparator(at time.Time) string {
	return "── " + at.Format(dateSeparatorLayout) + " ──"
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()

	return ay == by && am == bm && ad == bd
}
