package notifications

import (
	"strings"
	"unicode/utf8"
)

// MaxBodyRunes caps the message text shown in a notification bubble.
const MaxBodyRunes = 200

// Payload is one incoming room message to announce.
type Payload struct {
	RoomToken string
	RoomName  string
	Sender    string
	Body      string
}

// Sender delivers payloads through a platform notification backend.
type Sender interface {
	Send(payload Payload)
}

// Title is the room as "#name", falling back to the token.
func (p Payload) Title() string {
	room := strings.TrimSpace(p.RoomName)
	if room == "" {
		room = strings.TrimSpace(p.RoomToken)
	}
	if room == "" {
		room = "unknown"
	}

	return "#" + room
}

// Content is "sender: body" with the body flattened to one line and cut to
// MaxBodyRunes.
func (p Payload) Content() string {
	sender := strings.TrimSpace(p.Sender)
	if sender == "" {
		sender = "unknown"
	}
	body := strings.Join(strings.Fields(p.Body), " ")
	if body == "" {
		body = "(empty)"
	}
	if utf8.RuneCountInString(body) > MaxBodyRunes {
		body = string([]rune(body)[:MaxBodyRunes]) + "…"
	}

	return sender + ": " + body
}

// Empty reports whether there is nothing to show.
func (p Payload) Empty() bool {
	return strings.TrimSpace(p.RoomToken) == "" && strings.TrimSpace(p.RoomName) == "" &&
		strings.TrimSpace(p.Sender) == "" && strings.TrimSpace(p.Body) == ""
}
