package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	fynetest "fyne.io/fyne/v2/test"

	"github.com/skobkin/nctalk/internal/events"
	"github.com/skobkin/nctalk/internal/roomsync"
	"github.com/skobkin/nctalk/internal/talk"
)

func TestRoomViewAppendLineCapsHistory(t *testing.T) {
	app := fynetest.NewApp()
	t.Cleanup(app.Quit)

	view := newRoomView(roomsync.Room{Token: "abc", DisplayName: "General"}, &roomSourceSpy{}, nil, nil)
	for i := 0; i < maxRoomLines+5; i++ {
		view.appendLine(events.RoomLine{Token: "abc", Kind: events.LineMessage, Text: "line"})
	}
	view.appendLine(events.RoomLine{Token: "abc", Kind: events.LineMessage, Text: "newest"})

	if len(view.lines) != maxRoomLines {
		t.Fatalf("expected %d retained lines, got %d", maxRoomLines, len(view.lines))
	}
	if got := view.lines[len(view.lines)-1].Text; got != "newest" {
		t.Fatalf("expected newest line last, got %q", got)
	}
}

func TestRoomViewHeaderTracksHealthAndName(t *testing.T) {
	app := fynetest.NewApp()
	t.Cleanup(app.Quit)

	view := newRoomView(roomsync.Room{Token: "abc"}, &roomSourceSpy{}, nil, nil)
	if got := view.header.Text; got != "#abc  … updating" {
		t.Fatalf("unexpected initial header %q", got)
	}

	view.setHealth(events.HealthDegraded)
	view.setName("General")
	if got := view.header.Text; got != "#General  ✖ degraded" {
		t.Fatalf("unexpected header %q", got)
	}

	view.setHealth("")
	if view.health != events.HealthDegraded {
		t.Fatalf("empty health must be ignored, got %q", view.health)
	}
}

func TestRoomViewSendClearsEntry(t *testing.T) {
	app := fynetest.NewApp()
	t.Cleanup(app.Quit)

	source := &roomSourceSpy{}
	view := newRoomView(roomsync.Room{Token: "abc", DisplayName: "General"}, source, nil, nil)
	view.entry.SetText("  hello  ")
	view.sendCurrent()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && view.entry.Text != "" {
		time.Sleep(10 * time.Millisecond)
	}
	if view.entry.Text != "" {
		t.Fatalf("expected entry to be cleared after send, got %q", view.entry.Text)
	}
	if got := source.sentMessages(); len(got) != 1 || got[0] != "abc:hello" {
		t.Fatalf("unexpected sent messages %v", got)
	}
}

func TestRoomViewSendKeepsTextOnFailure(t *testing.T) {
	app := fynetest.NewApp()
	t.Cleanup(app.Quit)

	source := &roomSourceSpy{sendErr: errors.New("offline")}
	view := newRoomView(roomsync.Room{Token: "abc"}, source, nil, nil)
	view.entry.SetText("draft")
	view.sendCurrent()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && view.entry.Disabled() {
		time.Sleep(10 * time.Millisecond)
	}
	if view.entry.Disabled() {
		t.Fatalf("expected entry to be re-enabled after failure")
	}
	if view.entry.Text != "draft" {
		t.Fatalf("expected draft to survive failed send, got %q", view.entry.Text)
	}
}

func TestRoomViewBlankMessageIsNotSent(t *testing.T) {
	app := fynetest.NewApp()
	t.Cleanup(app.Quit)

	source := &roomSourceSpy{}
	view := newRoomView(roomsync.Room{Token: "abc"}, source, nil, nil)
	view.entry.SetText("   ")
	view.sendCurrent()

	if view.entry.Disabled() {
		t.Fatalf("blank send must not start a request")
	}
	if got := source.sentMessages(); len(got) != 0 {
		t.Fatalf("expected nothing sent, got %v", got)
	}
}

func TestFormatParticipants(t *testing.T) {
	if got := formatParticipants(nil); got != "No participants" {
		t.Fatalf("unexpected empty text %q", got)
	}
	got := formatParticipants([]talk.Participant{
		{ActorID: "zed", DisplayName: "Zed"},
		{ActorID: "amy", Status: "away"},
	})
	if got != strings.Join([]string{"Zed", "amy (away)"}, "\n") {
		t.Fatalf("unexpected participants text %q", got)
	}
}

func TestLineText(t *testing.T) {
	sep := events.RoomLine{Kind: events.LineDateSeparator, Text: "── Monday ──"}
	if got := lineText(sep); got != "── Monday ──" {
		t.Fatalf("unexpected separator text %q", got)
	}
	bare := events.RoomLine{Kind: events.LineMessage, Message: talk.Message{ActorDisplayName: "Alice", Text: "hi"}}
	if got := lineText(bare); got != "Alice: hi" {
		t.Fatalf("unexpected fallback text %q", got)
	}
}

func TestJoinCandidatesSkipsOpenRooms(t *testing.T) {
	convs := []talk.Conversation{{Token: "a"}, {Token: "b"}, {Token: " "}}
	got := joinCandidates(convs, []roomsync.Room{{Token: "a"}})
	if len(got) != 1 || got[0].Token != "b" {
		t.Fatalf("unexpected candidates %+v", got)
	}
}

func TestWindowTitle(t *testing.T) {
	if got := windowTitle(""); got != "nctalk" {
		t.Fatalf("unexpected empty title %q", got)
	}
	if got := windowTitle("General"); got != "#General · nctalk" {
		t.Fatalf("unexpected room title %q", got)
	}
}
