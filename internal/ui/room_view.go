package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/skobkin/nctalk/internal/events"
	"github.com/skobkin/nctalk/internal/roomsync"
	"github.com/skobkin/nctalk/internal/talk"
)

const (
	maxRoomLines   = 1000
	sendTimeout    = 30 * time.Second
	peopleTimeout  = 15 * time.Second
	separatorStyle = fyne.TextAlignCenter
)

// roomView renders one room: a header with health, the ordered line stream
// and a composer. All methods except pump run on the fyne goroutine.
type roomView struct {
	token  string
	name   string
	health events.Health
	source RoomSource
	window func() fyne.Window

	lines   []events.RoomLine
	list    *widget.List
	header  *widget.Label
	entry   *widget.Entry
	send    *widget.Button
	content fyne.CanvasObject

	onLeave func(token string)
}

func newRoomView(room roomsync.Room, source RoomSource, window func() fyne.Window, onLeave func(string)) *roomView {
	v := &roomView{
		token:   room.Token,
		name:    roomTitle(room.DisplayName, room.Token),
		health:  room.Health,
		source:  source,
		window:  window,
		onLeave: onLeave,
	}
	if v.health == "" {
		v.health = events.HealthUpdating
	}

	v.header = widget.NewLabel(formatRoomHeader(v.name, v.health))
	v.header.TextStyle = fyne.TextStyle{Bold: true}

	v.list = widget.NewList(
		func() int { return len(v.lines) },
		func() fyne.CanvasObject {
			label := widget.NewLabel("line")
			label.Wrapping = fyne.TextWrapWord

			return label
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			if id < 0 || id >= len(v.lines) {
				return
			}
			label := obj.(*widget.Label)
			line := v.lines[id]
			label.SetText(lineText(line))
			if line.Kind == events.LineDateSeparator {
				label.Alignment = separatorStyle
				label.TextStyle = fyne.TextStyle{Italic: true}
			} else {
				label.Alignment = fyne.TextAlignLeading
				label.TextStyle = fyne.TextStyle{}
			}
			label.Refresh()
		},
	)

	v.entry = widget.NewMultiLineEntry()
	v.entry.SetMinRowsVisible(2)
	v.entry.SetPlaceHolder("Message #" + v.name)
	v.send = widget.NewButton("Send", v.sendCurrent)
	v.entry.OnSubmitted = func(string) { v.sendCurrent() }

	peopleButton := widget.NewButton("Participants", v.showParticipants)
	leaveButton := widget.NewButton("Leave", func() {
		if v.onLeave != nil {
			v.onLeave(v.token)
		}
	})

	top := container.NewBorder(nil, nil, nil, container.NewHBox(peopleButton, leaveButton), v.header)
	composer := container.NewBorder(nil, nil, nil, v.send, v.entry)
	v.content = container.NewBorder(top, composer, nil, nil, v.list)

	return v
}

func (v *roomView) appendLine(line events.RoomLine) {
	v.lines = append(v.lines, line)
	if over := len(v.lines) - maxRoomLines; over > 0 {
		v.lines = append(v.lines[:0:0], v.lines[over:]...)
	}
	v.list.Refresh()
	v.list.ScrollToBottom()
}

func (v *roomView) setHealth(h events.Health) {
	if h == "" || h == v.health {
		return
	}
	v.health = h
	v.header.SetText(formatRoomHeader(v.name, v.health))
}

func (v *roomView) setName(name string) {
	name = roomTitle(name, v.token)
	if name == v.name {
		return
	}
	v.name = name
	v.header.SetText(formatRoomHeader(v.name, v.health))
}

// pump forwards lines from sub to the view until the subscription ends.
func (v *roomView) pump(sub *roomsync.Subscription) {
	for {
		select {
		case line, ok := <-sub.Lines():
			if !ok {
				return
			}
			fyne.Do(func() { v.appendLine(line) })
		case <-sub.Done():
			return
		}
	}
}

func (v *roomView) sendCurrent() {
	text := strings.TrimSpace(v.entry.Text)
	if text == "" {
		return
	}
	v.setSending(true)
	go func(token, body string) {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		err := v.source.Send(ctx, token, body)
		fyne.Do(func() {
			v.setSending(false)
			if err != nil {
				appLogger.Warn("send failed", "room", token, "error", err)
				v.showError(fmt.Errorf("send to #%s: %w", v.name, err))

				return
			}
			v.entry.SetText("")
		})
	}(v.token, text)
}

func (v *roomView) setSending(inFlight bool) {
	if inFlight {
		v.entry.Disable()
		v.send.Disable()

		return
	}
	v.entry.Enable()
	v.send.Enable()
}

func (v *roomView) showParticipants() {
	go func(token string) {
		ctx, cancel := context.WithTimeout(context.Background(), peopleTimeout)
		defer cancel()
		people, err := v.source.Participants(ctx, token)
		fyne.Do(func() {
			if err != nil {
				v.showError(fmt.Errorf("participants of #%s: %w", v.name, err))

				return
			}
			if w := v.currentWindow(); w != nil {
				dialog.ShowInformation("#"+v.name, formatParticipants(people), w)
			}
		})
	}(v.token)
}

func (v *roomView) showError(err error) {
	if w := v.currentWindow(); w != nil {
		dialog.ShowError(err, w)
	}
}

func (v *roomView) currentWindow() fyne.Window {
	if v.window == nil {
		return nil
	}

	return v.window()
}

func roomTitle(name, token string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}

	return token
}

func formatRoomHeader(name string, health events.Health) string {
	marker := "●"
	switch health {
	case events.HealthDegraded:
		marker = "✖"
	case events.HealthUpdating:
		marker = "…"
	}

	return fmt.Sprintf("#%s  %s %s", name, marker, health)
}

func lineText(line events.RoomLine) string {
	if line.Text != "" || line.Kind != events.LineMessage {
		return line.Text
	}

	return strings.TrimSpace(line.Message.ActorDisplayName + ": " + line.Message.Text)
}

func formatParticipants(people []talk.Participant) string {
	if len(people) == 0 {
		return "No participants"
	}
	names := make([]string, 0, len(people))
	for _, p := range people {
		name := strings.TrimSpace(p.DisplayName)
		if name == "" {
			name = p.ActorID
		}
		if status := strings.TrimSpace(p.Status); status != "" {
			name += " (" + status + ")"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return strings.Join(names, "\n")
}
