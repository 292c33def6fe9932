package ui

import (
	"context"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"

	"github.com/skobkin/nctalk/internal/events"
	"github.com/skobkin/nctalk/internal/roomsync"
)

const avatarTimeout = 20 * time.Second

// roomTabs keeps one tab per joined room after the #logs tab. The selected
// room is reported as focused; the logs tab means no room is focused.
type roomTabs struct {
	tabs   *container.AppTabs
	logs   *logsView
	source RoomSource
	window func() fyne.Window
	avatar func(ctx context.Context, token string) ([]byte, error)

	views map[string]*roomView
	items map[string]*container.TabItem

	onSelected func(token string)
	foreground bool
}

func newRoomTabs(source RoomSource, window func() fyne.Window, avatar func(context.Context, string) ([]byte, error), onSelected func(string)) *roomTabs {
	t := &roomTabs{
		logs:       newLogsView(),
		source:     source,
		window:     window,
		avatar:     avatar,
		views:      make(map[string]*roomView),
		items:      make(map[string]*container.TabItem),
		onSelected: onSelected,
		foreground: true,
	}
	t.tabs = container.NewAppTabs(container.NewTabItemWithIcon(logsTabTitle, theme.ListIcon(), t.logs.list))
	t.tabs.SetTabLocation(container.TabLocationLeading)
	t.tabs.OnSelected = func(*container.TabItem) {
		t.reportFocus()
		if token := t.selected(); token != "" && t.onSelected != nil {
			t.onSelected(token)
		}
	}

	return t
}

// addRoom creates the room tab if missing and starts following its stream.
func (t *roomTabs) addRoom(room roomsync.Room) {
	if v, ok := t.views[room.Token]; ok {
		v.setName(room.DisplayName)
		v.setHealth(room.Health)
		t.items[room.Token].Text = "#" + v.name
		t.tabs.Refresh()

		return
	}

	view := newRoomView(room, t.source, t.window, t.leave)
	item := container.NewTabItemWithIcon("#"+view.name, theme.AccountIcon(), view.content)
	t.views[room.Token] = view
	t.items[room.Token] = item
	t.tabs.Append(item)

	if sub, err := t.source.Subscribe(room.Token); err != nil {
		appLogger.Warn("subscribe to room failed", "room", room.Token, "error", err)
	} else if sub != nil {
		go view.pump(sub)
	}
	t.loadAvatar(room.Token)
}

func (t *roomTabs) removeRoom(token string) {
	item, ok := t.items[token]
	if !ok {
		return
	}
	delete(t.items, token)
	delete(t.views, token)
	t.tabs.Remove(item)
	t.reportFocus()
}

func (t *roomTabs) setHealth(token string, h events.Health) {
	if v, ok := t.views[token]; ok {
		v.setHealth(h)
	}
}

func (t *roomTabs) leave(token string) {
	if err := t.source.Leave(token); err != nil {
		appLogger.Warn("leave room failed", "room", token, "error", err)
	}
	t.removeRoom(token)
}

// selectRoom switches to token's tab. It reports whether the room exists.
func (t *roomTabs) selectRoom(token string) bool {
	item, ok := t.items[token]
	if !ok {
		return false
	}
	t.tabs.Select(item)

	return true
}

// selected returns the token of the visible room, or "" for the logs tab.
func (t *roomTabs) selected() string {
	current := t.tabs.Selected()
	for token, item := range t.items {
		if item == current {
			return token
		}
	}

	return ""
}

// setForeground hides the focused room from the registry while the window
// is in the background.
func (t *roomTabs) setForeground(foreground bool) {
	if t.foreground == foreground {
		return
	}
	t.foreground = foreground
	t.reportFocus()
}

func (t *roomTabs) reportFocus() {
	token := ""
	if t.foreground {
		token = t.selected()
	}
	t.source.OnFocusChanged(token)
}

func (t *roomTabs) loadAvatar(token string) {
	if t.avatar == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), avatarTimeout)
		defer cancel()
		data, err := t.avatar(ctx, token)
		if err != nil {
			appLogger.Debug("room avatar unavailable", "room", token, "error", err)

			return
		}
		res := fyne.NewStaticResource("avatar-"+token, data)
		fyne.Do(func() {
			if item, ok := t.items[token]; ok {
				item.Icon = res
				t.tabs.Refresh()
			}
		})
	}()
}
