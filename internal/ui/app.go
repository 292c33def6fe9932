package ui

import (
	"context"
	"log/slog"
	"sync/atomic"

	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"

	"github.com/skobkin/nctalk/internal/config"
	"github.com/skobkin/nctalk/internal/events"
	"github.com/skobkin/nctalk/internal/roomsync"
)

const appID = "in.skobk.nctalk"

var appLogger = slog.With("component", "ui")

var newFyneApp = func() fyne.App {
	return fyneapp.NewWithID(appID)
}

func Run(dep RuntimeDependencies) error {
	return runWithApp(dep, newFyneApp())
}

func runWithApp(dep RuntimeDependencies, fyApp fyne.App) error {
	fyApp.SetIcon(theme.MailComposeIcon())
	appLogger.Info("starting UI runtime")

	window := fyApp.NewWindow(windowTitle(""))
	window.Resize(fyne.NewSize(1000, 700))
	currentWindow := func() fyne.Window { return window }

	var tabs *roomTabs
	tabs = newRoomTabs(dep.Data.Rooms, currentWindow, dep.Data.Avatar, func(token string) {
		if v, ok := tabs.views[token]; ok {
			window.SetTitle(windowTitle(v.name))
		}
		if dep.Actions.OnRoomSelected != nil {
			dep.Actions.OnRoomSelected(token)
		}
	})
	stopLogs := tabs.logs.bind(dep.Data.Logs)

	initialRoom := ""
	if dep.Data.CurrentConfig != nil {
		initialRoom = dep.Data.CurrentConfig().UI.LastSelectedRoom
	}
	restored := false
	addRoom := func(room roomsync.Room) {
		tabs.addRoom(room)
		if !restored && initialRoom != "" && room.Token == initialRoom {
			restored = tabs.selectRoom(initialRoom)
		}
	}
	for _, room := range dep.Data.Rooms.Rooms() {
		addRoom(room)
	}

	stopEvents := startRoomEventListeners(dep.Data.Bus, roomEventHandlers{
		onJoined: func(ev events.RoomJoined) {
			fyne.Do(func() {
				addRoom(roomsync.Room{Token: ev.Token, DisplayName: ev.DisplayName, Health: events.HealthUpdating})
			})
		},
		onLeft: func(ev events.RoomLeft) {
			fyne.Do(func() { tabs.removeRoom(ev.Token) })
		},
		onHealth: func(ev events.HealthChanged) {
			fyne.Do(func() { tabs.setHealth(ev.Token, ev.Health) })
		},
	})

	var appForeground atomic.Bool
	appForeground.Store(true)
	fyApp.Lifecycle().SetOnEnteredForeground(func() {
		appForeground.Store(true)
		tabs.setForeground(true)
	})
	fyApp.Lifecycle().SetOnExitedForeground(func() {
		appForeground.Store(false)
		tabs.setForeground(false)
	})
	if dep.Actions.OnStartNotifications != nil {
		dep.Actions.OnStartNotifications(NewFyneNotificationSender(fyApp), appForeground.Load)
	}

	uiRuntime := newUIRuntime(fyApp, window, func() {
		stopEvents()
		stopLogs()
	}, dep.Actions.OnQuit)
	uiRuntime.BindCloseIntercept()

	submit := func(ctx context.Context, creds config.Credentials) error {
		if !creds.Complete() {
			return errNoCredentials
		}
		if dep.Actions.OnLogin == nil {
			return nil
		}

		return dep.Actions.OnLogin(ctx, creds)
	}
	login := func() { showLoginDialog(window, dep.Data.Credentials, submit) }

	window.SetMainMenu(buildMainMenu(window, dep.Data.Rooms, tabs, login, uiRuntime.Quit))
	window.Canvas().AddShortcut(
		&desktop.CustomShortcut{KeyName: fyne.KeyQ, Modifier: fyne.KeyModifierShortcutDefault},
		func(fyne.Shortcut) { uiRuntime.Quit() },
	)
	window.SetContent(tabs.tabs)

	fyApp.Lifecycle().SetOnStarted(func() {
		startSession(window, dep.Data.Credentials, submit, login)
	})

	uiRuntime.Run()

	return nil
}

// startSession logs in with stored credentials, falling back to the login
// dialog when they are incomplete or rejected.
func startSession(window fyne.Window, creds config.Credentials, submit func(context.Context, config.Credentials) error, login func()) {
	if !creds.Complete() {
		login()

		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
		defer cancel()
		if err := submit(ctx, creds); err != nil {
			appLogger.Warn("automatic login failed", "error", err)
			fyne.Do(func() {
				errDialog := dialog.NewError(err, window)
				errDialog.SetOnClosed(login)
				errDialog.Show()
			})
		}
	}()
}

func buildMainMenu(window fyne.Window, source RoomSource, tabs *roomTabs, login func(), quit func()) *fyne.MainMenu {
	quitItem := fyne.NewMenuItem("Quit", quit)
	quitItem.IsQuit = true
	quitItem.Shortcut = &desktop.CustomShortcut{KeyName: fyne.KeyQ, Modifier: fyne.KeyModifierShortcutDefault}

	return fyne.NewMainMenu(
		fyne.NewMenu("Account",
			fyne.NewMenuItem("Log in…", login),
			fyne.NewMenuItemSeparator(),
			quitItem,
		),
		fyne.NewMenu("Rooms",
			fyne.NewMenuItem("Join room…", func() { showJoinDialog(window, source) }),
			fyne.NewMenuItem("Leave room", func() {
				if token := tabs.selected(); token != "" {
					tabs.leave(token)
				}
			}),
			fyne.NewMenuItem("Show logs", func() { tabs.tabs.SelectIndex(0) }),
		),
	)
}

func windowTitle(room string) string {
	if room == "" {
		return "nctalk"
	}

	return "#" + room + " · nctalk"
}
