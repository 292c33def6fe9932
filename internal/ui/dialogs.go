package ui

import (
	"context"
	"errors"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/skobkin/nctalk/internal/config"
	"github.com/skobkin/nctalk/internal/roomsync"
	"github.com/skobkin/nctalk/internal/talk"
)

const (
	loginTimeout = 60 * time.Second
	listTimeout  = 30 * time.Second
)

// showLoginDialog asks for the server and password. submit runs off the UI
// goroutine; on failure the dialog is shown again with the error.
func showLoginDialog(window fyne.Window, initial config.Credentials, submit func(context.Context, config.Credentials) error) {
	endpoint := widget.NewEntry()
	endpoint.SetPlaceHolder("https://cloud.example.org")
	endpoint.SetText(initial.Endpoint)
	user := widget.NewEntry()
	user.SetText(initial.User)
	password := widget.NewPasswordEntry()
	password.SetText(initial.Password)

	items := []*widget.FormItem{
		widget.NewFormItem("Server", endpoint),
		widget.NewFormItem("User", user),
		widget.NewFormItem("Password", password),
	}
	form := dialog.NewForm("Log in", "Log in", "Cancel", items, func(ok bool) {
		if !ok {
			return
		}
		creds := config.Credentials{
			Endpoint: strings.TrimSpace(endpoint.Text),
			User:     strings.TrimSpace(user.Text),
			Password: password.Text,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
			defer cancel()
			err := submit(ctx, creds)
			if err == nil {
				return
			}
			appLogger.Warn("login failed", "endpoint", creds.Endpoint, "user", creds.User, "error", err)
			fyne.Do(func() {
				retry := creds
				retry.Password = ""
				errDialog := dialog.NewError(err, window)
				errDialog.SetOnClosed(func() {
					showLoginDialog(window, retry, submit)
				})
				errDialog.Show()
			})
		}()
	}, window)
	form.Resize(fyne.NewSize(420, 0))
	form.Show()
}

// showJoinDialog lists the account's conversations that are not open yet.
func showJoinDialog(window fyne.Window, source RoomSource) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
		defer cancel()
		convs, err := source.Conversations(ctx)
		fyne.Do(func() {
			if err != nil {
				dialog.ShowError(err, window)

				return
			}
			candidates := joinCandidates(convs, source.Rooms())
			if len(candidates) == 0 {
				dialog.ShowInformation("Join room", "No other rooms available", window)

				return
			}
			presentJoinChoices(window, source, candidates)
		})
	}()
}

func presentJoinChoices(window fyne.Window, source RoomSource, candidates []talk.Conversation) {
	labels := make([]string, len(candidates))
	byLabel := make(map[string]talk.Conversation, len(candidates))
	for i, conv := range candidates {
		labels[i] = "#" + roomTitle(conv.DisplayName, conv.Token)
		byLabel[labels[i]] = conv
	}
	choice := widget.NewSelect(labels, nil)
	choice.SetSelectedIndex(0)

	dialog.ShowForm("Join room", "Join", "Cancel", []*widget.FormItem{
		widget.NewFormItem("Room", choice),
	}, func(ok bool) {
		if !ok {
			return
		}
		conv, found := byLabel[choice.Selected]
		if !found {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
			defer cancel()
			if _, err := source.Join(ctx, conv); err != nil {
				fyne.Do(func() { dialog.ShowError(err, window) })
			}
		}()
	}, window)
}

func joinCandidates(convs []talk.Conversation, open []roomsync.Room) []talk.Conversation {
	joined := make(map[string]struct{}, len(open))
	for _, r := range open {
		joined[r.Token] = struct{}{}
	}
	out := make([]talk.Conversation, 0, len(convs))
	for _, conv := range convs {
		if _, ok := joined[conv.Token]; ok || strings.TrimSpace(conv.Token) == "" {
			continue
		}
		out = append(out, conv)
	}

	return out
}

var errNoCredentials = errors.New("server, user and password are required")
