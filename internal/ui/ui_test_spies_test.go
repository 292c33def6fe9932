package ui

import (
	"context"
	"errors"
	"sync"

	"fyne.io/fyne/v2"

	"github.com/skobkin/nctalk/internal/roomsync"
	"github.com/skobkin/nctalk/internal/talk"
)

type appRunQuitSpy struct {
	fyne.App
	runCalls  int
	quitCalls int
}

func (a *appRunQuitSpy) Run() {
	a.runCalls++
}

func (a *appRunQuitSpy) Quit() {
	a.quitCalls++
}

type windowSpy struct {
	fyne.Window
	showCalls      int
	hideCalls      int
	closeIntercept func()
}

func (w *windowSpy) Show() {
	w.showCalls++
	if w.Window != nil {
		w.Window.Show()
	}
}

func (w *windowSpy) Hide() {
	w.hideCalls++
	if w.Window != nil {
		w.Window.Hide()
	}
}

func (w *windowSpy) SetCloseIntercept(fn func()) {
	w.closeIntercept = fn
	if w.Window != nil {
		w.Window.SetCloseIntercept(fn)
	}
}

type roomSourceSpy struct {
	mu       sync.Mutex
	rooms    []roomsync.Room
	convs    []talk.Conversation
	focus    []string
	sent     []string
	left     []string
	joined   []string
	people   []talk.Participant
	sendErr  error
	subErr   error
	subsOpen map[string]bool
}

func (s *roomSourceSpy) Rooms() []roomsync.Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]roomsync.Room(nil), s.rooms...)
}

func (s *roomSourceSpy) Subscribe(token string) (*roomsync.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subErr != nil {
		return nil, s.subErr
	}
	if s.subsOpen == nil {
		s.subsOpen = make(map[string]bool)
	}
	s.subsOpen[token] = true

	return nil, errors.New("subscriptions are not available in tests")
}

func (s *roomSourceSpy) Send(_ context.Context, token, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, token+":"+text)

	return nil
}

func (s *roomSourceSpy) Participants(context.Context, string) ([]talk.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]talk.Participant(nil), s.people...), nil
}

func (s *roomSourceSpy) Conversations(context.Context) ([]talk.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]talk.Conversation(nil), s.convs...), nil
}

func (s *roomSourceSpy) Join(_ context.Context, conv talk.Conversation) (*roomsync.Synchronizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined = append(s.joined, conv.Token)

	return nil, nil
}

func (s *roomSourceSpy) Leave(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left = append(s.left, token)

	return nil
}

func (s *roomSourceSpy) OnFocusChanged(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focus = append(s.focus, token)
}

func (s *roomSourceSpy) focusCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.focus...)
}

func (s *roomSourceSpy) sentMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.sent...)
}
