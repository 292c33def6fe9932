package ui

import (
	"sync"

	"fyne.io/fyne/v2"
)

type uiRuntime struct {
	fyApp  fyne.App
	window fyne.Window

	stopListeners func()
	onQuit        func()

	shutdownOnce sync.Once
}

func newUIRuntime(fyApp fyne.App, window fyne.Window, stopListeners func(), onQuit func()) *uiRuntime {
	return &uiRuntime{
		fyApp:         fyApp,
		window:        window,
		stopListeners: stopListeners,
		onQuit:        onQuit,
	}
}

// BindCloseIntercept makes closing the main window quit the app so room
// tasks are torn down with it.
func (r *uiRuntime) BindCloseIntercept() {
	if r.window == nil {
		return
	}
	r.window.SetCloseIntercept(func() {
		appLogger.Debug("main window closed: quitting")
		r.Quit()
	})
}

func (r *uiRuntime) Quit() {
	r.shutdownOnce.Do(func() {
		appLogger.Info("quitting UI runtime")
		r.stop()
		if r.fyApp != nil {
			r.fyApp.Quit()
		}
	})
}

func (r *uiRuntime) Run() {
	if r.window != nil {
		r.window.Show()
	}
	if r.fyApp != nil {
		r.fyApp.Run()
	}
	appLogger.Info("UI runtime stopped")
	r.shutdownOnce.Do(func() {
		r.stop()
	})
}

func (r *uiRuntime) stop() {
	if r.stopListeners != nil {
		r.stopListeners()
	}
	if r.onQuit != nil {
		r.onQuit()
	}
}
