package ui

import (
	"testing"

	fynetest "fyne.io/fyne/v2/test"
)

func TestUIRuntimeQuitStopsOnceAndQuitsApp(t *testing.T) {
	base := fynetest.NewApp()
	t.Cleanup(base.Quit)
	app := &appRunQuitSpy{App: base}

	var stopListenersCalls int
	var onQuitCalls int

	runtime := newUIRuntime(
		app,
		nil,
		func() { stopListenersCalls++ },
		func() { onQuitCalls++ },
	)

	runtime.Quit()
	runtime.Quit()

	if app.quitCalls != 1 {
		t.Fatalf("expected app quit once, got %d", app.quitCalls)
	}
	if stopListenersCalls != 1 || onQuitCalls != 1 {
		t.Fatalf("expected stop callbacks once: listeners=%d onQuit=%d", stopListenersCalls, onQuitCalls)
	}
}

func TestUIRuntimeBindCloseInterceptQuits(t *testing.T) {
	base := fynetest.NewApp()
	t.Cleanup(base.Quit)
	app := &appRunQuitSpy{App: base}

	window := &windowSpy{Window: base.NewWindow("runtime")}
	var onQuitCalls int
	runtime := newUIRuntime(app, window, nil, func() { onQuitCalls++ })

	runtime.BindCloseIntercept()
	if window.closeIntercept == nil {
		t.Fatalf("expected close intercept to be set")
	}

	window.closeIntercept()
	if app.quitCalls != 1 || onQuitCalls != 1 {
		t.Fatalf("expected close to quit once, quit=%d onQuit=%d", app.quitCalls, onQuitCalls)
	}
}

func TestUIRuntimeRunShowsWindowAndStopsAfterRunReturns(t *testing.T) {
	base := fynetest.NewApp()
	t.Cleanup(base.Quit)
	app := &appRunQuitSpy{App: base}
	window := &windowSpy{Window: base.NewWindow("runtime")}

	var stopCalls int
	runtime := newUIRuntime(app, window, func() { stopCalls++ }, nil)

	runtime.Run()
	runtime.Quit()

	if window.showCalls != 1 {
		t.Fatalf("expected window to be shown once, got %d", window.showCalls)
	}
	if app.runCalls != 1 {
		t.Fatalf("expected app run once, got %d", app.runCalls)
	}
	if stopCalls != 1 {
		t.Fatalf("expected stop once after run returned, got %d", stopCalls)
	}
	if app.quitCalls != 0 {
		t.Fatalf("expected no quit after stop already happened, got %d", app.quitCalls)
	}
}
