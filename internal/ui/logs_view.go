package ui

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/widget"

	"github.com/skobkin/nctalk/internal/logging"
)

const (
	logsTabTitle = "#logs"
	maxLogLines  = logging.DefaultBufferLines
)

type logsView struct {
	lines []string
	list  *widget.List
}

func newLogsView() *logsView {
	v := &logsView{}
	v.list = widget.NewList(
		func() int { return len(v.lines) },
		func() fyne.CanvasObject {
			label := widget.NewLabel("log")
			label.TextStyle = fyne.TextStyle{Monospace: true}

			return label
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			if id < 0 || id >= len(v.lines) {
				return
			}
			obj.(*widget.Label).SetText(v.lines[id])
		},
	)

	return v
}

func (v *logsView) append(lines ...string) {
	if len(lines) == 0 {
		return
	}
	v.lines = append(v.lines, lines...)
	if over := len(v.lines) - maxLogLines; over > 0 {
		v.lines = append(v.lines[:0:0], v.lines[over:]...)
	}
	v.list.Refresh()
	v.list.ScrollToBottom()
}

// bind replays buf and follows it until the returned func is called.
func (v *logsView) bind(buf *logging.Buffer) func() {
	if buf == nil {
		return func() {}
	}
	stop := buf.Listen(func(line string) {
		fyne.Do(func() { v.append(line) })
	})
	v.append(buf.Lines()...)

	return stop
}
