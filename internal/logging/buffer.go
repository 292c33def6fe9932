package logging

import (
	"strings"
	"sync"
)

const DefaultBufferLines = 2000

// Buffer keeps the most recent log lines in memory and notifies listeners
// about each appended line.
type Buffer struct {
	mu        sync.Mutex
	lines     []string
	max       int
	nextID    int
	listeners map[int]func(string)
}

func NewBuffer(maxLines int) *Buffer {
	if maxLines <= 0 {
		maxLines = DefaultBufferLines
	}

	return &Buffer{max: maxLines, listeners: make(map[int]func(string))}
}

// Write splits p into lines. Handlers write whole records, so a partial
// trailing line is kept as its own entry.
func (b *Buffer) Write(p []byte) (int, error) {
	text := strings.TrimRight(string(p), "\n")
	if text == "" {
		return len(p), nil
	}
	added := strings.Split(text, "\n")

	b.mu.Lock()
	b.lines = append(b.lines, added...)
	if over := len(b.lines) - b.max; over > 0 {
		b.lines = append(b.lines[:0:0], b.lines[over:]...)
	}
	listeners := make([]func(string), 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		for _, line := range added {
			fn(line)
		}
	}

	return len(p), nil
}

// Lines returns a copy of the retained lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.lines...)
}

// Listen registers fn for future lines. The returned func unregisters it.
// fn runs on the logging goroutine and must not block.
func (b *Buffer) Listen(fn func(line string)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}
