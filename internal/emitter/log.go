package emitter

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Log writes one text line per event. It backs the "log" output and is
// handy for watching what a remote peer would receive.
type Log struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLog writes to w, or stdout when w is nil.
func NewLog(w io.Writer) *Log {
	if w == nil {
		w = os.Stdout
	}
	return &Log{w: w}
}

func (l *Log) printf(format string, args ...any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.w, format+"\n", args...)
	return err
}

func state(pressed bool) string {
	if pressed {
		return "down"
	}
	return "up"
}

func (l *Log) SendKey(id int, pressed bool) error {
	return l.printf("key %d %s", id, state(pressed))
}

func (l *Log) SendMotion(x, y int) error {
	return l.printf("motion %d %d", x, y)
}

func (l *Log) SendRelativeMotion(dx, dy int) error {
	return l.printf("relative %d %d", dx, dy)
}

func (l *Log) SendButton(id int, pressed bool) error {
	return l.printf("button %d %s", id, state(pressed))
}

func (l *Log) SendWheel(dx, dy int) error {
	return l.printf("wheel %d %d", dx, dy)
}

func (l *Log) SetKeymap(description string) error {
	lines := strings.Count(strings.TrimSpace(description), "\n") + 1
	return l.printf("keymap %d bytes %d lines", len(description), lines)
}

func (l *Log) Close() error { return nil }
