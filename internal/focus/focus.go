// Package focus follows the active window of the local X session so held
// keys can be released when the user switches away.
package focus

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
)

// State describes the active window. Class holds the lowercased WM_CLASS
// instance and class names.
type State struct {
	Window uint32
	Class  []string
	Title  string
}

// Equal reports whether both states name the same window.
func (s State) Equal(other State) bool {
	return s.Window == other.Window
}

// Matches reports whether any class name contains one of patterns.
func (s State) Matches(patterns []string) bool {
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		for _, name := range s.Class {
			if strings.Contains(name, pattern) {
				return true
			}
		}
	}
	return false
}

// Lost reports whether moving from prev to next should release held keys.
// With no patterns every window change counts; otherwise only leaving a
// matching window does.
func Lost(prev, next State, patterns []string) bool {
	if prev.Equal(next) {
		return false
	}
	if len(patterns) == 0 {
		return true
	}
	return prev.Matches(patterns) && !next.Matches(patterns)
}

type Detector struct {
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom
	mu    sync.Mutex
}

// NewDetector connects to display, or $DISPLAY when display is empty.
func NewDetector(display string) (*Detector, error) {
	if display == "" {
		display = os.Getenv("DISPLAY")
	}
	if display == "" {
		return nil, errors.New("DISPLAY not set")
	}
	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("connect x server: %w", err)
	}
	screen := xproto.Setup(conn).DefaultScreen(conn)
	d := &Detector{conn: conn, root: screen.Root, atoms: make(map[string]xproto.Atom)}
	if err := d.cacheAtoms([]string{"_NET_ACTIVE_WINDOW", "WM_CLASS", "_NET_WM_NAME", "WM_NAME"}); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

func (d *Detector) cacheAtoms(names []string) error {
	for _, name := range names {
		atom, err := xproto.InternAtom(d.conn, true, uint16(len(name)), name).Reply()
		if err != nil {
			return fmt.Errorf("intern %s: %w", name, err)
		}
		d.atoms[name] = atom.Atom
	}
	return nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
	return nil
}

// Poll reads the active window.
func (d *Detector) Poll() (State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return State{}, errors.New("detector closed")
	}

	activeAtom := d.atoms["_NET_ACTIVE_WINDOW"]
	if activeAtom == 0 {
		return State{}, errors.New("missing _NET_ACTIVE_WINDOW atom")
	}
	reply, err := xproto.GetProperty(d.conn, false, d.root, activeAtom, xproto.AtomWindow, 0, 1).Reply()
	if err != nil {
		return State{}, err
	}
	window := activeWindow(reply)
	if window == 0 {
		return State{}, nil
	}
	return State{
		Window: uint32(window),
		Class:  d.windowClassNames(window),
		Title:  d.windowTitle(window),
	}, nil
}

// activeWindow decodes the _NET_ACTIVE_WINDOW property, or 0 when unset.
func activeWindow(reply *xproto.GetPropertyReply) xproto.Window {
	if reply == nil || reply.ValueLen == 0 || len(reply.Value) < 4 {
		return 0
	}
	return xproto.Window(xgb.Get32(reply.Value))
}

func (d *Detector) windowClassNames(win xproto.Window) []string {
	atom := d.atoms["WM_CLASS"]
	if atom == 0 {
		return nil
	}
	reply, err := xproto.GetProperty(d.conn, false, win, atom, xproto.AtomString, 0, 64).Reply()
	if err != nil || reply == nil || len(reply.Value) == 0 {
		return nil
	}
	return splitClass(reply.Value)
}

func splitClass(raw []byte) []string {
	parts := strings.Split(string(raw), "\x00")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, strings.ToLower(part))
	}
	return out
}

func (d *Detector) windowTitle(win xproto.Window) string {
	for _, key := range []string{"_NET_WM_NAME", "WM_NAME"} {
		atom := d.atoms[key]
		if atom == 0 {
			continue
		}
		reply, err := xproto.GetProperty(d.conn, false, win, atom, xproto.AtomAny, 0, 64).Reply()
		if err != nil || reply == nil || len(reply.Value) == 0 {
			continue
		}
		return string(reply.Value)
	}
	return ""
}

// WaitForChange polls every interval and sends each new state. Poll errors
// are skipped. The channel closes when stop is closed.
func (d *Detector) WaitForChange(interval time.Duration, stop <-chan struct{}) <-chan State {
	ch := make(chan State, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		last, _ := d.Poll()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				next, err := d.Poll()
				if err != nil || next.Equal(last) {
					continue
				}
				last = next
				select {
				case ch <- next:
				case <-stop:
					return
				}
			}
		}
	}()
	return ch
}
