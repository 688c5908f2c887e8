package emitter

import (
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgb/xtest"
)

const (
	// XTEST motion detail: 0 moves to root coordinates, 1 moves relative.
	motionAbsolute = 0
	motionRelative = 1

	wheelUp    = 4
	wheelDown  = 5
	wheelLeft  = 6
	wheelRight = 7
)

// X11 injects events into an X server through the XTEST extension. Mapped
// key identifiers minus base are evdev codes; X keycodes are those plus
// XKBOffset.
type X11 struct {
	conn   *xgb.Conn
	root   xproto.Window
	base   int
	minKey int
	maxKey int
	mu     sync.Mutex
}

// OpenX11 connects to display, or $DISPLAY when display is empty.
func OpenX11(display string, base int) (*X11, error) {
	if display == "" {
		display = os.Getenv("DISPLAY")
	}
	if display == "" {
		return nil, fmt.Errorf("DISPLAY not set")
	}
	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", display, err)
	}
	if err := xtest.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("XTEST: %w", err)
	}
	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)
	return &X11{
		conn:   conn,
		root:   screen.Root,
		base:   base,
		minKey: int(setup.MinKeycode),
		maxKey: int(setup.MaxKeycode),
	}, nil
}

func (x *X11) fake(typ byte, detail byte, rootX, rootY int16) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.conn == nil {
		return errClosed
	}
	return xtest.FakeInputChecked(x.conn, typ, detail, 0, x.root, rootX, rootY, 0).Check()
}

func (x *X11) SetKeycodeBase(base int) {
	x.mu.Lock()
	x.base = base
	x.mu.Unlock()
}

func (x *X11) keycode(id int) (int, error) {
	x.mu.Lock()
	key := id - x.base + XKBOffset
	x.mu.Unlock()
	if key < x.minKey || key > x.maxKey {
		return 0, fmt.Errorf("keycode %d outside server range %d-%d", key, x.minKey, x.maxKey)
	}
	return key, nil
}

func (x *X11) SendKey(id int, pressed bool) error {
	key, err := x.keycode(id)
	if err != nil {
		return err
	}
	typ := byte(xproto.KeyRelease)
	if pressed {
		typ = xproto.KeyPress
	}
	return x.fake(typ, byte(key), 0, 0)
}

func (x *X11) SendMotion(px, py int) error {
	return x.fake(xproto.MotionNotify, motionAbsolute, clamp16(px), clamp16(py))
}

func (x *X11) SendRelativeMotion(dx, dy int) error {
	return x.fake(xproto.MotionNotify, motionRelative, clamp16(dx), clamp16(dy))
}

func (x *X11) SendButton(id int, pressed bool) error {
	if id < 1 || id > 255 {
		return fmt.Errorf("unsupported pointer button %d", id)
	}
	typ := byte(xproto.ButtonRelease)
	if pressed {
		typ = xproto.ButtonPress
	}
	return x.fake(typ, byte(id), 0, 0)
}

// SendWheel clicks the wheel buttons once per detent.
func (x *X11) SendWheel(dx, dy int) error {
	for _, step := range wheelClicks(dx, dy) {
		if err := x.SendButton(step, true); err != nil {
			return err
		}
		if err := x.SendButton(step, false); err != nil {
			return err
		}
	}
	return nil
}

func (x *X11) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.conn == nil {
		return nil
	}
	x.conn.Sync()
	x.conn.Close()
	x.conn = nil
	return nil
}

// wheelClicks expands a wheel delta into X button numbers. Positive dy
// scrolls up and positive dx scrolls right, as with REL_WHEEL/REL_HWHEEL.
func wheelClicks(dx, dy int) []int {
	var clicks []int
	appendN := func(button, n int) {
		for i := 0; i < n; i++ {
			clicks = append(clicks, button)
		}
	}
	switch {
	case dy > 0:
		appendN(wheelUp, dy)
	case dy < 0:
		appendN(wheelDown, -dy)
	}
	switch {
	case dx > 0:
		appendN(wheelRight, dx)
	case dx < 0:
		appendN(wheelLeft, -dx)
	}
	return clicks
}

func clamp16(v int) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}
