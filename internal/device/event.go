package device

import (
	"keybridge/internal/emitter"
	"keybridge/internal/linux"
	"keybridge/internal/util"
)

type EventKind int

const (
	KeyEvent EventKind = iota
	ButtonEvent
	MotionEvent
	RelativeMotionEvent
	WheelEvent
	// ResyncEvent reports that the kernel dropped events, so held keys
	// can no longer be trusted.
	ResyncEvent
)

func (k EventKind) String() string {
	switch k {
	case KeyEvent:
		return "key"
	case ButtonEvent:
		return "button"
	case MotionEvent:
		return "motion"
	case RelativeMotionEvent:
		return "relative"
	case WheelEvent:
		return "wheel"
	case ResyncEvent:
		return "resync"
	default:
		return "unknown"
	}
}

// Event is a decoded input transition. Code holds the raw key code or the
// X11 button number; X and Y hold coordinates, deltas or wheel detents.
type Event struct {
	Kind    EventKind
	Code    int
	Pressed bool
	X, Y    int
}

// Decoder turns evdev frames into Events. Pointer axes are accumulated
// until SYN_REPORT so one frame yields at most one motion and one wheel
// event.
type Decoder struct {
	// Repeat forwards autorepeat (value 2) as additional presses.
	Repeat bool

	relX, relY     int
	wheelX, wheelY int
	absX, absY     int
	absDirty       bool
	dropping       bool
}

// Feed consumes one event and returns whatever it completes.
func (d *Decoder) Feed(ev util.InputEvent) []Event {
	if d.dropping {
		if ev.Type == linux.EvSyn && ev.Code == linux.SynReport {
			d.dropping = false
		}
		return nil
	}
	switch ev.Type {
	case linux.EvKey:
		return d.key(ev)
	case linux.EvRel:
		switch ev.Code {
		case linux.RelX:
			d.relX += int(ev.Value)
		case linux.RelY:
			d.relY += int(ev.Value)
		case linux.RelWheel:
			d.wheelY += int(ev.Value)
		case linux.RelHWheel:
			d.wheelX += int(ev.Value)
		}
	case linux.EvAbs:
		switch ev.Code {
		case linux.AbsX:
			d.absX = int(ev.Value)
			d.absDirty = true
		case linux.AbsY:
			d.absY = int(ev.Value)
			d.absDirty = true
		}
	case linux.EvSyn:
		switch ev.Code {
		case linux.SynReport:
			return d.flush()
		case linux.SynDropped:
			d.reset()
			d.dropping = true
			return []Event{{Kind: ResyncEvent}}
		}
	}
	return nil
}

func (d *Decoder) key(ev util.InputEvent) []Event {
	var pressed bool
	switch ev.Value {
	case linux.KeyRelease:
	case linux.KeyPress:
		pressed = true
	case linux.KeyRepeat:
		if !d.Repeat {
			return nil
		}
		pressed = true
	default:
		return nil
	}
	if linux.IsKeyCode(ev.Code) {
		return []Event{{Kind: KeyEvent, Code: int(ev.Code), Pressed: pressed}}
	}
	if id, ok := emitter.ButtonID(ev.Code); ok {
		if ev.Value == linux.KeyRepeat {
			return nil
		}
		return []Event{{Kind: ButtonEvent, Code: id, Pressed: pressed}}
	}
	return nil
}

func (d *Decoder) flush() []Event {
	var out []Event
	if d.relX != 0 || d.relY != 0 {
		out = append(out, Event{Kind: RelativeMotionEvent, X: d.relX, Y: d.relY})
	}
	if d.absDirty {
		out = append(out, Event{Kind: MotionEvent, X: d.absX, Y: d.absY})
	}
	if d.wheelX != 0 || d.wheelY != 0 {
		out = append(out, Event{Kind: WheelEvent, X: d.wheelX, Y: d.wheelY})
	}
	d.reset()
	return out
}

func (d *Decoder) reset() {
	d.relX, d.relY = 0, 0
	d.wheelX, d.wheelY = 0, 0
	d.absDirty = false
}
