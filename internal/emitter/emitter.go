package emitter

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"keybridge/internal/linux"
	"keybridge/internal/util"
)

// XKBOffset is the distance between evdev codes and X keycodes.
const XKBOffset = 8

var errClosed = errors.New("emitter closed")

// Uinput injects events through a virtual keyboard and pointer. Mapped key
// identifiers are converted back to evdev codes by subtracting the keycode
// base, which matches the remap table offset. When a screen size is configured a second, absolute device carries
// motion events; otherwise absolute motion is replayed as relative deltas.
type Uinput struct {
	fd      int
	absFD   int
	base    int
	lastX   int
	lastY   int
	havePos bool
	closed  bool
}

const (
	absCnt = linux.AbsMax + 1
)

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

type uinputUserDev struct {
	Name         [linux.UinputMaxNameSize]byte
	ID           inputID
	FFEffectsMax int32
	Absmax       [absCnt]int32
	Absmin       [absCnt]int32
	Absfuzz      [absCnt]int32
	Absflat      [absCnt]int32
}

// OpenUinput creates the virtual devices described by opts.
func OpenUinput(opts Options) (*Uinput, error) {
	name := opts.Name
	if name == "" {
		name = "keybridge"
	}
	out := &Uinput{fd: -1, absFD: -1, base: opts.KeycodeBase}

	fd, err := openUinputNode()
	if err != nil {
		return nil, err
	}
	out.fd = fd
	if err := configureUinput(fd, name, nil); err != nil {
		out.Close()
		return nil, err
	}

	if opts.Width > 0 && opts.Height > 0 {
		absFD, err := openUinputNode()
		if err != nil {
			out.Close()
			return nil, err
		}
		out.absFD = absFD
		size := &[2]int32{int32(opts.Width - 1), int32(opts.Height - 1)}
		if err := configureUinput(absFD, name+"-absolute", size); err != nil {
			out.Close()
			return nil, err
		}
	}
	return out, nil
}

// NewUinput wraps an already created uinput device descriptor.
func NewUinput(fd, base int) *Uinput {
	return &Uinput{fd: fd, absFD: -1, base: base}
}

func (e *Uinput) SetKeycodeBase(base int) { e.base = base }

func openUinputNode() (int, error) {
	fd, err := unix.Open("/dev/uinput", unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open /dev/uinput: %w", err)
	}
	return fd, nil
}

// configureUinput registers capabilities and creates the device. A nil
// absRange creates the keyboard and relative pointer; otherwise an absolute
// pointer spanning absRange.
func configureUinput(fd int, name string, absRange *[2]int32) error {
	if err := linux.IoctlSetInt(fd, linux.UISetEvbit, linux.EvSyn); err != nil {
		return fmt.Errorf("UI_SET_EVBIT(EV_SYN): %w", err)
	}
	if err := linux.IoctlSetInt(fd, linux.UISetEvbit, linux.EvKey); err != nil {
		return fmt.Errorf("UI_SET_EVBIT(EV_KEY): %w", err)
	}

	var setup uinputUserDev
	if absRange == nil {
		for code := 0; code <= linux.KeyMax; code++ {
			_ = linux.IoctlSetInt(fd, linux.UISetKeybit, code)
		}
		if err := linux.IoctlSetInt(fd, linux.UISetEvbit, linux.EvRel); err != nil {
			return fmt.Errorf("UI_SET_EVBIT(EV_REL): %w", err)
		}
		for _, code := range []int{linux.RelX, linux.RelY, linux.RelWheel, linux.RelHWheel} {
			if err := linux.IoctlSetInt(fd, linux.UISetRelbit, code); err != nil {
				return fmt.Errorf("UI_SET_RELBIT(%d): %w", code, err)
			}
		}
	} else {
		for _, code := range []int{linux.BtnLeft, linux.BtnRight, linux.BtnMiddle} {
			_ = linux.IoctlSetInt(fd, linux.UISetKeybit, code)
		}
		if err := linux.IoctlSetInt(fd, linux.UISetEvbit, linux.EvAbs); err != nil {
			return fmt.Errorf("UI_SET_EVBIT(EV_ABS): %w", err)
		}
		for _, code := range []int{linux.AbsX, linux.AbsY} {
			if err := linux.IoctlSetInt(fd, linux.UISetAbsbit, code); err != nil {
				return fmt.Errorf("UI_SET_ABSBIT(%d): %w", code, err)
			}
		}
		setup.Absmax[linux.AbsX] = absRange[0]
		setup.Absmax[linux.AbsY] = absRange[1]
	}

	copy(setup.Name[:len(setup.Name)-1], []byte(name))
	setup.ID.Bustype = linux.BusUSB
	setup.ID.Vendor = 0x1
	setup.ID.Product = 0x1
	setup.ID.Version = 1

	size := unsafe.Sizeof(setup)
	buf := linux.UnsafeSlice((*byte)(unsafe.Pointer(&setup)), int(size))
	if _, err := unix.Write(fd, buf); err != nil {
		return fmt.Errorf("write uinput setup: %w", err)
	}

	if err := linux.IoctlSetInt(fd, linux.UIDevCreate, 0); err != nil {
		return fmt.Errorf("UI_DEV_CREATE: %w", err)
	}
	return nil
}

func (e *Uinput) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	for _, fd := range []*int{&e.fd, &e.absFD} {
		if *fd >= 0 {
			_ = linux.IoctlSetInt(*fd, linux.UIDevDestroy, 0)
			unix.Close(*fd)
			*fd = -1
		}
	}
	return nil
}

// writeFrame writes events followed by SYN_REPORT in a single write.
func (e *Uinput) writeFrame(fd int, events ...util.InputEvent) error {
	if e.closed || fd < 0 {
		return errClosed
	}
	events = append(events, util.NewEvent(linux.EvSyn, linux.SynReport, 0))
	size := util.InputEventSize()
	buf := make([]byte, 0, size*len(events))
	for i := range events {
		buf = append(buf, events[i].Bytes()...)
	}
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func (e *Uinput) SendKey(id int, pressed bool) error {
	code := id - e.base
	if code < 0 || code > linux.KeyMax {
		return fmt.Errorf("keycode %d has no evdev equivalent", id)
	}
	return e.writeFrame(e.fd, util.NewEvent(linux.EvKey, uint16(code), util.BoolValue(pressed)))
}

func (e *Uinput) SendMotion(x, y int) error {
	if e.absFD >= 0 {
		e.lastX, e.lastY, e.havePos = x, y, true
		return e.writeFrame(e.absFD,
			util.NewEvent(linux.EvAbs, linux.AbsX, int32(x)),
			util.NewEvent(linux.EvAbs, linux.AbsY, int32(y)))
	}
	if !e.havePos {
		e.lastX, e.lastY, e.havePos = x, y, true
		return nil
	}
	dx, dy := x-e.lastX, y-e.lastY
	e.lastX, e.lastY = x, y
	if dx == 0 && dy == 0 {
		return nil
	}
	return e.writeRelative(dx, dy)
}

func (e *Uinput) SendRelativeMotion(dx, dy int) error {
	if e.havePos {
		e.lastX += dx
		e.lastY += dy
	}
	return e.writeRelative(dx, dy)
}

func (e *Uinput) writeRelative(dx, dy int) error {
	return e.writeFrame(e.fd,
		util.NewEvent(linux.EvRel, linux.RelX, int32(dx)),
		util.NewEvent(linux.EvRel, linux.RelY, int32(dy)))
}

func (e *Uinput) SendButton(id int, pressed bool) error {
	code, ok := ButtonCode(id)
	if !ok {
		return fmt.Errorf("unsupported pointer button %d", id)
	}
	return e.writeFrame(e.fd, util.NewEvent(linux.EvKey, code, util.BoolValue(pressed)))
}

func (e *Uinput) SendWheel(dx, dy int) error {
	var events []util.InputEvent
	if dx != 0 {
		events = append(events, util.NewEvent(linux.EvRel, linux.RelHWheel, int32(dx)))
	}
	if dy != 0 {
		events = append(events, util.NewEvent(linux.EvRel, linux.RelWheel, int32(dy)))
	}
	if len(events) == 0 {
		return nil
	}
	return e.writeFrame(e.fd, events...)
}
