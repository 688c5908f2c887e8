package emitter

import "keybridge/internal/linux"

// Pointer buttons use X11 numbering: 1 left, 2 middle, 3 right, 4-7 wheel,
// 8 back, 9 forward.
const (
	ButtonLeft    = 1
	ButtonMiddle  = 2
	ButtonRight   = 3
	ButtonBack    = 8
	ButtonForward = 9
)

var buttonCodes = map[int]uint16{
	ButtonLeft:    linux.BtnLeft,
	ButtonMiddle:  linux.BtnMiddle,
	ButtonRight:   linux.BtnRight,
	ButtonBack:    linux.BtnSide,
	ButtonForward: linux.BtnExtra,
}

// ButtonCode converts an X11 button number into an evdev BTN_* code.
func ButtonCode(id int) (uint16, bool) {
	code, ok := buttonCodes[id]
	return code, ok
}

// ButtonID converts an evdev BTN_* code into an X11 button number.
func ButtonID(code uint16) (int, bool) {
	for id, c := range buttonCodes {
		if c == code {
			return id, true
		}
	}
	return 0, false
}
