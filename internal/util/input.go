package util

import (
	"syscall"
	"unsafe"
)

// InputEvent mirrors struct input_event from linux/input.h.
type InputEvent struct {
	Time  syscall.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

func InputEventSize() int {
	return int(unsafe.Sizeof(InputEvent{}))
}

func (ev *InputEvent) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ev)), InputEventSize())
}

// NewEvent builds an event with a zero timestamp; the kernel stamps events
// written to uinput.
func NewEvent(typ, code uint16, value int32) InputEvent {
	return InputEvent{Type: typ, Code: code, Value: value}
}

// BoolValue converts a pressed flag into an EV_KEY value.
func BoolValue(pressed bool) int32 {
	if pressed {
		return 1
	}
	return 0
}
