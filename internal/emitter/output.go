package emitter

import (
	"fmt"
	"strings"

	"keybridge/internal/keymap"
)

// Output is a protocol sender that owns an underlying resource. It is
// satisfied by Uinput, X11 and Log and lets tests substitute fakes.
type Output interface {
	keymap.Sender
	Close() error
}

var (
	_ Output                = (*Uinput)(nil)
	_ Output                = (*X11)(nil)
	_ Output                = (*Log)(nil)
	_ keymap.KeymapReceiver = (*Log)(nil)
	_ Rebaser               = (*Uinput)(nil)
	_ Rebaser               = (*X11)(nil)
)

// Rebaser is implemented by senders that turn mapped identifiers back into
// device codes. The base is the remap table offset.
type Rebaser interface {
	SetKeycodeBase(base int)
}

// Backend names accepted by Open.
const (
	BackendUinput = "uinput"
	BackendX11    = "x11"
	BackendLog    = "log"
)

// Options configures Open.
type Options struct {
	Backend     string
	Name        string
	KeycodeBase int
	Width       int
	Height      int
	Display     string
}

// Open creates the sender named by opts.Backend.
func Open(opts Options) (Output, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendUinput:
		return OpenUinput(opts)
	case BackendX11:
		return OpenX11(opts.Display, opts.KeycodeBase)
	case BackendLog:
		return NewLog(nil), nil
	default:
		return nil, fmt.Errorf("unknown output backend %q (available: %s, %s, %s)", opts.Backend, BackendUinput, BackendX11, BackendLog)
	}
}
