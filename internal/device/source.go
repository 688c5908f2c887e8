package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"unsafe"

	"keybridge/internal/linux"
	"keybridge/internal/util"
)

// Source reads one evdev node.
type Source struct {
	Path    string
	file    *os.File
	grabbed bool
	decoder Decoder
}

// Open opens path for reading. With grab set the device is taken
// exclusively so its events stop reaching the local session.
func Open(path string, grab, repeat bool) (*Source, error) {
	file, err := os.OpenFile(path, os.O_RDONLY|syscall.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	src := &Source{Path: path, file: file, decoder: Decoder{Repeat: repeat}}
	if grab {
		if err := src.control(func(fd int) error { return linux.Grab(fd, true) }); err != nil {
			file.Close()
			return nil, fmt.Errorf("grab %s: %w", path, err)
		}
		src.grabbed = true
	}
	return src, nil
}

// control runs fn on the raw descriptor without taking it out of the
// runtime poller.
func (s *Source) control(fn func(fd int) error) error {
	conn, err := s.file.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := conn.Control(func(fd uintptr) { opErr = fn(int(fd)) }); err != nil {
		return err
	}
	return opErr
}

// Name queries the device name.
func (s *Source) Name() string {
	var name string
	_ = s.control(func(fd int) error {
		name = readDeviceName(fd)
		return nil
	})
	return name
}

// Run decodes events into out until the device fails or is closed. A
// closed source returns nil.
func (s *Source) Run(out chan<- Event) error {
	size := util.InputEventSize()
	buf := make([]byte, size*64)
	for {
		n, err := s.file.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read %s: %w", s.Path, err)
		}
		for off := 0; off+size <= n; off += size {
			ev := *(*util.InputEvent)(unsafe.Pointer(&buf[off]))
			for _, decoded := range s.decoder.Feed(ev) {
				out <- decoded
			}
		}
	}
}

// Close releases the grab and closes the node, which ends Run.
func (s *Source) Close() error {
	if s.grabbed {
		_ = s.control(func(fd int) error { return linux.Grab(fd, false) })
		s.grabbed = false
	}
	return s.file.Close()
}
