package device

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"keybridge/internal/linux"
)

type DetectedDevice struct {
	Path     string
	Name     string
	Keyboard bool
	Pointer  bool
}

type DetectionError struct {
	Message string
}

func (e DetectionError) Error() string { return e.Message }

func bitsToBytes(bits int) int {
	return (bits + 7) / 8
}

func ioctlRead(fd int, request uintptr, buffer []byte) error {
	if len(buffer) == 0 {
		return nil
	}
	return linux.Ioctl(fd, request, uintptr(unsafe.Pointer(&buffer[0])))
}

type capabilities struct {
	ev  []byte
	key []byte
	rel []byte
}

func readCapabilities(fd int) (capabilities, error) {
	caps := capabilities{
		ev:  make([]byte, bitsToBytes(linux.EvMax+1)),
		key: make([]byte, bitsToBytes(linux.KeyMax+1)),
		rel: make([]byte, bitsToBytes(linux.RelMax+1)),
	}
	if err := ioctlRead(fd, linux.EVIOCGBIT(0, len(caps.ev)), caps.ev); err != nil {
		return caps, err
	}
	if testBit(caps.ev, linux.EvKey) {
		if err := ioctlRead(fd, linux.EVIOCGBIT(linux.EvKey, len(caps.key)), caps.key); err != nil {
			return caps, err
		}
	}
	if testBit(caps.ev, linux.EvRel) {
		if err := ioctlRead(fd, linux.EVIOCGBIT(linux.EvRel, len(caps.rel)), caps.rel); err != nil {
			return caps, err
		}
	}
	return caps, nil
}

func (c capabilities) keyboard() bool {
	required := []int{linux.KeyA, linux.KeyZ, linux.KeySpace, linux.KeyEnter, linux.KeyLeftShift}
	for _, code := range required {
		if !testBit(c.key, code) {
			return false
		}
	}
	return true
}

func (c capabilities) pointer() bool {
	return testBit(c.rel, linux.RelX) && testBit(c.rel, linux.RelY) && testBit(c.key, linux.BtnLeft)
}

func testBit(bits []byte, bit int) bool {
	idx := bit / 8
	off := bit % 8
	if idx < 0 || idx >= len(bits) {
		return false
	}
	return (bits[idx] & (1 << uint(off))) != 0
}

func readDeviceName(fd int) string {
	buf := make([]byte, 256)
	if err := ioctlRead(fd, linux.EVIOCGNAME(len(buf)), buf); err != nil {
		return ""
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

func collectKeyboardSymlinks(dir string) []string {
	entries := make([]string, 0)
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		lower := strings.ToLower(name)
		if strings.Contains(lower, "kbd") || strings.Contains(lower, "keyboard") || strings.Contains(lower, "mouse") {
			entries = append(entries, path)
		}
		return nil
	})
	sort.Strings(entries)
	entries = unique(entries)
	return entries
}

func collectEventNodes() []string {
	entries := make([]string, 0)
	dirEntries, err := os.ReadDir("/dev/input")
	if err != nil {
		return entries
	}
	for _, entry := range dirEntries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "event") {
			entries = append(entries, filepath.Join("/dev/input", name))
		}
	}
	sort.Strings(entries)
	return unique(entries)
}

func unique(items []string) []string {
	if len(items) == 0 {
		return items
	}
	out := make([]string, 0, len(items))
	var last string
	for i, item := range items {
		if i == 0 || item != last {
			out = append(out, item)
			last = item
		}
	}
	return out
}

func gatherCandidates() []string {
	seen := make(map[string]struct{})
	appendUnique := func(paths []string) {
		for _, p := range paths {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
		}
	}

	appendUnique(collectKeyboardSymlinks("/dev/input/by-id"))
	appendUnique(collectKeyboardSymlinks("/dev/input/by-path"))
	appendUnique(collectEventNodes())

	candidates := make([]string, 0, len(seen))
	for path := range seen {
		candidates = append(candidates, path)
	}
	sort.Strings(candidates)
	return candidates
}

// ListDevices probes /dev/input and returns every keyboard-like and
// pointer-like node.
func ListDevices() ([]DetectedDevice, error) {
	candidates := gatherCandidates()
	devices := make([]DetectedDevice, 0)
	permissionDenied := false
	var lastErr error

	for _, path := range candidates {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			if errors.Is(err, os.ErrPermission) || err == unix.EACCES || err == unix.EPERM {
				permissionDenied = true
			}
			lastErr = fmt.Errorf("%s: %w", path, err)
			continue
		}
		name := readDeviceName(fd)
		caps, err := readCapabilities(fd)
		unix.Close(fd)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", path, err)
			continue
		}
		dev := DetectedDevice{Path: path, Name: name, Keyboard: caps.keyboard(), Pointer: caps.pointer()}
		if dev.Keyboard || dev.Pointer {
			devices = append(devices, dev)
		}
	}

	if len(devices) == 0 {
		switch {
		case permissionDenied:
			return nil, DetectionError{Message: "Permission denied while probing input devices. Try running as root or adjusting udev permissions."}
		case len(candidates) == 0:
			return nil, DetectionError{Message: "No evdev devices found under /dev/input."}
		case lastErr != nil:
			return nil, DetectionError{Message: fmt.Sprintf("No keyboard or pointer device found. Last error: %v", lastErr)}
		default:
			return nil, DetectionError{Message: "No keyboard or pointer device found."}
		}
	}

	sort.SliceStable(devices, func(i, j int) bool { return devices[i].Path < devices[j].Path })
	return devices, nil
}

// DetectDevices returns the first keyboard and, when present, every pointer.
// Symlinks under by-id and by-path resolve to the same node as their eventN
// entry, so devices are deduplicated by their resolved path.
func DetectDevices() ([]DetectedDevice, error) {
	devices, err := ListDevices()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var keyboard *DetectedDevice
	var out []DetectedDevice
	for i := range devices {
		dev := devices[i]
		resolved, err := filepath.EvalSymlinks(dev.Path)
		if err != nil {
			resolved = dev.Path
		}
		if _, ok := seen[resolved]; ok {
			continue
		}
		seen[resolved] = struct{}{}
		switch {
		case dev.Keyboard && keyboard == nil:
			keyboard = &devices[i]
			out = append(out, dev)
		case dev.Pointer && !dev.Keyboard:
			out = append(out, dev)
		}
	}
	if keyboard == nil {
		return nil, DetectionError{Message: "no keyboard-like device found"}
	}
	return out, nil
}
