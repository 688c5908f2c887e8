package app

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"keybridge/internal/cli"
	"keybridge/internal/config"
	"keybridge/internal/device"
	"keybridge/internal/emitter"
	"keybridge/internal/focus"
	"keybridge/internal/keymap"
	"keybridge/internal/linux"
	"keybridge/internal/logging"
	"keybridge/internal/modstate"
	"keybridge/internal/util"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// newTestRuntime loads configText through the real store and modifier
// engine, with a Log sender recording everything forwarded.
func newTestRuntime(t *testing.T, configText string) (*Runtime, *bytes.Buffer) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.ini")
	writeFile(t, path, configText)

	rt := NewRuntime(cli.Options{ConfigPath: path})
	require.NoError(t, rt.prepareConfig())

	var out bytes.Buffer
	rt.output = emitter.NewLog(&out)
	require.NoError(t, rt.loadKeymap())
	t.Cleanup(rt.cleanup)
	return rt, &out
}

func TestResolveDescriptionPrecedence(t *testing.T) {
	dir := t.TempDir()
	fileKeymap := "xkb_keymap { xkb_keycodes { maximum = 300; }; };"
	cliKeymap := "xkb_keymap { };"
	writeFile(t, filepath.Join(dir, "remote.xkb"), fileKeymap)
	writeFile(t, filepath.Join(dir, "cli.xkb"), cliKeymap)

	cfgPath := filepath.Join(dir, "config.ini")
	writeFile(t, cfgPath, "xkb_keymap_file = remote.xkb\nxkb_keymap = xkb_keymap { inline };\n")
	store, err := config.Load(cfgPath)
	require.NoError(t, err)

	desc, source, err := ResolveDescription(filepath.Join(dir, "cli.xkb"), store)
	require.NoError(t, err)
	assert.Equal(t, cliKeymap, desc)
	assert.Equal(t, filepath.Join(dir, "cli.xkb"), source)

	desc, source, err = ResolveDescription("", store)
	require.NoError(t, err)
	assert.Equal(t, fileKeymap, desc)
	assert.Equal(t, filepath.Join(dir, "remote.xkb"), source)

	inline, err := config.Parse([]byte("xkb_keymap = xkb_keymap { inline };\n"))
	require.NoError(t, err)
	desc, source, err = ResolveDescription("", inline)
	require.NoError(t, err)
	assert.Equal(t, "xkb_keymap { inline };", desc)
	assert.Equal(t, KeymapTextKey, source)

	desc, source, err = ResolveDescription("", config.Empty())
	require.NoError(t, err)
	assert.Equal(t, keymap.DefaultDescription, desc)
	assert.Equal(t, "builtin", source)

	_, _, err = ResolveDescription(filepath.Join(dir, "missing.xkb"), store)
	assert.Error(t, err)
}

func TestCommandsReportAndReleaseState(t *testing.T) {
	rt, out := newTestRuntime(t, "xkb_key_offset = 8\n")
	assert.Equal(t, "ok pong", rt.handleCommand("ping"))

	// evdev KEY_LEFTSHIFT is xkb keycode 50 once offset by 8.
	require.NoError(t, rt.input.HandleKey(42, true))
	require.NoError(t, rt.input.HandleKey(30, true))

	assert.Equal(t, "ok size=256 held=2 depressed=Shift latched=none locked=none group=0", rt.handleCommand("state"))
	assert.Equal(t, "ok 30:1 42:1", rt.handleCommand("held"))
	assert.Equal(t, "ok released=2", rt.handleCommand("RELEASE-ALL"))
	assert.Equal(t, "ok", rt.handleCommand("held"))
	assert.Equal(t, "ok size=256 held=0 depressed=none latched=none locked=none group=0", rt.handleCommand("state"))

	assert.Equal(t, "key 50 down\nkey 38 down\nkey 38 up\nkey 50 up\n",
		strings.SplitN(out.String(), "\n", 2)[1])

	assert.Equal(t, `error unknown command "jump"`, rt.handleCommand("jump now"))
	assert.Equal(t, "error empty command", rt.handleCommand("  "))
}

func TestReloadKeepsPreviousKeymapOnFailure(t *testing.T) {
	rt, out := newTestRuntime(t, "")
	require.Equal(t, 256, rt.input.Size())
	require.NoError(t, rt.input.HandleKey(10, true))

	dir := filepath.Dir(rt.configPath)
	writeFile(t, filepath.Join(dir, "broken.xkb"), "xkb_keymap { xkb_keycodes {")
	writeFile(t, rt.configPath, "xkb_keymap_file = broken.xkb\n")

	resp := rt.handleCommand("reload")
	assert.True(t, strings.HasPrefix(resp, "error "), resp)
	assert.Equal(t, 256, rt.input.Size())
	assert.Zero(t, rt.input.Pressed(10), "reload releases held keys before compiling")
	assert.Contains(t, out.String(), "key 10 up")

	writeFile(t, filepath.Join(dir, "wide.xkb"), "xkb_keymap { xkb_keycodes { minimum = 8; maximum = 300; }; };")
	writeFile(t, rt.configPath, "xkb_keymap_file = wide.xkb\n[raw-keymap]\n400 = 1\n")
	assert.Equal(t, "ok size=401", rt.handleCommand("reload"))
	mapped, ok := rt.input.Table().Lookup(400)
	require.True(t, ok)
	assert.Equal(t, 1, mapped)
}

func TestDispatchForwardsPointerAndDropsRejectedKeys(t *testing.T) {
	rt, out := newTestRuntime(t, "")
	out.Reset()

	rt.dispatch(device.Event{Kind: device.KeyEvent, Code: 30, Pressed: false})
	rt.dispatch(device.Event{Kind: device.KeyEvent, Code: 5000, Pressed: true})
	assert.Empty(t, out.String())

	rt.dispatch(device.Event{Kind: device.KeyEvent, Code: 30, Pressed: true})
	rt.dispatch(device.Event{Kind: device.ButtonEvent, Code: emitter.ButtonLeft, Pressed: true})
	rt.dispatch(device.Event{Kind: device.MotionEvent, X: 10, Y: 20})
	rt.dispatch(device.Event{Kind: device.RelativeMotionEvent, X: -3, Y: 4})
	rt.dispatch(device.Event{Kind: device.WheelEvent, Y: -1})

	assert.Equal(t, "key 30 down\nbutton 1 down\nmotion 10 20\nrelative -3 4\nwheel 0 -1\n", out.String())
}

func TestLockedModifiersSurviveRelease(t *testing.T) {
	rt, _ := newTestRuntime(t, "xkb_key_offset = 8\n")

	// KEY_CAPSLOCK (58) is xkb 66.
	require.NoError(t, rt.input.HandleKey(58, true))
	require.NoError(t, rt.input.HandleKey(58, false))
	assert.Equal(t, uint32(modstate.Lock), rt.input.Modifiers().Locked)
	assert.Contains(t, rt.handleCommand("state"), "locked=Lock")
}

func TestControlServerRoundTrip(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "ctl.sock")
	requests := make(chan Request)
	srv, err := StartControlServer(socket, requests, nil)
	require.NoError(t, err)
	defer srv.Close()

	go func() {
		for req := range requests {
			req.Reply <- "ok " + req.Command
		}
	}()

	conn, err := net.DialTimeout("unix", socket, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	reader := bufio.NewReader(conn)
	for _, cmd := range []string{"ping", "state"} {
		_, err := conn.Write([]byte(cmd + "\n"))
		require.NoError(t, err)
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "ok "+cmd+"\n", line)
	}
}

func TestStartControlServerDisabled(t *testing.T) {
	srv, err := StartControlServer("", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, srv)
	assert.Nil(t, srv.Err())
	srv.Close()
}

func TestFocusLossReleasesHeldKeys(t *testing.T) {
	rt, out := newTestRuntime(t, "[focus]\nclasses = remmina\n")
	viewer := focus.State{Window: 7, Class: []string{"org.remmina.remmina"}}
	rt.focusLast = viewer
	require.NoError(t, rt.input.HandleKey(30, true))

	rt.focusChanged(focus.State{Window: 7, Class: viewer.Class})
	assert.Equal(t, 1, rt.input.Pressed(30))

	rt.focusChanged(focus.State{Window: 9, Class: []string{"firefox"}})
	assert.Zero(t, rt.input.Pressed(30))
	assert.Contains(t, out.String(), "key 30 up")
}

// pipeSender is a uinput sender writing into a pipe; the read end is
// returned for keyCodes.
func pipeSender(t *testing.T, base int) (*emitter.Uinput, int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return emitter.NewUinput(fds[1], base), fds[0]
}

// keyCodes reads n key frames (event plus SYN_REPORT) and returns the
// evdev codes written.
func keyCodes(t *testing.T, fd int, n int) []uint16 {
	t.Helper()
	size := util.InputEventSize()
	buf := make([]byte, size*n*2)
	read := 0
	for read < len(buf) {
		m, err := unix.Read(fd, buf[read:])
		require.NoError(t, err)
		read += m
	}
	var codes []uint16
	for i := 0; i < n*2; i++ {
		ev := *(*util.InputEvent)(unsafe.Pointer(&buf[i*size]))
		if ev.Type == linux.EvKey {
			codes = append(codes, ev.Code)
		}
	}
	return codes
}

func TestEmptyConfigForwardsEvdevCodesUnchanged(t *testing.T) {
	rt := NewRuntime(cli.Options{})
	rt.store = config.Empty()
	assert.Equal(t, 0, rt.emitterOptions().KeycodeBase)

	// Start from a base that disagrees with the table; loading the keymap
	// must realign it.
	sender, r := pipeSender(t, emitter.XKBOffset)
	rt.output = sender
	require.NoError(t, rt.loadKeymap())
	t.Cleanup(rt.cleanup)

	for _, code := range []int{linux.KeyLeftShift, linux.KeyA, linux.KeyEsc} {
		require.NoError(t, rt.input.HandleKey(code, true))
	}
	assert.Equal(t, []uint16{linux.KeyLeftShift, linux.KeyA, linux.KeyEsc}, keyCodes(t, r, 3))
}

// newPipeRuntime is newTestRuntime with a pipe-backed uinput sender that
// starts at base.
func newPipeRuntime(t *testing.T, configText string, base int) (*Runtime, int) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.ini")
	writeFile(t, path, configText)

	rt := NewRuntime(cli.Options{ConfigPath: path})
	require.NoError(t, rt.prepareConfig())

	sender, r := pipeSender(t, base)
	rt.output = sender
	require.NoError(t, rt.loadKeymap())
	t.Cleanup(rt.cleanup)
	return rt, r
}

func TestEngineOffsetTracksModifiersAndForwardsEvdevCodes(t *testing.T) {
	rt, r := newPipeRuntime(t, "xkb_key_offset = 8\n", 0)
	assert.Equal(t, modstate.KeycodeOffset, rt.emitterOptions().KeycodeBase)

	require.NoError(t, rt.input.HandleKey(linux.KeyLeftShift, true))
	assert.Equal(t, uint32(modstate.Shift), rt.input.Modifiers().Depressed)
	assert.Equal(t, []uint16{linux.KeyLeftShift}, keyCodes(t, r, 1))
}

func TestExplicitKeycodeBaseIsKept(t *testing.T) {
	rt, r := newPipeRuntime(t, "[output]\nkeycode_base = 3\n", 3)
	assert.Equal(t, 3, rt.emitterOptions().KeycodeBase)

	require.NoError(t, rt.input.HandleKey(linux.KeyA+3, true))
	assert.Equal(t, []uint16{linux.KeyA}, keyCodes(t, r, 1))
}

func TestReloadRebasesSender(t *testing.T) {
	rt, r := newPipeRuntime(t, "", 0)

	writeFile(t, rt.configPath, "xkb_key_offset = 8\n")
	resp := rt.handleCommand("reload")
	require.True(t, strings.HasPrefix(resp, "ok "), resp)

	require.NoError(t, rt.input.HandleKey(linux.KeyA, true))
	assert.Equal(t, []uint16{linux.KeyA}, keyCodes(t, r, 1))
}

func TestResyncReleasesHeldKeys(t *testing.T) {
	rt, out := newTestRuntime(t, "")
	rt.dispatch(device.Event{Kind: device.KeyEvent, Code: 30, Pressed: true})
	require.Equal(t, 1, rt.input.Pressed(30))

	rt.dispatch(device.Event{Kind: device.ResyncEvent})
	assert.Zero(t, rt.input.Pressed(30))
	assert.True(t, strings.HasSuffix(out.String(), "key 30 down\nkey 30 up\n"), out.String())

	// A release lost in the overflow is now a no-op.
	rt.dispatch(device.Event{Kind: device.KeyEvent, Code: 30, Pressed: false})
	assert.True(t, strings.HasSuffix(out.String(), "key 30 up\n"))
}

func TestReleaseAllLogsOnlyWhenKeysWereHeld(t *testing.T) {
	rt, _ := newTestRuntime(t, "")
	var logs bytes.Buffer
	rt.log = logging.New(logging.Config{Level: logging.LevelInfo, Output: &logs})

	assert.Zero(t, rt.releaseAll("focus"))
	assert.Empty(t, logs.String())

	require.NoError(t, rt.input.HandleKey(30, true))
	assert.Equal(t, 1, rt.releaseAll("focus"))
	assert.Contains(t, logs.String(), "released held keys")
	assert.Contains(t, logs.String(), "reason=focus")
}

func TestControlServerCloseDisconnectsIdleClients(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "ctl.sock")
	srv, err := StartControlServer(socket, make(chan Request), nil)
	require.NoError(t, err)

	conn, err := net.DialTimeout("unix", socket, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	// Make sure the connection is being served before closing.
	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.conns) == 1
	}, time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		srv.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on an idle client")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	require.Error(t, err)
	var ne net.Error
	if errors.As(err, &ne) {
		assert.False(t, ne.Timeout(), "client should see the server hang up")
	}
}
