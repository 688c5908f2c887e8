package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"keybridge/internal/cli"
	"keybridge/internal/common"
	"keybridge/internal/config"
	"keybridge/internal/device"
	"keybridge/internal/emitter"
	"keybridge/internal/focus"
	"keybridge/internal/keymap"
	"keybridge/internal/logging"
	"keybridge/internal/modstate"
)

const eventBuffer = 256

type sourceResult struct {
	source *device.Source
	err    error
}

// Runtime wires devices, the keymap context and the sender together. All
// key state is owned by the goroutine running the event loop.
type Runtime struct {
	opts       cli.Options
	log        *slog.Logger
	configPath string
	store      *config.Store
	output     emitter.Output
	input      *keymap.Context
	sources    []*device.Source
	events     chan device.Event
	sourceDone chan sourceResult
	requests   chan Request
	watcher    *config.Watcher
	focusCh    <-chan focus.State
	focusLast  focus.State
	cleanups   []func()
}

func NewRuntime(opts cli.Options) *Runtime {
	return &Runtime{
		opts:     opts,
		log:      logging.Discard(),
		events:   make(chan device.Event, eventBuffer),
		requests: make(chan Request),
	}
}

func (rt *Runtime) Run() error {
	defer rt.cleanup()

	if err := rt.prepareConfig(); err != nil {
		return err
	}
	if err := rt.prepareLogger(); err != nil {
		return err
	}
	if err := rt.buildEmitter(); err != nil {
		return err
	}
	if err := rt.loadKeymap(); err != nil {
		return err
	}
	if err := rt.openDevices(); err != nil {
		return err
	}

	socket := rt.opts.SocketPath
	if socket == "" {
		socket = rt.store.String("control/socket", common.DefaultSocketPath())
	}
	server, err := StartControlServer(socket, rt.requests, rt.log)
	if err != nil {
		return err
	}
	if server != nil {
		rt.registerCleanup(server.Close)
		rt.log.Info("control socket listening", "path", socket)
	}

	rt.watchConfig()
	rt.watchFocus()
	return rt.runEventLoop(server)
}

func (rt *Runtime) prepareConfig() error {
	rt.configPath = config.ResolvePath(rt.opts.ConfigPath)
	store, err := config.Load(rt.configPath)
	if err != nil {
		return err
	}
	rt.store = store
	return nil
}

func (rt *Runtime) prepareLogger() error {
	cfg := logging.DefaultConfig()
	level, err := logging.ParseLevel(rt.store.String("log/level", "info"))
	if err != nil {
		return err
	}
	cfg.Level = level
	if rt.opts.Verbose {
		cfg.Level = logging.LevelDebug
	}
	format := rt.opts.LogFormat
	if format == "" {
		format = rt.store.String("log/format", "text")
	}
	if cfg.Format, err = logging.ParseFormat(format); err != nil {
		return err
	}
	rt.log = logging.New(cfg)
	return nil
}

// emitterOptions reads [output]. The keycode base defaults to the remap
// table offset so mapped identifiers convert back to the codes they came
// from.
func (rt *Runtime) emitterOptions() emitter.Options {
	backend := rt.opts.Output
	if backend == "" {
		backend = rt.store.String("output/backend", emitter.BackendUinput)
	}
	return emitter.Options{
		Backend:     backend,
		Name:        "keybridge",
		KeycodeBase: rt.store.Int("output/keycode_base", keymap.Offset(rt.store)),
		Width:       rt.store.Int("output/width", 0),
		Height:      rt.store.Int("output/height", 0),
		Display:     rt.store.String("output/display", ""),
	}
}

func (rt *Runtime) buildEmitter() error {
	opts := rt.emitterOptions()
	output, err := emitter.Open(opts)
	if err != nil {
		return err
	}
	rt.output = output
	rt.registerCleanup(func() { _ = output.Close() })
	rt.log.Info("sender ready", "backend", opts.Backend, "keycode_base", opts.KeycodeBase)
	return nil
}

// syncKeycodeBase points the sender at the loaded table offset unless
// output/keycode_base pins it.
func (rt *Runtime) syncKeycodeBase() {
	offset := rt.input.Table().Offset()
	if offset != modstate.KeycodeOffset {
		rt.log.Warn("keymap offset differs from the built-in modifier engine, modifiers will not be tracked",
			"offset", offset, "expected", modstate.KeycodeOffset)
	}
	if rt.store.Has("output/keycode_base") {
		return
	}
	if r, ok := rt.output.(emitter.Rebaser); ok {
		r.SetKeycodeBase(offset)
	}
}

func (rt *Runtime) loadKeymap() error {
	rt.input = keymap.NewContext(modstate.New(), rt.output, rt.log)
	rt.registerCleanup(func() {
		if n := rt.input.ReleaseAll(); n > 0 {
			rt.log.Info("released held keys on shutdown", "count", n)
		}
		rt.input.Close()
	})

	desc, source, err := ResolveDescription(rt.opts.KeymapPath, rt.store)
	if err != nil {
		return err
	}
	if err := rt.input.Load(desc, rt.store); err != nil {
		return err
	}
	rt.syncKeycodeBase()
	rt.log.Info("keymap loaded", "source", source, "size", rt.input.Size(), "offset", rt.input.Table().Offset())
	return nil
}

func (rt *Runtime) devicePaths() ([]string, error) {
	if len(rt.opts.DevicePaths) > 0 {
		return rt.opts.DevicePaths, nil
	}
	if paths := rt.store.List("input/devices"); len(paths) > 0 {
		return paths, nil
	}
	detected, err := device.DetectDevices()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(detected))
	for _, dev := range detected {
		rt.log.Info("using input device", "path", dev.Path, "name", dev.Name, "keyboard", dev.Keyboard, "pointer", dev.Pointer)
		paths = append(paths, dev.Path)
	}
	return paths, nil
}

func (rt *Runtime) openDevices() error {
	paths, err := rt.devicePaths()
	if err != nil {
		return err
	}
	grab := !rt.opts.NoGrab && rt.store.Bool("input/grab", true)
	repeat := rt.opts.Repeat || rt.store.Bool("input/repeat", false)

	for _, path := range paths {
		src, err := device.Open(strings.TrimSpace(path), grab, repeat)
		if err != nil {
			return err
		}
		rt.sources = append(rt.sources, src)
		rt.registerCleanup(func() { _ = src.Close() })
		rt.log.Debug("device opened", "path", src.Path, "name", src.Name(), "grab", grab)
	}
	if len(rt.sources) == 0 {
		return errors.New("no input devices")
	}

	rt.sourceDone = make(chan sourceResult, len(rt.sources))
	for _, src := range rt.sources {
		go func(src *device.Source) {
			rt.sourceDone <- sourceResult{source: src, err: src.Run(rt.events)}
		}(src)
	}
	return nil
}

func (rt *Runtime) watchConfig() {
	if rt.store.Path() == "" {
		return
	}
	watcher, err := config.Watch(rt.store.Path(), 0)
	if err != nil {
		rt.log.Warn("config hot reload disabled", "path", rt.store.Path(), "error", err)
		return
	}
	rt.watcher = watcher
	rt.registerCleanup(func() { _ = watcher.Close() })
}

// watchFocus follows the local active window when [focus] release_on_change
// is set. Failing to reach the X server only disables the feature.
func (rt *Runtime) watchFocus() {
	if !rt.store.Bool("focus/release_on_change", false) {
		return
	}
	display := rt.store.String("focus/display", rt.store.String("output/display", ""))
	detector, err := focus.NewDetector(display)
	if err != nil {
		rt.log.Warn("focus tracking disabled", "error", err)
		return
	}
	interval := time.Duration(rt.store.Int("focus/interval_ms", 250)) * time.Millisecond
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	rt.focusLast, _ = detector.Poll()
	stop := make(chan struct{})
	rt.focusCh = detector.WaitForChange(interval, stop)
	rt.registerCleanup(func() {
		close(stop)
		_ = detector.Close()
	})
}

func (rt *Runtime) focusChanged(next focus.State) {
	prev := rt.focusLast
	rt.focusLast = next
	if focus.Lost(prev, next, rt.store.List("focus/classes")) {
		rt.log.Debug("focus changed", "window", next.Window, "title", next.Title)
		rt.releaseAll("focus")
	}
}

func (rt *Runtime) runEventLoop(server *ControlServer) error {
	var serverErrCh <-chan error
	if server != nil {
		serverErrCh = server.Err()
	}
	var changes <-chan struct{}
	var watchErrs <-chan error
	if rt.watcher != nil {
		changes = rt.watcher.Changes()
		watchErrs = rt.watcher.Errors()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	remaining := len(rt.sources)
	for {
		select {
		case ev := <-rt.events:
			rt.dispatch(ev)
		case res := <-rt.sourceDone:
			remaining--
			if res.err != nil {
				rt.log.Error("input device lost", "path", res.source.Path, "error", res.err)
			}
			if n := rt.input.ReleaseAll(); n > 0 {
				rt.log.Warn("released held keys", "count", n, "reason", "device closed")
			}
			if remaining == 0 {
				if res.err != nil {
					return res.err
				}
				return nil
			}
		case req := <-rt.requests:
			req.Reply <- rt.handleCommand(req.Command)
		case <-changes:
			rt.log.Info("config changed, reloading", "path", rt.store.Path())
			_ = rt.reload()
		case next, ok := <-rt.focusCh:
			if !ok {
				rt.focusCh = nil
				continue
			}
			rt.focusChanged(next)
		case err := <-watchErrs:
			rt.log.Warn("config watcher error", "error", err)
		case err, ok := <-serverErrCh:
			if !ok {
				serverErrCh = nil
				continue
			}
			if err != nil {
				return fmt.Errorf("control server: %w", err)
			}
			serverErrCh = nil
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				_ = rt.reload()
			case syscall.SIGUSR1:
				rt.releaseAll("signal")
			default:
				rt.log.Info("shutting down", "signal", sig.String())
				rt.releaseAll("shutdown")
				return nil
			}
		}
	}
}

// dispatch forwards one decoded event. Rejected key events have already
// been logged by the context.
func (rt *Runtime) dispatch(ev device.Event) {
	var err error
	switch ev.Kind {
	case device.KeyEvent:
		err = rt.input.HandleKey(ev.Code, ev.Pressed)
		if errors.Is(err, keymap.ErrSpuriousRelease) || errors.Is(err, keymap.ErrOutOfRangeKey) {
			return
		}
	case device.ButtonEvent:
		err = rt.input.Button(ev.Code, ev.Pressed)
	case device.MotionEvent:
		err = rt.input.Motion(ev.X, ev.Y)
	case device.RelativeMotionEvent:
		err = rt.input.RelativeMotion(ev.X, ev.Y)
	case device.WheelEvent:
		err = rt.input.Wheel(ev.X, ev.Y)
	case device.ResyncEvent:
		rt.releaseAll("resync")
		return
	}
	if err != nil {
		rt.log.Warn("sender rejected event", "kind", ev.Kind, "code", ev.Code, "error", err)
	}
}

func (rt *Runtime) releaseAll(reason string) int {
	n := rt.input.ReleaseAll()
	if n > 0 {
		rt.log.Info("released held keys", "count", n, "reason", reason)
	}
	return n
}

// reload rereads the configuration and keymap. Held keys are released
// first; on failure the previous keymap stays active.
func (rt *Runtime) reload() error {
	path := rt.configPath
	if path == "" && rt.store != nil {
		path = rt.store.Path()
	}
	store := config.Empty()
	if path != "" {
		var err error
		if store, err = config.Load(path); err != nil {
			rt.log.Error("config reload failed, keeping previous keymap", "path", path, "error", err)
			return err
		}
	}
	desc, source, err := ResolveDescription(rt.opts.KeymapPath, store)
	if err != nil {
		rt.log.Error("keymap reload failed, keeping previous keymap", "error", err)
		return err
	}
	rt.releaseAll("reload")
	if err := rt.input.Load(desc, store); err != nil {
		rt.log.Error("keymap reload failed, keeping previous keymap", "error", err)
		return err
	}
	rt.store = store
	rt.syncKeycodeBase()
	rt.log.Info("keymap reloaded", "source", source, "size", rt.input.Size(), "offset", rt.input.Table().Offset())
	return nil
}

func (rt *Runtime) registerCleanup(fn func()) {
	if fn == nil {
		return
	}
	rt.cleanups = append([]func(){fn}, rt.cleanups...)
}

func (rt *Runtime) cleanup() {
	for _, fn := range rt.cleanups {
		fn()
	}
	rt.cleanups = nil
}
