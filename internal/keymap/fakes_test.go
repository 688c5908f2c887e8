package keymap

import (
	"errors"
	"fmt"

	"keybridge/internal/config"
)

type fakeConfig struct {
	entries []config.Entry
	ints    map[string]int
}

func (f fakeConfig) Section(name string) []config.Entry {
	if name != RawKeymapSection {
		return nil
	}
	return f.entries
}

func (f fakeConfig) Int(path string, def int) int {
	if v, ok := f.ints[path]; ok {
		return v
	}
	return def
}

func overrides(pairs ...string) fakeConfig {
	cfg := fakeConfig{ints: map[string]int{}}
	for i := 0; i+1 < len(pairs); i += 2 {
		cfg.entries = append(cfg.entries, config.Entry{Key: pairs[i], Value: pairs[i+1]})
	}
	return cfg
}

func (f fakeConfig) withOffset(path string, v int) fakeConfig {
	f.ints[path] = v
	return f
}

type keyUpdate struct {
	id      int
	pressed bool
}

// fakeEngine records the lifecycle of everything it hands out.
type fakeEngine struct {
	maxKeyID   int
	failCtx    bool
	failComp   bool
	failState  bool
	closed     []string
	updates    []keyUpdate
	liveStates int
}

func (e *fakeEngine) NewContext() (EngineContext, error) {
	if e.failCtx {
		return nil, errors.New("no context")
	}
	return &fakeEngineContext{engine: e}, nil
}

type fakeEngineContext struct{ engine *fakeEngine }

func (c *fakeEngineContext) Compile(description string) (CompiledKeymap, error) {
	if c.engine.failComp || description == "" {
		return nil, fmt.Errorf("cannot compile %q", description)
	}
	return &fakeKeymap{engine: c.engine}, nil
}

func (c *fakeEngineContext) Close() { c.engine.closed = append(c.engine.closed, "context") }

type fakeKeymap struct{ engine *fakeEngine }

func (k *fakeKeymap) MaxKeyID() int { return k.engine.maxKeyID }

func (k *fakeKeymap) NewState() (State, error) {
	if k.engine.failState {
		return nil, errors.New("no state")
	}
	k.engine.liveStates++
	return &fakeState{engine: k.engine}, nil
}

func (k *fakeKeymap) Close() { k.engine.closed = append(k.engine.closed, "keymap") }

type fakeState struct {
	engine  *fakeEngine
	pressed map[int]bool
}

func (s *fakeState) UpdateKey(id int, pressed bool) {
	s.engine.updates = append(s.engine.updates, keyUpdate{id: id, pressed: pressed})
	if s.pressed == nil {
		s.pressed = make(map[int]bool)
	}
	s.pressed[id] = pressed
}

func (s *fakeState) Serialize() Modifiers {
	var m Modifiers
	if s.pressed[50] {
		m.Depressed |= 1
	}
	return m
}

func (s *fakeState) Close() {
	s.engine.liveStates--
	s.engine.closed = append(s.engine.closed, "state")
}

type sentKey struct {
	id      int
	pressed bool
}

type fakeSender struct {
	keys     []sentKey
	pointer  []string
	keymaps  []string
	failKeys bool
	rejectKM bool
}

func (s *fakeSender) SendKey(id int, pressed bool) error {
	s.keys = append(s.keys, sentKey{id: id, pressed: pressed})
	if s.failKeys {
		return errors.New("link down")
	}
	return nil
}

func (s *fakeSender) SendMotion(x, y int) error {
	s.pointer = append(s.pointer, fmt.Sprintf("motion %d %d", x, y))
	return nil
}

func (s *fakeSender) SendRelativeMotion(dx, dy int) error {
	s.pointer = append(s.pointer, fmt.Sprintf("rel %d %d", dx, dy))
	return nil
}

func (s *fakeSender) SendButton(id int, pressed bool) error {
	s.pointer = append(s.pointer, fmt.Sprintf("button %d %t", id, pressed))
	return nil
}

func (s *fakeSender) SendWheel(dx, dy int) error {
	s.pointer = append(s.pointer, fmt.Sprintf("wheel %d %d", dx, dy))
	return nil
}

func (s *fakeSender) SetKeymap(description string) error {
	if s.rejectKM {
		return errors.New("keymap too large")
	}
	s.keymaps = append(s.keymaps, description)
	return nil
}
