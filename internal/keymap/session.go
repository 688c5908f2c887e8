package keymap

// DefaultDescription is used when the configuration names no keymap.
const DefaultDescription = `xkb_keymap {
	xkb_keycodes  { include "xfree86+aliases(qwerty)" };
	xkb_types     { include "complete" };
	xkb_compat    { include "complete" };
	xkb_symbols   { include "pc+us+inet(evdev)" };
	xkb_geometry  { include "pc(pc105)" };
};`

// Session is a fully initialised engine keymap and its modifier state.
type Session struct {
	ctx      EngineContext
	keymap   CompiledKeymap
	state    State
	maxKeyID int
}

// LoadSession compiles description with engine. On failure every resource
// acquired so far is released in reverse order and no session is returned.
func LoadSession(engine Engine, description string) (*Session, error) {
	if engine == nil {
		return nil, ErrEngineInit
	}
	ctx, err := engine.NewContext()
	if err != nil || ctx == nil {
		return nil, stageError(ErrEngineInit, err)
	}
	km, err := ctx.Compile(description)
	if err != nil || km == nil {
		ctx.Close()
		return nil, stageError(ErrKeymapCompile, err)
	}
	state, err := km.NewState()
	if err != nil || state == nil {
		km.Close()
		ctx.Close()
		return nil, stageError(ErrStateInit, err)
	}
	return &Session{ctx: ctx, keymap: km, state: state, maxKeyID: km.MaxKeyID()}, nil
}

// MaxKeyID is the largest key identifier the engine tracks modifiers for.
func (s *Session) MaxKeyID() int { return s.maxKeyID }

// Tracks reports whether the engine knows id.
func (s *Session) Tracks(id int) bool {
	return id >= 0 && id <= s.maxKeyID
}

// Update feeds a key transition into the engine and returns the resulting
// modifier state.
func (s *Session) Update(id int, pressed bool) Modifiers {
	s.state.UpdateKey(id, pressed)
	return s.state.Serialize()
}

func (s *Session) Modifiers() Modifiers {
	return s.state.Serialize()
}

// Close releases the state, keymap and context.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.state.Close()
	s.keymap.Close()
	s.ctx.Close()
}
