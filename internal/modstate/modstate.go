// Package modstate is the built-in modifier engine. It recognises the
// modifier keys of the evdev-derived xkb keycode set and keeps the
// depressed and locked masks for them. It validates the overall shape of a
// keymap description but does not interpret its sections.
package modstate

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"keybridge/internal/keymap"
)

const (
	// DefaultMaxKeyID is the highest keycode of a standard xkb keymap.
	DefaultMaxKeyID = 255

	// KeycodeOffset is the table offset that turns evdev codes into the
	// keycodes the modifier bindings use.
	KeycodeOffset = 8
)

var (
	errEmpty     = errors.New("empty keymap description")
	errNotKeymap = errors.New("description does not declare xkb_keymap")
	errClosed    = errors.New("engine context closed")

	maximumPattern = regexp.MustCompile(`maximum\s*=\s*(\d+)\s*;`)
)

type binding struct {
	mask    Mask
	locking bool
}

// defaultBindings uses xkb keycodes, i.e. evdev codes plus KeycodeOffset.
var defaultBindings = map[int]binding{
	50:  {mask: Shift},                // LFSH
	62:  {mask: Shift},                // RTSH
	66:  {mask: Lock, locking: true},  // CAPS
	37:  {mask: Control},              // LCTL
	105: {mask: Control},              // RCTL
	64:  {mask: Mod1},                 // LALT
	108: {mask: Mod1},                 // RALT
	77:  {mask: Mod2, locking: true},  // NMLK
	133: {mask: Mod4},                 // LWIN
	134: {mask: Mod4},                 // RWIN
	92:  {mask: Mod5},                 // LVL3
}

type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) NewContext() (keymap.EngineContext, error) {
	return &Context{}, nil
}

type Context struct {
	closed bool
}

// Compile checks description and returns a keymap sized by its keycode
// maximum declarations.
func (c *Context) Compile(description string) (keymap.CompiledKeymap, error) {
	if c.closed {
		return nil, errClosed
	}
	text := strings.TrimSpace(description)
	if text == "" {
		return nil, errEmpty
	}
	if !strings.Contains(text, "xkb_keymap") {
		return nil, errNotKeymap
	}
	if err := checkBraces(text); err != nil {
		return nil, err
	}
	maxKeyID := DefaultMaxKeyID
	if declared, ok := declaredMaximum(text); ok {
		maxKeyID = declared
	}
	return &Keymap{maxKeyID: maxKeyID, bindings: defaultBindings}, nil
}

func (c *Context) Close() { c.closed = true }

func declaredMaximum(text string) (int, bool) {
	found := false
	highest := 0
	for _, m := range maximumPattern.FindAllStringSubmatch(text, -1) {
		v, err := strconv.Atoi(m[1])
		if err != nil || v > keymap.MaxRawKeyID {
			continue
		}
		if !found || v > highest {
			highest = v
			found = true
		}
	}
	return highest, found
}

// checkBraces requires every '{' to be closed, ignoring quoted text.
func checkBraces(text string) error {
	depth := 0
	quoted := false
	line := 1
	for i := 0; i < len(text); i++ {
		switch ch := text[i]; {
		case ch == '\n':
			line++
		case ch == '"':
			quoted = !quoted
		case quoted:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth < 0 {
				return fmt.Errorf("unexpected '}' on line %d", line)
			}
		}
	}
	if quoted {
		return errors.New("unterminated string")
	}
	if depth != 0 {
		return fmt.Errorf("%d unclosed '{'", depth)
	}
	return nil
}

type Keymap struct {
	maxKeyID int
	bindings map[int]binding
}

func (k *Keymap) MaxKeyID() int { return k.maxKeyID }

func (k *Keymap) NewState() (keymap.State, error) {
	return &State{keymap: k, held: make(map[int]Mask)}, nil
}

func (k *Keymap) Close() {}

// State follows modifier keys. Non-modifier keys are accepted and ignored.
type State struct {
	keymap *Keymap
	held   map[int]Mask
	locked Mask
}

func (s *State) UpdateKey(id int, pressed bool) {
	b, ok := s.keymap.bindings[id]
	if !ok {
		return
	}
	if !pressed {
		delete(s.held, id)
		return
	}
	if _, repeat := s.held[id]; repeat {
		return
	}
	s.held[id] = b.mask
	if b.locking {
		s.locked ^= b.mask
	}
}

func (s *State) Serialize() keymap.Modifiers {
	var depressed Mask
	for _, mask := range s.held {
		depressed |= mask
	}
	return keymap.Modifiers{Depressed: uint32(depressed), Locked: uint32(s.locked)}
}

func (s *State) Close() {
	s.held = nil
}

var (
	_ keymap.Engine         = (*Engine)(nil)
	_ keymap.EngineContext  = (*Context)(nil)
	_ keymap.CompiledKeymap = (*Keymap)(nil)
	_ keymap.State          = (*State)(nil)
)
