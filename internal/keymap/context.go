package keymap

import (
	"fmt"
	"log/slog"

	"keybridge/internal/logging"
)

// generation is the state built by one successful Load.
type generation struct {
	session *Session
	table   *Table
	presses *PressState
}

// Context routes raw key and pointer events to a Sender.
type Context struct {
	engine Engine
	sender Sender
	log    *slog.Logger
	gen    *generation
	mods   Modifiers
}

// NewContext returns a context with no keymap loaded. Until Load succeeds
// every key event is out of range.
func NewContext(engine Engine, sender Sender, log *slog.Logger) *Context {
	if log == nil {
		log = logging.Discard()
	}
	return &Context{engine: engine, sender: sender, log: log}
}

// Load builds a new generation from description and cfg and installs it.
// If any step fails the current generation stays in place.
func (c *Context) Load(description string, cfg Config) error {
	session, err := LoadSession(c.engine, description)
	if err != nil {
		return err
	}
	if recv, ok := c.sender.(KeymapReceiver); ok {
		if err := recv.SetKeymap(description); err != nil {
			session.Close()
			return fmt.Errorf("keymap: sender rejected keymap: %w", err)
		}
	}
	table, presses := BuildTable(session.MaxKeyID(), cfg)

	old := c.gen
	c.gen = &generation{session: session, table: table, presses: presses}
	c.mods = session.Modifiers()
	if old != nil {
		old.session.Close()
	}
	c.log.Debug("keymap loaded", "max_key", session.MaxKeyID(), "size", table.Size(), "offset", table.Offset())
	return nil
}

// Close releases the engine session. The context must not be used after.
func (c *Context) Close() {
	if c.gen != nil {
		c.gen.session.Close()
		c.gen = nil
	}
}

// Loaded reports whether a keymap has been installed.
func (c *Context) Loaded() bool { return c.gen != nil }

// Size is the number of raw key identifiers the current table represents.
func (c *Context) Size() int {
	if c.gen == nil {
		return 0
	}
	return c.gen.table.Size()
}

// Pressed returns the outstanding press count for a raw key.
func (c *Context) Pressed(key int) int {
	if c.gen == nil {
		return 0
	}
	return c.gen.presses.Count(key)
}

// Held lists raw keys with outstanding presses.
func (c *Context) Held() []int {
	if c.gen == nil {
		return nil
	}
	return c.gen.presses.Held()
}

// Table exposes the current remap table, or nil before the first Load.
func (c *Context) Table() *Table {
	if c.gen == nil {
		return nil
	}
	return c.gen.table
}

// Modifiers is the engine state recorded after the last tracked key.
func (c *Context) Modifiers() Modifiers { return c.mods }

// HandleKey admits one raw key transition. Releases for keys without an
// outstanding press return ErrSpuriousRelease; keys outside the table are
// logged and return an *OutOfRangeError. Neither touches the counters.
// Admitted events are counted before they are forwarded, so a sender error
// leaves the tracker consistent.
func (c *Context) HandleKey(key int, pressed bool) error {
	if !pressed && c.Pressed(key) == 0 {
		return ErrSpuriousRelease
	}
	if key < 0 || key >= c.Size() {
		c.log.Warn("key outside configured keymap, dropping", "key", key, "size", c.Size())
		return &OutOfRangeError{Key: key, Size: c.Size()}
	}

	gen := c.gen
	if pressed {
		gen.presses.press(key)
	} else {
		gen.presses.release(key)
	}
	mapped, _ := gen.table.Lookup(key)
	c.log.Debug("keycode", "raw", key, "mapped", mapped, "pressed", pressed)

	if gen.session.Tracks(mapped) {
		c.mods = gen.session.Update(mapped, pressed)
		c.log.Debug("modifiers",
			"depressed", fmt.Sprintf("%x", c.mods.Depressed),
			"latched", fmt.Sprintf("%x", c.mods.Latched),
			"locked", fmt.Sprintf("%x", c.mods.Locked),
			"group", c.mods.Group)
	} else {
		c.log.Debug("keycode greater than engine maximum, modifiers not tracked", "mapped", mapped)
	}

	if err := c.sender.SendKey(mapped, pressed); err != nil {
		return fmt.Errorf("send key %d: %w", mapped, err)
	}
	return nil
}

// ReleaseAll synthesizes releases until every counter is zero and returns
// how many were forwarded.
func (c *Context) ReleaseAll() int {
	released := 0
	for key := 0; key < c.Size(); key++ {
		for c.Pressed(key) > 0 {
			c.log.Debug("release all", "key", key, "pressed", c.Pressed(key))
			if err := c.HandleKey(key, false); err != nil {
				c.log.Warn("release all", "key", key, "error", err)
			}
			released++
		}
	}
	return released
}

func (c *Context) Motion(x, y int) error {
	return c.sender.SendMotion(x, y)
}

func (c *Context) RelativeMotion(dx, dy int) error {
	return c.sender.SendRelativeMotion(dx, dy)
}

func (c *Context) Button(id int, pressed bool) error {
	return c.sender.SendButton(id, pressed)
}

func (c *Context) Wheel(dx, dy int) error {
	return c.sender.SendWheel(dx, dy)
}
