package keymap

// Modifiers is the serialized modifier state reported by an engine after a
// key update.
type Modifiers struct {
	Depressed uint32
	Latched   uint32
	Locked    uint32
	Group     uint32
}

// Engine is the modifier/layout engine capability.
type Engine interface {
	NewContext() (EngineContext, error)
}

// EngineContext compiles keymap descriptions.
type EngineContext interface {
	Compile(description string) (CompiledKeymap, error)
	Close()
}

// CompiledKeymap is a keymap object produced by an engine.
type CompiledKeymap interface {
	// MaxKeyID is the largest key identifier the keymap accepts.
	MaxKeyID() int
	NewState() (State, error)
	Close()
}

// State tracks modifiers and the layout group for one keymap.
type State interface {
	UpdateKey(id int, pressed bool)
	Serialize() Modifiers
	Close()
}

// Sender receives translated events for transmission.
type Sender interface {
	SendKey(id int, pressed bool) error
	SendMotion(x, y int) error
	SendRelativeMotion(dx, dy int) error
	SendButton(id int, pressed bool) error
	SendWheel(dx, dy int) error
}

// KeymapReceiver is implemented by senders that need the keymap description
// each time a new keymap is loaded.
type KeymapReceiver interface {
	SetKeymap(description string) error
}
