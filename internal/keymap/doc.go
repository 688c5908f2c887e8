// Package keymap translates raw key identifiers reported by a local input
// source into the identifiers understood by a modifier/layout engine and a
// remote protocol sender.
//
// A Context owns one generation of state: the engine session built from a
// keymap description, the remap table sized against the engine and the
// configured overrides, and a press counter per raw key. Every key event is
// admitted through the counters, so the sender never observes a release for
// a key it was not told is down. ReleaseAll drains the counters through the
// same path.
//
// A Context is not safe for concurrent use. Reloads and events must be
// delivered from one goroutine.
package keymap
