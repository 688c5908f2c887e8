package keymap

import (
	"strconv"
	"strings"

	"keybridge/internal/config"
)

const (
	RawKeymapSection = "raw-keymap"
	RawOffsetKey     = "raw-keymap/offset"
	EngineOffsetKey  = "xkb_key_offset"

	// MaxRawKeyID is the largest identifier accepted from configuration.
	MaxRawKeyID = 0xffff
)

// Config is the configuration capability the remap table is built from.
type Config interface {
	Section(name string) []config.Entry
	Int(path string, def int) int
}

// Table maps raw key identifiers to engine identifiers. Every identifier in
// [0, Size) has exactly one mapping.
type Table struct {
	mapping []int
	offset  int
}

// PressState counts outstanding presses per raw key identifier.
type PressState struct {
	counts []int
}

// BuildTable sizes the table to hold maxKeyID and every numeric key of the
// raw-keymap section, fills it with id+offset and applies the overrides in
// section order. The press state is allocated with the same size.
func BuildTable(maxKeyID int, cfg Config) (*Table, *PressState) {
	size := maxKeyID + 1
	if size < 0 {
		size = 0
	}
	entries := cfg.Section(RawKeymapSection)
	for _, e := range entries {
		local, ok := parseID(e.Key)
		if !ok {
			continue
		}
		if local >= size {
			size = local + 1
		}
	}

	offset := Offset(cfg)
	t := &Table{mapping: make([]int, size), offset: offset}
	for i := range t.mapping {
		t.mapping[i] = i + offset
	}
	ps := &PressState{counts: make([]int, size)}

	for _, e := range entries {
		local, ok := parseID(e.Key)
		if !ok {
			continue
		}
		raw, ok := parseValue(e.Value)
		if !ok {
			continue
		}
		t.mapping[local] = raw + offset
	}
	return t, ps
}

// Offset is the amount added to every mapped identifier:
// raw-keymap/offset plus xkb_key_offset.
func Offset(cfg Config) int {
	return cfg.Int(RawOffsetKey, 0) + cfg.Int(EngineOffsetKey, 0)
}

// parseID accepts integer literals in [0, MaxRawKeyID] with an optional
// base prefix. Keys size the table, so they are bounded.
func parseID(s string) (int, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 0)
	if err != nil || v < 0 || v > MaxRawKeyID {
		return 0, false
	}
	return int(v), true
}

// parseValue accepts any integer literal. Negative values are valid once
// the offset is added.
func parseValue(s string) (int, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 0)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

func (t *Table) Size() int { return len(t.mapping) }

func (t *Table) Offset() int { return t.offset }

// Lookup returns the mapped identifier for a raw key.
func (t *Table) Lookup(key int) (int, bool) {
	if key < 0 || key >= len(t.mapping) {
		return 0, false
	}
	return t.mapping[key], true
}

// Mapping returns a copy of the table contents.
func (t *Table) Mapping() []int {
	out := make([]int, len(t.mapping))
	copy(out, t.mapping)
	return out
}

func (p *PressState) Size() int { return len(p.counts) }

// Count returns the outstanding presses for key; keys outside the state
// always report zero.
func (p *PressState) Count(key int) int {
	if key < 0 || key >= len(p.counts) {
		return 0
	}
	return p.counts[key]
}

func (p *PressState) press(key int) { p.counts[key]++ }

func (p *PressState) release(key int) {
	if p.counts[key] > 0 {
		p.counts[key]--
	}
}

// Held lists the raw keys with outstanding presses in ascending order.
func (p *PressState) Held() []int {
	var held []int
	for key, n := range p.counts {
		if n > 0 {
			held = append(held, key)
		}
	}
	return held
}
