package modstate

import (
	"strconv"
	"strings"
)

// Mask is a set of the eight core modifiers.
type Mask uint32

const (
	Shift Mask = 1 << iota
	Lock
	Control
	Mod1
	Mod2
	Mod3
	Mod4
	Mod5
)

var maskNames = []string{"Shift", "Lock", "Control", "Mod1", "Mod2", "Mod3", "Mod4", "Mod5"}

func (m Mask) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	for i, name := range maskNames {
		if m&(1<<uint(i)) != 0 {
			parts = append(parts, name)
		}
	}
	if rest := m >> uint(len(maskNames)); rest != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(rest<<uint(len(maskNames))), 16))
	}
	return strings.Join(parts, "+")
}
