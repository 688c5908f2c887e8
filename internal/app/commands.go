package app

import (
	"fmt"
	"strconv"
	"strings"

	"keybridge/internal/modstate"
)

// Control commands understood by handleCommand.
const (
	CommandPing       = "ping"
	CommandState      = "state"
	CommandHeld       = "held"
	CommandReleaseAll = "release-all"
	CommandReload     = "reload"
)

// handleCommand runs one control command on the event loop goroutine and
// returns the single-line response.
func (rt *Runtime) handleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "error empty command"
	}
	switch strings.ToLower(fields[0]) {
	case CommandPing:
		return "ok pong"
	case CommandState:
		mods := rt.input.Modifiers()
		return fmt.Sprintf("ok size=%d held=%d depressed=%s latched=%s locked=%s group=%d",
			rt.input.Size(),
			len(rt.input.Held()),
			modstate.Mask(mods.Depressed),
			modstate.Mask(mods.Latched),
			modstate.Mask(mods.Locked),
			mods.Group)
	case CommandHeld:
		held := rt.input.Held()
		parts := make([]string, 0, len(held))
		for _, key := range held {
			parts = append(parts, strconv.Itoa(key)+":"+strconv.Itoa(rt.input.Pressed(key)))
		}
		return strings.TrimSpace("ok " + strings.Join(parts, " "))
	case CommandReleaseAll:
		return fmt.Sprintf("ok released=%d", rt.releaseAll("control"))
	case CommandReload:
		if err := rt.reload(); err != nil {
			return "error " + err.Error()
		}
		return fmt.Sprintf("ok size=%d", rt.input.Size())
	default:
		return fmt.Sprintf("error unknown command %q", fields[0])
	}
}
