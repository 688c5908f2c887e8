package keymap

import (
	"errors"
	"fmt"
)

var (
	ErrEngineInit      = errors.New("keymap: engine context unavailable")
	ErrKeymapCompile   = errors.New("keymap: keymap compilation failed")
	ErrStateInit       = errors.New("keymap: modifier state initialisation failed")
	ErrOutOfRangeKey   = errors.New("keymap: key outside configured keymap")
	ErrSpuriousRelease = errors.New("keymap: release without press")
)

// OutOfRangeError reports a key event for an identifier the current table
// cannot represent.
type OutOfRangeError struct {
	Key  int
	Size int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("keymap: key %d outside configured keymap (size %d)", e.Key, e.Size)
}

func (e *OutOfRangeError) Is(target error) bool { return target == ErrOutOfRangeKey }

// stageError attaches the failing load stage to the underlying cause.
func stageError(stage error, cause error) error {
	if cause == nil {
		return stage
	}
	return fmt.Errorf("%w: %w", stage, cause)
}
