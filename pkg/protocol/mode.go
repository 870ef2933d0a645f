package protocol

import (
	"fmt"

	"github.com/codesynq/collab.go/pkg/constants"
)

// Mode is the edit mode of a room.
type Mode string

const (
	// Freestyle lets every member edit concurrently.
	Freestyle Mode = "freestyle"
	// Restricted lets exactly one member, the authority holder, edit.
	Restricted Mode = "restricted"
)

func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", constants.ErrInvalidMode, s)
	}
	return m, nil
}

func (m Mode) Valid() bool {
	return m == Freestyle || m == Restricted
}

// Toggle returns the other mode.
func (m Mode) Toggle() Mode {
	if m == Restricted {
		return Freestyle
	}
	return Restricted
}

func (m Mode) String() string {
	return string(m)
}

// Writable reports whether the member self may edit the document.
// It is true in Freestyle and, in Restricted, only for the authority holder.
func Writable(mode Mode, currentEditor, self string) bool {
	if mode != Restricted {
		return true
	}
	return currentEditor != "" && currentEditor == self
}
