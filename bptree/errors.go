package bptree

import (
	"errors"
	"fmt"
)

// ErrCorrupt is returned by structural verification when a node violates an
// invariant of the tree protocol.
var ErrCorrupt = errors.New("bptree: corrupted structure")

// ErrIndexOutOfRange indicates a row index outside [0, Size).
type ErrIndexOutOfRange struct {
	Index int
	Size  int
}

func (e *ErrIndexOutOfRange) Error() string {
	return fmt.Sprintf("index %d out of range [0, %d)", e.Index, e.Size)
}

func outOfRange(i, size int) error {
	return &ErrIndexOutOfRange{Index: i, Size: size}
}
