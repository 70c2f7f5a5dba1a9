package column

import (
	"errors"
	"fmt"

	"github.com/hupe1980/colgo/spec"
)

// NPos passed as a row index to the insert family means "append".
const NPos = -1

var (
	// ErrNullNotSupported is returned when null is written into a column
	// that was not created nullable.
	ErrNullNotSupported = errors.New("column: null not supported")

	// ErrDetached is returned when an operation reaches an accessor that
	// has been detached from the underlying node hierarchy.
	ErrDetached = errors.New("column: accessor is detached")
)

// ErrBadKeyIndex reports an enumeration value outside the dictionary,
// found during verification.
type ErrBadKeyIndex struct {
	Row      int
	KeyNdx   int
	KeyCount int
}

func (e *ErrBadKeyIndex) Error() string {
	return fmt.Sprintf("row %d holds key index %d, dictionary has %d keys", e.Row, e.KeyNdx, e.KeyCount)
}

// ErrKindMismatch is returned when an operation requires a different column
// type, e.g. a string write into an integer column.
type ErrKindMismatch struct {
	Expected spec.Type
	Actual   spec.Type
}

func (e *ErrKindMismatch) Error() string {
	return fmt.Sprintf("column is %s, operation requires %s", e.Actual, e.Expected)
}
