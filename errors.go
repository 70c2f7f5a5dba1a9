package colgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/colgo/arena"
	"github.com/hupe1980/colgo/bptree"
	"github.com/hupe1980/colgo/column"
	"github.com/hupe1980/colgo/searchindex"
)

var (
	// ErrLogic is returned for misuse of the API: writing a string into a
	// non-string column, writing null into a non-nullable column, or
	// violating a documented ordering precondition.
	ErrLogic = errors.New("logic error")

	// ErrAllocation is returned when the arena could not satisfy an
	// allocation during a split, grow or promote.
	ErrAllocation = errors.New("allocation failed")

	// ErrCorrupt is returned by structural verification when the node
	// hierarchy is inconsistent.
	ErrCorrupt = errors.New("corrupted structure")

	// ErrConstraint is returned when a unique search index rejects a
	// duplicate value.
	ErrConstraint = errors.New("constraint violation")
)

// translateError normalizes package-level errors into the four top-level
// error kinds. The original underlying error can be accessed via
// errors.Unwrap / errors.As.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Logic-kind unification.
	var km *column.ErrKindMismatch
	if errors.As(err, &km) {
		return fmt.Errorf("%w: %w", ErrLogic, err)
	}
	if errors.Is(err, column.ErrNullNotSupported) {
		return fmt.Errorf("%w: %w", ErrLogic, err)
	}
	var oor *bptree.ErrIndexOutOfRange
	if errors.As(err, &oor) {
		return fmt.Errorf("%w: %w", ErrLogic, err)
	}

	if errors.Is(err, arena.ErrAllocFailed) {
		return fmt.Errorf("%w: %w", ErrAllocation, err)
	}

	if errors.Is(err, searchindex.ErrDuplicateValue) {
		return fmt.Errorf("%w: %w", ErrConstraint, err)
	}

	if errors.Is(err, bptree.ErrCorrupt) {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	return err
}
