package column

import (
	"sync"

	"github.com/hupe1980/colgo/arena"
)

// Table is the accessor of a child table stored in a subtable column slot.
// It is reference counted: the subtable column keeps only a weak entry in
// its accessor map, while users hold counted references. Releasing the
// last reference notifies the column, which drops the map entry and, when
// the map empties, unpins the parent accessor.
type Table struct {
	set *ColumnSet

	parent      *SubtableColumn // nil for root tables
	ndxInParent int             // row index in the parent column

	refMu    sync.Mutex
	refs     int
	attached bool

	marked  bool
	version uint64
}

func newTable(set *ColumnSet) *Table {
	return &Table{set: set, attached: true, refs: 1}
}

// NewRootTable wraps a column set that is not itself stored in a subtable
// column, e.g. a group-level table. The caller owns the initial reference.
func NewRootTable(set *ColumnSet) *Table {
	t := newTable(set)
	for i := 0; i < set.ColumnCount(); i++ {
		if sc, ok := set.Column(i).(*SubtableColumn); ok {
			sc.BindTable(t)
		}
	}
	return t
}

// Clear removes every row of the table. A cascade state carrying this
// table as the stop marker guards against re-entry while strong links are
// broken.
func (t *Table) Clear() error {
	state := NewCascadeState()
	state.StopOnTable = t
	return t.set.Clear(state)
}

// Columns returns the table's column set.
func (t *Table) Columns() *ColumnSet { return t.set }

// Ref returns the ref of the table's columns block.
func (t *Table) Ref() arena.Ref { return t.set.Ref() }

// Size returns the number of rows.
func (t *Table) Size() (int, error) {
	if !t.IsAttached() {
		return 0, ErrDetached
	}
	return t.set.RowCount()
}

// Version counts structural refreshes; queries use it to invalidate
// cached state.
func (t *Table) Version() uint64 { return t.version }

// IsAttached reports whether the accessor is still bound to the node
// hierarchy.
func (t *Table) IsAttached() bool {
	t.refMu.Lock()
	defer t.refMu.Unlock()
	return t.attached
}

// Retain takes a counted reference.
func (t *Table) Retain() {
	t.refMu.Lock()
	t.refs++
	t.refMu.Unlock()
}

// Release drops a counted reference. When the last one goes, the parent
// column is notified; the accessor may be gone upon return.
func (t *Table) Release() {
	t.refMu.Lock()
	t.refs--
	zero := t.refs == 0
	t.refMu.Unlock()
	if zero && t.parent != nil {
		t.parent.childAccessorDestroyed(t)
	}
}

func (t *Table) detach() {
	t.refMu.Lock()
	t.attached = false
	t.refMu.Unlock()
}

func (t *Table) setNdxInParent(row int) { t.ndxInParent = row }

// Mark flags the accessor as needing a full refresh, recursively.
func (t *Table) Mark() {
	t.marked = true
	t.set.MarkRecursive()
}

// refresh re-attaches the accessor to a (possibly new) columns block and
// refreshes the column subtree.
func (t *Table) refresh(ref arena.Ref) error {
	if err := t.set.InitFromRef(ref); err != nil {
		return err
	}
	if err := t.set.RefreshAccessorTree(); err != nil {
		return err
	}
	t.marked = false
	t.version++
	return nil
}

// refreshSpec re-attaches only the schema accessor; the column trees are
// known to be in correspondence already.
func (t *Table) refreshSpec() error {
	return t.set.Spec().InitFromRef(t.set.Spec().Ref())
}
