package column

import (
	"fmt"
	"sync"

	"github.com/hupe1980/colgo/arena"
	"github.com/hupe1980/colgo/bptree"
	"github.com/hupe1980/colgo/spec"
)

// SubtableColumn stores child-table column-block refs: each slot is either
// zero (empty subtable) or a ref to the child's columns block. Refs are
// kept as scalars inside integer leaves, so subtree destruction inspects
// the low bit and never follows a tagged value.
//
// The column also keeps a map of live child accessors. The map holds weak
// entries; accessors are reference counted by their users, and releasing
// the last reference re-enters the column through
// childAccessorDestroyed. Map state is guarded by mu; any operation that
// detaches an accessor runs outside the lock for that reason.
type SubtableColumn struct {
	baseColumn
	cfg Config

	sp        *spec.Spec
	specNdx   int
	childSpec *spec.Spec

	// table is the accessor of the owning table; pinned while the map is
	// non-empty. Nil when the column belongs to no live table accessor.
	table *Table

	mu     sync.Mutex
	submap subtableMap
}

// NewSubtableColumn creates an empty subtable column. The child schema is
// the sub-spec registered for this column.
func NewSubtableColumn(ar *arena.Arena, cfg Config, sp *spec.Spec, ndx int) (*SubtableColumn, error) {
	childCfg := cfg
	childCfg.Nullable = false
	tree, err := bptree.New(ar, childCfg.treeConfig(bptree.FamilyInt))
	if err != nil {
		return nil, err
	}
	childSpec, err := sp.GetSubspec(ndx)
	if err != nil {
		return nil, err
	}
	return &SubtableColumn{
		baseColumn: baseColumn{ar: ar, tree: tree},
		cfg:        cfg,
		sp:         sp,
		specNdx:    ndx,
		childSpec:  childSpec,
	}, nil
}

// LoadSubtableColumn attaches a subtable column accessor to an existing
// root.
func LoadSubtableColumn(ar *arena.Arena, ref arena.Ref, cfg Config, sp *spec.Spec, ndx int) (*SubtableColumn, error) {
	childCfg := cfg
	childCfg.Nullable = false
	tree, err := bptree.Load(ar, ref, childCfg.treeConfig(bptree.FamilyInt))
	if err != nil {
		return nil, err
	}
	childSpec, err := sp.GetSubspec(ndx)
	if err != nil {
		return nil, err
	}
	return &SubtableColumn{
		baseColumn: baseColumn{ar: ar, tree: tree},
		cfg:        cfg,
		sp:         sp,
		specNdx:    ndx,
		childSpec:  childSpec,
	}, nil
}

// BindTable registers the owning table accessor, the one pinned while
// child accessors are live.
func (c *SubtableColumn) BindTable(t *Table) { c.table = t }

// SetString fails: a subtable column cannot hold strings.
func (c *SubtableColumn) SetString(int, string) error {
	return &ErrKindMismatch{Expected: spec.TypeString, Actual: spec.TypeTable}
}

// GetRef returns the child columns block ref at row; zero means an empty
// subtable.
func (c *SubtableColumn) GetRef(row int) (arena.Ref, error) {
	v, err := c.tree.Get(row)
	if err != nil {
		return 0, err
	}
	if v.Int&1 != 0 {
		return 0, fmt.Errorf("column: slot %d holds a tagged value, not a subtable ref", row)
	}
	return arena.Ref(v.Int), nil
}

// GetSubtable returns a counted reference to the live accessor of the
// child table at row, creating both the accessor and, for an empty slot,
// the child columns block. The caller must Release the accessor.
func (c *SubtableColumn) GetSubtable(row int) (*Table, error) {
	c.mu.Lock()
	if t := c.submap.find(row); t != nil {
		t.Retain()
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	ref, err := c.GetRef(row)
	if err != nil {
		return nil, err
	}
	if ref.IsNull() {
		set, err := CreateColumnSet(c.ar, c.childSpec, c.cfg)
		if err != nil {
			return nil, err
		}
		ref = set.Ref()
		if err := c.tree.Set(row, bptree.IntValue(int64(ref))); err != nil {
			return nil, err
		}
		if err := c.syncRoot(); err != nil {
			return nil, err
		}
	}

	set, err := LoadColumnSet(c.ar, c.childSpec, ref, c.cfg)
	if err != nil {
		return nil, err
	}
	t := newTable(set)
	t.parent = c
	t.ndxInParent = row

	c.mu.Lock()
	wasEmpty := c.submap.empty()
	c.submap.add(row, t)
	c.mu.Unlock()
	if wasEmpty && c.table != nil {
		c.table.Retain()
	}
	return t, nil
}

// SubtableAccessor returns the live accessor at row without creating one,
// and without taking a reference.
func (c *SubtableColumn) SubtableAccessor(row int) *Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submap.find(row)
}

// SetSubtable clones src's columns block into the arena and stores the new
// ref at row, freeing the previous subtree. A nil src writes the empty
// subtable. A live accessor at row is refreshed onto the new block.
func (c *SubtableColumn) SetSubtable(row int, src *Table) error {
	var ref arena.Ref
	if src != nil {
		var err error
		ref, err = src.set.CloneInto(c.ar)
		if err != nil {
			return err
		}
	}
	if err := c.freeSubtree(row); err != nil {
		return err
	}
	if err := c.tree.Set(row, bptree.IntValue(int64(ref))); err != nil {
		return err
	}
	if err := c.syncRoot(); err != nil {
		return err
	}

	c.mu.Lock()
	t := c.submap.find(row)
	c.mu.Unlock()
	if t != nil {
		if ref.IsNull() {
			c.DiscardSubtableAccessor(row)
			return nil
		}
		return t.refresh(ref)
	}
	return nil
}

// SetNull clears the slot at row, freeing the referenced subtree and
// detaching any live accessor.
func (c *SubtableColumn) SetNull(row int) error {
	if err := c.freeSubtree(row); err != nil {
		return err
	}
	if err := c.tree.Set(row, bptree.IntValue(0)); err != nil {
		return err
	}
	if err := c.syncRoot(); err != nil {
		return err
	}
	c.DiscardSubtableAccessor(row)
	return nil
}

// freeSubtree releases the child columns block referenced at row, if any.
func (c *SubtableColumn) freeSubtree(row int) error {
	ref, err := c.GetRef(row)
	if err != nil {
		return err
	}
	return c.destroyChildBlock(ref)
}

// destroyChildBlock frees a child columns block through a typed accessor:
// nested subtable refs hide behind scalar slots, so a generic deep destroy
// cannot see them.
func (c *SubtableColumn) destroyChildBlock(ref arena.Ref) error {
	if ref.IsNull() {
		return nil
	}
	set, err := LoadColumnSet(c.ar, c.childSpec, ref, c.cfg)
	if err != nil {
		return err
	}
	return set.Destroy()
}

// InsertRows inserts nrows empty subtable slots before row; NPos appends.
func (c *SubtableColumn) InsertRows(row, nrows int) error {
	size, err := c.Size()
	if err != nil {
		return err
	}
	if row == NPos {
		row = size
	}
	for k := 0; k < nrows; k++ {
		if err := c.tree.Insert(row+k, bptree.IntValue(0)); err != nil {
			return err
		}
	}
	return c.syncRoot()
}

// InsertSubtable inserts a clone of src before row; NPos appends.
func (c *SubtableColumn) InsertSubtable(row int, src *Table) error {
	size, err := c.Size()
	if err != nil {
		return err
	}
	if row == NPos {
		row = size
	}
	if err := c.InsertRows(row, 1); err != nil {
		return err
	}
	c.AdjAccInsertRows(row, 1)
	if src == nil {
		return nil
	}
	return c.SetSubtable(row, src)
}

// EraseRow removes the row, freeing its subtree and detaching its
// accessor.
func (c *SubtableColumn) EraseRow(row int, isLast bool) error {
	_ = isLast
	if err := c.freeSubtree(row); err != nil {
		return err
	}
	if err := c.tree.Erase(row); err != nil {
		return err
	}
	return c.syncRoot()
}

// MoveLastOver frees the subtree at row, moves the last slot over it and
// truncates.
func (c *SubtableColumn) MoveLastOver(row, last int) error {
	if err := c.freeSubtree(row); err != nil {
		return err
	}
	v, err := c.tree.Get(last)
	if err != nil {
		return err
	}
	if row != last {
		if err := c.tree.Set(row, v); err != nil {
			return err
		}
	}
	if err := c.tree.Erase(last); err != nil {
		return err
	}
	return c.syncRoot()
}

// Clear frees every referenced subtree and empties the column.
func (c *SubtableColumn) Clear() error {
	if err := c.destroyAllChildBlocks(); err != nil {
		return err
	}
	if err := c.tree.Clear(); err != nil {
		return err
	}
	if err := c.syncRoot(); err != nil {
		return err
	}
	c.AdjAccClearRootTable()
	return nil
}

// Destroy frees every referenced subtree and the column's own tree.
func (c *SubtableColumn) Destroy() error {
	if err := c.destroyAllChildBlocks(); err != nil {
		return err
	}
	return c.baseColumn.Destroy()
}

// destroyAllChildBlocks walks every slot, skipping nulls and tagged
// values, and frees the referenced child blocks.
func (c *SubtableColumn) destroyAllChildBlocks() error {
	var refs []arena.Ref
	err := c.tree.ForEach(func(_ int, v bptree.Value) bool {
		if v.Int != 0 && v.Int&1 == 0 {
			refs = append(refs, arena.Ref(v.Int))
		}
		return true
	})
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := c.destroyChildBlock(ref); err != nil {
			return err
		}
	}
	return nil
}

// cloneInto copies the column into dst: the slot tree is rebuilt and every
// referenced child block deep-copied.
func (c *SubtableColumn) cloneInto(dst *arena.Arena) (arena.Ref, error) {
	childCfg := c.cfg
	childCfg.Nullable = false
	out, err := bptree.New(dst, childCfg.treeConfig(bptree.FamilyInt))
	if err != nil {
		return 0, err
	}
	size, err := c.Size()
	if err != nil {
		return 0, err
	}
	for row := 0; row < size; row++ {
		v, err := c.tree.Get(row)
		if err != nil {
			return 0, err
		}
		slot := int64(0)
		if v.Int != 0 && v.Int&1 == 0 {
			// Clone through a typed accessor so nested subtable blocks
			// are copied, not shared.
			childSet, err := LoadColumnSet(c.ar, c.childSpec, arena.Ref(v.Int), c.cfg)
			if err != nil {
				return 0, err
			}
			child, err := childSet.CloneInto(dst)
			if err != nil {
				return 0, err
			}
			slot = int64(child)
		}
		if err := out.Insert(row, bptree.IntValue(slot)); err != nil {
			return 0, err
		}
	}
	return out.Ref(), nil
}

// childAccessorDestroyed is the re-entry point: the last counted reference
// of a child accessor was released. Must not be called with mu held.
func (c *SubtableColumn) childAccessorDestroyed(t *Table) {
	c.mu.Lock()
	removed := c.submap.remove(t)
	becameEmpty := removed && c.submap.empty()
	c.mu.Unlock()
	if becameEmpty && c.table != nil {
		c.table.Release()
	}
}

// DiscardSubtableAccessor detaches and drops the accessor at row, if any.
// Persistent state is untouched.
func (c *SubtableColumn) DiscardSubtableAccessor(row int) {
	c.mu.Lock()
	t := c.submap.take(row)
	becameEmpty := t != nil && c.submap.empty()
	c.mu.Unlock()
	if t == nil {
		return
	}
	// Hold a transient counted reference while detaching.
	t.Retain()
	t.detach()
	t.Release()
	if becameEmpty && c.table != nil {
		c.table.Release()
	}
}

// DiscardChildAccessors detaches every live child accessor.
func (c *SubtableColumn) DiscardChildAccessors() {
	c.mu.Lock()
	tables := c.submap.takeAll()
	hadEntries := len(tables) > 0
	c.mu.Unlock()
	for _, t := range tables {
		t.Retain()
		t.detach()
		t.Release()
	}
	if hadEntries && c.table != nil {
		c.table.Release()
	}
}

// Accessor adjustment hooks.

func (c *SubtableColumn) AdjAccInsertRows(row, n int) {
	c.mu.Lock()
	c.submap.adjInsertRows(row, n)
	c.mu.Unlock()
}

func (c *SubtableColumn) AdjAccEraseRow(row int) {
	c.DiscardSubtableAccessor(row)
	c.mu.Lock()
	c.submap.adjEraseRow(row)
	c.mu.Unlock()
}

func (c *SubtableColumn) AdjAccMoveOver(from, to int) {
	c.DiscardSubtableAccessor(to)
	c.mu.Lock()
	c.submap.adjMoveOver(from, to)
	c.mu.Unlock()
}

func (c *SubtableColumn) AdjAccClearRootTable() {
	c.DiscardChildAccessors()
}

// MarkRecursive flags every live child accessor dirty, recursively.
func (c *SubtableColumn) MarkRecursive() {
	c.mu.Lock()
	tables := make([]*Table, 0, len(c.submap.entries))
	for _, e := range c.submap.entries {
		tables = append(tables, e.table)
	}
	c.mu.Unlock()
	for _, t := range tables {
		t.Mark()
	}
}

// RefreshAccessorTree re-attaches the column and walks the accessor map in
// reverse, since entries can drop out while accessors are refreshed: each
// live child gets its parent index reasserted; marked children refresh
// fully and bump their version, the rest re-attach their schema only.
func (c *SubtableColumn) RefreshAccessorTree(colNdx int, sp *spec.Spec) error {
	if err := c.refreshFromParent(); err != nil {
		return err
	}
	c.sp = sp
	c.specNdx = colNdx
	childSpec, err := sp.GetSubspec(colNdx)
	if err != nil {
		return err
	}
	c.childSpec = childSpec

	c.mu.Lock()
	entries := make([]submapEntry, len(c.submap.entries))
	copy(entries, c.submap.entries)
	c.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		e.table.Retain()
		e.table.setNdxInParent(e.row)
		if e.table.marked {
			ref, err := c.GetRef(e.row)
			if err != nil {
				e.table.Release()
				return err
			}
			if err := e.table.refresh(ref); err != nil {
				e.table.Release()
				return err
			}
		} else {
			if err := e.table.refreshSpec(); err != nil {
				e.table.Release()
				return err
			}
		}
		e.table.Release()
	}
	return nil
}

// CascadeBreakBacklinksTo forwards the cascade into the child table at
// row, unless the enclosing clear's stop marker names it.
func (c *SubtableColumn) CascadeBreakBacklinksTo(row int, state *CascadeState) error {
	c.mu.Lock()
	t := c.submap.find(row)
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	if state.StopOnTable == t {
		return nil
	}
	n, err := t.Size()
	if err != nil {
		return err
	}
	return t.set.CascadeBreakBacklinksToAllRows(n, state)
}

// CascadeBreakBacklinksToAllRows forwards the bulk cascade into every live
// child accessor.
func (c *SubtableColumn) CascadeBreakBacklinksToAllRows(nrows int, state *CascadeState) error {
	c.mu.Lock()
	entries := make([]submapEntry, len(c.submap.entries))
	copy(entries, c.submap.entries)
	c.mu.Unlock()
	for _, e := range entries {
		if e.row >= nrows {
			continue
		}
		if state.StopOnTable == e.table {
			continue
		}
		n, err := e.table.Size()
		if err != nil {
			return err
		}
		if err := e.table.set.CascadeBreakBacklinksToAllRows(n, state); err != nil {
			return err
		}
	}
	return nil
}

// Verify additionally checks the map invariant: at most one live accessor
// per row, each within bounds.
func (c *SubtableColumn) Verify() error {
	if err := c.baseColumn.Verify(); err != nil {
		return err
	}
	size, err := c.Size()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[int]bool, len(c.submap.entries))
	for _, e := range c.submap.entries {
		if e.row < 0 || e.row >= size {
			return fmt.Errorf("column: accessor mapped at row %d, column has %d rows", e.row, size)
		}
		if seen[e.row] {
			return fmt.Errorf("column: two live accessors mapped at row %d", e.row)
		}
		seen[e.row] = true
	}
	return nil
}
