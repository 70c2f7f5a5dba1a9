package column

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/colgo/arena"
	"github.com/hupe1980/colgo/bptree"
	"github.com/hupe1980/colgo/searchindex"
	"github.com/hupe1980/colgo/spec"
)

// ColumnSet is the collection of columns of one table, laid out in a
// columns block by column index with a stable slot offset. A column with a
// search index owns the immediately following slot, which the refresh
// protocol relies on.
type ColumnSet struct {
	ar  *arena.Arena
	sp  *spec.Spec
	cfg Config

	top  *bptree.RefArray
	cols []Column

	tableNdx int
}

// CreateColumnSet builds the persistent columns block for every column the
// spec describes and returns the attached set.
func CreateColumnSet(ar *arena.Arena, sp *spec.Spec, cfg Config) (*ColumnSet, error) {
	cs := &ColumnSet{ar: ar, sp: sp, cfg: cfg}
	top, err := bptree.NewRefArray(ar, false)
	if err != nil {
		return nil, err
	}
	cs.top = top

	for ndx := 0; ndx < sp.ColumnCount(); ndx++ {
		col, err := cs.createColumn(ndx)
		if err != nil {
			return nil, err
		}
		slot := cs.top.Size()
		if err := cs.top.Add(bptree.RefSlot(col.Ref())); err != nil {
			return nil, err
		}
		col.SetParent(cs, slot)
		cs.cols = append(cs.cols, col)

		indexed, err := cs.columnIndexed(ndx)
		if err != nil {
			return nil, err
		}
		if indexed {
			if err := cs.createIndexFor(col, ndx); err != nil {
				return nil, err
			}
			if err := cs.top.Add(0); err != nil {
				return nil, err
			}
			if err := col.SaveSearchIndex(); err != nil {
				return nil, err
			}
		}
	}
	return cs, nil
}

// LoadColumnSet attaches a set to an existing columns block.
func LoadColumnSet(ar *arena.Arena, sp *spec.Spec, ref arena.Ref, cfg Config) (*ColumnSet, error) {
	cs := &ColumnSet{ar: ar, sp: sp, cfg: cfg}
	top, err := bptree.LoadRefArray(ar, ref)
	if err != nil {
		return nil, err
	}
	cs.top = top

	slot := 0
	for ndx := 0; ndx < sp.ColumnCount(); ndx++ {
		sl, err := top.Get(slot)
		if err != nil {
			return nil, err
		}
		col, err := cs.loadColumn(ndx, sl.Ref())
		if err != nil {
			return nil, err
		}
		col.SetParent(cs, slot)
		cs.cols = append(cs.cols, col)
		slot++

		indexed, err := cs.columnIndexed(ndx)
		if err != nil {
			return nil, err
		}
		if indexed {
			isl, err := top.Get(slot)
			if err != nil {
				return nil, err
			}
			if err := cs.attachIndex(col, ndx, isl.Ref()); err != nil {
				return nil, err
			}
			slot++
		}
	}
	return cs, nil
}

func (cs *ColumnSet) columnIndexed(ndx int) (bool, error) {
	attr, err := cs.sp.GetAttr(ndx)
	if err != nil {
		return false, err
	}
	return attr&spec.AttrIndexed != 0, nil
}

func (cs *ColumnSet) columnConfig(ndx int) (Config, error) {
	attr, err := cs.sp.GetAttr(ndx)
	if err != nil {
		return Config{}, err
	}
	cfg := cs.cfg
	cfg.Nullable = attr&spec.AttrNullable != 0
	return cfg, nil
}

func (cs *ColumnSet) createColumn(ndx int) (Column, error) {
	t, err := cs.sp.GetType(ndx)
	if err != nil {
		return nil, err
	}
	cfg, err := cs.columnConfig(ndx)
	if err != nil {
		return nil, err
	}
	switch t {
	case spec.TypeInt, spec.TypeBool, spec.TypeLink, spec.TypeLinkList, spec.TypeBackLink:
		return NewIntColumn(cs.ar, cfg)
	case spec.TypeString:
		return NewStringColumn(cs.ar, cfg)
	case spec.TypeBinary:
		return NewBytesColumn(cs.ar, cfg)
	case spec.TypeStringEnum:
		keysRef, err := cs.sp.EnumKeysRef(ndx)
		if err != nil {
			return nil, err
		}
		values, err := NewIntColumn(cs.ar, cfg)
		if err != nil {
			return nil, err
		}
		ec, err := LoadEnumColumn(cs.ar, values.Ref(), keysRef, cfg)
		if err != nil {
			return nil, err
		}
		ec.BindSpec(cs.sp, ndx)
		return ec, nil
	case spec.TypeTable:
		return NewSubtableColumn(cs.ar, cfg, cs.sp, ndx)
	}
	return nil, fmt.Errorf("column: unsupported type %s", t)
}

func (cs *ColumnSet) loadColumn(ndx int, ref arena.Ref) (Column, error) {
	t, err := cs.sp.GetType(ndx)
	if err != nil {
		return nil, err
	}
	cfg, err := cs.columnConfig(ndx)
	if err != nil {
		return nil, err
	}
	switch t {
	case spec.TypeInt, spec.TypeBool, spec.TypeLink, spec.TypeLinkList, spec.TypeBackLink:
		return LoadIntColumn(cs.ar, ref, cfg)
	case spec.TypeString:
		return LoadStringColumn(cs.ar, ref, cfg)
	case spec.TypeBinary:
		return LoadBytesColumn(cs.ar, ref, cfg)
	case spec.TypeStringEnum:
		keysRef, err := cs.sp.EnumKeysRef(ndx)
		if err != nil {
			return nil, err
		}
		ec, err := LoadEnumColumn(cs.ar, ref, keysRef, cfg)
		if err != nil {
			return nil, err
		}
		ec.BindSpec(cs.sp, ndx)
		return ec, nil
	case spec.TypeTable:
		return LoadSubtableColumn(cs.ar, ref, cfg, cs.sp, ndx)
	}
	return nil, fmt.Errorf("column: unsupported type %s", t)
}

func (cs *ColumnSet) createIndexFor(col Column, ndx int) error {
	attr, err := cs.sp.GetAttr(ndx)
	if err != nil {
		return err
	}
	unique := attr&spec.AttrUnique != 0
	switch c := col.(type) {
	case *IntColumn:
		_, err = c.CreateSearchIndex(unique)
	case *BytesColumn:
		_, err = c.CreateSearchIndex(unique)
	case *EnumColumn:
		_, err = c.CreateSearchIndex(unique)
	default:
		err = fmt.Errorf("column: type at %d cannot carry a search index", ndx)
	}
	return err
}

func (cs *ColumnSet) attachIndex(col Column, ndx int, ref arena.Ref) error {
	attr, err := cs.sp.GetAttr(ndx)
	if err != nil {
		return err
	}
	unique := attr&spec.AttrUnique != 0
	switch c := col.(type) {
	case *IntColumn:
		ix, err := searchindex.Load(cs.ar, ref, nil, unique)
		if err != nil {
			return err
		}
		c.AttachSearchIndex(ix)
		if ref.IsNull() {
			return ix.Rebuild()
		}
	case *BytesColumn:
		ix, err := searchindex.Load(cs.ar, ref, nil, unique)
		if err != nil {
			return err
		}
		c.AttachSearchIndex(ix)
		if ref.IsNull() {
			return ix.Rebuild()
		}
	case *EnumColumn:
		ix, err := searchindex.Load(cs.ar, ref, nil, unique)
		if err != nil {
			return err
		}
		c.AttachSearchIndex(ix)
		if ref.IsNull() {
			return ix.Rebuild()
		}
	default:
		return fmt.Errorf("column: type at %d cannot carry a search index", ndx)
	}
	return nil
}

// Ref returns the ref of the columns block.
func (cs *ColumnSet) Ref() arena.Ref { return cs.top.Ref() }

// Spec returns the schema descriptor.
func (cs *ColumnSet) Spec() *spec.Spec { return cs.sp }

// Arena returns the arena the set lives in.
func (cs *ColumnSet) Arena() *arena.Arena { return cs.ar }

// SetTableNdx records the group-level table index, used as the first half
// of cascade row keys.
func (cs *ColumnSet) SetTableNdx(ndx int) { cs.tableNdx = ndx }

// TableNdx returns the recorded group-level table index.
func (cs *ColumnSet) TableNdx() int { return cs.tableNdx }

// ColumnCount returns the number of columns.
func (cs *ColumnSet) ColumnCount() int { return len(cs.cols) }

// Column returns the column at the spec index.
func (cs *ColumnSet) Column(ndx int) Column { return cs.cols[ndx] }

// IntColumn returns the integer column at ndx.
func (cs *ColumnSet) IntColumn(ndx int) (*IntColumn, error) {
	c, ok := cs.cols[ndx].(*IntColumn)
	if !ok {
		return nil, cs.kindError(ndx, spec.TypeInt)
	}
	return c, nil
}

// BytesColumn returns the bytes or string column at ndx.
func (cs *ColumnSet) BytesColumn(ndx int) (*BytesColumn, error) {
	c, ok := cs.cols[ndx].(*BytesColumn)
	if !ok {
		return nil, cs.kindError(ndx, spec.TypeBinary)
	}
	return c, nil
}

// EnumColumn returns the enumeration column at ndx.
func (cs *ColumnSet) EnumColumn(ndx int) (*EnumColumn, error) {
	c, ok := cs.cols[ndx].(*EnumColumn)
	if !ok {
		return nil, cs.kindError(ndx, spec.TypeStringEnum)
	}
	return c, nil
}

// SubtableColumn returns the subtable column at ndx.
func (cs *ColumnSet) SubtableColumn(ndx int) (*SubtableColumn, error) {
	c, ok := cs.cols[ndx].(*SubtableColumn)
	if !ok {
		return nil, cs.kindError(ndx, spec.TypeTable)
	}
	return c, nil
}

func (cs *ColumnSet) kindError(ndx int, want spec.Type) error {
	actual, err := cs.sp.GetType(ndx)
	if err != nil {
		return err
	}
	return &ErrKindMismatch{Expected: want, Actual: actual}
}

// ReplaceColumn swaps the accessor at ndx, used by the string-to-enum
// upgrade. The new column must already occupy the same parent slot.
func (cs *ColumnSet) ReplaceColumn(ndx int, col Column) { cs.cols[ndx] = col }

// ChildRef returns the ref stored in the given columns block slot.
func (cs *ColumnSet) ChildRef(ndx int) (arena.Ref, error) {
	sl, err := cs.top.Get(ndx)
	if err != nil {
		return 0, err
	}
	return sl.Ref(), nil
}

// SetChildRef rewrites the given columns block slot.
func (cs *ColumnSet) SetChildRef(ndx int, ref arena.Ref) error {
	return cs.top.Set(ndx, bptree.RefSlot(ref))
}

// RowCount returns the number of rows, zero for a table without columns.
func (cs *ColumnSet) RowCount() (int, error) {
	if len(cs.cols) == 0 {
		return 0, nil
	}
	return cs.cols[0].Size()
}

// InsertRows inserts nrows default rows before row in every column; NPos
// appends.
func (cs *ColumnSet) InsertRows(row, nrows int) error {
	size, err := cs.RowCount()
	if err != nil {
		return err
	}
	if row == NPos {
		row = size
	}
	for _, col := range cs.cols {
		if err := col.InsertRows(row, nrows); err != nil {
			return err
		}
		col.AdjAccInsertRows(row, nrows)
	}
	return nil
}

// AddRow appends one default row.
func (cs *ColumnSet) AddRow() (int, error) {
	size, err := cs.RowCount()
	if err != nil {
		return 0, err
	}
	return size, cs.InsertRows(NPos, 1)
}

// EraseRow removes row from every column, cascading through strong links
// first when the schema has any.
func (cs *ColumnSet) EraseRow(row int) error {
	strong, err := cs.sp.HasStrongLinks()
	if err != nil {
		return err
	}
	if strong {
		state := NewCascadeState()
		state.Add(CascadeRow{TableNdx: cs.tableNdx, RowNdx: row})
		if err := cs.CascadeBreakBacklinksTo(row, state); err != nil {
			return err
		}
	}
	return cs.eraseRowPlain(row)
}

func (cs *ColumnSet) eraseRowPlain(row int) error {
	size, err := cs.RowCount()
	if err != nil {
		return err
	}
	isLast := row == size-1
	for _, col := range cs.cols {
		if err := col.EraseRow(row, isLast); err != nil {
			return err
		}
		col.AdjAccEraseRow(row)
	}
	return nil
}

// MoveLastOver overwrites row with the last row and drops it, in every
// column.
func (cs *ColumnSet) MoveLastOver(row int) error {
	size, err := cs.RowCount()
	if err != nil {
		return err
	}
	last := size - 1
	for _, col := range cs.cols {
		if err := col.MoveLastOver(row, last); err != nil {
			return err
		}
		col.AdjAccMoveOver(last, row)
	}
	return nil
}

// Clear removes every row from every column. state carries the stop
// marker of an enclosing clear; pass nil when none is running.
func (cs *ColumnSet) Clear(state *CascadeState) error {
	strong, err := cs.sp.HasStrongLinks()
	if err != nil {
		return err
	}
	if strong && state != nil {
		n, err := cs.RowCount()
		if err != nil {
			return err
		}
		if err := cs.CascadeBreakBacklinksToAllRows(n, state); err != nil {
			return err
		}
	}
	for _, col := range cs.cols {
		if err := col.Clear(); err != nil {
			return err
		}
		col.AdjAccClearRootTable()
	}
	return nil
}

// CascadeBreakBacklinksTo fans the cascade hook across every column.
func (cs *ColumnSet) CascadeBreakBacklinksTo(row int, state *CascadeState) error {
	for _, col := range cs.cols {
		if err := col.CascadeBreakBacklinksTo(row, state); err != nil {
			return err
		}
	}
	return nil
}

// CascadeBreakBacklinksToAllRows fans the bulk cascade hook across every
// column.
func (cs *ColumnSet) CascadeBreakBacklinksToAllRows(n int, state *CascadeState) error {
	for _, col := range cs.cols {
		if err := col.CascadeBreakBacklinksToAllRows(n, state); err != nil {
			return err
		}
	}
	return nil
}

// MarkRecursive flags every subtable accessor below this set as dirty.
func (cs *ColumnSet) MarkRecursive() {
	for _, col := range cs.cols {
		col.MarkRecursive()
	}
}

// DiscardChildAccessors detaches every live child accessor without
// touching persistent state.
func (cs *ColumnSet) DiscardChildAccessors() {
	for _, col := range cs.cols {
		col.DiscardChildAccessors()
	}
}

// InitFromRef re-attaches the columns block accessor.
func (cs *ColumnSet) InitFromRef(ref arena.Ref) error {
	return cs.top.InitFromRef(ref)
}

// RefreshAccessorTree refreshes every column bottom-up after an external
// commit. The spec accessor must already be refreshed.
func (cs *ColumnSet) RefreshAccessorTree() error {
	slot := 0
	for ndx, col := range cs.cols {
		col.SetNdxInParent(slot)
		if err := col.RefreshAccessorTree(ndx, cs.sp); err != nil {
			return err
		}
		slot++
		indexed, err := cs.columnIndexed(ndx)
		if err != nil {
			return err
		}
		if indexed {
			slot++
		}
	}
	return nil
}

// SaveSearchIndexes persists the image of every attached index into its
// slot. Call before snapshotting the arena.
func (cs *ColumnSet) SaveSearchIndexes() error {
	for _, col := range cs.cols {
		if err := col.SaveSearchIndex(); err != nil {
			return err
		}
	}
	return nil
}

// CloneInto deep-copies the columns block into dst and returns the new
// ref. Search index slots are reset; indexes rebuild on demand.
func (cs *ColumnSet) CloneInto(dst *arena.Arena) (arena.Ref, error) {
	top, err := bptree.NewRefArray(dst, false)
	if err != nil {
		return 0, err
	}
	slot := 0
	for ndx, col := range cs.cols {
		var ref arena.Ref
		switch c := col.(type) {
		case *SubtableColumn:
			ref, err = c.cloneInto(dst)
		default:
			src, err2 := cs.ChildRef(slot)
			if err2 != nil {
				return 0, err2
			}
			ref, err = bptree.CloneDeep(cs.ar, dst, src)
		}
		if err != nil {
			return 0, err
		}
		if err := top.Add(bptree.RefSlot(ref)); err != nil {
			return 0, err
		}
		slot++
		indexed, err := cs.columnIndexed(ndx)
		if err != nil {
			return 0, err
		}
		if indexed {
			if err := top.Add(0); err != nil {
				return 0, err
			}
			slot++
		}
	}
	return top.Ref(), nil
}

// Destroy frees every column and the columns block itself.
func (cs *ColumnSet) Destroy() error {
	for _, col := range cs.cols {
		if err := col.Destroy(); err != nil {
			return err
		}
	}
	cs.top.Destroy()
	cs.cols = nil
	return nil
}

// Verify checks every column concurrently; verification is read-only, so
// fanning out across columns is safe. The first failure cancels the
// remaining verifications.
func (cs *ColumnSet) Verify(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, col := range cs.cols {
		col := col
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return col.Verify()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Row counts must agree across columns.
	if len(cs.cols) > 1 {
		n, err := cs.cols[0].Size()
		if err != nil {
			return err
		}
		for i := 1; i < len(cs.cols); i++ {
			m, err := cs.cols[i].Size()
			if err != nil {
				return err
			}
			if m != n {
				return fmt.Errorf("column: column %d has %d rows, column 0 has %d", i, m, n)
			}
		}
	}
	return nil
}
