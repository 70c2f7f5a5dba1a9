package colgo

import (
	"context"
	"io"

	"github.com/hupe1980/colgo/arena"
	"github.com/hupe1980/colgo/bptree"
	"github.com/hupe1980/colgo/column"
	"github.com/hupe1980/colgo/spec"
)

// Table binds a schema descriptor and a column set under one top block:
// slot 0 holds the spec, slot 1 the columns. It is the entry point for
// snapshots and for the accessor refresh protocol.
type Table struct {
	ar     *arena.Arena
	top    *bptree.RefArray
	sp     *spec.Spec
	inner  *column.Table
	logger *Logger
}

const (
	tableSlotSpec    = 0
	tableSlotColumns = 1
)

// CreateTable creates a table whose schema is built by define.
func CreateTable(ar *arena.Arena, define func(*spec.Spec) error, opts ...Option) (*Table, error) {
	o := applyOptions(opts)

	sp, err := spec.New(ar)
	if err != nil {
		return nil, translateError(err)
	}
	if define != nil {
		if err := define(sp); err != nil {
			return nil, translateError(err)
		}
	}

	cfg := column.Config{MaxLeafSize: o.maxLeafSize, MaxInnerSize: o.maxInnerSize}
	set, err := column.CreateColumnSet(ar, sp, cfg)
	if err != nil {
		return nil, translateError(err)
	}
	set.SetTableNdx(o.tableNdx)

	top, err := bptree.NewRefArray(ar, false)
	if err != nil {
		return nil, translateError(err)
	}
	if err := top.Add(bptree.RefSlot(sp.Ref())); err != nil {
		return nil, translateError(err)
	}
	if err := top.Add(bptree.RefSlot(set.Ref())); err != nil {
		return nil, translateError(err)
	}

	return &Table{
		ar:     ar,
		top:    top,
		sp:     sp,
		inner:  column.NewRootTable(set),
		logger: o.logger,
	}, nil
}

// OpenTable attaches a table accessor to an existing top ref, e.g. one
// recovered from a snapshot.
func OpenTable(ar *arena.Arena, ref arena.Ref, opts ...Option) (*Table, error) {
	o := applyOptions(opts)

	top, err := bptree.LoadRefArray(ar, ref)
	if err != nil {
		return nil, translateError(err)
	}
	specSlot, err := top.Get(tableSlotSpec)
	if err != nil {
		return nil, translateError(err)
	}
	sp, err := spec.Load(ar, specSlot.Ref())
	if err != nil {
		return nil, translateError(err)
	}
	colsSlot, err := top.Get(tableSlotColumns)
	if err != nil {
		return nil, translateError(err)
	}
	cfg := column.Config{MaxLeafSize: o.maxLeafSize, MaxInnerSize: o.maxInnerSize}
	set, err := column.LoadColumnSet(ar, sp, colsSlot.Ref(), cfg)
	if err != nil {
		return nil, translateError(err)
	}
	set.SetTableNdx(o.tableNdx)

	return &Table{
		ar:     ar,
		top:    top,
		sp:     sp,
		inner:  column.NewRootTable(set),
		logger: o.logger,
	}, nil
}

// syncTop writes the current spec and columns refs back into the top
// block; schema mutations can move both.
func (t *Table) syncTop() error {
	if err := t.top.Set(tableSlotSpec, bptree.RefSlot(t.sp.Ref())); err != nil {
		return err
	}
	return t.top.Set(tableSlotColumns, bptree.RefSlot(t.inner.Columns().Ref()))
}

// Ref returns the table's top ref, the entry point of a snapshot.
func (t *Table) Ref() arena.Ref { return t.top.Ref() }

// Spec returns the schema descriptor.
func (t *Table) Spec() *spec.Spec { return t.sp }

// Columns returns the column set.
func (t *Table) Columns() *column.ColumnSet { return t.inner.Columns() }

// Size returns the number of rows.
func (t *Table) Size() (int, error) {
	n, err := t.inner.Size()
	return n, translateError(err)
}

// AddRow appends one default row and returns its index.
func (t *Table) AddRow() (int, error) {
	row, err := t.inner.Columns().AddRow()
	return row, translateError(err)
}

// InsertRows inserts nrows default rows before row.
func (t *Table) InsertRows(row, nrows int) error {
	return translateError(t.inner.Columns().InsertRows(row, nrows))
}

// EraseRow removes row, cascading through strong links first.
func (t *Table) EraseRow(row int) error {
	return translateError(t.inner.Columns().EraseRow(row))
}

// MoveLastOver overwrites row with the last row and truncates.
func (t *Table) MoveLastOver(row int) error {
	return translateError(t.inner.Columns().MoveLastOver(row))
}

// Clear removes every row.
func (t *Table) Clear() error {
	return translateError(t.inner.Clear())
}

// IntColumn returns the integer column at ndx.
func (t *Table) IntColumn(ndx int) (*column.IntColumn, error) {
	c, err := t.inner.Columns().IntColumn(ndx)
	return c, translateError(err)
}

// StringColumn returns the string column at ndx.
func (t *Table) StringColumn(ndx int) (*column.BytesColumn, error) {
	c, err := t.inner.Columns().BytesColumn(ndx)
	return c, translateError(err)
}

// BinaryColumn returns the binary column at ndx.
func (t *Table) BinaryColumn(ndx int) (*column.BytesColumn, error) {
	c, err := t.inner.Columns().BytesColumn(ndx)
	return c, translateError(err)
}

// EnumColumn returns the enumeration column at ndx.
func (t *Table) EnumColumn(ndx int) (*column.EnumColumn, error) {
	c, err := t.inner.Columns().EnumColumn(ndx)
	return c, translateError(err)
}

// SubtableColumn returns the subtable column at ndx.
func (t *Table) SubtableColumn(ndx int) (*column.SubtableColumn, error) {
	c, err := t.inner.Columns().SubtableColumn(ndx)
	return c, translateError(err)
}

// UpgradeStringToEnum rebuilds the string column at ndx with the
// dictionary encoding and records the key list in the spec.
func (t *Table) UpgradeStringToEnum(ndx int) (*column.EnumColumn, error) {
	sc, err := t.inner.Columns().BytesColumn(ndx)
	if err != nil {
		return nil, translateError(err)
	}
	attr, err := t.sp.GetAttr(ndx)
	if err != nil {
		return nil, translateError(err)
	}
	cfg := column.Config{Nullable: attr&spec.AttrNullable != 0}
	ec, err := column.UpgradeStringToEnum(sc, t.sp, ndx, cfg)
	if err != nil {
		return nil, translateError(err)
	}
	t.inner.Columns().ReplaceColumn(ndx, ec)
	return ec, translateError(t.syncTop())
}

// Refresh re-synchronizes every accessor with the ref graph after an
// external commit moved it. The table's own top ref is re-read from ref.
func (t *Table) Refresh(ctx context.Context, ref arena.Ref) error {
	err := t.refresh(ref)
	t.logger.LogRefresh(ctx, t.inner.Columns().ColumnCount(), err)
	return translateError(err)
}

func (t *Table) refresh(ref arena.Ref) error {
	if err := t.top.InitFromRef(ref); err != nil {
		return err
	}
	specSlot, err := t.top.Get(tableSlotSpec)
	if err != nil {
		return err
	}
	if err := t.sp.InitFromRef(specSlot.Ref()); err != nil {
		return err
	}
	colsSlot, err := t.top.Get(tableSlotColumns)
	if err != nil {
		return err
	}
	if err := t.inner.Columns().InitFromRef(colsSlot.Ref()); err != nil {
		return err
	}
	return t.inner.Columns().RefreshAccessorTree()
}

// WriteTo persists the whole arena image, with the table top as the entry
// ref. Search index images are saved into their slots first.
func (t *Table) WriteTo(ctx context.Context, w io.Writer, c arena.Compression) (int64, error) {
	if err := t.inner.Columns().SaveSearchIndexes(); err != nil {
		return 0, translateError(err)
	}
	if err := t.syncTop(); err != nil {
		return 0, translateError(err)
	}
	n, err := t.ar.WriteTo(w, t.top.Ref(), c)
	t.logger.LogSnapshot(ctx, n, err)
	return n, translateError(err)
}

// Verify runs structural verification over the schema and every column.
func (t *Table) Verify(ctx context.Context) error {
	if err := t.sp.Verify(); err != nil {
		return translateError(err)
	}
	return translateError(t.inner.Columns().Verify(ctx))
}

// Close releases the table accessor. The persistent state stays in the
// arena.
func (t *Table) Close() error {
	t.inner.Columns().DiscardChildAccessors()
	t.inner.Release()
	return nil
}
