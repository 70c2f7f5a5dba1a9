package column

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colgo/arena"
	"github.com/hupe1980/colgo/spec"
)

// newParentWithSubtable builds a table with one subtable column whose
// child schema has a single integer column "v".
func newParentWithSubtable(t *testing.T) (*arena.Arena, *Table, *SubtableColumn) {
	t.Helper()
	ar := arena.New()
	sp, err := spec.New(ar)
	require.NoError(t, err)
	require.NoError(t, sp.InsertColumn(0, spec.TypeTable, "rows", spec.AttrNone))
	child, err := sp.GetSubspec(0)
	require.NoError(t, err)
	require.NoError(t, child.InsertColumn(0, spec.TypeInt, "v", spec.AttrNone))
	require.NoError(t, sp.SyncSubspec(0))

	cs, err := CreateColumnSet(ar, sp, testConfig())
	require.NoError(t, err)
	tbl := NewRootTable(cs)

	sc, err := cs.SubtableColumn(0)
	require.NoError(t, err)
	return ar, tbl, sc
}

func TestSubtableColumn_LazyAccessor(t *testing.T) {
	_, tbl, sc := newParentWithSubtable(t)
	_, err := tbl.Columns().AddRow()
	require.NoError(t, err)

	child, err := sc.GetSubtable(0)
	require.NoError(t, err)
	defer child.Release()

	n, err := child.Size()
	require.NoError(t, err)
	assert.Zero(t, n)

	// The slot was materialized.
	ref, err := sc.GetRef(0)
	require.NoError(t, err)
	assert.False(t, ref.IsNull())

	// A second lookup returns the same live accessor.
	again, err := sc.GetSubtable(0)
	require.NoError(t, err)
	assert.Same(t, child, again)
	again.Release()

	require.NoError(t, sc.Verify())
}

func TestSubtableColumn_WriteThroughAccessor(t *testing.T) {
	_, tbl, sc := newParentWithSubtable(t)
	_, err := tbl.Columns().AddRow()
	require.NoError(t, err)

	child, err := sc.GetSubtable(0)
	require.NoError(t, err)
	defer child.Release()

	ic, err := child.Columns().IntColumn(0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		row, err := child.Columns().AddRow()
		require.NoError(t, err)
		require.NoError(t, ic.Set(row, int64(i*11)))
	}

	n, err := child.Size()
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// A fresh accessor over the stored ref sees the rows.
	ref, err := sc.GetRef(0)
	require.NoError(t, err)
	set2, err := LoadColumnSet(sc.ar, sc.childSpec, ref, testConfig())
	require.NoError(t, err)
	n2, err := set2.RowCount()
	require.NoError(t, err)
	assert.Equal(t, 5, n2)
}

func TestSubtableColumn_SetCloneAndRefresh(t *testing.T) {
	ar, tbl, sc := newParentWithSubtable(t)
	_, err := tbl.Columns().AddRow()
	require.NoError(t, err)

	// Live accessor on row 0, initially empty.
	acc, err := sc.GetSubtable(0)
	require.NoError(t, err)
	defer acc.Release()
	n, err := acc.Size()
	require.NoError(t, err)
	require.Zero(t, n)
	v0 := acc.Version()

	// Build a source table with two rows against the same child schema.
	srcSet, err := CreateColumnSet(ar, sc.childSpec, testConfig())
	require.NoError(t, err)
	src := NewRootTable(srcSet)
	for i := 0; i < 2; i++ {
		_, err := srcSet.AddRow()
		require.NoError(t, err)
	}

	require.NoError(t, sc.SetSubtable(0, src))

	// The same accessor observes the new subtable after refresh.
	n, err = acc.Size()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Greater(t, acc.Version(), v0)

	// The clone is independent of the source.
	_, err = srcSet.AddRow()
	require.NoError(t, err)
	n, err = acc.Size()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, sc.Verify())
}

func TestSubtableColumn_SetNullDetachesAccessor(t *testing.T) {
	_, tbl, sc := newParentWithSubtable(t)
	_, err := tbl.Columns().AddRow()
	require.NoError(t, err)

	acc, err := sc.GetSubtable(0)
	require.NoError(t, err)
	defer acc.Release()

	require.NoError(t, sc.SetNull(0))

	assert.False(t, acc.IsAttached())
	_, err = acc.Size()
	require.ErrorIs(t, err, ErrDetached)

	ref, err := sc.GetRef(0)
	require.NoError(t, err)
	assert.True(t, ref.IsNull())
	assert.Nil(t, sc.SubtableAccessor(0))
}

func TestSubtableColumn_MapUniquenessAndPinning(t *testing.T) {
	_, tbl, sc := newParentWithSubtable(t)
	for i := 0; i < 3; i++ {
		_, err := tbl.Columns().AddRow()
		require.NoError(t, err)
	}

	require.Equal(t, 1, tbl.refs, "no children live, parent not pinned")

	a, err := sc.GetSubtable(0)
	require.NoError(t, err)
	require.Equal(t, 2, tbl.refs, "first live child pins the parent accessor")

	b, err := sc.GetSubtable(1)
	require.NoError(t, err)
	require.Equal(t, 2, tbl.refs, "pinning happens once per map, not per child")

	// One entry per row.
	sc.mu.Lock()
	require.Len(t, sc.submap.entries, 2)
	sc.mu.Unlock()

	a.Release()
	require.Equal(t, 2, tbl.refs)
	b.Release()
	require.Equal(t, 1, tbl.refs, "empty map unpins the parent accessor")
}

func TestSubtableColumn_EraseRowAdjustsAccessors(t *testing.T) {
	_, tbl, sc := newParentWithSubtable(t)
	for i := 0; i < 3; i++ {
		_, err := tbl.Columns().AddRow()
		require.NoError(t, err)
	}

	accessor2, err := sc.GetSubtable(2)
	require.NoError(t, err)
	defer accessor2.Release()

	ic, err := accessor2.Columns().IntColumn(0)
	require.NoError(t, err)
	_, err = accessor2.Columns().AddRow()
	require.NoError(t, err)
	require.NoError(t, ic.Set(0, 42))

	require.NoError(t, tbl.Columns().EraseRow(0))

	// The accessor follows its row from index 2 to index 1.
	assert.Equal(t, accessor2, sc.SubtableAccessor(1))
	n, err := accessor2.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, err := ic.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
	require.NoError(t, sc.Verify())
}

func TestSubtableColumn_MoveLastOverMovesAccessor(t *testing.T) {
	_, tbl, sc := newParentWithSubtable(t)
	for i := 0; i < 3; i++ {
		_, err := tbl.Columns().AddRow()
		require.NoError(t, err)
	}

	last, err := sc.GetSubtable(2)
	require.NoError(t, err)
	defer last.Release()
	_, err = last.Columns().AddRow()
	require.NoError(t, err)

	require.NoError(t, tbl.Columns().MoveLastOver(0))

	assert.Equal(t, last, sc.SubtableAccessor(0))
	n, err := tbl.Columns().RowCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	childRows, err := last.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, childRows)
}

func TestSubtableColumn_ClearDetachesEverything(t *testing.T) {
	_, tbl, sc := newParentWithSubtable(t)
	for i := 0; i < 2; i++ {
		_, err := tbl.Columns().AddRow()
		require.NoError(t, err)
	}
	a, err := sc.GetSubtable(0)
	require.NoError(t, err)
	defer a.Release()
	b, err := sc.GetSubtable(1)
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, tbl.Clear())

	assert.False(t, a.IsAttached())
	assert.False(t, b.IsAttached())
	n, err := tbl.Columns().RowCount()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, tbl.refs)
}

func TestSubtableColumn_NestedSubtables(t *testing.T) {
	ar := arena.New()
	sp, err := spec.New(ar)
	require.NoError(t, err)
	require.NoError(t, sp.InsertColumn(0, spec.TypeTable, "outer", spec.AttrNone))
	mid, err := sp.GetSubspec(0)
	require.NoError(t, err)
	require.NoError(t, mid.InsertColumn(0, spec.TypeTable, "inner", spec.AttrNone))
	inner, err := mid.GetSubspec(0)
	require.NoError(t, err)
	require.NoError(t, inner.InsertColumn(0, spec.TypeInt, "v", spec.AttrNone))
	require.NoError(t, mid.SyncSubspec(0))
	require.NoError(t, sp.SyncSubspec(0))

	cs, err := CreateColumnSet(ar, sp, testConfig())
	require.NoError(t, err)
	tbl := NewRootTable(cs)

	_, err = cs.AddRow()
	require.NoError(t, err)
	sc, err := cs.SubtableColumn(0)
	require.NoError(t, err)

	midTbl, err := sc.GetSubtable(0)
	require.NoError(t, err)
	defer midTbl.Release()
	_, err = midTbl.Columns().AddRow()
	require.NoError(t, err)

	midCol, err := midTbl.Columns().SubtableColumn(0)
	require.NoError(t, err)
	innerTbl, err := midCol.GetSubtable(0)
	require.NoError(t, err)
	defer innerTbl.Release()

	ic, err := innerTbl.Columns().IntColumn(0)
	require.NoError(t, err)
	_, err = innerTbl.Columns().AddRow()
	require.NoError(t, err)
	require.NoError(t, ic.Set(0, 7))

	v, err := ic.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	require.NoError(t, tbl.Columns().Verify(context.Background()))
}
