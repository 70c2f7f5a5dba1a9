package column

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colgo/arena"
	"github.com/hupe1980/colgo/bptree"
	"github.com/hupe1980/colgo/searchindex"
	"github.com/hupe1980/colgo/spec"
)

func testConfig() Config {
	return Config{MaxLeafSize: 4, MaxInnerSize: 4}
}

func TestIntColumn_RoundTrip(t *testing.T) {
	ar := arena.New()
	c, err := NewIntColumn(ar, testConfig())
	require.NoError(t, err)

	require.NoError(t, c.Insert(0, 10, 1))
	require.NoError(t, c.Insert(1, 20, 1))
	require.NoError(t, c.Insert(1, 15, 1))

	size, err := c.Size()
	require.NoError(t, err)
	require.Equal(t, 3, size)

	for i, want := range []int64{10, 15, 20} {
		v, err := c.Get(i)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	require.NoError(t, c.Verify())
}

func TestIntColumn_SizePreservation(t *testing.T) {
	ar := arena.New()
	c, err := NewIntColumn(ar, testConfig())
	require.NoError(t, err)

	logical := 0
	for i := 0; i < 100; i++ {
		require.NoError(t, c.Add(int64(i)))
		logical++
	}
	for i := 0; i < 30; i++ {
		require.NoError(t, c.EraseRow(0, false))
		logical--
	}
	size, err := c.Size()
	require.NoError(t, err)
	require.Equal(t, logical, size)

	require.NoError(t, c.MoveLastOver(0, size-1))
	logical--
	size, err = c.Size()
	require.NoError(t, err)
	assert.Equal(t, logical, size)
	require.NoError(t, c.Verify())
}

func TestIntColumn_Aggregates(t *testing.T) {
	ar := arena.New()
	c, err := NewIntColumn(ar, testConfig())
	require.NoError(t, err)
	for _, v := range []int64{4, -2, 9, 9, 0} {
		require.NoError(t, c.Add(v))
	}

	sum, err := c.Sum()
	require.NoError(t, err)
	assert.Equal(t, int64(20), sum)

	min, ok, err := c.Min()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(-2), min)

	max, ok, err := c.Max()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(9), max)

	avg, ok, err := c.Average()
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 4.0, avg, 1e-9)

	n, err := c.Count(9)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	row, err := c.FindFirst(9)
	require.NoError(t, err)
	assert.Equal(t, 2, row)

	rows, err := c.FindAll(9)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, rows)
}

func TestIntColumn_NullableAggregatesSkipNull(t *testing.T) {
	ar := arena.New()
	cfg := testConfig()
	cfg.Nullable = true
	c, err := NewIntColumn(ar, cfg)
	require.NoError(t, err)
	require.NoError(t, c.Add(5))
	require.NoError(t, c.InsertRows(NPos, 1)) // null default
	require.NoError(t, c.Add(7))

	null, err := c.IsNull(1)
	require.NoError(t, err)
	require.True(t, null)

	sum, err := c.Sum()
	require.NoError(t, err)
	assert.Equal(t, int64(12), sum)

	avg, ok, err := c.Average()
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 6.0, avg, 1e-9)
}

func TestIntColumn_NullRejectedWhenNotNullable(t *testing.T) {
	ar := arena.New()
	c, err := NewIntColumn(ar, testConfig())
	require.NoError(t, err)
	require.NoError(t, c.Add(1))

	require.ErrorIs(t, c.SetNull(0), ErrNullNotSupported)
}

func TestIntColumn_IndexedMutationsStayConsistent(t *testing.T) {
	ar := arena.New()
	c, err := NewIntColumn(ar, testConfig())
	require.NoError(t, err)
	_, err = c.CreateSearchIndex(false)
	require.NoError(t, err)

	for _, v := range []int64{10, 20, 10, 30} {
		require.NoError(t, c.Add(v))
	}
	require.NoError(t, c.Insert(1, 10, 1)) // middle insert shifts index rows

	row, err := c.FindFirst(10)
	require.NoError(t, err)
	assert.Equal(t, 0, row)
	n, err := c.Count(10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, c.Set(0, 99))
	row, err = c.FindFirst(10)
	require.NoError(t, err)
	assert.Equal(t, 1, row)

	require.NoError(t, c.EraseRow(0, false))
	row, err = c.FindFirst(99)
	require.NoError(t, err)
	assert.Equal(t, searchindex.NotFound, row)

	require.NoError(t, c.Verify())
}

func TestIntColumn_UniqueIndexRejectsBeforeMutation(t *testing.T) {
	ar := arena.New()
	c, err := NewIntColumn(ar, testConfig())
	require.NoError(t, err)
	_, err = c.CreateSearchIndex(true)
	require.NoError(t, err)

	require.NoError(t, c.Add(1))
	err = c.Add(1)
	require.ErrorIs(t, err, searchindex.ErrDuplicateValue)

	size, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, size, "failed insert must not mutate the column")
	require.NoError(t, c.Verify())
}

func TestIntColumn_AdjustAndBounds(t *testing.T) {
	ar := arena.New()
	c, err := NewIntColumn(ar, testConfig())
	require.NoError(t, err)
	for _, v := range []int64{1, 3, 5, 7} {
		require.NoError(t, c.Add(v))
	}
	require.NoError(t, c.AdjustAll(1))
	require.NoError(t, c.AdjustGE(6, 10))
	require.NoError(t, c.Adjust(0, -2))

	want := []int64{0, 4, 16, 18}
	for i, w := range want {
		v, err := c.Get(i)
		require.NoError(t, err)
		assert.Equal(t, w, v)
	}

	lb, err := c.LowerBound(4)
	require.NoError(t, err)
	assert.Equal(t, 1, lb)
	ub, err := c.UpperBound(16)
	require.NoError(t, err)
	assert.Equal(t, 3, ub)
}

func TestBytesColumn_LeafPromotion(t *testing.T) {
	ar := arena.New()
	c, err := NewStringColumn(ar, testConfig())
	require.NoError(t, err)

	require.NoError(t, c.AddString("x"))
	require.NoError(t, c.AddString("y"))

	kind, err := c.LeafKindAt(0)
	require.NoError(t, err)
	require.Equal(t, bptree.KindSmall, kind)

	big := make([]byte, 80)
	for i := range big {
		big[i] = 'z'
	}
	require.NoError(t, c.Set(0, big))

	kind, err = c.LeafKindAt(0)
	require.NoError(t, err)
	assert.Equal(t, bptree.KindBig, kind)

	v, err := c.GetString(1)
	require.NoError(t, err)
	assert.Equal(t, "y", v)
	require.NoError(t, c.Verify())
}

func TestBytesColumn_NullDistinctFromEmpty(t *testing.T) {
	ar := arena.New()
	cfg := testConfig()
	cfg.Nullable = true
	c, err := NewBytesColumn(ar, cfg)
	require.NoError(t, err)

	require.NoError(t, c.Add(nil))
	require.NoError(t, c.SetNull(0))
	null, err := c.IsNull(0)
	require.NoError(t, err)
	assert.True(t, null)

	require.NoError(t, c.Set(0, []byte{}))
	null, err = c.IsNull(0)
	require.NoError(t, err)
	assert.False(t, null)
}

func TestBytesColumn_MoveLastOverWithIndex(t *testing.T) {
	ar := arena.New()
	c, err := NewStringColumn(ar, testConfig())
	require.NoError(t, err)
	_, err = c.CreateSearchIndex(false)
	require.NoError(t, err)

	require.NoError(t, c.AddString("a"))
	require.NoError(t, c.AddString("b"))
	require.NoError(t, c.AddString("c"))

	require.NoError(t, c.MoveLastOver(0, 2))

	size, err := c.Size()
	require.NoError(t, err)
	require.Equal(t, 2, size)

	v, err := c.GetString(0)
	require.NoError(t, err)
	assert.Equal(t, "c", v)
	v, err = c.GetString(1)
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	row, err := c.FindFirstString("a")
	require.NoError(t, err)
	assert.Equal(t, searchindex.NotFound, row)
	row, err = c.FindFirstString("c")
	require.NoError(t, err)
	assert.Equal(t, 0, row)
	row, err = c.FindFirstString("b")
	require.NoError(t, err)
	assert.Equal(t, 1, row)

	require.NoError(t, c.Verify())
}

func TestBytesColumn_ClearResetsLeafKind(t *testing.T) {
	ar := arena.New()
	c, err := NewBytesColumn(ar, testConfig())
	require.NoError(t, err)
	require.NoError(t, c.Add(make([]byte, 200)))

	kind, err := c.LeafKindAt(0)
	require.NoError(t, err)
	require.Equal(t, bptree.KindBig, kind)

	require.NoError(t, c.Clear())
	size, err := c.Size()
	require.NoError(t, err)
	require.Zero(t, size)

	require.NoError(t, c.Add([]byte("s")))
	kind, err = c.LeafKindAt(0)
	require.NoError(t, err)
	assert.Equal(t, bptree.KindSmall, kind)
}

func TestEnumColumn_KeyReuse(t *testing.T) {
	ar := arena.New()
	c, err := NewEnumColumn(ar, testConfig())
	require.NoError(t, err)

	require.NoError(t, c.AddString("red"))
	require.NoError(t, c.AddString("green"))
	require.NoError(t, c.AddString("red"))

	n, err := c.KeyCount()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	k0, err := c.GetKey(0)
	require.NoError(t, err)
	assert.Equal(t, "red", k0)
	k1, err := c.GetKey(1)
	require.NoError(t, err)
	assert.Equal(t, "green", k1)

	for row, want := range []int{0, 1, 0} {
		ndx, err := c.KeyIndexAt(row)
		require.NoError(t, err)
		assert.Equal(t, want, ndx, "row %d", row)
	}
	require.NoError(t, c.Verify())
}

func TestEnumColumn_ClearKeepsKeys(t *testing.T) {
	ar := arena.New()
	c, err := NewEnumColumn(ar, testConfig())
	require.NoError(t, err)
	require.NoError(t, c.AddString("alpha"))
	require.NoError(t, c.AddString("beta"))

	require.NoError(t, c.Clear())

	size, err := c.Size()
	require.NoError(t, err)
	assert.Zero(t, size)

	n, err := c.KeyCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the dictionary is never compacted")

	// Re-adding an old value reuses its key index.
	require.NoError(t, c.AddString("beta"))
	ndx, err := c.KeyIndexAt(0)
	require.NoError(t, err)
	assert.Equal(t, 1, ndx)
}

func TestEnumColumn_SwapRows(t *testing.T) {
	ar := arena.New()
	c, err := NewEnumColumn(ar, testConfig())
	require.NoError(t, err)
	_, err = c.CreateSearchIndex(false)
	require.NoError(t, err)

	require.NoError(t, c.AddString("x"))
	require.NoError(t, c.AddString("y"))
	require.NoError(t, c.SwapRows(0, 1))

	v, err := c.GetString(0)
	require.NoError(t, err)
	assert.Equal(t, "y", v)
	v, err = c.GetString(1)
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	row, err := c.FindFirst("x")
	require.NoError(t, err)
	assert.Equal(t, 1, row)
	require.NoError(t, c.Verify())

	// Same key on both rows is a no-op.
	require.NoError(t, c.SetString(0, "x"))
	require.NoError(t, c.SwapRows(0, 1))
	v, err = c.GetString(0)
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestEnumColumn_FindTranslatesThroughKeys(t *testing.T) {
	ar := arena.New()
	c, err := NewEnumColumn(ar, testConfig())
	require.NoError(t, err)
	for _, v := range []string{"a", "b", "a", "c", "b", "a"} {
		require.NoError(t, c.AddString(v))
	}

	rows, err := c.FindAll("a")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 5}, rows)

	n, err := c.Count("b")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	row, err := c.FindFirst("zz")
	require.NoError(t, err)
	assert.Equal(t, searchindex.NotFound, row)
}

func TestEnumColumn_NullRejectedWhenNotNullable(t *testing.T) {
	ar := arena.New()
	c, err := NewEnumColumn(ar, testConfig())
	require.NoError(t, err)
	require.NoError(t, c.AddString("v"))
	require.ErrorIs(t, c.SetNull(0), ErrNullNotSupported)
}

func TestCascadeState_OrderAndDedupe(t *testing.T) {
	s := NewCascadeState()
	assert.True(t, s.Add(CascadeRow{TableNdx: 1, RowNdx: 5}))
	assert.True(t, s.Add(CascadeRow{TableNdx: 0, RowNdx: 3}))
	assert.False(t, s.Add(CascadeRow{TableNdx: 1, RowNdx: 5}))
	assert.True(t, s.Add(CascadeRow{TableNdx: 0, RowNdx: 2}))

	want := []CascadeRow{
		{TableNdx: 0, RowNdx: 2},
		{TableNdx: 0, RowNdx: 3},
		{TableNdx: 1, RowNdx: 5},
	}
	assert.Equal(t, want, s.Rows())
	assert.True(t, s.Contains(CascadeRow{TableNdx: 0, RowNdx: 3}))
	assert.False(t, s.Contains(CascadeRow{TableNdx: 2, RowNdx: 0}))
}

func TestColumnSet_RowOperations(t *testing.T) {
	ar := arena.New()
	sp, err := spec.New(ar)
	require.NoError(t, err)
	require.NoError(t, sp.InsertColumn(0, spec.TypeInt, "n", spec.AttrNone))
	require.NoError(t, sp.InsertColumn(1, spec.TypeString, "s", spec.AttrIndexed))

	cs, err := CreateColumnSet(ar, sp, testConfig())
	require.NoError(t, err)

	ic, err := cs.IntColumn(0)
	require.NoError(t, err)
	sc, err := cs.BytesColumn(1)
	require.NoError(t, err)
	require.True(t, sc.HasSearchIndex())

	for i := 0; i < 10; i++ {
		row, err := cs.AddRow()
		require.NoError(t, err)
		require.NoError(t, ic.Set(row, int64(i)))
		require.NoError(t, sc.SetString(row, string(rune('a'+i))))
	}

	require.NoError(t, cs.EraseRow(0))
	n, err := cs.RowCount()
	require.NoError(t, err)
	require.Equal(t, 9, n)

	v, err := ic.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	require.NoError(t, cs.MoveLastOver(0))
	v, err = ic.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(9), v)

	require.NoError(t, cs.Verify(context.Background()))

	require.NoError(t, cs.Clear(nil))
	n, err = cs.RowCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestColumnSet_KindMismatch(t *testing.T) {
	ar := arena.New()
	sp, err := spec.New(ar)
	require.NoError(t, err)
	require.NoError(t, sp.InsertColumn(0, spec.TypeInt, "n", spec.AttrNone))

	cs, err := CreateColumnSet(ar, sp, testConfig())
	require.NoError(t, err)

	_, err = cs.BytesColumn(0)
	var km *ErrKindMismatch
	require.ErrorAs(t, err, &km)
	assert.Equal(t, spec.TypeInt, km.Actual)
}

func TestColumn_SetStringOnNonStringColumn(t *testing.T) {
	ar := arena.New()
	c, err := NewIntColumn(ar, testConfig())
	require.NoError(t, err)
	require.NoError(t, c.Add(1))

	var col Column = c
	err = col.SetString(0, "nope")
	var km *ErrKindMismatch
	require.ErrorAs(t, err, &km)
	assert.Equal(t, spec.TypeString, km.Expected)
	assert.Equal(t, spec.TypeInt, km.Actual)
}

func TestColumnSet_LoadRoundTrip(t *testing.T) {
	ar := arena.New()
	sp, err := spec.New(ar)
	require.NoError(t, err)
	require.NoError(t, sp.InsertColumn(0, spec.TypeInt, "n", spec.AttrIndexed))
	require.NoError(t, sp.InsertColumn(1, spec.TypeBinary, "b", spec.AttrNullable))

	cs, err := CreateColumnSet(ar, sp, testConfig())
	require.NoError(t, err)

	ic, err := cs.IntColumn(0)
	require.NoError(t, err)
	bc, err := cs.BytesColumn(1)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := cs.AddRow()
		require.NoError(t, err)
		require.NoError(t, ic.Set(i, int64(i*i)))
		require.NoError(t, bc.Set(i, []byte{byte(i)}))
	}
	require.NoError(t, cs.SaveSearchIndexes())

	cs2, err := LoadColumnSet(ar, sp, cs.Ref(), testConfig())
	require.NoError(t, err)
	ic2, err := cs2.IntColumn(0)
	require.NoError(t, err)
	v, err := ic2.Get(7)
	require.NoError(t, err)
	assert.Equal(t, int64(49), v)

	row, err := ic2.FindFirst(81)
	require.NoError(t, err)
	assert.Equal(t, 9, row)
	require.NoError(t, cs2.Verify(context.Background()))
}
