package colgo

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colgo/arena"
	"github.com/hupe1980/colgo/searchindex"
	"github.com/hupe1980/colgo/spec"
)

func newScoreTable(t *testing.T, ar *arena.Arena) *Table {
	t.Helper()
	tbl, err := CreateTable(ar, func(s *spec.Spec) error {
		if err := s.InsertColumn(0, spec.TypeInt, "score", spec.AttrNone); err != nil {
			return err
		}
		return s.InsertColumn(1, spec.TypeString, "name", spec.AttrIndexed)
	}, WithMaxLeafSize(4), WithMaxInnerSize(4))
	require.NoError(t, err)
	return tbl
}

func TestTable_CreateWriteRead(t *testing.T) {
	ar := arena.New()
	tbl := newScoreTable(t, ar)
	defer tbl.Close()

	score, err := tbl.IntColumn(0)
	require.NoError(t, err)
	name, err := tbl.StringColumn(1)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		row, err := tbl.AddRow()
		require.NoError(t, err)
		require.NoError(t, score.Set(row, int64(i)))
		require.NoError(t, name.SetString(row, string(rune('a'+i%26))))
	}

	n, err := tbl.Size()
	require.NoError(t, err)
	require.Equal(t, 50, n)

	row, err := name.FindFirstString("c")
	require.NoError(t, err)
	assert.Equal(t, 2, row)

	require.NoError(t, tbl.Verify(context.Background()))
}

func TestTable_SnapshotRoundTrip(t *testing.T) {
	ar := arena.New()
	tbl := newScoreTable(t, ar)
	defer tbl.Close()

	score, err := tbl.IntColumn(0)
	require.NoError(t, err)
	name, err := tbl.StringColumn(1)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		row, err := tbl.AddRow()
		require.NoError(t, err)
		require.NoError(t, score.Set(row, int64(i*2)))
		require.NoError(t, name.SetString(row, "row"))
	}

	var buf bytes.Buffer
	_, err = tbl.WriteTo(context.Background(), &buf, arena.CompressionZstd)
	require.NoError(t, err)

	ar2, top, err := arena.ReadFrom(&buf)
	require.NoError(t, err)
	tbl2, err := OpenTable(ar2, top, WithMaxLeafSize(4), WithMaxInnerSize(4))
	require.NoError(t, err)
	defer tbl2.Close()

	n, err := tbl2.Size()
	require.NoError(t, err)
	require.Equal(t, 20, n)

	score2, err := tbl2.IntColumn(0)
	require.NoError(t, err)
	v, err := score2.Get(10)
	require.NoError(t, err)
	assert.Equal(t, int64(20), v)

	// The persisted search index answers without a rebuild.
	name2, err := tbl2.StringColumn(1)
	require.NoError(t, err)
	count, err := name2.Count([]byte("row"))
	require.NoError(t, err)
	assert.Equal(t, 20, count)

	require.NoError(t, tbl2.Verify(context.Background()))
}

func TestTable_RefreshAfterExternalMutation(t *testing.T) {
	ar := arena.New()
	tbl := newScoreTable(t, ar)
	defer tbl.Close()

	score, err := tbl.IntColumn(0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		row, err := tbl.AddRow()
		require.NoError(t, err)
		require.NoError(t, score.Set(row, int64(i)))
	}
	require.NoError(t, tbl.Columns().SaveSearchIndexes())

	// A second accessor over the same arena commits more rows, the way
	// another writer would between two observations.
	writer, err := OpenTable(ar, tbl.Ref(), WithMaxLeafSize(4), WithMaxInnerSize(4))
	require.NoError(t, err)
	wScore, err := writer.IntColumn(0)
	require.NoError(t, err)
	for i := 5; i < 40; i++ {
		row, err := writer.AddRow()
		require.NoError(t, err)
		require.NoError(t, wScore.Set(row, int64(i)))
	}
	require.NoError(t, writer.Columns().SaveSearchIndexes())
	require.NoError(t, writer.syncTop())
	topRef := writer.Ref()
	require.NoError(t, writer.Close())

	require.NoError(t, tbl.Refresh(context.Background(), topRef))

	n, err := tbl.Size()
	require.NoError(t, err)
	require.Equal(t, 40, n)
	v, err := score.Get(39)
	require.NoError(t, err)
	assert.Equal(t, int64(39), v)
	require.NoError(t, tbl.Verify(context.Background()))
}

func TestTable_UpgradeStringToEnum(t *testing.T) {
	ar := arena.New()
	tbl, err := CreateTable(ar, func(s *spec.Spec) error {
		return s.InsertColumn(0, spec.TypeString, "color", spec.AttrNone)
	})
	require.NoError(t, err)
	defer tbl.Close()

	color, err := tbl.StringColumn(0)
	require.NoError(t, err)
	for _, v := range []string{"red", "green", "red", "blue", "green", "red"} {
		require.NoError(t, color.AddString(v))
	}

	ec, err := tbl.UpgradeStringToEnum(0)
	require.NoError(t, err)

	typ, err := tbl.Spec().GetType(0)
	require.NoError(t, err)
	assert.Equal(t, spec.TypeStringEnum, typ)

	keys, err := ec.KeyCount()
	require.NoError(t, err)
	assert.Equal(t, 3, keys)

	v, err := ec.GetString(3)
	require.NoError(t, err)
	assert.Equal(t, "blue", v)

	rows, err := ec.FindAll("red")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 5}, rows)

	require.NoError(t, tbl.Verify(context.Background()))
}

func TestTable_SubtableEndToEnd(t *testing.T) {
	ar := arena.New()
	tbl, err := CreateTable(ar, func(s *spec.Spec) error {
		if err := s.InsertColumn(0, spec.TypeTable, "items", spec.AttrNone); err != nil {
			return err
		}
		child, err := s.GetSubspec(0)
		if err != nil {
			return err
		}
		if err := child.InsertColumn(0, spec.TypeInt, "qty", spec.AttrNone); err != nil {
			return err
		}
		return s.SyncSubspec(0)
	})
	require.NoError(t, err)
	defer tbl.Close()

	_, err = tbl.AddRow()
	require.NoError(t, err)

	sc, err := tbl.SubtableColumn(0)
	require.NoError(t, err)
	items, err := sc.GetSubtable(0)
	require.NoError(t, err)
	defer items.Release()

	qty, err := items.Columns().IntColumn(0)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		row, err := items.Columns().AddRow()
		require.NoError(t, err)
		require.NoError(t, qty.Set(row, int64(i+1)))
	}

	sum, err := qty.Sum()
	require.NoError(t, err)
	assert.Equal(t, int64(6), sum)

	require.NoError(t, tbl.Verify(context.Background()))
}

func TestTable_ErrorTranslation(t *testing.T) {
	ar := arena.New()
	tbl, err := CreateTable(ar, func(s *spec.Spec) error {
		if err := s.InsertColumn(0, spec.TypeInt, "n", spec.AttrNone); err != nil {
			return err
		}
		return s.InsertColumn(1, spec.TypeInt, "u", spec.AttrIndexed|spec.AttrUnique)
	})
	require.NoError(t, err)
	defer tbl.Close()

	// Kind mismatch surfaces as a logic error.
	_, err = tbl.StringColumn(0)
	require.ErrorIs(t, err, ErrLogic)

	// Null into non-nullable surfaces as a logic error.
	_, err = tbl.AddRow()
	require.NoError(t, err)
	n, err := tbl.IntColumn(0)
	require.NoError(t, err)
	require.ErrorIs(t, translateError(n.SetNull(0)), ErrLogic)

	// Duplicate into a unique index surfaces as a constraint violation.
	u, err := tbl.IntColumn(1)
	require.NoError(t, err)
	require.NoError(t, u.Set(0, 1))
	_, err = tbl.AddRow()
	require.NoError(t, err)
	require.ErrorIs(t, translateError(u.Set(1, 1)), ErrConstraint)
}

func TestErrors_OutOfRangeIsLogic(t *testing.T) {
	ar := arena.New()
	tbl, err := CreateTable(ar, func(s *spec.Spec) error {
		return s.InsertColumn(0, spec.TypeInt, "n", spec.AttrNone)
	})
	require.NoError(t, err)
	defer tbl.Close()

	c, err := tbl.IntColumn(0)
	require.NoError(t, err)
	_, err = c.Get(5)
	require.ErrorIs(t, translateError(err), ErrLogic)
}

func TestTable_MoveLastOverKeepsIndexes(t *testing.T) {
	ar := arena.New()
	tbl := newScoreTable(t, ar)
	defer tbl.Close()

	name, err := tbl.StringColumn(1)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := tbl.AddRow()
		require.NoError(t, err)
	}
	require.NoError(t, name.SetString(0, "a"))
	require.NoError(t, name.SetString(1, "b"))
	require.NoError(t, name.SetString(2, "c"))

	require.NoError(t, tbl.MoveLastOver(0))

	row, err := name.FindFirstString("a")
	require.NoError(t, err)
	assert.Equal(t, searchindex.NotFound, row)
	row, err = name.FindFirstString("c")
	require.NoError(t, err)
	assert.Equal(t, 0, row)
	row, err = name.FindFirstString("b")
	require.NoError(t, err)
	assert.Equal(t, 1, row)
}
