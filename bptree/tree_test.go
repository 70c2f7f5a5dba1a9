package bptree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colgo/arena"
)

func smallIntConfig() Config {
	return Config{Family: FamilyInt, MaxLeafSize: 4, MaxInnerSize: 4}
}

func smallBytesConfig() Config {
	return Config{Family: FamilyBytes, MaxLeafSize: 4, MaxInnerSize: 4}
}

func TestTree_IntRoundTrip(t *testing.T) {
	ar := arena.New()
	tr, err := New(ar, smallIntConfig())
	require.NoError(t, err)

	require.NoError(t, tr.Insert(0, IntValue(10)))
	require.NoError(t, tr.Insert(1, IntValue(20)))
	require.NoError(t, tr.Insert(1, IntValue(15)))

	size, err := tr.Size()
	require.NoError(t, err)
	require.Equal(t, 3, size)

	want := []int64{10, 15, 20}
	for i, w := range want {
		v, err := tr.Get(i)
		require.NoError(t, err)
		assert.Equal(t, w, v.Int)
	}
	require.NoError(t, tr.Verify())
}

func TestTree_SplitAndDeepLookup(t *testing.T) {
	ar := arena.New()
	tr, err := New(ar, smallIntConfig())
	require.NoError(t, err)

	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(i, IntValue(int64(i*3))))
	}
	size, err := tr.Size()
	require.NoError(t, err)
	require.Equal(t, n, size)

	rootLeaf, err := tr.RootIsLeaf()
	require.NoError(t, err)
	assert.False(t, rootLeaf)

	for i := 0; i < n; i++ {
		v, err := tr.Get(i)
		require.NoError(t, err)
		require.Equal(t, int64(i*3), v.Int)
	}
	require.NoError(t, tr.Verify())
}

func TestTree_InsertAtFront(t *testing.T) {
	ar := arena.New()
	tr, err := New(ar, smallIntConfig())
	require.NoError(t, err)

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(0, IntValue(int64(i))))
	}
	for i := 0; i < n; i++ {
		v, err := tr.Get(i)
		require.NoError(t, err)
		require.Equal(t, int64(n-1-i), v.Int)
	}
	require.NoError(t, tr.Verify())
}

func TestTree_EraseCollapses(t *testing.T) {
	ar := arena.New()
	tr, err := New(ar, smallIntConfig())
	require.NoError(t, err)

	const n = 64
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(i, IntValue(int64(i))))
	}
	for i := 0; i < n-1; i++ {
		require.NoError(t, tr.Erase(0))
		require.NoError(t, tr.Verify())
	}
	size, err := tr.Size()
	require.NoError(t, err)
	require.Equal(t, 1, size)

	v, err := tr.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(n-1), v.Int)

	require.NoError(t, tr.Erase(0))
	size, err = tr.Size()
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	rootLeaf, err := tr.RootIsLeaf()
	require.NoError(t, err)
	assert.True(t, rootLeaf)
}

func TestTree_EraseOutOfRange(t *testing.T) {
	ar := arena.New()
	tr, err := New(ar, smallIntConfig())
	require.NoError(t, err)
	require.NoError(t, tr.Insert(0, IntValue(1)))

	err = tr.Erase(1)
	var oor *ErrIndexOutOfRange
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, 1, oor.Index)
}

func TestTree_IntWidthGrowth(t *testing.T) {
	ar := arena.New()
	tr, err := New(ar, smallIntConfig())
	require.NoError(t, err)

	require.NoError(t, tr.Insert(0, IntValue(1)))
	require.NoError(t, tr.Insert(1, IntValue(300)))      // beyond int8
	require.NoError(t, tr.Insert(2, IntValue(70000)))    // beyond int16
	require.NoError(t, tr.Insert(3, IntValue(1<<40)))    // beyond int32
	require.NoError(t, tr.Set(0, IntValue(-(1 << 40)))) // negative wide

	want := []int64{-(1 << 40), 300, 70000, 1 << 40}
	for i, w := range want {
		v, err := tr.Get(i)
		require.NoError(t, err)
		assert.Equal(t, w, v.Int)
	}
}

func TestTree_NullableInt(t *testing.T) {
	ar := arena.New()
	cfg := smallIntConfig()
	cfg.Nullable = true
	tr, err := New(ar, cfg)
	require.NoError(t, err)

	require.NoError(t, tr.Insert(0, IntValue(7)))
	require.NoError(t, tr.Insert(1, NullValue()))

	v, err := tr.Get(0)
	require.NoError(t, err)
	assert.False(t, v.Null)
	assert.Equal(t, int64(7), v.Int)

	v, err = tr.Get(1)
	require.NoError(t, err)
	assert.True(t, v.Null)
}

func TestTree_BytesKinds(t *testing.T) {
	tests := []struct {
		name string
		val  []byte
		kind Kind
	}{
		{name: "small", val: []byte("tiny"), kind: KindSmall},
		{name: "long", val: make([]byte, 40), kind: KindLong},
		{name: "big", val: make([]byte, 100), kind: KindBig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ar := arena.New()
			tr, err := New(ar, smallBytesConfig())
			require.NoError(t, err)

			require.NoError(t, tr.Insert(0, BytesValue(tt.val)))
			kind, err := tr.LeafKindAt(0)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)

			v, err := tr.Get(0)
			require.NoError(t, err)
			assert.Equal(t, tt.val, append([]byte(nil), v.Bytes...))
		})
	}
}

func TestTree_LeafPromotionKeepsValues(t *testing.T) {
	ar := arena.New()
	tr, err := New(ar, smallBytesConfig())
	require.NoError(t, err)

	require.NoError(t, tr.Insert(0, BytesValue([]byte("x"))))
	require.NoError(t, tr.Insert(1, BytesValue([]byte("y"))))

	kind, err := tr.LeafKindAt(0)
	require.NoError(t, err)
	require.Equal(t, KindSmall, kind)

	big := make([]byte, 80)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	require.NoError(t, tr.Set(0, BytesValue(big)))

	kind, err = tr.LeafKindAt(0)
	require.NoError(t, err)
	assert.Equal(t, KindBig, kind)

	v, err := tr.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), append([]byte(nil), v.Bytes...))

	v, err = tr.Get(0)
	require.NoError(t, err)
	assert.Equal(t, big, append([]byte(nil), v.Bytes...))
	require.NoError(t, tr.Verify())
}

func TestTree_LeafKindMonotonic(t *testing.T) {
	ar := arena.New()
	tr, err := New(ar, smallBytesConfig())
	require.NoError(t, err)

	require.NoError(t, tr.Insert(0, BytesValue(make([]byte, 40))))
	kind, err := tr.LeafKindAt(0)
	require.NoError(t, err)
	require.Equal(t, KindLong, kind)

	// Writing a small value must not demote the leaf.
	require.NoError(t, tr.Set(0, BytesValue([]byte("s"))))
	kind, err = tr.LeafKindAt(0)
	require.NoError(t, err)
	assert.Equal(t, KindLong, kind)

	// Clear is the only way down.
	require.NoError(t, tr.Clear())
	require.NoError(t, tr.Insert(0, BytesValue([]byte("s"))))
	kind, err = tr.LeafKindAt(0)
	require.NoError(t, err)
	assert.Equal(t, KindSmall, kind)
}

func TestTree_BytesManyMixedSizes(t *testing.T) {
	ar := arena.New()
	tr, err := New(ar, smallBytesConfig())
	require.NoError(t, err)

	mk := func(i int) []byte {
		switch i % 3 {
		case 0:
			return []byte(fmt.Sprintf("v%d", i))
		case 1:
			return []byte(fmt.Sprintf("value-%038d", i))
		default:
			b := make([]byte, 70+i%5)
			for j := range b {
				b[j] = byte(i)
			}
			return b
		}
	}

	const n = 120
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(i, BytesValue(mk(i))))
	}
	for i := 0; i < n; i++ {
		v, err := tr.Get(i)
		require.NoError(t, err)
		require.Equal(t, mk(i), append([]byte(nil), v.Bytes...), "row %d", i)
	}
	require.NoError(t, tr.Verify())

	// Erase every other row and re-check.
	for i := n - 2; i >= 0; i -= 2 {
		require.NoError(t, tr.Erase(i))
	}
	size, err := tr.Size()
	require.NoError(t, err)
	require.Equal(t, n/2, size)
	for i := 0; i < size; i++ {
		v, err := tr.Get(i)
		require.NoError(t, err)
		require.Equal(t, mk(2*i+1), append([]byte(nil), v.Bytes...), "row %d", i)
	}
	require.NoError(t, tr.Verify())
}

func TestTree_NullableBytesDistinctFromEmpty(t *testing.T) {
	for _, size := range []int{1, 40, 100} {
		t.Run(fmt.Sprintf("neighbor-%d", size), func(t *testing.T) {
			ar := arena.New()
			cfg := smallBytesConfig()
			cfg.Nullable = true
			tr, err := New(ar, cfg)
			require.NoError(t, err)

			require.NoError(t, tr.Insert(0, BytesValue(make([]byte, size))))
			require.NoError(t, tr.Insert(1, NullValue()))
			require.NoError(t, tr.Insert(2, BytesValue(nil)))

			v, err := tr.Get(1)
			require.NoError(t, err)
			assert.True(t, v.Null)

			v, err = tr.Get(2)
			require.NoError(t, err)
			assert.False(t, v.Null)
			assert.Empty(t, v.Bytes)
		})
	}
}

func TestTree_ForEachEarlyStop(t *testing.T) {
	ar := arena.New()
	tr, err := New(ar, smallIntConfig())
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		require.NoError(t, tr.Insert(i, IntValue(int64(i))))
	}

	var seen []int64
	require.NoError(t, tr.ForEach(func(i int, v Value) bool {
		seen = append(seen, v.Int)
		return v.Int < 10
	}))
	assert.Len(t, seen, 12)
	assert.Equal(t, int64(11), seen[11])
}

func TestTree_Bounds(t *testing.T) {
	ar := arena.New()
	tr, err := New(ar, smallIntConfig())
	require.NoError(t, err)
	vals := []int64{1, 3, 3, 3, 7, 9}
	for i, v := range vals {
		require.NoError(t, tr.Insert(i, IntValue(v)))
	}

	lb, err := tr.LowerBound(3)
	require.NoError(t, err)
	assert.Equal(t, 1, lb)

	ub, err := tr.UpperBound(3)
	require.NoError(t, err)
	assert.Equal(t, 4, ub)

	lb, err = tr.LowerBound(100)
	require.NoError(t, err)
	assert.Equal(t, len(vals), lb)
}

func TestTree_AdjustGE(t *testing.T) {
	ar := arena.New()
	tr, err := New(ar, smallIntConfig())
	require.NoError(t, err)
	for i, v := range []int64{1, 5, 10, 20} {
		require.NoError(t, tr.Insert(i, IntValue(v)))
	}
	require.NoError(t, tr.AdjustGE(10, 2))

	want := []int64{1, 5, 12, 22}
	for i, w := range want {
		v, err := tr.Get(i)
		require.NoError(t, err)
		assert.Equal(t, w, v.Int)
	}
}

func TestTree_CloneDeep(t *testing.T) {
	src := arena.New()
	tr, err := New(src, smallBytesConfig())
	require.NoError(t, err)
	require.NoError(t, tr.Insert(0, BytesValue([]byte("alpha"))))
	require.NoError(t, tr.Insert(1, BytesValue(make([]byte, 90))))

	dst := arena.New()
	ref, err := tr.CloneDeep(dst)
	require.NoError(t, err)

	clone, err := Load(dst, ref, smallBytesConfig())
	require.NoError(t, err)
	v, err := clone.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), append([]byte(nil), v.Bytes...))
	require.NoError(t, clone.Verify())
}

func TestDestroyDeep_SkipsTaggedSlots(t *testing.T) {
	ar := arena.New()
	ra, err := NewRefArray(ar, false)
	require.NoError(t, err)

	child, err := NewIntArray(ar)
	require.NoError(t, err)
	require.NoError(t, child.Add(42))

	require.NoError(t, ra.Add(RefSlot(child.Ref())))
	// A tagged slot whose scalar happens to look like an address must
	// never be freed.
	require.NoError(t, ra.Add(TaggedSlot(int64(child.Ref()))))
	require.NoError(t, ra.Add(TaggedSlot(7)))

	require.NoError(t, ra.DestroyDeep())
}

func TestSlot_TaggedRoundTrip(t *testing.T) {
	tests := []int64{0, 1, -0, 7, 1 << 40}
	for _, v := range tests {
		s := TaggedSlot(v)
		assert.False(t, s.IsRef())
		assert.Equal(t, v, s.Tagged())
	}
	r := RefSlot(arena.Ref(0x98760))
	assert.True(t, r.IsRef())
	assert.Equal(t, arena.Ref(0x98760), r.Ref())
}
