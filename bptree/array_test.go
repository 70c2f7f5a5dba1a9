package bptree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colgo/arena"
)

func TestIntArray_Basics(t *testing.T) {
	ar := arena.New()
	a, err := NewIntArray(ar)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, a.Add(int64(i)))
	}
	require.Equal(t, 100, a.Size())

	require.NoError(t, a.Insert(0, -5))
	v, err := a.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(-5), v)

	require.NoError(t, a.Erase(0))
	v, err = a.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	// Width grows transparently past every boundary.
	require.NoError(t, a.Set(0, 1<<50))
	v, err = a.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1)<<50, v)

	v, err = a.Get(99)
	require.NoError(t, err)
	assert.Equal(t, int64(99), v)
}

func TestIntArray_ReloadAfterGrowth(t *testing.T) {
	ar := arena.New()
	a, err := NewIntArray(ar)
	require.NoError(t, err)

	ref := a.Ref()
	for i := 0; i < 1000; i++ {
		require.NoError(t, a.Add(int64(i * 1000)))
	}
	assert.NotEqual(t, ref, a.Ref(), "growth reallocates the block")

	b, err := LoadIntArray(ar, a.Ref())
	require.NoError(t, err)
	require.Equal(t, 1000, b.Size())
	v, err := b.Get(999)
	require.NoError(t, err)
	assert.Equal(t, int64(999000), v)
}

func TestRefArray_SlotsAndGrowth(t *testing.T) {
	ar := arena.New()
	a, err := NewRefArray(ar, false)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, a.Add(TaggedSlot(int64(i))))
	}
	require.NoError(t, a.Insert(0, RefSlot(0x1230)))
	require.Equal(t, 21, a.Size())

	s, err := a.Get(0)
	require.NoError(t, err)
	assert.True(t, s.IsRef())

	s, err = a.Get(20)
	require.NoError(t, err)
	assert.Equal(t, int64(19), s.Tagged())

	require.NoError(t, a.Erase(0))
	s, err = a.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Tagged())
}
