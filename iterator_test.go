package cfile

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/cfile/internal/testutil"
)

// ordinalFixture builds a file of n rows where row i holds i*3+7, split
// into ten-row blocks under a fanout-4 index.
func ordinalFixture(t *testing.T, n int) *Reader {
	t.Helper()
	vals := make([]uint32, n)
	for i := range vals {
		vals[i] = uint32(i)*3 + 7
	}
	return openTestReader(t, testutil.OrdinalFile(vals, 10, 4))
}

func TestIteratorSeekToOrdinal(t *testing.T) {
	t.Parallel()

	r := ordinalFixture(t, 100)
	it, err := r.NewIterator()
	require.NoError(t, err)
	assert.False(t, it.Seeked())

	require.NoError(t, it.SeekToOrdinal(context.Background(), 50))
	assert.True(t, it.Seeked())
	assert.Equal(t, uint32(50), it.Ordinal())
	assert.Equal(t, uint32(50*3+7), it.Value())

	err = it.SeekToOrdinal(context.Background(), 150)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorContains(t, err, "past the last row")
}

func TestIteratorVisitsEveryOrdinal(t *testing.T) {
	t.Parallel()

	r := ordinalFixture(t, 100)
	it, err := r.NewIterator()
	require.NoError(t, err)

	for ord := uint32(0); ord < 100; ord++ {
		require.NoError(t, it.SeekToOrdinal(context.Background(), ord))
		assert.Equal(t, ord, it.Ordinal())
		assert.Equal(t, ord*3+7, it.Value())
	}
}

func TestIteratorSeekOrderIndependent(t *testing.T) {
	t.Parallel()

	r := ordinalFixture(t, 100)
	it, err := r.NewIterator()
	require.NoError(t, err)

	// Repeating a seek lands in the same place.
	require.NoError(t, it.SeekToOrdinal(context.Background(), 37))
	require.NoError(t, it.SeekToOrdinal(context.Background(), 37))
	assert.Equal(t, uint32(37), it.Ordinal())
	assert.Equal(t, uint32(37*3+7), it.Value())

	// Seeking backward across blocks works like any other seek.
	require.NoError(t, it.SeekToOrdinal(context.Background(), 80))
	require.NoError(t, it.SeekToOrdinal(context.Background(), 20))
	assert.Equal(t, uint32(20), it.Ordinal())
	assert.Equal(t, uint32(20*3+7), it.Value())
}

func TestIteratorPastEndClearsPosition(t *testing.T) {
	t.Parallel()

	r := ordinalFixture(t, 100)
	it, err := r.NewIterator()
	require.NoError(t, err)

	require.NoError(t, it.SeekToOrdinal(context.Background(), 99))
	assert.Equal(t, uint32(99*3+7), it.Value())

	err = it.SeekToOrdinal(context.Background(), 100)
	require.ErrorIs(t, err, ErrNotFound)
	assert.False(t, it.Seeked())
	assert.Panics(t, func() { it.Ordinal() })
	assert.Panics(t, func() { it.Value() })
}

func TestIteratorSingleBlock(t *testing.T) {
	t.Parallel()

	r := openTestReader(t, testutil.OrdinalFile([]uint32{9, 8, 7, 6, 5}, 10, 4))
	it, err := r.NewIterator()
	require.NoError(t, err)

	for ord, want := range []uint32{9, 8, 7, 6, 5} {
		require.NoError(t, it.SeekToOrdinal(context.Background(), uint32(ord)))
		assert.Equal(t, want, it.Value())
	}

	err = it.SeekToOrdinal(context.Background(), 5)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIteratorWithoutPositionalIndex(t *testing.T) {
	t.Parallel()

	b := testutil.NewBuilder()
	ptr := b.AppendIntBlock(0, []uint32{1, 2, 3})
	root := b.AppendIndexBlock(true, testutil.IndexEntry{Key: testutil.OrdinalKey(0), Child: ptr})
	b.AddBTree("idx.key", root)
	r := openTestReader(t, b.Build())

	_, err := r.NewIterator()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSuchIndex)
}

func TestIteratorUnseekedPanics(t *testing.T) {
	t.Parallel()

	r := ordinalFixture(t, 10)
	it, err := r.NewIterator()
	require.NoError(t, err)

	require.PanicsWithValue(t, "cfile: Ordinal on unseeked iterator", func() { it.Ordinal() })
	require.PanicsWithValue(t, "cfile: Value on unseeked iterator", func() { it.Value() })
}

func TestIteratorCancelledContext(t *testing.T) {
	t.Parallel()

	r := ordinalFixture(t, 100)
	it, err := r.NewIterator()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = it.SeekToOrdinal(ctx, 50)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, it.Seeked())
}

func TestIteratorMisdirectedIndexPanics(t *testing.T) {
	t.Parallel()

	// Index entry claims the block starts at ordinal 0; the block says 10.
	b := testutil.NewBuilder()
	ptr := b.AppendIntBlock(10, []uint32{1, 2, 3, 4, 5})
	root := b.AppendIndexBlock(true, testutil.IndexEntry{Key: testutil.OrdinalKey(0), Child: ptr})
	b.AddBTree(PositionalIndexID, root)
	r := openTestReader(t, b.Build())

	it, err := r.NewIterator()
	require.NoError(t, err)

	require.PanicsWithValue(t,
		fmt.Sprintf("cfile: index led to block starting at ordinal %d for target %d", 10, 5),
		func() { _ = it.SeekToOrdinal(context.Background(), 5) },
	)
}
