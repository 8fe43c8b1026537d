package cfile

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/cfile/cache"
	"github.com/meigma/cfile/cache/disk"
	"github.com/meigma/cfile/internal/testutil"
)

func TestPrefetchOrdinalsEmptyRange(t *testing.T) {
	t.Parallel()

	r := ordinalFixture(t, 10)
	require.NoError(t, r.PrefetchOrdinals(context.Background(), 5, 5))
	require.NoError(t, r.PrefetchOrdinals(context.Background(), 9, 2))
}

func TestPrefetchOrdinals(t *testing.T) {
	t.Parallel()

	r := ordinalFixture(t, 100)
	require.NoError(t, r.PrefetchOrdinals(context.Background(), 0, 100))
	require.NoError(t, r.PrefetchOrdinals(context.Background(), 35, 62))

	// Ranges past the last row warm what exists and stop.
	require.NoError(t, r.PrefetchOrdinals(context.Background(), 90, 100000))
}

func TestPrefetchOrdinalsWithoutPositionalIndex(t *testing.T) {
	t.Parallel()

	b := testutil.NewBuilder()
	ptr := b.AppendIntBlock(0, []uint32{1})
	root := b.AppendIndexBlock(true, testutil.IndexEntry{Key: testutil.OrdinalKey(0), Child: ptr})
	b.AddBTree("idx.key", root)
	r := openTestReader(t, b.Build())

	err := r.PrefetchOrdinals(context.Background(), 0, 10)
	require.ErrorIs(t, err, ErrNoSuchIndex)
}

func TestPrefetchOrdinalsCancelled(t *testing.T) {
	t.Parallel()

	r := ordinalFixture(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.PrefetchOrdinals(ctx, 0, 100)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPrefetchOrdinalsCorruptIndex(t *testing.T) {
	t.Parallel()

	r := openTestReader(t, selfLoopFile(t))
	err := r.PrefetchOrdinals(context.Background(), 0, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruption)
	assert.ErrorContains(t, err, "prefetch:")
	assert.ErrorContains(t, err, "deeper than")
}

// countingSource counts ReadAt calls reaching the underlying source.
type countingSource struct {
	src   *testutil.MockByteSource
	reads atomic.Int64
}

func (s *countingSource) ReadAt(p []byte, off int64) (int, error) {
	s.reads.Add(1)
	return s.src.ReadAt(p, off)
}

func (s *countingSource) Size() int64 { return s.src.Size() }

func (s *countingSource) SourceID() string { return s.src.SourceID() }

func TestPrefetchOrdinalsWarmsBlockCache(t *testing.T) {
	t.Parallel()

	vals := make([]uint32, 100)
	for i := range vals {
		vals[i] = uint32(i) * 5
	}
	src := &countingSource{src: testutil.NewMockByteSource(testutil.OrdinalFile(vals, 10, 4))}

	blocks, err := disk.New(t.TempDir())
	require.NoError(t, err)
	cached, err := blocks.Wrap(src, cache.WithBlockSize(64))
	require.NoError(t, err)

	r, err := Open(cached)
	require.NoError(t, err)
	require.NoError(t, r.PrefetchOrdinals(context.Background(), 0, 100))

	warm := src.reads.Load()
	require.Positive(t, warm)

	// A full scan after the prefetch is served entirely from cache.
	it, err := r.NewIterator()
	require.NoError(t, err)
	for ord := uint32(0); ord < 100; ord++ {
		require.NoError(t, it.SeekToOrdinal(context.Background(), ord))
		assert.Equal(t, ord*5, it.Value())
	}
	assert.Equal(t, warm, src.reads.Load())
}
