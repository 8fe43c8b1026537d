package cfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/cfile/internal/testutil"
)

func TestParseIntBlock(t *testing.T) {
	t.Parallel()

	t.Run("decodes values", func(t *testing.T) {
		t.Parallel()

		d, err := ParseIntBlock(testutil.EncodeIntBlock(40, []uint32{7, 11, 13}))
		require.NoError(t, err)

		assert.Equal(t, uint32(40), d.FirstOrdinal())
		assert.Equal(t, uint32(3), d.Count())
		assert.Equal(t, uint32(0), d.Position())
		assert.Equal(t, uint32(40), d.CurrentOrdinal())
		assert.Equal(t, uint32(7), d.Value())

		d.SeekToPosition(2)
		assert.Equal(t, uint32(2), d.Position())
		assert.Equal(t, uint32(42), d.CurrentOrdinal())
		assert.Equal(t, uint32(13), d.Value())
	})

	t.Run("shorter than header", func(t *testing.T) {
		t.Parallel()

		_, err := ParseIntBlock([]byte{1, 2, 3})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCorruption)
		assert.ErrorContains(t, err, "shorter than its header")
	})

	t.Run("length mismatch", func(t *testing.T) {
		t.Parallel()

		data := testutil.EncodeIntBlock(0, []uint32{1, 2, 3})
		_, err := ParseIntBlock(data[:len(data)-2])
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCorruption)
		assert.ErrorContains(t, err, "want")
	})

	t.Run("empty block", func(t *testing.T) {
		t.Parallel()

		_, err := ParseIntBlock(testutil.EncodeIntBlock(0, nil))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCorruption)
		assert.ErrorContains(t, err, "empty int block")
	})

	t.Run("ordinal range overflow", func(t *testing.T) {
		t.Parallel()

		_, err := ParseIntBlock(testutil.EncodeIntBlock(0xFFFFFFFF, []uint32{1, 2}))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCorruption)
		assert.ErrorContains(t, err, "overflows")
	})
}

func TestIntBlockSeekPanics(t *testing.T) {
	t.Parallel()

	d, err := ParseIntBlock(testutil.EncodeIntBlock(0, []uint32{1, 2, 3}))
	require.NoError(t, err)

	require.Panics(t, func() { d.SeekToPosition(3) })
	require.Panics(t, func() { d.SeekToPosition(1 << 30) })
}
