package cfile

import (
	"context"
	"fmt"
)

// Iterator seeks the positional index by row ordinal.
//
// An Iterator holds no position until a SeekToOrdinal succeeds; Ordinal
// and Value panic before that. Iterators are not safe for concurrent use;
// create one per goroutine.
type Iterator struct {
	r      *Reader
	tree   *TreeIterator[uint32]
	block  *IntBlockDecoder
	seeked bool
}

// NewIterator returns an unpositioned iterator over the file's positional
// index. Returns ErrNoSuchIndex when the footer does not name one.
func (r *Reader) NewIterator() (*Iterator, error) {
	root, err := r.IndexRoot(PositionalIndexID)
	if err != nil {
		return nil, err
	}
	return &Iterator{
		r:    r,
		tree: NewTreeIterator[uint32](r, OrdinalCodec{}, root),
	}, nil
}

// SeekToOrdinal positions the iterator exactly on the row with the given
// ordinal.
//
// Seeking past the last row returns ErrNotFound. Any error leaves the
// iterator unpositioned; a stale position is never kept. Seeks re-descend
// the index each time, so repeating a seek is idempotent and seeking in
// any order is allowed.
func (it *Iterator) SeekToOrdinal(ctx context.Context, ordinal uint32) error {
	it.seeked = false
	it.block = nil

	if err := it.tree.SeekAtOrBefore(ctx, ordinal); err != nil {
		return err
	}
	data, err := it.r.ReadBlock(ctx, it.tree.Pointer())
	if err != nil {
		return err
	}
	blk, err := ParseIntBlock(data)
	if err != nil {
		return err
	}

	first := blk.FirstOrdinal()
	if uint64(ordinal) >= uint64(first)+uint64(blk.Count()) {
		return fmt.Errorf("%w: ordinal %d past the last row", ErrNotFound, ordinal)
	}
	// The index sent us here claiming this block covers the ordinal; a
	// block starting past it means index and data disagree.
	if ordinal < first {
		panic(fmt.Sprintf("cfile: index led to block starting at ordinal %d for target %d", first, ordinal))
	}

	blk.SeekToPosition(ordinal - first)
	if got := blk.CurrentOrdinal(); got != ordinal {
		panic(fmt.Sprintf("cfile: sought ordinal %d but landed on %d", ordinal, got))
	}

	it.block = blk
	it.seeked = true
	return nil
}

// Seeked reports whether the iterator holds a position.
func (it *Iterator) Seeked() bool {
	return it.seeked
}

// Ordinal returns the ordinal under the iterator.
// Calling Ordinal on an unpositioned iterator is a caller bug and panics.
func (it *Iterator) Ordinal() uint32 {
	if !it.seeked {
		panic("cfile: Ordinal on unseeked iterator")
	}
	return it.block.CurrentOrdinal()
}

// Value returns the value under the iterator.
// Like Ordinal, Value panics on an unpositioned iterator.
func (it *Iterator) Value() uint32 {
	if !it.seeked {
		panic("cfile: Value on unseeked iterator")
	}
	return it.block.Value()
}
