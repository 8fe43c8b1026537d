package cfile

import "context"

// TreeIterator is a positioned cursor over one B-tree index.
//
// A TreeIterator holds no position until a SeekAtOrBefore succeeds; the
// position accessors panic before that. A failed seek clears any previous
// position rather than keeping a stale one.
type TreeIterator[K any] struct {
	r      *Reader
	codec  KeyCodec[K]
	root   BlockPointer
	ptr    BlockPointer
	key    K
	seeked bool
}

// NewTreeIterator returns an unpositioned iterator over the B-tree rooted
// at root. root must come from the Reader's footer.
func NewTreeIterator[K any](r *Reader, codec KeyCodec[K], root BlockPointer) *TreeIterator[K] {
	return &TreeIterator[K]{
		r:     r,
		codec: codec,
		root:  root,
	}
}

// SeekAtOrBefore positions the iterator on the leaf entry at or before
// key. On error the iterator is left unpositioned.
func (it *TreeIterator[K]) SeekAtOrBefore(ctx context.Context, key K) error {
	it.seeked = false
	ptr, entryKey, err := SearchIndex(ctx, it.r, it.codec, it.root, key)
	if err != nil {
		return err
	}
	it.ptr = ptr
	it.key = entryKey
	it.seeked = true
	return nil
}

// Valid reports whether the iterator holds a position.
func (it *TreeIterator[K]) Valid() bool {
	return it.seeked
}

// Pointer returns the block pointer under the position.
// Calling Pointer on an unpositioned iterator is a caller bug and panics.
func (it *TreeIterator[K]) Pointer() BlockPointer {
	if !it.seeked {
		panic("cfile: Pointer on unpositioned tree iterator")
	}
	return it.ptr
}

// Key returns the index key under the position.
// Like Pointer, Key panics on an unpositioned iterator.
func (it *TreeIterator[K]) Key() K {
	if !it.seeked {
		panic("cfile: Key on unpositioned tree iterator")
	}
	return it.key
}
