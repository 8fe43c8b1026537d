package cfile

import (
	"context"
	"fmt"
)

// maxIndexDepth bounds descent through index blocks. No writer produces a
// tree this deep (fanout 2 covers 2^32 entries long before it); reaching
// the bound means the file's index pointers form a cycle.
const maxIndexDepth = 32

// SearchIndex descends the B-tree rooted at root to the leaf entry at or
// before key, returning that entry's block pointer and key.
//
// root must come from the Reader's footer (see [Reader.IndexRoot]).
// SearchIndex returns ErrNotFound when key precedes every entry in the
// tree, and ErrCorruption when a block fails to parse, an entry points
// outside the file, or the descent exceeds maxIndexDepth.
func SearchIndex[K any](ctx context.Context, r *Reader, codec KeyCodec[K], root BlockPointer, key K) (BlockPointer, K, error) {
	var zero K
	ptr := root
	for range maxIndexDepth {
		data, err := r.ReadBlock(ctx, ptr)
		if err != nil {
			return BlockPointer{}, zero, err
		}
		blk, err := parseIndexBlock(data, codec)
		if err != nil {
			return BlockPointer{}, zero, err
		}
		i, err := blk.seekAtOrBefore(key)
		if err != nil {
			return BlockPointer{}, zero, err
		}
		entryKey, child, err := blk.entryAt(i)
		if err != nil {
			return BlockPointer{}, zero, err
		}
		// Entry pointers are file data, not caller input: validate here
		// with a corruption error rather than letting ReadBlock panic.
		if !child.Valid(r.fileSize) {
			return BlockPointer{}, zero, fmt.Errorf("%w: index entry points outside the file (%s)", ErrCorruption, child)
		}
		if blk.leaf {
			return child, entryKey, nil
		}
		ptr = child
	}
	return BlockPointer{}, zero, fmt.Errorf("%w: index tree deeper than %d levels", ErrCorruption, maxIndexDepth)
}
