package cfile

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// prefetchConcurrency bounds parallel block reads during prefetch.
const prefetchConcurrency = 8

// PrefetchOrdinals reads every data block covering the ordinal range
// [from, to), discarding the contents.
//
// Useful only for its side effect: with a caching ByteSource (see the
// cache subpackage) the covered blocks are warm before a scan touches
// them. A range extending past the last row warms the final block and
// stops; it is not an error.
func (r *Reader) PrefetchOrdinals(ctx context.Context, from, to uint32) error {
	if from >= to {
		return nil
	}
	root, err := r.IndexRoot(PositionalIndexID)
	if err != nil {
		return err
	}

	var ptrs []BlockPointer
	if err := r.collectOrdinalRange(ctx, root, from, to, 0, &ptrs); err != nil {
		return fmt.Errorf("prefetch: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)
	for _, ptr := range ptrs {
		g.Go(func() error {
			_, err := r.ReadBlock(ctx, ptr)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("prefetch: %w", err)
	}

	r.sugar.Debugw("prefetched ordinal range", "from", from, "to", to, "blocks", len(ptrs))
	return nil
}

// collectOrdinalRange walks the subtree at ptr appending the data block
// pointers covering [from, to) to out, in file order.
func (r *Reader) collectOrdinalRange(ctx context.Context, ptr BlockPointer, from, to uint32, depth int, out *[]BlockPointer) error {
	if depth >= maxIndexDepth {
		return fmt.Errorf("%w: index tree deeper than %d levels", ErrCorruption, maxIndexDepth)
	}
	data, err := r.ReadBlock(ctx, ptr)
	if err != nil {
		return err
	}
	blk, err := parseIndexBlock[uint32](data, OrdinalCodec{})
	if err != nil {
		return err
	}

	// Subtrees left of the at-or-before entry cannot contain the range.
	// When from precedes the whole block, scan from its first entry.
	start, err := blk.seekAtOrBefore(from)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		start = 0
	}

	for i := start; i < blk.count; i++ {
		key, child, err := blk.entryAt(i)
		if err != nil {
			return err
		}
		if key >= to {
			break
		}
		if !child.Valid(r.fileSize) {
			return fmt.Errorf("%w: index entry points outside the file (%s)", ErrCorruption, child)
		}
		if blk.leaf {
			*out = append(*out, child)
			continue
		}
		if err := r.collectOrdinalRange(ctx, child, from, to, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}
