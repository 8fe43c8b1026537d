package cfile

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Index block physical layout. Entries are length-prefixed keys followed
// by a uvarint block pointer; an offset array and a fixed trailer close
// the block:
//
//	entry[i]  key len uvarint | key bytes | ptr offset uvarint | ptr size uvarint
//	offsets   count * u32 LE, byte offset of each entry from block start
//	trailer   count u32 LE | flags u8
//
// flags bit0 set marks a leaf block whose entries point at data blocks;
// clear marks an internal block whose entries point at child index blocks.
const (
	indexTrailerSize = 5
	indexLeafFlag    = 0x01
)

// indexBlock is a parsed index block, generic over the index key type.
// It aliases the block data; nothing is copied.
type indexBlock[K any] struct {
	codec   KeyCodec[K]
	count   int
	leaf    bool
	offsets []byte // count * u32 LE entry starts
	entries []byte // concatenated entry bytes
}

// parseIndexBlock validates the trailer and offset array of data.
// Individual entries are validated lazily by entryAt.
func parseIndexBlock[K any](data BlockData, codec KeyCodec[K]) (*indexBlock[K], error) {
	if len(data) < indexTrailerSize {
		return nil, fmt.Errorf("%w: index block of %d bytes is shorter than its trailer", ErrCorruption, len(data))
	}
	trailer := data[len(data)-indexTrailerSize:]
	count := binary.LittleEndian.Uint32(trailer)
	flags := trailer[4]

	if flags&^indexLeafFlag != 0 {
		return nil, fmt.Errorf("%w: index block has unknown flags %#x", ErrCorruption, flags)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: empty index block", ErrCorruption)
	}
	if int64(count)*4 > int64(len(data)-indexTrailerSize) {
		return nil, fmt.Errorf("%w: index block declares %d entries but holds only %d bytes", ErrCorruption, count, len(data))
	}

	offsetsStart := len(data) - indexTrailerSize - int(count)*4
	return &indexBlock[K]{
		codec:   codec,
		count:   int(count),
		leaf:    flags&indexLeafFlag != 0,
		offsets: data[offsetsStart : len(data)-indexTrailerSize],
		entries: data[:offsetsStart],
	}, nil
}

// entryAt decodes entry i into its key and block pointer.
func (b *indexBlock[K]) entryAt(i int) (K, BlockPointer, error) {
	var zero K
	start := int(binary.LittleEndian.Uint32(b.offsets[i*4:]))
	end := len(b.entries)
	if i+1 < b.count {
		end = int(binary.LittleEndian.Uint32(b.offsets[(i+1)*4:]))
	}
	if start > end || end > len(b.entries) {
		return zero, BlockPointer{}, fmt.Errorf("%w: index entry %d spans [%d,%d) outside its block", ErrCorruption, i, start, end)
	}
	entry := b.entries[start:end]

	keyLen, n := binary.Uvarint(entry)
	if n <= 0 || keyLen > uint64(len(entry)-n) {
		return zero, BlockPointer{}, fmt.Errorf("%w: index entry %d has a truncated key", ErrCorruption, i)
	}
	key, err := b.codec.DecodeKey(entry[n : n+int(keyLen)])
	if err != nil {
		return zero, BlockPointer{}, err
	}
	ptr, _, err := decodeBlockPointer(entry[n+int(keyLen):])
	if err != nil {
		return zero, BlockPointer{}, err
	}
	return key, ptr, nil
}

// seekAtOrBefore returns the position of the greatest entry whose key is
// at or before key. Returns ErrNotFound when even the first entry sorts
// after key.
func (b *indexBlock[K]) seekAtOrBefore(key K) (int, error) {
	var decodeErr error
	// Position of the first entry sorting strictly after key; the answer
	// sits immediately before it.
	i := sort.Search(b.count, func(i int) bool {
		if decodeErr != nil {
			return false
		}
		k, _, err := b.entryAt(i)
		if err != nil {
			decodeErr = err
			return false
		}
		return b.codec.Compare(k, key) > 0
	})
	if decodeErr != nil {
		return 0, decodeErr
	}
	if i == 0 {
		return 0, fmt.Errorf("%w: key precedes the index", ErrNotFound)
	}
	return i - 1, nil
}
