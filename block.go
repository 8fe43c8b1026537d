package cfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BlockPointer locates a block of data within a file.
//
// The zero value is never valid: block data cannot start at offset zero
// (the header preamble lives there) and cannot reach the last byte of the
// file (the footer preamble does).
type BlockPointer struct {
	offset int64
	size   int64
}

// NewBlockPointer constructs a pointer to size bytes starting at offset.
func NewBlockPointer(offset, size int64) BlockPointer {
	return BlockPointer{offset: offset, size: size}
}

// Offset returns the byte offset of the block within the file.
func (p BlockPointer) Offset() int64 { return p.offset }

// Size returns the block length in bytes.
func (p BlockPointer) Size() int64 { return p.size }

// Valid reports whether the pointer addresses a block that can exist in a
// file of fileSize bytes: a positive offset and an end strictly before the
// last byte.
func (p BlockPointer) Valid(fileSize int64) bool {
	return p.offset > 0 && p.size >= 0 && p.offset < fileSize && fileSize-p.offset > p.size
}

// String implements fmt.Stringer for log output.
func (p BlockPointer) String() string {
	return fmt.Sprintf("offset=%d size=%d", p.offset, p.size)
}

// decodeBlockPointer reads the uvarint wire form of a pointer (offset then
// size) from buf, returning the pointer and the number of bytes consumed.
func decodeBlockPointer(buf []byte) (BlockPointer, int, error) {
	offset, n := binary.Uvarint(buf)
	if n <= 0 {
		return BlockPointer{}, 0, fmt.Errorf("%w: truncated block pointer offset", ErrCorruption)
	}
	size, m := binary.Uvarint(buf[n:])
	if m <= 0 {
		return BlockPointer{}, 0, fmt.Errorf("%w: truncated block pointer size", ErrCorruption)
	}
	if offset > math.MaxInt64 || size > math.MaxInt64 {
		return BlockPointer{}, 0, fmt.Errorf("%w: block pointer overflows int64", ErrCorruption)
	}
	return NewBlockPointer(int64(offset), int64(size)), n + m, nil
}

// BlockData is the raw contents of one block read from a file.
type BlockData []byte
