package cfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Plain int block layout: a u32 LE value count, the ordinal of the first
// value, then count fixed-width u32 LE values.
const intBlockHeaderSize = 8

// IntBlockDecoder decodes a plain-encoded block of uint32 values and
// tracks a position within it.
type IntBlockDecoder struct {
	values       []byte
	firstOrdinal uint32
	count        uint32
	pos          uint32
}

// ParseIntBlock validates the header and exact payload length of data and
// returns a decoder positioned on the first value. The decoder aliases
// data.
func ParseIntBlock(data BlockData) (*IntBlockDecoder, error) {
	if len(data) < intBlockHeaderSize {
		return nil, fmt.Errorf("%w: int block of %d bytes is shorter than its header", ErrCorruption, len(data))
	}
	count := binary.LittleEndian.Uint32(data)
	firstOrdinal := binary.LittleEndian.Uint32(data[4:])

	if want := intBlockHeaderSize + int64(count)*4; int64(len(data)) != want {
		return nil, fmt.Errorf("%w: int block of %d bytes, want %d for %d values", ErrCorruption, len(data), want, count)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: empty int block", ErrCorruption)
	}
	if uint64(firstOrdinal)+uint64(count) > math.MaxUint32+1 {
		return nil, fmt.Errorf("%w: int block ordinal range [%d, %d+%d) overflows", ErrCorruption, firstOrdinal, firstOrdinal, count)
	}

	return &IntBlockDecoder{
		values:       data[intBlockHeaderSize:],
		firstOrdinal: firstOrdinal,
		count:        count,
	}, nil
}

// FirstOrdinal returns the ordinal of the block's first value.
func (d *IntBlockDecoder) FirstOrdinal() uint32 {
	return d.firstOrdinal
}

// Count returns the number of values in the block.
func (d *IntBlockDecoder) Count() uint32 {
	return d.count
}

// SeekToPosition positions the decoder on the idx'th value of the block.
// idx must be in [0, Count()); anything else is a caller bug and panics.
func (d *IntBlockDecoder) SeekToPosition(idx uint32) {
	if idx >= d.count {
		panic(fmt.Sprintf("cfile: position %d out of range in block of %d values", idx, d.count))
	}
	d.pos = idx
}

// Position returns the current position within the block.
func (d *IntBlockDecoder) Position() uint32 {
	return d.pos
}

// CurrentOrdinal returns the ordinal of the value under the position.
func (d *IntBlockDecoder) CurrentOrdinal() uint32 {
	return d.firstOrdinal + d.pos
}

// Value returns the value under the position.
func (d *IntBlockDecoder) Value() uint32 {
	return binary.LittleEndian.Uint32(d.values[int(d.pos)*4:])
}
