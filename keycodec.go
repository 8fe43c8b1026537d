package cfile

import (
	"encoding/binary"
	"fmt"
)

// KeyCodec defines the key type of one B-tree index: how keys are ordered
// and how they appear on the wire inside index blocks.
//
// Implementations must be stateless; a single codec value is shared across
// concurrent searches.
type KeyCodec[K any] interface {
	// DecodeKey parses the key stored in buf.
	DecodeKey(buf []byte) (K, error)

	// EncodeKey appends the wire form of key to dst.
	EncodeKey(dst []byte, key K) []byte

	// Compare orders two keys: negative if a sorts before b, zero if
	// equal, positive if after.
	Compare(a, b K) int
}

// OrdinalCodec is the KeyCodec of the positional index: row ordinals as
// fixed-width little-endian uint32 keys.
type OrdinalCodec struct{}

// DecodeKey implements KeyCodec.
func (OrdinalCodec) DecodeKey(buf []byte) (uint32, error) {
	if len(buf) != 4 {
		return 0, fmt.Errorf("%w: ordinal key of %d bytes, want 4", ErrCorruption, len(buf))
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// EncodeKey implements KeyCodec.
func (OrdinalCodec) EncodeKey(dst []byte, key uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, key)
}

// Compare implements KeyCodec.
func (OrdinalCodec) Compare(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Interface compliance.
var _ KeyCodec[uint32] = OrdinalCodec{}
