package cfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// decodePreamble validates one 12-byte metadata frame and returns the
// payload length it declares.
//
// Each rejection carries its own message so callers (and tests) can tell a
// bad magic from a bad length.
func decodePreamble(buf []byte) (int64, error) {
	if len(buf) != PreambleSize {
		return 0, fmt.Errorf("%w: preamble is %d bytes, want %d", ErrCorruption, len(buf), PreambleSize)
	}
	if !bytes.Equal(buf[:len(Magic)], []byte(Magic)) {
		return 0, fmt.Errorf("%w: bad magic %q", ErrCorruption, buf[:len(Magic)])
	}
	length := binary.LittleEndian.Uint32(buf[len(Magic):])
	if length == 0 {
		return 0, fmt.Errorf("%w: zero-length metadata record", ErrCorruption)
	}
	if int64(length) > MaxMetadataSize {
		return 0, fmt.Errorf("%w: metadata record of %d bytes exceeds maximum %d", ErrCorruption, length, MaxMetadataSize)
	}
	return int64(length), nil
}
