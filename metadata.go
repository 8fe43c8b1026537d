package cfile

import (
	"fmt"
	"iter"
	"math"

	"github.com/meigma/cfile/internal/fb"
)

// Header is the parsed header record of a file.
//
// Header is backed by FlatBuffers; accessors alias the record buffer and
// remain valid while the Reader is alive.
type Header struct {
	data []byte
	root *fb.FileHeader
}

// parseHeader parses a FlatBuffers-encoded header record.
//
// The record is walked once up front so truncated or garbage buffers fail
// here as corruption errors instead of panicking in an accessor later.
func parseHeader(data []byte) (h *Header, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty header record", ErrCorruption)
	}
	defer func() {
		if recover() != nil {
			h, err = nil, fmt.Errorf("%w: malformed header record", ErrCorruption)
		}
	}()

	root := fb.GetRootAsFileHeader(data, 0)
	if v := root.Version(); v > FormatVersion {
		return nil, fmt.Errorf("%w: header version %d, newest supported is %d", ErrCorruption, v, FormatVersion)
	}
	var p fb.Property
	for i := range root.PropsLength() {
		if !root.Props(&p, i) {
			return nil, fmt.Errorf("%w: unreadable header property %d", ErrCorruption, i)
		}
		_ = p.Key()
		_ = p.ValueBytes()
	}

	return &Header{data: data, root: root}, nil
}

// Version returns the format version the writer recorded.
func (h *Header) Version() uint32 {
	return h.root.Version()
}

// Len returns the number of file properties.
func (h *Header) Len() int {
	return h.root.PropsLength()
}

// Prop returns the value of the named property.
//
// The returned slice aliases the record buffer.
func (h *Header) Prop(key string) ([]byte, bool) {
	var p fb.Property
	for i := range h.root.PropsLength() {
		if !h.root.Props(&p, i) {
			return nil, false
		}
		if string(p.Key()) == key {
			return p.ValueBytes(), true
		}
	}
	return nil, false
}

// Props returns an iterator over all properties in record order.
func (h *Header) Props() iter.Seq2[string, []byte] {
	return func(yield func(string, []byte) bool) {
		var p fb.Property
		for i := range h.root.PropsLength() {
			if !h.root.Props(&p, i) {
				return
			}
			if !yield(string(p.Key()), p.ValueBytes()) {
				return
			}
		}
	}
}

// Footer is the parsed footer record of a file: the entry point naming
// every B-tree index and its root block.
type Footer struct {
	data []byte
	root *fb.FileFooter
}

// parseFooter parses a FlatBuffers-encoded footer record.
//
// Every B-tree record is probed up front: it must be readable, carry an
// identifier, and hold a root pointer whose fields fit in int64. After a
// successful parse the accessors below cannot fail.
func parseFooter(data []byte) (f *Footer, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty footer record", ErrCorruption)
	}
	defer func() {
		if recover() != nil {
			f, err = nil, fmt.Errorf("%w: malformed footer record", ErrCorruption)
		}
	}()

	root := fb.GetRootAsFileFooter(data, 0)
	if v := root.Version(); v > FormatVersion {
		return nil, fmt.Errorf("%w: footer version %d, newest supported is %d", ErrCorruption, v, FormatVersion)
	}
	var bt fb.BTreeInfo
	var bp fb.BlockPointer
	for i := range root.BtreesLength() {
		if !root.Btrees(&bt, i) {
			return nil, fmt.Errorf("%w: unreadable btree record %d", ErrCorruption, i)
		}
		if len(bt.Identifier()) == 0 {
			return nil, fmt.Errorf("%w: btree record %d has no identifier", ErrCorruption, i)
		}
		rec := bt.Root(&bp)
		if rec == nil {
			return nil, fmt.Errorf("%w: btree %q has no root pointer", ErrCorruption, bt.Identifier())
		}
		if rec.Offset() > math.MaxInt64 || rec.Size() > math.MaxInt64 {
			return nil, fmt.Errorf("%w: btree %q root pointer overflows int64", ErrCorruption, bt.Identifier())
		}
	}

	return &Footer{data: data, root: root}, nil
}

// Version returns the format version the writer recorded.
func (f *Footer) Version() uint32 {
	return f.root.Version()
}

// Len returns the number of B-tree indexes named by the footer.
func (f *Footer) Len() int {
	return f.root.BtreesLength()
}

// BTrees returns an iterator over identifier/root pairs in footer order.
func (f *Footer) BTrees() iter.Seq2[string, BlockPointer] {
	return func(yield func(string, BlockPointer) bool) {
		var bt fb.BTreeInfo
		var bp fb.BlockPointer
		for i := range f.root.BtreesLength() {
			if !f.root.Btrees(&bt, i) {
				return
			}
			rec := bt.Root(&bp)
			if !yield(string(bt.Identifier()), pointerFromRecord(rec)) {
				return
			}
		}
	}
}

// pointerFromRecord converts the wire struct to a BlockPointer. parseFooter
// established that both fields fit in int64.
func pointerFromRecord(rec *fb.BlockPointer) BlockPointer {
	return NewBlockPointer(int64(rec.Offset()), int64(rec.Size()))
}
