package testutil

import (
	"bytes"
	"encoding/binary"
	"io"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/google/uuid"

	"github.com/meigma/cfile/internal/fb"
)

const (
	magic             = "kuducfl!"
	positionalIndexID = "idx.positional"
)

// MockByteSource implements a simple in-memory byte source for tests.
type MockByteSource struct {
	data     []byte
	sourceID string
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(data []byte) *MockByteSource {
	return &MockByteSource{
		data:     data,
		sourceID: "mock:" + uuid.NewString(),
	}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockByteSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if off+int64(n) >= int64(len(m.data)) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// SourceID returns the stable identity assigned at construction.
func (m *MockByteSource) SourceID() string {
	return m.sourceID
}

// Bytes returns the backing slice for tests that need to mutate data.
func (m *MockByteSource) Bytes() []byte {
	return m.data
}

// Pointer locates a block inside a built file.
type Pointer struct {
	Offset int64
	Size   int64
}

// IndexEntry is one key/child pair of an index block under construction.
type IndexEntry struct {
	Key   []byte
	Child Pointer
}

// Property is a named header property.
type Property struct {
	Key   string
	Value []byte
}

// Builder assembles complete cfile images in memory.
//
// The header record is serialized at construction, so block offsets are
// final as soon as a block is appended. Build serializes the footer from
// the registered B-trees and closes the file.
type Builder struct {
	header  []byte
	blocks  bytes.Buffer
	btrees  []btreeDef
	footerV uint32
}

type btreeDef struct {
	identifier string
	root       Pointer
}

type builderConfig struct {
	headerVersion uint32
	footerVersion uint32
	props         []Property
}

// BuilderOption configures a Builder.
type BuilderOption func(*builderConfig)

// WithHeaderVersion overrides the header record version.
func WithHeaderVersion(v uint32) BuilderOption {
	return func(c *builderConfig) {
		c.headerVersion = v
	}
}

// WithFooterVersion overrides the footer record version.
func WithFooterVersion(v uint32) BuilderOption {
	return func(c *builderConfig) {
		c.footerVersion = v
	}
}

// WithProperty adds a header property.
func WithProperty(key string, value []byte) BuilderOption {
	return func(c *builderConfig) {
		c.props = append(c.props, Property{Key: key, Value: value})
	}
}

// NewBuilder starts an empty file with the given header contents.
func NewBuilder(opts ...BuilderOption) *Builder {
	cfg := builderConfig{headerVersion: 1, footerVersion: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Builder{
		header:  buildHeaderRecord(cfg.headerVersion, cfg.props),
		footerV: cfg.footerVersion,
	}
}

// NextOffset returns the file offset the next appended block will land at.
func (b *Builder) NextOffset() int64 {
	return int64(len(magic) + 4 + len(b.header) + b.blocks.Len())
}

// AppendBlock appends raw block bytes and returns their location.
func (b *Builder) AppendBlock(data []byte) Pointer {
	ptr := Pointer{Offset: b.NextOffset(), Size: int64(len(data))}
	b.blocks.Write(data)
	return ptr
}

// AppendIndexBlock encodes and appends an index block over entries.
func (b *Builder) AppendIndexBlock(leaf bool, entries ...IndexEntry) Pointer {
	return b.AppendBlock(EncodeIndexBlock(leaf, entries...))
}

// AppendIntBlock encodes and appends a plain int block holding values,
// the first of which sits at firstOrdinal.
func (b *Builder) AppendIntBlock(firstOrdinal uint32, values []uint32) Pointer {
	return b.AppendBlock(EncodeIntBlock(firstOrdinal, values))
}

// EncodeIndexBlock encodes an index block over entries.
func EncodeIndexBlock(leaf bool, entries ...IndexEntry) []byte {
	var buf bytes.Buffer
	offsets := make([]uint32, 0, len(entries))
	for _, e := range entries {
		offsets = append(offsets, uint32(buf.Len()))
		buf.Write(binary.AppendUvarint(nil, uint64(len(e.Key))))
		buf.Write(e.Key)
		buf.Write(binary.AppendUvarint(nil, uint64(e.Child.Offset)))
		buf.Write(binary.AppendUvarint(nil, uint64(e.Child.Size)))
	}
	var word [4]byte
	for _, off := range offsets {
		binary.LittleEndian.PutUint32(word[:], off)
		buf.Write(word[:])
	}
	binary.LittleEndian.PutUint32(word[:], uint32(len(entries)))
	buf.Write(word[:])
	if leaf {
		buf.WriteByte(0x01)
	} else {
		buf.WriteByte(0x00)
	}
	return buf.Bytes()
}

// EncodeIntBlock encodes a plain int block holding values starting at
// firstOrdinal.
func EncodeIntBlock(firstOrdinal uint32, values []uint32) []byte {
	buf := make([]byte, 8+4*len(values))
	binary.LittleEndian.PutUint32(buf, uint32(len(values)))
	binary.LittleEndian.PutUint32(buf[4:], firstOrdinal)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[8+4*i:], v)
	}
	return buf
}

// AddBTree registers a named B-tree root for the footer. Duplicate
// identifiers are kept in registration order.
func (b *Builder) AddBTree(identifier string, root Pointer) {
	b.btrees = append(b.btrees, btreeDef{identifier: identifier, root: root})
}

// Build serializes the footer and returns the complete file image.
func (b *Builder) Build() []byte {
	footer := buildFooterRecord(b.footerV, b.btrees)

	var out bytes.Buffer
	writePreamble(&out, len(b.header))
	out.Write(b.header)
	out.Write(b.blocks.Bytes())
	out.Write(footer)
	writePreamble(&out, len(footer))
	return out.Bytes()
}

// OrdinalKey encodes a row ordinal as an index key.
func OrdinalKey(ordinal uint32) []byte {
	key := make([]byte, 4)
	binary.LittleEndian.PutUint32(key, ordinal)
	return key
}

// OrdinalFile builds a complete positional cfile where ordinal i holds
// vals[i]. Values are split into int blocks of blockRows entries and
// indexed with at most fanout entries per index block, growing internal
// levels as needed.
func OrdinalFile(vals []uint32, blockRows, fanout int) []byte {
	b := NewBuilder()

	var entries []IndexEntry
	for start := 0; start < len(vals); start += blockRows {
		end := min(start+blockRows, len(vals))
		ptr := b.AppendIntBlock(uint32(start), vals[start:end])
		entries = append(entries, IndexEntry{Key: OrdinalKey(uint32(start)), Child: ptr})
	}

	leaf := true
	for {
		if len(entries) <= fanout {
			root := b.AppendIndexBlock(leaf, entries...)
			b.AddBTree(positionalIndexID, root)
			return b.Build()
		}
		var next []IndexEntry
		for start := 0; start < len(entries); start += fanout {
			end := min(start+fanout, len(entries))
			ptr := b.AppendIndexBlock(leaf, entries[start:end]...)
			next = append(next, IndexEntry{Key: entries[start].Key, Child: ptr})
		}
		entries = next
		leaf = false
	}
}

func writePreamble(out *bytes.Buffer, payloadLen int) {
	out.WriteString(magic)
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], uint32(payloadLen))
	out.Write(word[:])
}

func buildHeaderRecord(version uint32, props []Property) []byte {
	fbb := flatbuffers.NewBuilder(64)

	propOffs := make([]flatbuffers.UOffsetT, 0, len(props))
	for _, p := range props {
		key := fbb.CreateString(p.Key)
		value := fbb.CreateByteVector(p.Value)
		fb.PropertyStart(fbb)
		fb.PropertyAddKey(fbb, key)
		fb.PropertyAddValue(fbb, value)
		propOffs = append(propOffs, fb.PropertyEnd(fbb))
	}
	var vec flatbuffers.UOffsetT
	if len(propOffs) > 0 {
		fb.FileHeaderStartPropsVector(fbb, len(propOffs))
		for i := len(propOffs) - 1; i >= 0; i-- {
			fbb.PrependUOffsetT(propOffs[i])
		}
		vec = fbb.EndVector(len(propOffs))
	}

	fb.FileHeaderStart(fbb)
	fb.FileHeaderAddVersion(fbb, version)
	if len(propOffs) > 0 {
		fb.FileHeaderAddProps(fbb, vec)
	}
	fbb.Finish(fb.FileHeaderEnd(fbb))
	return fbb.FinishedBytes()
}

func buildFooterRecord(version uint32, btrees []btreeDef) []byte {
	fbb := flatbuffers.NewBuilder(128)

	infoOffs := make([]flatbuffers.UOffsetT, 0, len(btrees))
	for _, bt := range btrees {
		id := fbb.CreateString(bt.identifier)
		fb.BTreeInfoStart(fbb)
		fb.BTreeInfoAddIdentifier(fbb, id)
		root := fb.CreateBlockPointer(fbb, uint64(bt.root.Offset), uint64(bt.root.Size))
		fb.BTreeInfoAddRoot(fbb, root)
		infoOffs = append(infoOffs, fb.BTreeInfoEnd(fbb))
	}
	var vec flatbuffers.UOffsetT
	if len(infoOffs) > 0 {
		fb.FileFooterStartBtreesVector(fbb, len(infoOffs))
		for i := len(infoOffs) - 1; i >= 0; i-- {
			fbb.PrependUOffsetT(infoOffs[i])
		}
		vec = fbb.EndVector(len(infoOffs))
	}

	fb.FileFooterStart(fbb)
	fb.FileFooterAddVersion(fbb, version)
	if len(infoOffs) > 0 {
		fb.FileFooterAddBtrees(fbb, vec)
	}
	fbb.Finish(fb.FileFooterEnd(fbb))
	return fbb.FinishedBytes()
}
