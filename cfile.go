//go:generate flatc --go --go-namespace fb -o internal schema/cfile.fbs

// Package cfile reads cfile archives: immutable, self-describing columnar
// block files addressed through embedded B-tree indexes.
//
// A cfile frames two FlatBuffers metadata records with a fixed 12-byte
// preamble (8-byte magic plus a little-endian payload length): a header at
// the start of the file and a footer ending at the last byte. The footer
// names the B-tree indexes stored in the file and the root block of each.
// Everything between the metadata regions is opaque blocks reachable only
// through [BlockPointer] values found in the indexes.
//
// # Quick Start
//
// Open a file and seek the positional index to a row ordinal:
//
//	r, err := cfile.OpenFile("part-0001.cfile")
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
//	it, err := r.NewIterator()
//	if err != nil {
//	    return err
//	}
//	if err := it.SeekToOrdinal(ctx, 50); err != nil {
//	    return err
//	}
//	value := it.Value()
//
// # Caching
//
// Readers accept any [ByteSource]. Wrap a source with the cache subpackage
// to add block-granular read-through caching for slow or remote storage:
//
//	blocks, err := disk.New("/var/cache/cfile")
//	if err != nil {
//	    return err
//	}
//	src, err := blocks.Wrap(fileSrc)
//	if err != nil {
//	    return err
//	}
//	r, err := cfile.Open(src)
package cfile

// Magic identifies a cfile. It opens both the header and footer preambles.
const Magic = "kuducfl!"

// PreambleSize is the size of the metadata frame: the magic followed by a
// uint32 little-endian payload length.
const PreambleSize = len(Magic) + 4

// MaxMetadataSize caps the payload length a preamble may declare. Header
// and footer records larger than this are rejected as corrupt.
const MaxMetadataSize = 64 << 10

// FormatVersion is the newest record version this package understands.
const FormatVersion = 1

// PositionalIndexID names the reserved B-tree that maps row ordinals to
// data blocks.
const PositionalIndexID = "idx.positional"
