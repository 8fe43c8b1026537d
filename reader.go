package cfile

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Reader provides random access to the blocks of a cfile.
//
// A Reader returned by [Open] or [OpenFile] is fully initialized: both
// metadata records are read, parsed and validated before the constructor
// returns, so no partially-open state exists to misuse. Readers are safe
// for concurrent use as long as the underlying ByteSource is.
type Reader struct {
	src      ByteSource
	fileSize int64
	header   *Header
	footer   *Footer
	layout   Layout
	sugar    *zap.SugaredLogger
}

// Open reads and validates the metadata of the cfile behind src.
//
// Init order matters for error reporting: the file size gate runs before
// any read, and a footer preamble that fails to decode is reported before
// the footer payload is ever touched.
func Open(src ByteSource, opts ...Option) (*Reader, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	r := &Reader{
		src:      src,
		fileSize: src.Size(),
		sugar:    cfg.logger.Sugar(),
	}

	if r.fileSize <= 2*int64(PreambleSize) {
		return nil, fmt.Errorf("%w: file of %d bytes is too short to hold metadata", ErrCorruption, r.fileSize)
	}
	if err := r.readHeader(cfg.maxMetadataSize); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := r.readFooter(cfg.maxMetadataSize); err != nil {
		return nil, fmt.Errorf("read footer: %w", err)
	}
	r.layout = computeLayout(r)

	r.sugar.Debugw("opened cfile",
		"file_size", r.fileSize,
		"header_bytes", r.layout.HeaderSize,
		"footer_bytes", r.layout.FooterSize,
		"btrees", r.footer.Len(),
	)
	return r, nil
}

// OpenFile opens the cfile at path.
//
// The returned Reader owns the file handle; Close releases it.
func OpenFile(path string, opts ...Option) (*Reader, error) {
	src, err := NewFileSource(path)
	if err != nil {
		return nil, err
	}
	r, err := Open(src, opts...)
	if err != nil {
		src.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) readHeader(maxLen int64) error {
	buf := make([]byte, PreambleSize)
	if err := r.readAt(buf, 0); err != nil {
		return err
	}
	length, err := decodePreamble(buf)
	if err != nil {
		return err
	}
	if length > maxLen {
		return fmt.Errorf("%w: header record of %d bytes exceeds limit %d", ErrCorruption, length, maxLen)
	}
	if length > r.fileSize-2*int64(PreambleSize) {
		return fmt.Errorf("%w: header record of %d bytes overruns the file", ErrCorruption, length)
	}

	payload := make([]byte, length)
	if err := r.readAt(payload, int64(PreambleSize)); err != nil {
		return err
	}
	header, err := parseHeader(payload)
	if err != nil {
		return err
	}
	r.header = header
	return nil
}

func (r *Reader) readFooter(maxLen int64) error {
	// Decode the closing preamble first and surface its errors right away;
	// the declared length is untrusted until the magic checks out.
	buf := make([]byte, PreambleSize)
	if err := r.readAt(buf, r.fileSize-int64(PreambleSize)); err != nil {
		return err
	}
	length, err := decodePreamble(buf)
	if err != nil {
		return err
	}
	if length > maxLen {
		return fmt.Errorf("%w: footer record of %d bytes exceeds limit %d", ErrCorruption, length, maxLen)
	}
	if length > r.fileSize-2*int64(PreambleSize) {
		return fmt.Errorf("%w: footer record of %d bytes leaves no room for the header", ErrCorruption, length)
	}

	payload := make([]byte, length)
	if err := r.readAt(payload, r.fileSize-int64(PreambleSize)-length); err != nil {
		return err
	}
	footer, err := parseFooter(payload)
	if err != nil {
		return err
	}
	for id, root := range footer.BTrees() {
		if !root.Valid(r.fileSize) {
			return fmt.Errorf("%w: btree %q root (%s) out of bounds for %d-byte file", ErrCorruption, id, root, r.fileSize)
		}
	}
	r.footer = footer
	return nil
}

// readAt fills buf from the source at off. A short read surfaces as a
// wrapped io.ErrUnexpectedEOF naming the range.
func (r *Reader) readAt(buf []byte, off int64) error {
	n, err := r.src.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("read %d bytes at offset %d: %w", len(buf), off, err)
}

// ReadBlock reads the block addressed by ptr in a single source read,
// allocating exactly ptr.Size() bytes.
//
// Every pointer the Reader hands out satisfies the pointer invariant for
// this file. Passing one that does not is a caller bug and panics.
func (r *Reader) ReadBlock(ctx context.Context, ptr BlockPointer) (BlockData, error) {
	if !ptr.Valid(r.fileSize) {
		panic(fmt.Sprintf("cfile: invalid block pointer %s for file of %d bytes", ptr, r.fileSize))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := make([]byte, ptr.Size())
	if err := r.readAt(data, ptr.Offset()); err != nil {
		return nil, fmt.Errorf("read block: %w", err)
	}
	r.sugar.Debugw("read block", "offset", ptr.Offset(), "size", ptr.Size())
	return BlockData(data), nil
}

// IndexRoot returns the root block of the named B-tree index.
//
// The footer is scanned in file order and the first matching identifier
// wins. The result is stable for the lifetime of the Reader.
func (r *Reader) IndexRoot(identifier string) (BlockPointer, error) {
	for id, root := range r.footer.BTrees() {
		if id == identifier {
			return root, nil
		}
	}
	return BlockPointer{}, fmt.Errorf("%w %q", ErrNoSuchIndex, identifier)
}

// Header returns the parsed header record.
func (r *Reader) Header() *Header {
	return r.header
}

// Footer returns the parsed footer record.
func (r *Reader) Footer() *Footer {
	return r.footer
}

// Size returns the total size of the underlying source in bytes.
func (r *Reader) Size() int64 {
	return r.fileSize
}

// Layout returns the byte accounting computed at Open.
func (r *Reader) Layout() Layout {
	return r.layout
}

// Close releases the underlying source if it is closeable. The Reader must
// not be used afterwards.
func (r *Reader) Close() error {
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
