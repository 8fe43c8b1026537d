package cfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
)

// ByteSource provides random access to an immutable sequence of bytes.
//
// Implementations must be safe for concurrent use; the Reader issues
// overlapping ReadAt calls during prefetch.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// SourceIDer is implemented by sources with a stable identity. Cache
// layers key cached blocks by this identity.
type SourceIDer interface {
	SourceID() string
}

// FileSource is a ByteSource backed by a file on disk.
// os.File has ReadAt but not Size, so the size is cached at construction.
type FileSource struct {
	file     *os.File
	size     int64
	sourceID string
}

// NewFileSource opens path for random access.
func NewFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat source: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	// The identity covers path, size and mtime so cached blocks are keyed
	// to this version of the file.
	id := digest.FromString(fmt.Sprintf("file:%s:%d:%d", abs, info.Size(), info.ModTime().UnixNano()))
	return &FileSource{
		file:     f,
		size:     info.Size(),
		sourceID: id.Encoded(),
	}, nil
}

// ReadAt implements io.ReaderAt.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Size returns the total size of the file.
func (s *FileSource) Size() int64 {
	return s.size
}

// SourceID implements SourceIDer.
func (s *FileSource) SourceID() string {
	return s.sourceID
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.file.Close()
}

// BytesSource is an in-memory ByteSource.
type BytesSource struct {
	data     []byte
	sourceID string
}

// NewBytesSource wraps data. The source aliases the slice; callers must not
// modify it afterwards.
func NewBytesSource(data []byte) *BytesSource {
	return &BytesSource{
		data:     data,
		sourceID: uuid.NewString(),
	}
}

// ReadAt implements io.ReaderAt over the backing slice.
func (s *BytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (s *BytesSource) Size() int64 {
	return int64(len(s.data))
}

// SourceID implements SourceIDer. Each BytesSource gets a fresh identity
// at construction.
func (s *BytesSource) SourceID() string {
	return s.sourceID
}

// Interface compliance.
var (
	_ ByteSource = (*FileSource)(nil)
	_ SourceIDer = (*FileSource)(nil)
	_ io.Closer  = (*FileSource)(nil)
	_ ByteSource = (*BytesSource)(nil)
	_ SourceIDer = (*BytesSource)(nil)
)
