// Package cache defines block-granular caching for cfile byte sources.
//
// This package is designed as an optional enhancement to the core cfile
// library. A BlockCache wraps a ByteSource so that reads are served from
// fixed-size cached blocks, fetching from the underlying source only on a
// miss. That turns the scattered small reads of index descents and ordinal
// seeks into cheap local hits when the source is slow or remote.
//
// Cache keys are derived from the source's SourceID together with the block
// geometry, so a source whose identity changes (a rewritten file, a different
// object) never serves stale blocks.
package cache

import "io"

// ByteSource provides random access to data for block caching.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}

// RangeReader provides range reads for block cache fetches.
//
// Sources backed by range-capable transports can implement RangeReader to
// serve whole-block fetches without intermediate copies.
type RangeReader interface {
	ReadRange(off, length int64) (io.ReadCloser, error)
}

// BlockCache wraps ByteSources with block-level caching.
//
// Block caching is most effective for the random, non-contiguous reads a
// cfile reader issues (index descents, scattered ordinal seeks). For large
// sequential reads, caching can add overhead; DefaultMaxBlocksPerRead
// provides a conservative bypass to avoid caching large ranges.
type BlockCache interface {
	Wrap(src ByteSource, opts ...WrapOption) (ByteSource, error)

	// MaxBytes returns the configured cache size limit (0 = unlimited).
	MaxBytes() int64

	// SizeBytes returns the current cache size in bytes.
	SizeBytes() int64

	// Prune removes cached entries until the cache is at or below targetBytes.
	// Returns the number of bytes freed.
	Prune(targetBytes int64) (int64, error)
}

// DefaultBlockSize is the default block size used by block caches.
const DefaultBlockSize int64 = 64 << 10

// DefaultMaxBlocksPerRead caps cached blocks per ReadAt to avoid large sequential reads.
const DefaultMaxBlocksPerRead = 4

// WrapConfig controls block cache wrapping behavior.
type WrapConfig struct {
	BlockSize        int64
	MaxBlocksPerRead int
}

// DefaultWrapConfig returns the default block cache configuration.
func DefaultWrapConfig() WrapConfig {
	return WrapConfig{
		BlockSize:        DefaultBlockSize,
		MaxBlocksPerRead: DefaultMaxBlocksPerRead,
	}
}

// WrapOption configures block cache wrapping behavior.
type WrapOption func(*WrapConfig)

// WithBlockSize sets the block size used for caching.
func WithBlockSize(n int64) WrapOption {
	return func(cfg *WrapConfig) {
		cfg.BlockSize = n
	}
}

// WithMaxBlocksPerRead bypasses caching when a ReadAt spans more than n blocks.
// Values <= 0 disable the limit.
func WithMaxBlocksPerRead(n int) WrapOption {
	return func(cfg *WrapConfig) {
		cfg.MaxBlocksPerRead = n
	}
}
