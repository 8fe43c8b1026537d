package disk

import (
	"bytes"
	"io"
	"os"
	"sync/atomic"
	"testing"

	cfilecache "github.com/meigma/cfile/cache"
)

type countingSource struct {
	data     []byte
	sourceID string
	reads    atomic.Int64
}

func (s *countingSource) ReadAt(p []byte, off int64) (int, error) {
	s.reads.Add(1)
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if off+int64(n) >= int64(len(s.data)) {
		return n, io.EOF
	}
	return n, nil
}

func (s *countingSource) Size() int64 {
	return int64(len(s.data))
}

func (s *countingSource) SourceID() string {
	return s.sourceID
}

func (s *countingSource) Reads() int64 {
	return s.reads.Load()
}

func testSource() *countingSource {
	return &countingSource{
		data:     []byte("0123456789abcdefghijklmnopqrstuv"),
		sourceID: "source:test",
	}
}

func TestBlockCacheReadAtReuse(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	src := testSource()
	cached, err := c.Wrap(src, cfilecache.WithBlockSize(8))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	buf := make([]byte, 4)
	n, err := cached.ReadAt(buf, 2)
	if err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if n != 4 || string(buf) != "2345" {
		t.Fatalf("ReadAt() got %q (n=%d), want %q", string(buf), n, "2345")
	}
	if reads := src.Reads(); reads != 1 {
		t.Fatalf("source reads = %d, want 1", reads)
	}

	buf = make([]byte, 3)
	n, err = cached.ReadAt(buf, 5)
	if err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if n != 3 || string(buf) != "567" {
		t.Fatalf("ReadAt() got %q (n=%d), want %q", string(buf), n, "567")
	}
	if reads := src.Reads(); reads != 1 {
		t.Fatalf("source reads = %d, want 1 (cache hit)", reads)
	}

	buf = make([]byte, 2)
	n, err = cached.ReadAt(buf, 9)
	if err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if n != 2 || string(buf) != "9a" {
		t.Fatalf("ReadAt() got %q (n=%d), want %q", string(buf), n, "9a")
	}
	if reads := src.Reads(); reads != 2 {
		t.Fatalf("source reads = %d, want 2", reads)
	}
}

func TestBlockCacheReadAtEdges(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	cached, err := c.Wrap(testSource(), cfilecache.WithBlockSize(8))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	// Short read at end of source.
	buf := make([]byte, 8)
	n, err := cached.ReadAt(buf, 28)
	if err != io.EOF {
		t.Fatalf("ReadAt() error = %v, want io.EOF", err)
	}
	if n != 4 || string(buf[:n]) != "stuv" {
		t.Fatalf("ReadAt() got %q (n=%d), want %q", string(buf[:n]), n, "stuv")
	}

	if _, err := cached.ReadAt(buf, 32); err != io.EOF {
		t.Fatalf("ReadAt() past end error = %v, want io.EOF", err)
	}
	if _, err := cached.ReadAt(buf, -1); err == nil {
		t.Fatal("ReadAt() negative offset error = nil, want error")
	}
}

func TestBlockCacheWrapValidation(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := c.Wrap(nil); err == nil {
		t.Fatal("Wrap(nil) error = nil, want error")
	}
	if _, err := c.Wrap(&countingSource{data: []byte("data")}); err == nil {
		t.Fatal("Wrap() with empty source id error = nil, want error")
	}
	if _, err := c.Wrap(testSource(), cfilecache.WithBlockSize(0)); err == nil {
		t.Fatal("Wrap() with zero block size error = nil, want error")
	}
	if _, err := c.Wrap(testSource(), cfilecache.WithMaxBlocksPerRead(-1)); err == nil {
		t.Fatal("Wrap() with negative max blocks error = nil, want error")
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") error = nil, want error")
	}
	if _, err := New(t.TempDir(), WithShardPrefixLen(-1)); err == nil {
		t.Fatal("New() with negative shard prefix error = nil, want error")
	}
	if _, err := New(t.TempDir(), WithMaxBytes(-1)); err == nil {
		t.Fatal("New() with negative max bytes error = nil, want error")
	}
}

func TestBlockCacheShardLayout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	src := testSource()
	cached, err := c.Wrap(src, cfilecache.WithBlockSize(8))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	buf := make([]byte, 4)
	if _, err := cached.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}

	key := c.blockKeyHex(src.SourceID(), 8, 0)
	path := c.pathForKey(key)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected cache file at %s: %v", path, err)
	}
	if got := len(key) + 1 + defaultShardPrefixLen + 1; len(path)-len(dir) != got {
		t.Fatalf("pathForKey() = %s, want sharded layout under %s", path, dir)
	}
}

func TestBlockCacheShardDisable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithShardPrefixLen(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	src := testSource()
	cached, err := c.Wrap(src, cfilecache.WithBlockSize(8))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	buf := make([]byte, 4)
	if _, err := cached.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].IsDir() {
		t.Fatalf("ReadDir() = %v, want one flat cache file", entries)
	}
}

func TestBlockCacheStaleEntryRefetch(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	src := testSource()
	cached, err := c.Wrap(src, cfilecache.WithBlockSize(8))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	buf := make([]byte, 8)
	if _, err := cached.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if reads := src.Reads(); reads != 1 {
		t.Fatalf("source reads = %d, want 1", reads)
	}

	// Clobber the cached block with a wrong-length entry.
	path := c.pathForKey(c.blockKeyHex(src.SourceID(), 8, 0))
	if err := os.WriteFile(path, []byte("xx"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := cached.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt() after clobber error = %v", err)
	}
	if string(buf) != "01234567" {
		t.Fatalf("ReadAt() got %q, want %q", string(buf), "01234567")
	}
	if reads := src.Reads(); reads != 2 {
		t.Fatalf("source reads = %d, want 2 (stale entry refetched)", reads)
	}
}

func TestBlockCacheCompression(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir(), WithCompression())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	src := testSource()
	cached, err := c.Wrap(src, cfilecache.WithBlockSize(8))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	got := make([]byte, 32)
	if _, err := cached.ReadAt(got, 0); err != nil && err != io.EOF {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if !bytes.Equal(got, src.data) {
		t.Fatalf("ReadAt() got %q, want %q", got, src.data)
	}
	readsAfterFill := src.Reads()

	// On disk the blocks are zstd frames, not source bytes.
	path := c.pathForKey(c.blockKeyHex(src.SourceID(), 8, 0))
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	zstdMagic := []byte{0x28, 0xb5, 0x2f, 0xfd}
	if len(raw) < 4 || !bytes.Equal(raw[:4], zstdMagic) {
		t.Fatalf("cached block starts with % x, want zstd magic % x", raw[:min(len(raw), 4)], zstdMagic)
	}

	// Hits decompress back to the source bytes without touching the source.
	buf := make([]byte, 8)
	if _, err := cached.ReadAt(buf, 8); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if string(buf) != "89abcdef" {
		t.Fatalf("ReadAt() got %q, want %q", string(buf), "89abcdef")
	}
	if reads := src.Reads(); reads != readsAfterFill {
		t.Fatalf("source reads = %d, want %d (cache hit)", reads, readsAfterFill)
	}
}

func TestBlockCachePrune(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	src := testSource()
	cached, err := c.Wrap(src, cfilecache.WithBlockSize(8))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	buf := make([]byte, 32)
	if _, err := cached.ReadAt(buf, 0); err != nil && err != io.EOF {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if size := c.SizeBytes(); size != 32 {
		t.Fatalf("SizeBytes() = %d, want 32", size)
	}

	freed, err := c.Prune(0)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if freed != 32 {
		t.Fatalf("Prune() freed = %d, want 32", freed)
	}
	if size := c.SizeBytes(); size != 0 {
		t.Fatalf("SizeBytes() after prune = %d, want 0", size)
	}

	// Pruned blocks are fetched again on the next read.
	before := src.Reads()
	if _, err := cached.ReadAt(buf, 0); err != nil && err != io.EOF {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if reads := src.Reads(); reads != before+4 {
		t.Fatalf("source reads = %d, want %d", reads, before+4)
	}
}

func TestBlockCacheMaxBytes(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir(), WithMaxBytes(16))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := c.MaxBytes(); got != 16 {
		t.Fatalf("MaxBytes() = %d, want 16", got)
	}
	src := testSource()
	cached, err := c.Wrap(src, cfilecache.WithBlockSize(8))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	buf := make([]byte, 8)
	for _, off := range []int64{0, 8, 16, 24} {
		if _, err := cached.ReadAt(buf, off); err != nil && err != io.EOF {
			t.Fatalf("ReadAt(%d) error = %v", off, err)
		}
	}
	if size := c.SizeBytes(); size != 16 {
		t.Fatalf("SizeBytes() = %d, want 16 (older blocks evicted)", size)
	}
}

func TestBlockCacheBlockLargerThanMaxBytes(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir(), WithMaxBytes(4))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	src := testSource()
	cached, err := c.Wrap(src, cfilecache.WithBlockSize(8))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	buf := make([]byte, 8)
	if _, err := cached.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if size := c.SizeBytes(); size != 0 {
		t.Fatalf("SizeBytes() = %d, want 0 (block exceeds limit, not cached)", size)
	}
	if _, err := cached.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if reads := src.Reads(); reads != 2 {
		t.Fatalf("source reads = %d, want 2 (nothing cached)", reads)
	}
}

func TestBlockCacheBypassLargeRead(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	src := testSource()
	cached, err := c.Wrap(src, cfilecache.WithBlockSize(8), cfilecache.WithMaxBlocksPerRead(1))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	// Spans two blocks, above the limit: handed straight to the source.
	buf := make([]byte, 10)
	n, err := cached.ReadAt(buf, 4)
	if err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if n != 10 || string(buf) != "456789abcd" {
		t.Fatalf("ReadAt() got %q (n=%d), want %q", string(buf), n, "456789abcd")
	}
	if size := c.SizeBytes(); size != 0 {
		t.Fatalf("SizeBytes() = %d, want 0 (read bypassed cache)", size)
	}
	if reads := src.Reads(); reads != 1 {
		t.Fatalf("source reads = %d, want 1", reads)
	}
}

func TestBlockCacheCountsExistingBlocks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	cached, err := c.Wrap(testSource(), cfilecache.WithBlockSize(8))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	buf := make([]byte, 16)
	if _, err := cached.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}

	// A second cache over the same directory picks up the existing size.
	c2, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got, want := c2.SizeBytes(), c.SizeBytes(); got != want {
		t.Fatalf("SizeBytes() = %d, want %d", got, want)
	}
	if c2.SizeBytes() != 16 {
		t.Fatalf("SizeBytes() = %d, want 16", c2.SizeBytes())
	}
}

func TestCachedSourceReadRange(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	cached, err := c.Wrap(testSource(), cfilecache.WithBlockSize(8))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	rr, ok := cached.(cfilecache.RangeReader)
	if !ok {
		t.Fatal("cached source does not implement RangeReader")
	}
	rc, err := rr.ReadRange(10, 6)
	if err != nil {
		t.Fatalf("ReadRange() error = %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "abcdef" {
		t.Fatalf("ReadRange() = %q, want %q", got, "abcdef")
	}
}

// rangeSource is a countingSource whose block fetches go through ReadRange.
type rangeSource struct {
	countingSource
	ranges atomic.Int64
}

func (s *rangeSource) ReadRange(off, length int64) (io.ReadCloser, error) {
	s.ranges.Add(1)
	if off < 0 || off >= int64(len(s.data)) {
		return nil, io.EOF
	}
	end := off + length
	if end > int64(len(s.data)) {
		end = int64(len(s.data))
	}
	return io.NopCloser(bytes.NewReader(s.data[off:end])), nil
}

func TestBlockCacheFetchesViaRangeReader(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	src := &rangeSource{}
	src.data = []byte("0123456789abcdef")
	src.sourceID = "source:range"

	cached, err := c.Wrap(src, cfilecache.WithBlockSize(8))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	buf := make([]byte, 4)
	if _, err := cached.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if string(buf) != "0123" {
		t.Fatalf("ReadAt() got %q, want %q", string(buf), "0123")
	}
	if got := src.ranges.Load(); got != 1 {
		t.Fatalf("range fetches = %d, want 1", got)
	}
	if got := src.Reads(); got != 0 {
		t.Fatalf("ReadAt fetches = %d, want 0 (range path preferred)", got)
	}
}
