// Package http provides a cfile ByteSource backed by HTTP range requests.
//
// A Source lets a Reader work against a remote file without downloading
// it: metadata and block reads become range GETs. Pair it with the
// cache/disk block cache to keep the request count down; the Source
// implements cache.RangeReader so block fetches stream one GET each.
package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Source implements random access reads via HTTP range requests.
// It satisfies cfile.ByteSource, cfile.SourceIDer and cache.RangeReader.
type Source struct {
	url      string
	client   *nethttp.Client
	headers  nethttp.Header
	size     int64
	sourceID string

	// Version pins from the initial probe. Carried as conditional headers
	// on every read so a remote rewrite fails loudly instead of mixing
	// bytes from two versions of the file.
	etag         string
	lastModified string
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// NewSource creates a Source backed by HTTP range requests.
//
// It probes the remote to determine the content size and to prove that
// the server honors range requests; servers that answer a range GET with
// 200 are rejected up front rather than on the first block read.
func NewSource(url string, opts ...Option) (*Source, error) {
	s := &Source{
		url:    url,
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}

	info, err := s.probe()
	if err != nil {
		return nil, err
	}
	s.size = info.size
	s.etag = info.etag
	s.lastModified = info.lastModified
	id := digest.FromString(fmt.Sprintf("http:%s:%d:%s:%s", url, info.size, info.etag, info.lastModified))
	s.sourceID = id.Encoded()
	return s, nil
}

// Size returns the total size of the remote content.
func (s *Source) Size() int64 {
	return s.size
}

// SourceID identifies this version of the remote content. It covers the
// URL, size, ETag and Last-Modified, so cached blocks are invalidated
// when the remote changes.
func (s *Source) SourceID() string {
	return s.sourceID
}

// ReadRange returns a reader over length bytes starting at off, clamped
// to the content size.
func (s *Source) ReadRange(off, length int64) (io.ReadCloser, error) {
	if length < 0 {
		return nil, fmt.Errorf("read range length %d: negative length", length)
	}
	if length == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if off < 0 {
		return nil, fmt.Errorf("read range %d: negative offset", off)
	}
	if off >= s.size {
		return io.NopCloser(bytes.NewReader(nil)), io.EOF
	}
	if length > s.size-off {
		length = s.size - off
	}

	req, err := s.newRequest(nethttp.MethodGet)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+length-1))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusRequestedRangeNotSatisfiable:
		drainClose(resp.Body)
		return io.NopCloser(bytes.NewReader(nil)), io.EOF
	case nethttp.StatusOK:
		drainClose(resp.Body)
		return nil, errors.New("range requests not supported")
	default:
		drainClose(resp.Body)
		return nil, fmt.Errorf("range request failed: %s", resp.Status)
	}

	return &rangeBody{body: resp.Body, reader: io.LimitReader(resp.Body, length)}, nil
}

// ReadAt reads from the remote at the given offset using a range request.
// A remote body shorter than the granted range surfaces as an I/O error.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	expected := int64(len(p))
	if off+expected > s.size {
		expected = s.size - off
	}

	rc, err := s.ReadRange(off, expected)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := io.ReadFull(rc, p[:expected])
	if err != nil {
		return n, err
	}
	if expected < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

// remoteInfo is what the initial probe learns about the content.
type remoteInfo struct {
	size         int64
	etag         string
	lastModified string
}

// probe combines a best-effort HEAD with a mandatory one-byte range GET.
// Only the range response proves range support; the HEAD cross-checks the
// size and may supply validators the range response lacks.
func (s *Source) probe() (remoteInfo, error) {
	var head remoteInfo
	head.size = -1
	if req, err := s.newRequest(nethttp.MethodHead); err == nil {
		if resp, doErr := s.client.Do(req); doErr == nil {
			head.size = resp.ContentLength
			head.etag = resp.Header.Get("ETag")
			head.lastModified = resp.Header.Get("Last-Modified")
			drainClose(resp.Body)
		}
	}

	req, err := s.newRequest(nethttp.MethodGet)
	if err != nil {
		return remoteInfo{}, err
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := s.client.Do(req)
	if err != nil {
		return remoteInfo{}, err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != nethttp.StatusPartialContent {
		if resp.StatusCode == nethttp.StatusOK {
			return remoteInfo{}, errors.New("range requests not supported")
		}
		return remoteInfo{}, fmt.Errorf("range probe failed: %s", resp.Status)
	}
	crange := resp.Header.Get("Content-Range")
	if crange == "" {
		return remoteInfo{}, errors.New("range probe missing Content-Range")
	}
	size, err := parseContentRange(crange)
	if err != nil {
		return remoteInfo{}, err
	}
	if head.size > 0 && head.size != size {
		return remoteInfo{}, fmt.Errorf("content size mismatch: head=%d range=%d", head.size, size)
	}

	info := remoteInfo{
		size:         size,
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}
	if info.etag == "" {
		info.etag = head.etag
	}
	if info.lastModified == "" {
		info.lastModified = head.lastModified
	}
	return info, nil
}

func (s *Source) newRequest(method string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequest(method, s.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	// Offsets are only meaningful against the identity encoding.
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if method == nethttp.MethodGet {
		if s.etag != "" && req.Header.Get("If-Match") == "" {
			req.Header.Set("If-Match", s.etag)
		}
		if s.lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
			req.Header.Set("If-Unmodified-Since", s.lastModified)
		}
	}
	return req, nil
}

// rangeBody limits reads to the granted range and drains the connection
// on Close so it can be reused.
type rangeBody struct {
	body   io.ReadCloser
	reader io.Reader
}

func (r *rangeBody) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

func (r *rangeBody) Close() error {
	_, _ = io.Copy(io.Discard, r.body)
	return r.body.Close()
}

func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

func parseContentRange(value string) (int64, error) {
	value = strings.TrimSpace(value)
	rest, ok := strings.CutPrefix(value, "bytes ")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	_, total, found := strings.Cut(rest, "/")
	if !found || total == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}
