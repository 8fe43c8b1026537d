package cfile

import (
	"errors"
	"fmt"
)

// Sentinel errors for cfile operations.
//
// Failures derived from file contents wrap ErrCorruption with a message
// naming the specific defect. Failures on the storage path pass the
// underlying error through wrapped with the operation. Misuse of the API
// (an invalid caller-built pointer, reading an unpositioned iterator)
// panics instead; it is a bug in the caller, not a property of the file.
var (
	// ErrCorruption is returned when file contents fail structural
	// validation: a bad magic, an out-of-bounds length, a truncated or
	// malformed metadata record, an index block that does not parse.
	ErrCorruption = errors.New("cfile: corrupt file")

	// ErrNotFound is returned when a requested identifier, key or ordinal
	// is not present in the file.
	ErrNotFound = errors.New("cfile: not found")
)

// ErrNoSuchIndex is returned by [Reader.IndexRoot] when the footer names no
// B-tree with the requested identifier. It matches ErrNotFound in errors.Is
// chains.
var ErrNoSuchIndex = fmt.Errorf("%w: no such index", ErrNotFound)
