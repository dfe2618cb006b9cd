package domain

import "errors"

// Sentinel errors shared across the engine and its adapters. Callers branch
// with errors.Is; wrapping sites add the offending field, id or cause.
var (
	// ErrInvalid marks rejected input: bad agent tags, out-of-range
	// scores, unknown enum values, malformed claims.
	ErrInvalid = errors.New("invalid input")

	// ErrCapacityExceeded is returned by store when the graph is at its
	// configured maximum and nothing could be evicted.
	ErrCapacityExceeded = errors.New("memory capacity exceeded")

	// ErrNotFound marks lookups of ids the graph does not hold.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks operations that would violate conflict state,
	// such as resolving an already-resolved conflict.
	ErrConflict = errors.New("conflict")

	// ErrDimensionMismatch is returned when two embeddings of different
	// lengths are compared.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrStorage wraps persistence failures from the storage adapter.
	ErrStorage = errors.New("storage failure")

	// ErrAdapterMissing marks operations that need an embedding or chat
	// adapter that was not configured.
	ErrAdapterMissing = errors.New("adapter not configured")

	// ErrLLMParse marks chat responses that could not be parsed into the
	// strict JSON shape an operation requires.
	ErrLLMParse = errors.New("unparseable model response")
)
