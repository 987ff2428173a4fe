package memcore

import (
	"errors"
	"fmt"
)

// ErrKind classifies a memcore error into one of a closed set of categories.
// Callers dispatch on Kind rather than sentinel identity, since several DAL
// operations can fail for the same underlying reason.
type ErrKind int

const (
	// InvalidInput marks a validation failure: missing required field, empty
	// text, unrecognized source type, a non-finite vector, an ambiguous scope.
	InvalidInput ErrKind = iota

	// NotFound marks a missing reference (e.g. an unknown chunk_id in a
	// traversal). Callers should usually treat this as an empty result, not
	// propagate it as an error.
	NotFound

	// StoreTransient marks a network or server-side failure from the vector
	// or graph store. Retried at most once with exponential backoff before
	// surfacing.
	StoreTransient

	// StorePermanent marks a schema or constraint violation. Surfaced
	// immediately, never retried.
	StorePermanent

	// EmbeddingFailure marks a provider error. Ingestion aborts before any
	// store write is attempted.
	EmbeddingFailure

	// PartialIngest marks a chunk where the vector write succeeded but the
	// graph write failed, or vice versa.
	PartialIngest

	// Cancelled marks cooperative cancellation via context.
	Cancelled
)

func (k ErrKind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case NotFound:
		return "not_found"
	case StoreTransient:
		return "store_transient"
	case StorePermanent:
		return "store_permanent"
	case EmbeddingFailure:
		return "embedding_failure"
	case PartialIngest:
		return "partial_ingest"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the wrapper type every memcore-aware component returns. Op
// identifies the failing operation (e.g. "vectorstore.upsert"); ChunkID is
// set when the failure concerns a specific chunk.
type Error struct {
	Kind    ErrKind
	Op      string
	ChunkID string
	Err     error
}

func (e *Error) Error() string {
	if e.ChunkID != "" {
		return fmt.Sprintf("%s: %s (chunk_id=%s): %v", e.Op, e.Kind, e.ChunkID, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an [*Error] wrapping err under op/kind.
func NewError(kind ErrKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NewChunkError builds an [*Error] additionally identifying the chunk it
// concerns.
func NewChunkError(kind ErrKind, op, chunkID string, err error) *Error {
	return &Error{Kind: kind, Op: op, ChunkID: chunkID, Err: err}
}

// KindOf extracts the [ErrKind] from err if it (or something it wraps) is a
// memcore [*Error]. Returns (0, false) otherwise — callers must check ok.
func KindOf(err error) (ErrKind, bool) {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind, true
	}
	return 0, false
}
