// Package coreerr defines the error kinds the RAG core distinguishes
// between, so callers can branch on them with errors.Is / errors.As
// instead of matching on message text.
package coreerr

import (
	"context"
	"errors"
	"fmt"
)

// ErrIndexingAborted is returned when a cooperative cancellation is
// observed mid-pipeline. Never retried; callers should surface it as
// a silent no-op rather than an error banner.
var ErrIndexingAborted = errors.New("indexing aborted")

// ErrInvalidQuery is returned when a BM25 query fails to parse.
// Retrievers treat it as "no results" rather than propagating it.
var ErrInvalidQuery = errors.New("invalid query")

// ErrConfigError is returned at provider construction time when
// required configuration (API key, base URL) is missing. Never
// retried.
var ErrConfigError = errors.New("config error")

// EmbeddingError wraps a transport/provider failure from an embedding
// call. Retried per policy at the call site; surfaced to the Indexer
// on final failure so it can decide whether to degrade to
// lexical-only indexing.
type EmbeddingError struct {
	Cause error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding error: %v", e.Cause)
}

func (e *EmbeddingError) Unwrap() error { return e.Cause }

func NewEmbeddingError(cause error) error {
	if cause == nil {
		return nil
	}
	return &EmbeddingError{Cause: cause}
}

// StoreError wraps a persistence failure. Surfaced to the caller;
// callers may invoke Store.RecoverFromError to reset all open
// handles and caches.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

func NewStoreError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &StoreError{Op: op, Cause: cause}
}

// IsAborted reports whether err is (or wraps) a cancellation.
func IsAborted(err error) bool {
	return errors.Is(err, ErrIndexingAborted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
