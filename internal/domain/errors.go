package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrIndexNotFound signals a missing index in the metastore.
	ErrIndexNotFound = errors.New("index not found")
	// ErrAlreadyExists signals a duplicate resource.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidRequest signals a malformed request that no node can serve.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSplitCorrupt signals a split whose footer or components cannot be decoded.
	ErrSplitCorrupt = errors.New("split corrupt")
	// ErrNoNodes signals an empty cluster.
	ErrNoNodes = errors.New("no searcher nodes available")
	// ErrNotImplemented signals an unimplemented feature.
	ErrNotImplemented = errors.New("not implemented")
)

// InvalidRequestf wraps ErrInvalidRequest with a formatted reason.
func InvalidRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// IndexNotFoundError carries the index id of a failed lookup.
type IndexNotFoundError struct {
	IndexID string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("index %q not found", e.IndexID)
}

func (e *IndexNotFoundError) Is(target error) bool {
	return target == ErrIndexNotFound || target == ErrNotFound
}

// NewIndexNotFound creates an IndexNotFoundError.
func NewIndexNotFound(indexID string) error {
	return &IndexNotFoundError{IndexID: indexID}
}
