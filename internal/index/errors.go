package index

import (
	"errors"
	"fmt"
)

// Common index errors
var (
	// ErrEmbedderUnavailable is returned when the embedding backend failed or
	// returned an unusable answer.
	ErrEmbedderUnavailable = errors.New("embedding model unavailable")

	// ErrDimensionMismatch is returned when new vectors do not match the
	// dimension fixed by the first add.
	ErrDimensionMismatch = errors.New("embedding dimension does not match index")

	// ErrInvalidTopK is returned for a non-positive result count.
	ErrInvalidTopK = errors.New("top_k must be greater than 0")
)

// IndexStateError reports a failed index operation.
type IndexStateError struct {
	Op      string
	Err     error
	Details string
}

func (e *IndexStateError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("index: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("index: %s failed: %v", e.Op, e.Err)
}

func (e *IndexStateError) Unwrap() error {
	return e.Err
}

func embedderError(op string, err error) error {
	return &IndexStateError{Op: op, Err: fmt.Errorf("%w: %w", ErrEmbedderUnavailable, err)}
}
