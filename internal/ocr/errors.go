package ocr

import (
	"errors"
	"fmt"
)

// Common OCR client errors
var (
	// ErrNoImages is returned when ExtractInvoice is called without page images.
	// No request is sent in that case.
	ErrNoImages = errors.New("expected at least one image for OCR")

	// ErrNoChoices is returned when the completion carries no message.
	ErrNoChoices = errors.New("malformed completion payload: no choices")

	// ErrNotJSON is returned when the model answered with something that does
	// not decode as a JSON object.
	ErrNotJSON = errors.New("model did not return a JSON object")
)

// TransportError is a network, timeout or non-2xx failure talking to the OCR
// endpoint.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ocr: %s transport failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError is returned when the completion content is not a usable JSON
// object.
type ParseError struct {
	Op      string
	Err     error
	Details string

	// Content is the raw model output, kept for debugging.
	Content string
}

func (e *ParseError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError is returned when the JSON parsed but did not satisfy the
// invoice schema. Err is an invoice.ValidationErrors.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ocr: %s schema validation failed: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every attempt failed. Err is the failure of
// the last attempt.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("ocr: extraction failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is one of the per-attempt failure classes
// the client retries.
func IsRetryable(err error) bool {
	var (
		transportErr  *TransportError
		parseErr      *ParseError
		validationErr *ValidationError
	)
	return errors.As(err, &transportErr) || errors.As(err, &parseErr) || errors.As(err, &validationErr)
}
