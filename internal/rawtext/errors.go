package rawtext

import (
	"errors"
	"fmt"
)

// Common raw text errors
var (
	// ErrPDFTooLarge is returned when the PDF exceeds the 20MB synchronous limit.
	ErrPDFTooLarge = errors.New("PDF file size exceeds the maximum limit (20MB)")

	// ErrInvalidPDF is returned when the input has no PDF header.
	ErrInvalidPDF = errors.New("invalid or corrupted PDF document")

	// ErrTooManyPages is returned for documents over the 5 page synchronous limit.
	ErrTooManyPages = errors.New("PDF has too many pages (maximum 5 pages for synchronous processing)")

	// ErrEmptyDocument is returned when Vision found no text at all.
	ErrEmptyDocument = errors.New("document contains no readable text")

	// ErrAnnotationFailed is returned when the Vision call or one of its pages failed.
	ErrAnnotationFailed = errors.New("text detection failed")

	// ErrMissingCredentials is returned when no Google credentials can be found.
	ErrMissingCredentials = errors.New("missing Google Cloud credentials: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS")
)

// Error wraps a raw text failure with the operation that produced it.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("rawtext: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("rawtext: %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error, details string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Op: op, Err: err, Details: details}
}
