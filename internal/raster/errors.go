package raster

import (
	"errors"
	"fmt"
)

// Common rasterization errors
var (
	// ErrEmptyInput is returned when no PDF bytes were supplied.
	ErrEmptyInput = errors.New("empty PDF input")

	// ErrInvalidDPI is returned when the render resolution is not positive.
	ErrInvalidDPI = errors.New("dpi must be a positive integer")

	// ErrInvalidPDF is returned when the bytes cannot be opened as a PDF document.
	ErrInvalidPDF = errors.New("invalid or corrupted PDF document")

	// ErrNoPages is returned when the document opens but contains no pages.
	ErrNoPages = errors.New("PDF document has no pages")
)

// RasterizationError wraps errors with additional context about a failed
// PDF to image conversion.
type RasterizationError struct {
	// Op is the operation that failed (e.g., "Rasterize", "RenderPage").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string

	// Page is the 1-based page being processed, 0 when not page specific.
	Page int
}

// Error implements the error interface.
func (e *RasterizationError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("raster: %s failed on page %d: %s: %v", e.Op, e.Page, e.Details, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("raster: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("raster: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *RasterizationError) Unwrap() error {
	return e.Err
}

func newError(op string, err error, details string) *RasterizationError {
	return &RasterizationError{Op: op, Err: err, Details: details}
}

func newPageError(op string, page int, err error, details string) *RasterizationError {
	return &RasterizationError{Op: op, Err: err, Details: details, Page: page}
}
