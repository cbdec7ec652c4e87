// Package rawtext recovers the plain text of an invoice PDF for the optional
// raw_text audit field of an extracted record.
//
// The text comes from Google Cloud Vision DOCUMENT_TEXT_DETECTION on the
// inline PDF. It is a side channel: the structured fields still come from the
// OCR model, and a failure here never fails an extraction.
//
// Credentials:
//   - GOOGLE_CREDENTIALS: inline service account JSON, or
//   - GOOGLE_APPLICATION_CREDENTIALS: path to a service account file, or
//   - application default credentials as a fallback
//
// Cloud Vision synchronous limits apply: at most 20MB and 5 pages.
package rawtext

import (
	"context"
	"time"
)

// Source returns the text layer of a PDF.
type Source interface {
	Text(ctx context.Context, pdf []byte) (string, error)
}

// Result is the text of a document together with what Vision reported about it.
type Result struct {
	Text       string
	PageCount  int
	Confidence float32 // average over the annotated pages, 0 when unreported
	Languages  []string
	Duration   time.Duration
}
