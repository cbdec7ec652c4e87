package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"invoiceocr/internal/config"
	"invoiceocr/internal/invoice"
	"invoiceocr/internal/ocr"
	"invoiceocr/internal/raster"
)

func TestHandleExtractError(t *testing.T) {
	appConfig = &config.Config{OCRBaseURL: "http://vllm:8000/v1"}
	t.Cleanup(func() { appConfig = nil })

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			"transport",
			&ocr.ExhaustedError{Attempts: 3, Err: &ocr.TransportError{Op: "CreateChatCompletion", Err: errors.New("connection refused")}},
			"could not reach the OCR model at http://vllm:8000/v1 after 3 attempt(s)",
		},
		{
			"per-attempt timeout is a transport failure",
			&ocr.ExhaustedError{Attempts: 2, Err: &ocr.TransportError{Op: "CreateChatCompletion", Err: context.DeadlineExceeded}},
			"could not reach the OCR model",
		},
		{
			"parse",
			&ocr.ExhaustedError{Attempts: 2, Err: &ocr.ParseError{Op: "parseCompletion", Err: ocr.ErrNotJSON}},
			"did not return valid JSON after 2 attempt(s)",
		},
		{
			"schema",
			&ocr.ExhaustedError{Attempts: 1, Err: &ocr.ValidationError{Op: "parseCompletion", Err: invoice.ValidationErrors{
				invoice.NewValidationError("data.totals.total", nil, invoice.ErrMissingRequiredField, "field required"),
			}}},
			"did not match the invoice schema after 1 attempt(s)",
		},
		{
			"invalid pdf",
			&raster.RasterizationError{Op: "Rasterize", Err: raster.ErrInvalidPDF},
			"invalid or corrupted PDF file",
		},
		{
			"overall timeout",
			context.DeadlineExceeded,
			"timed out",
		},
		{
			"other",
			errors.New("disk full"),
			"invoice extraction failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := handleExtractError(tt.err, zerolog.Nop())
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
