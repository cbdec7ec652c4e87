package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoiceocr/internal/logger"
	"invoiceocr/internal/ocr"
	"invoiceocr/internal/raster"
	"invoiceocr/internal/rawtext"
	"invoiceocr/internal/sheets"
	"invoiceocr/pkg/models"
)

var extractCmd = &cobra.Command{
	Use:   "extract [pdf-file]",
	Short: "Extract structured invoice data from a PDF",
	Long: `Rasterize a PDF invoice, send the page images to the OCR model and print
the validated invoice record as JSON.

The model endpoint is any OpenAI-compatible chat completions API, typically
a local vLLM server running DeepSeek-OCR.

Environment variables:
  OCR_BASE_URL             - OpenAI-compatible endpoint (default http://localhost:8000/v1)
  OCR_MODEL                - Model id (default deepseek-ai/DeepSeek-OCR)
  OCR_API_KEY              - Bearer token
  MAX_REQUEST_RETRIES      - Attempts per document (default 3)
  PDF_RASTER_DPI           - Render resolution (default 220)
  RAW_TEXT_PROVIDER=vision - Fill raw_text with Cloud Vision text detection
  GOOGLE_SHEET_URL         - Target spreadsheet for --sheet`,
	Example: `  # Extract invoice data to stdout
  invoiceocr extract invoice.pdf

  # Save the record to a file
  invoiceocr extract invoice.pdf -o invoice.json

  # Append the result to the "Invoices" worksheet
  invoiceocr extract invoice.pdf --sheet Invoices

  # Allow more time for long documents
  invoiceocr extract large-invoice.pdf --timeout 600`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	extractCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
	extractCmd.Flags().String("sheet", "", "Append the record to this worksheet of GOOGLE_SHEET_URL")
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("extract")

	outputPath, _ := cmd.Flags().GetString("output")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	sheetName, _ := cmd.Flags().GetString("sheet")

	pdfPath := args[0]

	log.Info().
		Str("file", pdfPath).
		Str("output", outputPath).
		Str("sheet", sheetName).
		Int("timeout", timeoutSecs).
		Msg("Starting invoice extraction")

	fileInfo, err := validatePDFFile(pdfPath, log)
	if err != nil {
		return err
	}

	if sheetName != "" && appConfig.GoogleSheetURL == "" {
		return fmt.Errorf("--sheet requires GOOGLE_SHEET_URL to be set")
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	p, cleanup, err := newPipeline(ctx, appConfig, log)
	if err != nil {
		return handleExtractError(err, log)
	}
	defer cleanup()

	pdf, err := os.ReadFile(pdfPath)
	if err != nil {
		log.Error().
			Err(err).
			Str("file", pdfPath).
			Msg("Failed to read PDF file")
		return fmt.Errorf("failed to read PDF file: %w", err)
	}

	startTime := time.Now()
	record, err := p.Run(ctx, pdf)
	if err != nil {
		return handleExtractError(err, log)
	}

	log.Info().
		Str("invoice_number", models.Deref(record.Data.InvoiceNumber)).
		Str("vendor", models.Deref(record.Data.Vendor.Name)).
		Int("line_items", len(record.Data.LineItems)).
		Int64("size", fileInfo.Size()).
		Dur("duration", time.Since(startTime)).
		Msg("Invoice extraction completed successfully")

	if sheetName != "" {
		if err := exportToSheet(ctx, sheetName, filepath.Base(pdfPath), record, log); err != nil {
			return err
		}
	}

	jsonData, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal invoice record to JSON")
		return fmt.Errorf("failed to create JSON output: %w", err)
	}

	return writeOutput(jsonData, outputPath, log)
}

func exportToSheet(ctx context.Context, sheetName, source string, record *models.InvoiceRecord, log zerolog.Logger) error {
	svc, err := sheets.NewSheetsService(ctx, appConfig.GoogleSheetURL, sheets.Credentials{
		JSON: appConfig.GoogleCredentials,
		File: appConfig.GoogleApplicationCredentials,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create Sheets service")
		return fmt.Errorf("failed to create Sheets service: %w", err)
	}

	if err := svc.AppendRecords(ctx, sheetName, []sheets.Entry{{Source: source, Record: record}}); err != nil {
		log.Error().Err(err).Str("sheet", sheetName).Msg("Failed to export invoice to Google Sheets")
		return fmt.Errorf("failed to export invoice to Google Sheets: %w", err)
	}

	return nil
}

// handleExtractError provides user-friendly error messages for extraction failures
func handleExtractError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Invoice extraction failed")

	var (
		exhausted *ocr.ExhaustedError
		transport *ocr.TransportError
		parse     *ocr.ParseError
		invalid   *ocr.ValidationError
	)
	errors.As(err, &exhausted)

	switch {
	case errors.Is(err, context.DeadlineExceeded) && exhausted == nil:
		return fmt.Errorf("invoice extraction timed out. Try increasing --timeout or processing a smaller file")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("invoice extraction was canceled")
	case errors.Is(err, raster.ErrInvalidPDF):
		return fmt.Errorf("invalid or corrupted PDF file. Please check the file integrity")
	case errors.Is(err, raster.ErrNoPages):
		return fmt.Errorf("the PDF has no pages")
	case errors.Is(err, rawtext.ErrMissingCredentials):
		return fmt.Errorf("RAW_TEXT_PROVIDER=vision needs Google credentials. Set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS: %w", err)
	case errors.As(err, &transport):
		return fmt.Errorf("could not reach the OCR model at %s after %d attempt(s). Check OCR_BASE_URL and that the server is running: %w",
			appConfig.OCRBaseURL, attempts(exhausted), err)
	case errors.As(err, &parse):
		return fmt.Errorf("the OCR model did not return valid JSON after %d attempt(s): %w", attempts(exhausted), err)
	case errors.As(err, &invalid):
		return fmt.Errorf("the OCR model output did not match the invoice schema after %d attempt(s): %w", attempts(exhausted), err)
	default:
		return fmt.Errorf("invoice extraction failed: %w", err)
	}
}

func attempts(err *ocr.ExhaustedError) int {
	if err == nil {
		return 1
	}
	return err.Attempts
}
