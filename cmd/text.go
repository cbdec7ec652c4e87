package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoiceocr/internal/logger"
	"invoiceocr/internal/rawtext"
)

var textCmd = &cobra.Command{
	Use:   "text [pdf-file]",
	Short: "Extract the raw text of a PDF with Google Cloud Vision",
	Long: `Run Cloud Vision document text detection on a PDF and print the text,
one block per page. This is the same text the extract command stores in
raw_text when RAW_TEXT_PROVIDER=vision.

Synchronous detection supports up to 5 pages and 20MB.

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string`,
	Example: `  # Print the text of invoice.pdf
  invoiceocr text invoice.pdf

  # Include page count, confidence and languages as JSON
  invoiceocr text invoice.pdf --json -o result.json`,
	Args: cobra.ExactArgs(1),
	RunE: runText,
}

// TextOutput is the JSON form of the text command's result.
type TextOutput struct {
	Text               string    `json:"text"`
	PageCount          int       `json:"page_count,omitempty"`
	Confidence         float32   `json:"confidence,omitempty"`
	LanguageCodes      []string  `json:"language_codes,omitempty"`
	ProcessedAt        time.Time `json:"processed_at"`
	ProcessingDuration string    `json:"processing_duration"`
	FileName           string    `json:"file_name"`
	FileSize           int64     `json:"file_size"`
}

func init() {
	rootCmd.AddCommand(textCmd)

	textCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	textCmd.Flags().Bool("json", false, "Output as JSON with metadata")
	textCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runText(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("text")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	pdfPath := args[0]

	fileInfo, err := validatePDFFile(pdfPath, log)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	source, err := rawtext.NewVisionSource(ctx, googleCredentials(appConfig))
	if err != nil {
		return handleTextError(err, log)
	}
	defer func() {
		if err := source.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Vision client")
		}
	}()

	pdf, err := os.ReadFile(pdfPath)
	if err != nil {
		return fmt.Errorf("failed to read PDF file: %w", err)
	}

	result, err := source.Extract(ctx, pdf)
	if err != nil {
		return handleTextError(err, log)
	}

	log.Info().
		Int("page_count", result.PageCount).
		Float32("confidence", result.Confidence).
		Dur("duration", result.Duration).
		Int("text_length", len(result.Text)).
		Msg("Text detection completed successfully")

	if !jsonOutput {
		return writeOutput([]byte(result.Text), outputPath, log)
	}

	data, err := json.MarshalIndent(TextOutput{
		Text:               result.Text,
		PageCount:          result.PageCount,
		Confidence:         result.Confidence,
		LanguageCodes:      result.Languages,
		ProcessedAt:        time.Now(),
		ProcessingDuration: result.Duration.String(),
		FileName:           filepath.Base(fileInfo.Name()),
		FileSize:           fileInfo.Size(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to create JSON output: %w", err)
	}

	return writeOutput(data, outputPath, log)
}

// handleTextError provides user-friendly error messages for Vision failures
func handleTextError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Text detection failed")

	errStr := err.Error()

	switch {
	case errors.Is(err, rawtext.ErrMissingCredentials):
		return fmt.Errorf("Google Cloud credentials not configured. Set GOOGLE_APPLICATION_CREDENTIALS to a service account file or GOOGLE_CREDENTIALS to inline JSON: %w", err)
	case errors.Is(err, rawtext.ErrPDFTooLarge):
		return fmt.Errorf("PDF file is too large (maximum 20MB). Try compressing or splitting the file")
	case errors.Is(err, rawtext.ErrTooManyPages):
		return fmt.Errorf("PDF has too many pages (maximum 5 pages). Try splitting into smaller files")
	case errors.Is(err, rawtext.ErrInvalidPDF):
		return fmt.Errorf("invalid or corrupted PDF file. Please check the file integrity")
	case errors.Is(err, rawtext.ErrEmptyDocument):
		return fmt.Errorf("no readable text found in the document")
	case strings.Contains(errStr, "PERMISSION_DENIED"):
		return fmt.Errorf("permission denied. Please ensure the service account has the 'Cloud Vision API User' role")
	case strings.Contains(errStr, "QUOTA_EXCEEDED"):
		return fmt.Errorf("Cloud Vision API quota exceeded. Check your project quotas in the Google Cloud Console")
	default:
		return fmt.Errorf("text detection failed: %w", err)
	}
}
