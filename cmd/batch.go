package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoiceocr/internal/logger"
	"invoiceocr/internal/pipeline"
	"invoiceocr/internal/sheets"
	"invoiceocr/pkg/models"
)

var batchCmd = &cobra.Command{
	Use:   "batch [folder-path]",
	Short: "Extract every PDF in a folder",
	Long: `Extract all PDF invoices in a folder (recursively) and optionally write
one JSON file per invoice and append the results to a Google Sheet.

Files are processed by a small worker pool. The OCR server is usually the
bottleneck, so keep --workers close to the number of requests it can serve
concurrently.`,
	Example: `  # Extract a folder and print a summary
  invoiceocr batch ./invoices

  # Write invoice JSON files into ./out
  invoiceocr batch ./invoices --out-dir out

  # Append every result to the "Invoices" worksheet, skipping files already there
  invoiceocr batch ./invoices --sheet Invoices --skip-existing`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

// BatchResult is the outcome for a single PDF
type BatchResult struct {
	Filename string
	Record   *models.InvoiceRecord
	Error    error
	Status   string // "success", "warning", "error"
	Index    int    // Original order index
}

// WorkerJob is one PDF to extract
type WorkerJob struct {
	FilePath string
	Index    int
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().String("out-dir", "", "Write one <name>.json per invoice into this directory")
	batchCmd.Flags().String("sheet", "", "Append results to this worksheet of GOOGLE_SHEET_URL")
	batchCmd.Flags().Bool("skip-existing", false, "Skip files already listed in the sheet's Source column")
	batchCmd.Flags().Int("workers", 2, "Number of documents processed in parallel")
	batchCmd.Flags().Int("timeout", 1800, "Overall timeout in seconds")
}

func runBatch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")

	folderPath := args[0]
	outDir, _ := cmd.Flags().GetString("out-dir")
	sheetName, _ := cmd.Flags().GetString("sheet")
	skipExisting, _ := cmd.Flags().GetBool("skip-existing")
	numWorkers, _ := cmd.Flags().GetInt("workers")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	if numWorkers < 1 {
		numWorkers = 1
	}
	if skipExisting && sheetName == "" {
		return fmt.Errorf("--skip-existing requires --sheet")
	}
	if sheetName != "" && appConfig.GoogleSheetURL == "" {
		return fmt.Errorf("--sheet requires GOOGLE_SHEET_URL to be set")
	}

	folderInfo, err := os.Stat(folderPath)
	if err != nil {
		return fmt.Errorf("folder not found: %s", folderPath)
	}
	if !folderInfo.IsDir() {
		return fmt.Errorf("path is not a directory: %s", folderPath)
	}

	if outDir != "" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	log.Info().
		Str("folder", folderPath).
		Str("out_dir", outDir).
		Str("sheet", sheetName).
		Int("workers", numWorkers).
		Msg("Starting batch extraction")

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	var sheetsService *sheets.Service
	if sheetName != "" {
		sheetsService, err = sheets.NewSheetsService(ctx, appConfig.GoogleSheetURL, sheets.Credentials{
			JSON: appConfig.GoogleCredentials,
			File: appConfig.GoogleApplicationCredentials,
		})
		if err != nil {
			return fmt.Errorf("failed to create Google Sheets service: %w", err)
		}
	}

	pdfFiles, err := findPDFFiles(folderPath)
	if err != nil {
		return fmt.Errorf("failed to find PDF files: %w", err)
	}

	if skipExisting {
		pdfFiles = skipExported(ctx, sheetsService, sheetName, pdfFiles, log)
	}

	if len(pdfFiles) == 0 {
		fmt.Println("No PDF files to process.")
		return nil
	}

	p, cleanup, err := newPipeline(ctx, appConfig, log)
	if err != nil {
		return handleExtractError(err, log)
	}
	defer cleanup()

	fmt.Printf("Processing %d PDFs with %d workers...\n\n", len(pdfFiles), numWorkers)

	results := processPDFsInParallel(ctx, pdfFiles, p, numWorkers, log)

	var successCount, warningCount, errorCount int
	var entries []sheets.Entry
	for _, result := range results {
		switch result.Status {
		case "success":
			successCount++
		case "warning":
			warningCount++
		case "error":
			errorCount++
			continue
		}

		entries = append(entries, sheets.Entry{Source: result.Filename, Record: result.Record})

		if outDir != "" {
			if err := writeRecordFile(outDir, result); err != nil {
				log.Error().Err(err).Str("file", result.Filename).Msg("Failed to write invoice JSON")
			}
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Succeeded:     %d\n", successCount)
	if warningCount > 0 {
		fmt.Printf("With warnings: %d\n", warningCount)
	}
	if errorCount > 0 {
		fmt.Printf("Failed:        %d\n", errorCount)
	}

	if sheetsService != nil && len(entries) > 0 {
		if err := sheetsService.AppendRecords(ctx, sheetName, entries); err != nil {
			return fmt.Errorf("failed to write to Google Sheet: %w", err)
		}
		fmt.Printf("Rows appended to %q: %d\n", sheetName, len(entries))
	}
	fmt.Println(strings.Repeat("=", 50))

	log.Info().
		Int("total", len(pdfFiles)).
		Int("success", successCount).
		Int("warnings", warningCount).
		Int("errors", errorCount).
		Msg("Batch extraction completed")

	if errorCount > 0 && successCount+warningCount == 0 {
		return fmt.Errorf("all %d documents failed", errorCount)
	}
	return nil
}

// findPDFFiles finds all PDF files under folderPath
func findPDFFiles(folderPath string) ([]string, error) {
	var pdfFiles []string

	err := filepath.Walk(folderPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && strings.HasSuffix(strings.ToLower(info.Name()), ".pdf") {
			pdfFiles = append(pdfFiles, path)
		}

		return nil
	})

	return pdfFiles, err
}

// skipExported drops files whose base name already appears in the Source
// column. A sheet that cannot be read skips nothing.
func skipExported(ctx context.Context, svc *sheets.Service, sheetName string, pdfFiles []string, log zerolog.Logger) []string {
	rows, err := svc.ReadRange(ctx, sheetName+"!O2:O")
	if err != nil {
		log.Warn().Err(err).Str("sheet", sheetName).Msg("Could not read exported sources, processing all files")
		return pdfFiles
	}

	exported := make(map[string]bool, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			exported[fmt.Sprint(row[0])] = true
		}
	}

	kept := pdfFiles[:0]
	for _, path := range pdfFiles {
		if exported[filepath.Base(path)] {
			log.Debug().Str("file", path).Msg("Already exported, skipping")
			continue
		}
		kept = append(kept, path)
	}

	log.Info().
		Int("skipped", len(pdfFiles)-len(kept)).
		Int("remaining", len(kept)).
		Msg("Skipped already exported files")

	return kept
}

// processSinglePDF extracts one PDF
func processSinglePDF(ctx context.Context, pdfPath string, p *pipeline.Pipeline) BatchResult {
	result := BatchResult{Status: "error"}

	pdf, err := os.ReadFile(pdfPath)
	if err != nil {
		result.Error = fmt.Errorf("failed to read PDF file: %w", err)
		return result
	}

	record, err := p.Run(ctx, pdf)
	if err != nil {
		result.Error = err
		return result
	}

	result.Record = record
	result.Status = "success"
	if len(record.Warnings) > 0 || record.Status == models.StatusError {
		result.Status = "warning"
	}

	return result
}

// processPDFsInParallel extracts PDFs with a worker pool. Results keep the
// input order.
func processPDFsInParallel(ctx context.Context, pdfFiles []string, p *pipeline.Pipeline, numWorkers int, log zerolog.Logger) []BatchResult {
	jobs := make(chan WorkerJob, len(pdfFiles))
	results := make([]BatchResult, len(pdfFiles))

	var processedCount int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for job := range jobs {
				log.Debug().
					Int("worker", workerID).
					Str("file", job.FilePath).
					Int("index", job.Index+1).
					Msg("Worker processing PDF")

				start := time.Now()
				result := processSinglePDF(ctx, job.FilePath, p)
				result.Index = job.Index
				result.Filename = filepath.Base(job.FilePath)
				results[job.Index] = result

				mu.Lock()
				processedCount++
				fmt.Printf("[%d/%d] %s - %s", processedCount, len(pdfFiles), result.Filename, getStatusEmoji(result.Status))
				if result.Error != nil {
					fmt.Printf(" (%s)", result.Error.Error())
				} else if result.Record != nil {
					fmt.Printf(" (%s, %s)", models.Deref(result.Record.Data.InvoiceNumber), time.Since(start).Round(time.Millisecond))
				}
				fmt.Println()
				mu.Unlock()
			}
		}(w)
	}

	for i, pdfFile := range pdfFiles {
		jobs <- WorkerJob{FilePath: pdfFile, Index: i}
	}
	close(jobs)

	wg.Wait()

	return results
}

func writeRecordFile(outDir string, result BatchResult) error {
	data, err := json.MarshalIndent(result.Record, "", "  ")
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(result.Filename, filepath.Ext(result.Filename)) + ".json"
	return os.WriteFile(filepath.Join(outDir, name), data, 0644)
}

// getStatusEmoji returns an emoji for the processing status
func getStatusEmoji(status string) string {
	switch status {
	case "success":
		return "✅"
	case "warning":
		return "⚠️"
	case "error":
		return "❌"
	default:
		return "❓"
	}
}
