package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"invoiceocr/internal/config"
	"invoiceocr/internal/index"
	"invoiceocr/internal/ocr"
	"invoiceocr/internal/pipeline"
	"invoiceocr/internal/raster"
	"invoiceocr/internal/rawtext"
)

// maxPDFSizeBytes bounds CLI input. Cloud Vision has a lower limit of its own.
const maxPDFSizeBytes = 50 * 1024 * 1024

// validatePDFFile checks that the file exists, is readable and is not empty.
func validatePDFFile(pdfPath string, log zerolog.Logger) (os.FileInfo, error) {
	fileInfo, err := os.Stat(pdfPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().
				Str("file", pdfPath).
				Msg("PDF file not found")
			return nil, fmt.Errorf("PDF file not found: %s", pdfPath)
		}
		if os.IsPermission(err) {
			log.Error().
				Str("file", pdfPath).
				Msg("Permission denied accessing PDF file")
			return nil, fmt.Errorf("permission denied accessing PDF file: %s", pdfPath)
		}
		return nil, fmt.Errorf("error accessing PDF file: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		log.Error().
			Str("file", pdfPath).
			Msg("Path is not a regular file")
		return nil, fmt.Errorf("path is not a regular file: %s", pdfPath)
	}

	if !strings.HasSuffix(strings.ToLower(pdfPath), ".pdf") {
		log.Warn().
			Str("file", pdfPath).
			Msg("File does not have .pdf extension")
	}

	if fileInfo.Size() == 0 {
		log.Error().
			Str("file", pdfPath).
			Msg("PDF file is empty")
		return nil, fmt.Errorf("PDF file is empty: %s", pdfPath)
	}

	if fileInfo.Size() > maxPDFSizeBytes {
		log.Error().
			Str("file", pdfPath).
			Int64("size", fileInfo.Size()).
			Int64("max_size", maxPDFSizeBytes).
			Msg("PDF file exceeds maximum size limit")
		return nil, fmt.Errorf("PDF file too large (%d bytes). Maximum size is %d bytes",
			fileInfo.Size(), maxPDFSizeBytes)
	}

	return fileInfo, nil
}

// createContextWithTimeout creates a context canceled by timeout or by
// SIGINT/SIGTERM. A non-positive timeout means no deadline.
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeoutSecs > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling processing")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// writeOutput writes data to outputPath, or to stdout when it is empty.
func writeOutput(data []byte, outputPath string, log zerolog.Logger) error {
	if outputPath != "" {
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}

		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(data)).
			Msg("Results written to file")
		return nil
	}

	if _, err := os.Stdout.Write(data); err != nil {
		log.Error().Err(err).Msg("Failed to write to stdout")
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Println()
	return nil
}

func newRasterizer(cfg *config.Config) *raster.Rasterizer {
	return raster.New(raster.Config{TempDir: cfg.TempDir})
}

func newOCRClient(cfg *config.Config) *ocr.Client {
	return ocr.New(ocr.Config{
		BaseURL:     cfg.OCRBaseURL,
		APIKey:      cfg.OCRAPIKey,
		Model:       cfg.OCRModel,
		Timeout:     cfg.RequestTimeout,
		MaxRetries:  cfg.MaxRequestRetries,
		RetryDelay:  cfg.RetryDelay,
		Temperature: cfg.OCRTemperature,
	})
}

func googleCredentials(cfg *config.Config) rawtext.Credentials {
	return rawtext.Credentials{
		JSON: cfg.GoogleCredentials,
		File: cfg.GoogleApplicationCredentials,
	}
}

// newPipeline wires the rasterizer, the OCR client and the optional raw text
// source. The returned cleanup closes whatever was opened.
func newPipeline(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pipeline.Pipeline, func(), error) {
	cleanup := func() {}

	var source rawtext.Source
	if cfg.RawTextProvider == config.RawTextProviderVision {
		vs, err := rawtext.NewVisionSource(ctx, googleCredentials(cfg))
		if err != nil {
			log.Error().Err(err).Msg("Failed to create Vision raw text source")
			return nil, cleanup, fmt.Errorf("failed to create raw text source: %w", err)
		}
		source = vs
		cleanup = func() {
			if err := vs.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close Vision client")
			}
		}
	}

	p := pipeline.New(
		pipeline.FromRaster(newRasterizer(cfg)),
		newOCRClient(cfg),
		pipeline.Config{DPI: cfg.PDFRasterDPI, RawText: source},
	)

	log.Debug().
		Str("ocr_base_url", cfg.OCRBaseURL).
		Str("model", cfg.OCRModel).
		Int("dpi", cfg.PDFRasterDPI).
		Bool("raw_text", source != nil).
		Msg("Pipeline created")

	return p, cleanup, nil
}

func newEmbedder(cfg *config.Config) index.Embedder {
	if cfg.EmbeddingProvider == config.EmbeddingProviderOpenAI {
		return index.NewOpenAIEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
	}
	return index.NewHashEmbedder(cfg.EmbeddingDim)
}
