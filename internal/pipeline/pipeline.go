// Package pipeline runs one PDF through rasterization and OCR extraction.
//
// The rendered page images live only for the duration of Run. They are
// released on every exit path once rasterization succeeded; a failed release
// is logged and never replaces the run's own result.
package pipeline

import (
	"context"
	"time"

	"invoiceocr/internal/logger"
	"invoiceocr/internal/raster"
	"invoiceocr/internal/rawtext"
	"invoiceocr/pkg/models"
)

// Pages is a rendered document whose images must be released after use.
type Pages interface {
	Paths() []string
	Release() error
}

// Rasterizer renders a PDF into page images.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte, dpi int) (Pages, error)
}

// Extractor turns ordered page images into a validated record.
type Extractor interface {
	ExtractInvoice(ctx context.Context, imagePaths []string) (*models.InvoiceRecord, error)
}

// Config configures a pipeline.
type Config struct {
	DPI int

	// RawText optionally fills the raw_text field of records that lack it.
	RawText rawtext.Source
}

// Pipeline couples a Rasterizer and an Extractor.
type Pipeline struct {
	rasterizer Rasterizer
	extractor  Extractor
	config     Config
}

// New creates a pipeline. A non-positive DPI means raster.DefaultDPI.
func New(rasterizer Rasterizer, extractor Extractor, config Config) *Pipeline {
	if config.DPI <= 0 {
		config.DPI = raster.DefaultDPI
	}
	return &Pipeline{
		rasterizer: rasterizer,
		extractor:  extractor,
		config:     config,
	}
}

// FromRaster adapts a *raster.Rasterizer to Rasterizer.
func FromRaster(r *raster.Rasterizer) Rasterizer {
	return rasterAdapter{r: r}
}

type rasterAdapter struct {
	r *raster.Rasterizer
}

func (a rasterAdapter) Rasterize(ctx context.Context, pdf []byte, dpi int) (Pages, error) {
	pages, err := a.r.Rasterize(ctx, pdf, dpi)
	if err != nil {
		return nil, err
	}
	return pages, nil
}

// Run rasterizes pdf, extracts the invoice from its pages and releases the
// pages. Errors from either stage are returned unchanged.
func (p *Pipeline) Run(ctx context.Context, pdf []byte) (*models.InvoiceRecord, error) {
	log := logger.FromContext(ctx, "pipeline")
	start := time.Now()

	pages, err := p.rasterizer.Rasterize(ctx, pdf, p.config.DPI)
	if err != nil {
		log.Error().Err(err).Int("bytes", len(pdf)).Msg("Rasterization failed")
		return nil, err
	}
	defer func() {
		if releaseErr := pages.Release(); releaseErr != nil {
			log.Warn().Err(releaseErr).Msg("Failed to release page images")
		}
	}()

	paths := pages.Paths()
	log.Debug().Int("pages", len(paths)).Int("dpi", p.config.DPI).Msg("Pages rendered")

	record, err := p.extractor.ExtractInvoice(ctx, paths)
	if err != nil {
		log.Error().Err(err).Int("pages", len(paths)).Msg("Extraction failed")
		return nil, err
	}

	if p.config.RawText != nil && record.RawText == nil {
		text, err := p.config.RawText.Text(ctx, pdf)
		if err != nil {
			log.Warn().Err(err).Msg("Raw text unavailable")
		} else {
			record.RawText = &text
		}
	}

	log.Info().
		Int("pages", len(paths)).
		Int("line_items", len(record.Data.LineItems)).
		Dur("elapsed", time.Since(start)).
		Msg("Invoice pipeline finished")

	return record, nil
}
