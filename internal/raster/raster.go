// Package raster converts PDF documents into page images for image-based OCR.
//
// Pages are rendered with MuPDF (go-fitz) at a caller-chosen resolution and
// written as PNG files into a private temporary directory, one file per page
// named page_001.png, page_002.png, ... The returned Pages value owns that
// directory and must be released exactly once by the caller.
//
// Resolution trade-off: a higher DPI improves recognition accuracy but grows
// the encoded payload and the time spent encoding it. 200-300 DPI is the
// usual range for scanned invoices.
package raster

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"invoiceocr/internal/logger"
)

const (
	// DefaultDPI matches the resolution the OCR model was tuned on.
	DefaultDPI = 220

	dirPattern = "invoice_pages_"
)

// Config configures the rasterizer.
type Config struct {
	// TempDir is the parent directory for per-document page directories.
	// Empty means os.TempDir().
	TempDir string

	// Workers bounds concurrent PNG encoding. Zero means runtime.NumCPU().
	Workers int
}

// Rasterizer renders PDF bytes to page images.
type Rasterizer struct {
	config Config
	log    zerolog.Logger
}

// New creates a rasterizer.
func New(config Config) *Rasterizer {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	return &Rasterizer{
		config: config,
		log:    logger.WithComponent("rasterizer"),
	}
}

// Rasterize renders every page of pdf at dpi and stores the images in a new
// temporary directory. On failure nothing is left on disk.
func (r *Rasterizer) Rasterize(ctx context.Context, pdf []byte, dpi int) (*Pages, error) {
	const op = "Rasterize"

	if len(pdf) == 0 {
		return nil, newError(op, ErrEmptyInput, "no bytes supplied")
	}
	if dpi <= 0 {
		return nil, newError(op, ErrInvalidDPI, fmt.Sprintf("dpi: %d", dpi))
	}

	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, newError(op, ErrInvalidPDF, err.Error())
	}
	defer func() {
		if closeErr := doc.Close(); closeErr != nil {
			r.log.Warn().Err(closeErr).Msg("Failed to close PDF document")
		}
	}()

	pageCount := doc.NumPage()
	if pageCount <= 0 {
		return nil, newError(op, ErrNoPages, fmt.Sprintf("%d bytes parsed", len(pdf)))
	}

	dir, err := os.MkdirTemp(r.config.TempDir, dirPattern)
	if err != nil {
		return nil, newError(op, err, "failed to create temporary directory")
	}

	paths, err := r.renderPages(ctx, doc, pageCount, dpi, dir)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			r.log.Warn().Err(rmErr).Str("dir", dir).Msg("Failed to remove partial page directory")
		}
		return nil, err
	}

	r.log.Debug().
		Int("pages", pageCount).
		Int("dpi", dpi).
		Str("dir", dir).
		Msg("PDF rasterized")

	return NewPages(dir, paths), nil
}

// renderPages renders sequentially (MuPDF serializes access to a document) and
// fans PNG encoding out to a bounded worker group.
func (r *Rasterizer) renderPages(ctx context.Context, doc *fitz.Document, pageCount, dpi int, dir string) ([]string, error) {
	const op = "RenderPage"

	paths := make([]string, pageCount)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)

	for i := 0; i < pageCount; i++ {
		if err := gctx.Err(); err != nil {
			break
		}

		page := i + 1
		img, err := doc.ImageDPI(i, float64(dpi))
		if err != nil {
			g.Go(func() error { return newPageError(op, page, ErrInvalidPDF, err.Error()) })
			break
		}

		path := filepath.Join(dir, fmt.Sprintf("page_%03d.png", page))
		paths[i] = path
		g.Go(func() error {
			return writePNG(img, path, page)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(op, err, "rasterization canceled")
	}

	return paths, nil
}

func writePNG(img image.Image, path string, page int) error {
	if err := imaging.Save(img, path); err != nil {
		return newPageError("WritePage", page, err, "failed to write PNG")
	}
	return nil
}
