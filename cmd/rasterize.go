package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"invoiceocr/internal/logger"
)

var rasterizeCmd = &cobra.Command{
	Use:   "rasterize [pdf-file]",
	Short: "Render the pages of a PDF to PNG files",
	Long: `Render every page of a PDF at the configured resolution and copy the PNG
files into an output directory. Useful to inspect what the OCR model sees.`,
	Example: `  invoiceocr rasterize invoice.pdf -d pages
  invoiceocr rasterize invoice.pdf -d pages --dpi 300`,
	Args: cobra.ExactArgs(1),
	RunE: runRasterize,
}

func init() {
	rootCmd.AddCommand(rasterizeCmd)

	rasterizeCmd.Flags().StringP("dir", "d", "", "Output directory (required)")
	rasterizeCmd.Flags().Int("dpi", 0, "Render resolution (default: PDF_RASTER_DPI)")
	rasterizeCmd.Flags().Int("timeout", 120, "Processing timeout in seconds")
	_ = rasterizeCmd.MarkFlagRequired("dir")
}

func runRasterize(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("rasterize")

	outDir, _ := cmd.Flags().GetString("dir")
	dpi, _ := cmd.Flags().GetInt("dpi")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	if dpi <= 0 {
		dpi = appConfig.PDFRasterDPI
	}

	pdfPath := args[0]
	if _, err := validatePDFFile(pdfPath, log); err != nil {
		return err
	}

	pdf, err := os.ReadFile(pdfPath)
	if err != nil {
		return fmt.Errorf("failed to read PDF file: %w", err)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	pages, err := newRasterizer(appConfig).Rasterize(ctx, pdf, dpi)
	if err != nil {
		return fmt.Errorf("rasterization failed: %w", err)
	}
	defer func() {
		if err := pages.Release(); err != nil {
			log.Warn().Err(err).Str("dir", pages.Dir()).Msg("Failed to remove temporary page directory")
		}
	}()

	for _, src := range pages.Paths() {
		dst := filepath.Join(outDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("failed to copy %s: %w", filepath.Base(src), err)
		}
		fmt.Println(dst)
	}

	log.Info().
		Int("pages", pages.Len()).
		Int("dpi", dpi).
		Str("dir", outDir).
		Msg("Pages written")

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
