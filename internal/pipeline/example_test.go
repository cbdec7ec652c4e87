package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"invoiceocr/internal/ocr"
	"invoiceocr/internal/pipeline"
	"invoiceocr/internal/raster"
	"invoiceocr/pkg/models"
)

// Example extracts one invoice with a local vLLM server.
func Example() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client := ocr.New(ocr.Config{
		BaseURL:    "http://localhost:8000/v1",
		APIKey:     "local-placeholder",
		MaxRetries: 3,
	})

	p := pipeline.New(
		pipeline.FromRaster(raster.New(raster.Config{})),
		client,
		pipeline.Config{DPI: 220},
	)

	pdf, err := os.ReadFile("sample_invoice.pdf")
	if err != nil {
		log.Fatalf("Failed to read PDF: %v", err)
	}

	record, err := p.Run(ctx, pdf)
	if err != nil {
		var exhausted *ocr.ExhaustedError
		if errors.As(err, &exhausted) {
			log.Fatalf("OCR gave up after %d attempts: %v", exhausted.Attempts, exhausted.Err)
		}
		log.Fatal(err)
	}

	fmt.Printf("Invoice %s from %s\n", models.Deref(record.Data.InvoiceNumber), models.Deref(record.Data.Vendor.Name))
	for _, item := range record.Data.LineItems {
		fmt.Printf("  %s\n", item.Description)
	}
}
