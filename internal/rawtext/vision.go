package rawtext

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"invoiceocr/internal/logger"
)

const (
	// MaxFileSizeBytes is the synchronous Vision limit.
	MaxFileSizeBytes = 20 * 1024 * 1024

	// MaxPagesSync is the synchronous Vision page limit.
	MaxPagesSync = 5

	pdfMimeType = "application/pdf"
)

// FileAnnotator is the subset of the Vision client used here.
type FileAnnotator interface {
	BatchAnnotateFiles(ctx context.Context, req *visionpb.BatchAnnotateFilesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateFilesResponse, error)
	Close() error
}

// Credentials selects how the Vision client authenticates. Empty fields fall
// back to application default credentials.
type Credentials struct {
	JSON string // inline service account JSON
	File string // service account file path
}

// VisionSource extracts text with Cloud Vision document text detection.
type VisionSource struct {
	client FileAnnotator
	log    zerolog.Logger
}

// NewVisionSource creates a Vision client from creds.
func NewVisionSource(ctx context.Context, creds Credentials) (*VisionSource, error) {
	const op = "NewVisionSource"

	var opts []option.ClientOption
	switch {
	case creds.JSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(creds.JSON)))
	case creds.File != "":
		opts = append(opts, option.WithCredentialsFile(creds.File))
	}

	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		if len(opts) == 0 {
			return nil, wrap(op, ErrMissingCredentials, err.Error())
		}
		return nil, wrap(op, err, "failed to create Vision client")
	}

	return NewVisionSourceWithClient(client), nil
}

// NewVisionSourceWithClient creates a source around an existing client.
func NewVisionSourceWithClient(client FileAnnotator) *VisionSource {
	return &VisionSource{
		client: client,
		log:    logger.WithComponent("rawtext-vision"),
	}
}

// Text returns the document text with page separators.
func (v *VisionSource) Text(ctx context.Context, pdf []byte) (string, error) {
	result, err := v.Extract(ctx, pdf)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// Extract runs text detection on pdf and returns the text with metadata.
func (v *VisionSource) Extract(ctx context.Context, pdf []byte) (*Result, error) {
	const op = "Extract"
	start := time.Now()

	if len(pdf) > MaxFileSizeBytes {
		return nil, wrap(op, ErrPDFTooLarge, fmt.Sprintf("file size: %d bytes", len(pdf)))
	}
	if len(pdf) < 4 || string(pdf[:4]) != "%PDF" {
		return nil, wrap(op, ErrInvalidPDF, "missing PDF header")
	}

	req := &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{{
			InputConfig: &visionpb.InputConfig{
				Content:  pdf,
				MimeType: pdfMimeType,
			},
			Features: []*visionpb.Feature{{
				Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION,
			}},
		}},
	}

	resp, err := v.client.BatchAnnotateFiles(ctx, req)
	if err != nil {
		return nil, wrap(op, ErrAnnotationFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
	if len(resp.GetResponses()) == 0 {
		return nil, wrap(op, ErrAnnotationFailed, "no response from Vision API")
	}

	fileResp := resp.GetResponses()[0]
	if fileResp.GetError() != nil {
		return nil, wrap(op, ErrAnnotationFailed, fileResp.GetError().GetMessage())
	}

	result, err := collectText(fileResp)
	if err != nil {
		return nil, wrap(op, err, "failed to read Vision response")
	}
	result.Duration = time.Since(start)

	v.log.Debug().
		Int("pages", result.PageCount).
		Int("chars", len(result.Text)).
		Float32("confidence", result.Confidence).
		Dur("duration", result.Duration).
		Msg("Raw text extracted")

	return result, nil
}

// Close releases the Vision client.
func (v *VisionSource) Close() error {
	if v.client == nil {
		return nil
	}
	return v.client.Close()
}

// collectText joins page text in page order. Pages after the first are
// preceded by a "--- Page N ---" separator.
func collectText(fileResp *visionpb.AnnotateFileResponse) (*Result, error) {
	pages := fileResp.GetResponses()
	if len(pages) == 0 {
		return nil, ErrEmptyDocument
	}
	if len(pages) > MaxPagesSync {
		return nil, wrap("collectText", ErrTooManyPages, fmt.Sprintf("document has %d pages", len(pages)))
	}

	var (
		text       strings.Builder
		confidence float32
		scored     int
		languages  = make(map[string]struct{})
	)

	for i, page := range pages {
		if page.GetError() != nil {
			return nil, fmt.Errorf("page %d: %s: %w", i+1, page.GetError().GetMessage(), ErrAnnotationFailed)
		}

		annotation := page.GetFullTextAnnotation()
		if annotation == nil {
			continue
		}

		if i > 0 {
			fmt.Fprintf(&text, "\n\n--- Page %d ---\n\n", i+1)
		}
		text.WriteString(annotation.GetText())

		for _, p := range annotation.GetPages() {
			if p.GetConfidence() > 0 {
				confidence += p.GetConfidence()
				scored++
			}
			for _, lang := range p.GetProperty().GetDetectedLanguages() {
				if lang.GetLanguageCode() != "" {
					languages[lang.GetLanguageCode()] = struct{}{}
				}
			}
		}
	}

	if strings.TrimSpace(text.String()) == "" {
		return nil, ErrEmptyDocument
	}

	result := &Result{
		Text:      text.String(),
		PageCount: len(pages),
	}
	if scored > 0 {
		result.Confidence = confidence / float32(scored)
	}
	for lang := range languages {
		result.Languages = append(result.Languages, lang)
	}
	sort.Strings(result.Languages)

	return result, nil
}
