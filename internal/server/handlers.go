package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"invoiceocr/internal/index"
	"invoiceocr/internal/invoice"
	"invoiceocr/internal/logger"
	"invoiceocr/pkg/models"
)

const defaultTopK = 3

var allowedUploadTypes = map[string]bool{
	"application/pdf":          true,
	"application/octet-stream": true,
}

type indexRequest struct {
	Invoice json.RawMessage `json:"invoice"`
}

type queryRequest struct {
	QueryText *string `json:"query_text"`
	TopK      *int    `json:"top_k"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ocrInvoice(c *gin.Context) {
	log := logger.FromContext(c.Request.Context(), "server")

	indexResult, err := strconv.ParseBool(c.DefaultQuery("index_result", "false"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "index_result must be a boolean")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, http.StatusRequestEntityTooLarge, "Uploaded file is too large")
			return
		}
		abortWithError(c, http.StatusBadRequest, "file is required")
		return
	}

	mediaType, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if !allowedUploadTypes[mediaType] {
		abortWithError(c, http.StatusBadRequest, "Only PDF uploads are supported")
		return
	}

	file, err := header.Open()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "failed to read uploaded file")
		return
	}
	defer file.Close()

	pdf, err := io.ReadAll(file)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "failed to read uploaded file")
		return
	}
	if len(pdf) == 0 {
		abortWithError(c, http.StatusBadRequest, "Uploaded file is empty")
		return
	}

	record, err := s.runner.Run(c.Request.Context(), pdf)
	if err != nil {
		log.Error().Err(err).Str("filename", header.Filename).Msg("OCR processing failed")
		respondError(c, err)
		return
	}

	if indexResult {
		if err := s.indexer.Add(c.Request.Context(), []models.InvoiceRecord{*record}); err != nil {
			log.Error().Err(err).Msg("Failed to index OCR result")
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, record)
}

func (s *Server) indexInvoice(c *gin.Context) {
	var req indexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	record, err := decodeIndexPayload(req.Invoice)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.indexer.Add(c.Request.Context(), []models.InvoiceRecord{*record}); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "indexed", "count": s.indexer.Len()})
}

// decodeIndexPayload validates a client supplied record. model and data must
// be present; the remaining top-level keys take their defaults.
func decodeIndexPayload(raw json.RawMessage) (*models.InvoiceRecord, error) {
	var tree map[string]interface{}
	if err := json.Unmarshal(raw, &tree); err != nil || tree == nil {
		return nil, invoice.ValidationErrors{
			invoice.NewValidationError("invoice", nil, invoice.ErrNotObject, "invoice must be a JSON object"),
		}
	}

	var missing invoice.ValidationErrors
	for _, key := range []string{"model", "data"} {
		if _, ok := tree[key]; !ok {
			missing = append(missing, invoice.NewValidationError("invoice."+key, nil, invoice.ErrMissingRequiredField, "field required"))
		}
	}
	if len(missing) > 0 {
		return nil, missing
	}

	return invoice.Decode(invoice.ApplyDefaults(tree, ""))
}

func (s *Server) queryIndex(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.QueryText == nil {
		abortWithError(c, http.StatusBadRequest, "query_text is required")
		return
	}

	topK := defaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	if topK < 1 || topK > index.MaxTopK {
		abortWithError(c, http.StatusBadRequest, "top_k must be between 1 and "+strconv.Itoa(index.MaxTopK))
		return
	}

	results, err := s.indexer.Query(c.Request.Context(), *req.QueryText, topK)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) dropIndex(c *gin.Context) {
	s.indexer.Drop()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
