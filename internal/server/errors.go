package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"invoiceocr/internal/index"
	"invoiceocr/internal/invoice"
	"invoiceocr/internal/ocr"
	"invoiceocr/internal/raster"
)

// statusFor maps a pipeline or index error onto an HTTP status.
func statusFor(err error) int {
	var (
		rasterErr    *raster.RasterizationError
		exhaustedErr *ocr.ExhaustedError
		validation   invoice.ValidationErrors
	)

	switch {
	case errors.As(err, &rasterErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &exhaustedErr):
		return http.StatusBadGateway
	case errors.Is(err, index.ErrInvalidTopK), errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, index.ErrDimensionMismatch):
		return http.StatusConflict
	case errors.Is(err, index.ErrEmbedderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func respondError(c *gin.Context, err error) {
	abortWithError(c, statusFor(err), err.Error())
}
