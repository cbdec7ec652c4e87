// Package server exposes the OCR pipeline and the semantic index over HTTP.
//
// Routes:
//
//	GET    /health
//	POST   /ocr/invoice?index_result=bool   multipart "file"
//	POST   /faiss/index                     {"invoice": record}
//	POST   /faiss/query                     {"query_text": "...", "top_k": 3}
//	DELETE /faiss/index
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"invoiceocr/internal/index"
	"invoiceocr/internal/logger"
	"invoiceocr/pkg/models"
)

const (
	// DefaultMaxUploadBytes caps the size of an uploaded PDF.
	DefaultMaxUploadBytes = 50 << 20

	defaultShutdownTimeout = 5 * time.Second
)

// Runner runs the OCR pipeline over one PDF.
type Runner interface {
	Run(ctx context.Context, pdf []byte) (*models.InvoiceRecord, error)
}

// Indexer is the semantic index as used by the HTTP handlers.
type Indexer interface {
	Add(ctx context.Context, records []models.InvoiceRecord) error
	Query(ctx context.Context, text string, topK int) ([]index.Result, error)
	Drop()
	Len() int
}

// Config configures the HTTP front end.
type Config struct {
	Addr            string
	AllowedOrigins  []string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

// Server is the HTTP front end.
type Server struct {
	router  *gin.Engine
	http    *http.Server
	runner  Runner
	indexer Indexer
	config  Config
	log     zerolog.Logger
}

// New builds the router and registers every route.
func New(config Config, runner Runner, indexer Indexer) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}

	router := gin.New()
	router.Use(RequestID())
	router.Use(AccessLog())
	router.Use(Recovery())
	router.Use(CORS(config.AllowedOrigins))

	s := &Server{
		router:  router,
		runner:  runner,
		indexer: indexer,
		config:  config,
		log:     logger.WithComponent("server"),
	}

	router.GET("/health", s.health)
	router.POST("/ocr/invoice", s.ocrInvoice)

	faiss := router.Group("/faiss")
	{
		faiss.POST("/index", s.indexInvoice)
		faiss.POST("/query", s.queryIndex)
		faiss.DELETE("/index", s.dropIndex)
	}

	s.http = &http.Server{
		Addr:    config.Addr,
		Handler: router,
	}

	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.config.Addr).Msg("HTTP server listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	s.log.Info().Msg("HTTP server stopped")
	return nil
}
