package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"invoiceocr/internal/index"
	"invoiceocr/internal/logger"
	"invoiceocr/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the OCR pipeline and the semantic index over HTTP",
	Long: `Start the HTTP front end:

  GET    /health
  POST   /ocr/invoice?index_result=true   (multipart field "file")
  POST   /faiss/index
  POST   /faiss/query
  DELETE /faiss/index

The index lives in memory and is empty on every start.`,
	Example: `  invoiceocr serve
  invoiceocr serve --addr :9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default: HTTP_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = appConfig.HTTPAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, cleanup, err := newPipeline(ctx, appConfig, log)
	if err != nil {
		return handleExtractError(err, log)
	}
	defer cleanup()

	idx := index.New(newEmbedder(appConfig))

	if appConfig.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := server.New(server.Config{
		Addr:           addr,
		AllowedOrigins: appConfig.AllowedOrigins,
	}, p, idx)

	log.Info().
		Str("addr", addr).
		Str("embedding_provider", appConfig.EmbeddingProvider).
		Str("model", appConfig.OCRModel).
		Msg("Starting server")

	return srv.Run(ctx)
}
