package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"invoiceocr/internal/config"
	"invoiceocr/internal/logger"
)

var version = "0.1.0"

// appConfig is loaded once before any subcommand runs.
var appConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "invoiceocr",
	Short: "invoiceocr - extract structured data from scanned invoices",
	Long: `invoiceocr rasterizes PDF invoices, sends the page images to an
OpenAI-compatible vision model (for example DeepSeek-OCR served by vLLM)
and returns validated invoice JSON.

Results can be exported to Google Sheets, indexed for semantic search and
served over HTTP.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		appConfig = cfg
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("invoiceocr executed")

		_ = cmd.Help()
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
