package main

import (
	"log"

	"github.com/joho/godotenv"

	"invoiceocr/cmd"
	"invoiceocr/internal/config"
	"invoiceocr/internal/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Subcommands load and report the configuration themselves; here it only
	// drives the logger.
	cfg, err := config.Load()
	if err != nil {
		if err := logger.Setup(logger.DefaultConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	} else {
		if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	}

	logger.WithComponent("main").Debug().Msg("Starting invoiceocr")

	cmd.Execute()
}
