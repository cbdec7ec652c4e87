package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"invoiceocr/internal/logger"
)

// Embedding providers
const (
	EmbeddingProviderHash   = "hash"
	EmbeddingProviderOpenAI = "openai"
)

// Raw text providers
const (
	RawTextProviderNone   = ""
	RawTextProviderVision = "vision"
)

type Config struct {
	// OCR endpoint (OpenAI-compatible, e.g. vLLM)
	OCRBaseURL     string
	OCRModel       string
	OCRAPIKey      string
	OCRTemperature float32

	RequestTimeout    time.Duration
	MaxRequestRetries int
	RetryDelay        time.Duration

	// Rasterization
	PDFRasterDPI int
	TempDir      string

	// Semantic index
	EmbeddingProvider string
	EmbeddingBaseURL  string
	EmbeddingModel    string
	EmbeddingAPIKey   string
	EmbeddingDim      int

	// HTTP front end
	HTTPAddr       string
	AllowedOrigins []string

	// Optional Google integrations
	RawTextProvider              string
	GoogleCredentials            string
	GoogleApplicationCredentials string
	GoogleSheetURL               string
	GoogleSheetWorksheet         string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	var errs []string

	intEnv := func(key string, def int) int {
		v, err := getInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	config := &Config{
		OCRBaseURL:        getEnv("OCR_BASE_URL", "http://localhost:8000/v1"),
		OCRModel:          getEnv("OCR_MODEL", "deepseek-ai/DeepSeek-OCR"),
		OCRAPIKey:         getEnv("OCR_API_KEY", "local-placeholder"),
		RequestTimeout:    time.Duration(intEnv("REQUEST_TIMEOUT_SECONDS", 120)) * time.Second,
		MaxRequestRetries: intEnv("MAX_REQUEST_RETRIES", 3),
		RetryDelay:        time.Duration(intEnv("RETRY_DELAY_MS", 500)) * time.Millisecond,

		PDFRasterDPI: intEnv("PDF_RASTER_DPI", 220),
		TempDir:      getEnv("TEMP_DIR", ""),

		EmbeddingProvider: strings.ToLower(getEnv("EMBEDDING_PROVIDER", EmbeddingProviderHash)),
		EmbeddingBaseURL:  getEnv("EMBEDDING_BASE_URL", ""),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", "sentence-transformers/all-MiniLM-L6-v2"),
		EmbeddingAPIKey:   getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingDim:      intEnv("EMBEDDING_DIM", 384),

		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),

		RawTextProvider:              strings.ToLower(getEnv("RAW_TEXT_PROVIDER", RawTextProviderNone)),
		GoogleCredentials:            getEnv("GOOGLE_CREDENTIALS", ""),
		GoogleApplicationCredentials: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		GoogleSheetURL:               getEnv("GOOGLE_SHEET_URL", ""),
		GoogleSheetWorksheet:         getEnv("GOOGLE_SHEET_WORKSHEET", "Invoices"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "console"),
		LogTimeFormat: getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:     getEnv("LOG_OUTPUT", "stderr"),
	}

	temperature, err := strconv.ParseFloat(getEnv("OCR_TEMPERATURE", "0"), 32)
	if err != nil {
		errs = append(errs, fmt.Sprintf("OCR_TEMPERATURE: %v", err))
	}
	config.OCRTemperature = float32(temperature)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.OCRBaseURL == "" {
		return fmt.Errorf("OCR_BASE_URL is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.MaxRequestRetries < 1 {
		return fmt.Errorf("MAX_REQUEST_RETRIES must be at least 1")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("RETRY_DELAY_MS must not be negative")
	}
	if c.PDFRasterDPI <= 0 {
		return fmt.Errorf("PDF_RASTER_DPI must be positive")
	}
	if c.OCRTemperature < 0 || c.OCRTemperature > 2 {
		return fmt.Errorf("OCR_TEMPERATURE must be between 0 and 2")
	}

	switch c.EmbeddingProvider {
	case EmbeddingProviderHash:
		if c.EmbeddingDim <= 0 {
			return fmt.Errorf("EMBEDDING_DIM must be positive")
		}
	case EmbeddingProviderOpenAI:
		if c.EmbeddingBaseURL == "" {
			return fmt.Errorf("EMBEDDING_BASE_URL is required for EMBEDDING_PROVIDER=%s", c.EmbeddingProvider)
		}
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider)
	}

	switch c.RawTextProvider {
	case RawTextProviderNone, RawTextProviderVision:
	default:
		return fmt.Errorf("unknown RAW_TEXT_PROVIDER %q", c.RawTextProvider)
	}

	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %q is not an integer", key, value)
	}
	return n, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
