// Package ocr talks to a vision-language OCR model behind an OpenAI-compatible
// chat completions API and turns its answer into a validated invoice record.
//
// Every request asks for a strict JSON object. A single extraction is retried
// as a whole (request, parse, validate) up to Config.MaxRetries times with the
// identical request body.
package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"invoiceocr/internal/invoice"
	"invoiceocr/internal/logger"
	"invoiceocr/pkg/models"
)

// Default client settings
const (
	DefaultModel      = "deepseek-ai/DeepSeek-OCR"
	DefaultTimeout    = 120 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 500 * time.Millisecond
)

// Config configures the OCR client
type Config struct {
	BaseURL     string        // OpenAI-compatible endpoint, e.g. http://localhost:8000/v1
	APIKey      string        // Bearer token
	Model       string        // Model id sent with every request
	Timeout     time.Duration // Per-attempt transport deadline
	MaxRetries  int           // Total attempts, >= 1
	RetryDelay  time.Duration // Pause between attempts, 0 for none
	Temperature float32
	Workers     int // Bound on concurrent image encoding, 0 means NumCPU
}

// ChatCompleter is the part of the OpenAI client the OCR client needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Extractor extracts a validated invoice record from ordered page images.
type Extractor interface {
	ExtractInvoice(ctx context.Context, imagePaths []string) (*models.InvoiceRecord, error)
}

// Client is the OCR client
type Client struct {
	api    ChatCompleter
	config Config
	log    zerolog.Logger
}

// attemptResult is the outcome of one request/parse/validate cycle.
type attemptResult struct {
	record  *models.InvoiceRecord
	err     error
	elapsed time.Duration
}

// New creates a client for config.BaseURL using go-openai.
func New(config Config) *Client {
	config = withDefaults(config)

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	// Deadlines are applied per attempt through the request context.
	clientConfig.HTTPClient = &http.Client{}

	return NewWithDeps(openai.NewClientWithConfig(clientConfig), config)
}

// NewWithDeps creates a client with an explicit completion backend
func NewWithDeps(api ChatCompleter, config Config) *Client {
	return &Client{
		api:    api,
		config: withDefaults(config),
		log:    logger.WithComponent("ocr-client"),
	}
}

func withDefaults(config Config) Config {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	return config
}

// Model returns the model id the client requests.
func (c *Client) Model() string {
	return c.config.Model
}

// ExtractInvoice sends the page images, in order, to the OCR model and returns
// the validated record. Transport, parse and validation failures are retried;
// once every attempt failed an *ExhaustedError carrying the last failure is
// returned.
func (c *Client) ExtractInvoice(ctx context.Context, imagePaths []string) (*models.InvoiceRecord, error) {
	const op = "ExtractInvoice"

	if len(imagePaths) == 0 {
		return nil, ErrNoImages
	}

	encoded, err := c.encodeImages(ctx, imagePaths)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	request := openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    buildMessages(c.config.Model, encoded),
		Temperature: c.config.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	c.log.Debug().
		Int("pages", len(imagePaths)).
		Str("model", c.config.Model).
		Int("max_retries", c.config.MaxRetries).
		Msg("Sending OCR request")

	var (
		attempts int
		lastErr  error
		record   *models.InvoiceRecord
	)

	err = retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempts++
		result := c.attempt(ctx, request)
		if result.err == nil {
			record = result.record
			c.log.Info().
				Int("attempt", attempts).
				Dur("elapsed", result.elapsed).
				Int("line_items", len(result.record.Data.LineItems)).
				Msg("Invoice extracted")
			return nil
		}

		lastErr = result.err
		c.log.Warn().
			Err(result.err).
			Int("attempt", attempts).
			Int("max_retries", c.config.MaxRetries).
			Dur("elapsed", result.elapsed).
			Msg("OCR attempt failed")

		if !IsRetryable(result.err) {
			return result.err
		}
		return retry.RetryableError(result.err)
	})
	if err == nil {
		return record, nil
	}

	// The loop stops early only when the caller's context ends.
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(lastErr, ctxErr) {
		lastErr = errors.Join(lastErr, ctxErr)
	}

	return nil, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// backoff paces attempts at a constant RetryDelay and stops after
// MaxRetries total attempts.
func (c *Client) backoff() retry.Backoff {
	var b retry.Backoff
	if c.config.RetryDelay > 0 {
		b = retry.NewConstant(c.config.RetryDelay)
	} else {
		b = retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	}
	return retry.WithMaxRetries(uint64(c.config.MaxRetries-1), b)
}

func (c *Client) attempt(ctx context.Context, request openai.ChatCompletionRequest) attemptResult {
	const op = "CreateChatCompletion"

	start := time.Now()
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(attemptCtx, request)
	if err != nil {
		return attemptResult{err: &TransportError{Op: op, Err: err}, elapsed: time.Since(start)}
	}

	record, err := c.parseCompletion(resp)
	return attemptResult{record: record, err: err, elapsed: time.Since(start)}
}

// parseCompletion decodes the first choice into a loose JSON tree, fills
// boilerplate defaults and then runs the strict decode.
func (c *Client) parseCompletion(resp openai.ChatCompletionResponse) (*models.InvoiceRecord, error) {
	const op = "ParseCompletion"

	if len(resp.Choices) == 0 {
		return nil, &ParseError{Op: op, Err: ErrNoChoices}
	}

	content := resp.Choices[0].Message.Content

	var tree map[string]interface{}
	if err := json.Unmarshal([]byte(content), &tree); err != nil {
		return nil, &ParseError{Op: op, Err: ErrNotJSON, Details: err.Error(), Content: content}
	}
	// A literal null decodes without error into a nil map.
	if tree == nil {
		return nil, &ParseError{Op: op, Err: ErrNotJSON, Details: "top level is null", Content: content}
	}

	record, err := invoice.Decode(invoice.ApplyDefaults(tree, c.config.Model))
	if err != nil {
		return nil, &ValidationError{Op: op, Err: err}
	}

	return record, nil
}

// encodeImages reads and base64-encodes every image on a bounded worker
// group. The result keeps the input order.
func (c *Client) encodeImages(ctx context.Context, paths []string) ([]string, error) {
	encoded := make([]string, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Workers)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read image %s: %w", path, err)
			}
			encoded[i] = base64.StdEncoding.EncodeToString(data)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return encoded, nil
}
