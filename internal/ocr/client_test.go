package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceocr/internal/invoice"
	"invoiceocr/pkg/models"
)

const validInvoice = `{
	"schema_version": "invoice_v1",
	"status": "success",
	"model": "deepseek-ai/DeepSeek-OCR",
	"data": {
		"vendor": {"name": "ACME GmbH"},
		"invoice_number": "INV-42",
		"invoice_date": "2024-03-01",
		"line_items": [{"description": "Widget", "quantity": 2, "unit_price": 5, "total": 10}],
		"totals": {"subtotal": 10, "tax": 1.9, "total": 11.9, "currency": "EUR"}
	},
	"warnings": []
}`

// fakeServer answers /chat/completions with the responses in order, repeating
// the last one once they run out.
type fakeServer struct {
	*httptest.Server
	calls  atomic.Int32
	bodies chan []byte
}

type fakeResponse struct {
	status  int
	content string
	delay   time.Duration
}

func newFakeServer(t *testing.T, responses ...fakeResponse) *fakeServer {
	t.Helper()
	fs := &fakeServer{bodies: make(chan []byte, 16)}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(fs.calls.Add(1))
		body, _ := io.ReadAll(r.Body)
		select {
		case fs.bodies <- body:
		default:
		}

		resp := responses[len(responses)-1]
		if n <= len(responses) {
			resp = responses[n-1]
		}

		if resp.delay > 0 {
			select {
			case <-time.After(resp.delay):
			case <-r.Context().Done():
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.status != 0 && resp.status != http.StatusOK {
			w.WriteHeader(resp.status)
			fmt.Fprintf(w, `{"error":{"message":"upstream failure","type":"server_error"}}`)
			return
		}

		completion := map[string]interface{}{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   "deepseek-ai/DeepSeek-OCR",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": resp.content},
			}},
		}
		_ = json.NewEncoder(w).Encode(completion)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func writeImages(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("page_%03d.png", i+1))
		require.NoError(t, os.WriteFile(paths[i], []byte(fmt.Sprintf("image-%d", i+1)), 0o644))
	}
	return paths
}

func newTestClient(srv *fakeServer, maxRetries int) *Client {
	return New(Config{
		BaseURL:    srv.URL + "/v1",
		APIKey:     "test-key",
		Timeout:    2 * time.Second,
		MaxRetries: maxRetries,
		RetryDelay: 0,
	})
}

func TestExtractInvoiceSuccess(t *testing.T) {
	srv := newFakeServer(t, fakeResponse{content: validInvoice})
	client := newTestClient(srv, 3)

	record, err := client.ExtractInvoice(context.Background(), writeImages(t, 1))
	require.NoError(t, err)

	assert.Equal(t, int32(1), srv.calls.Load())
	assert.Equal(t, models.SchemaVersion, record.SchemaVersion)
	assert.Equal(t, "INV-42", models.Deref(record.Data.InvoiceNumber))
	require.Len(t, record.Data.LineItems, 1)
	assert.Equal(t, "Widget", record.Data.LineItems[0].Description)
	assert.Equal(t, "EUR", models.Deref(record.Data.Totals.Currency))
	assert.Equal(t, "2024-03-01", record.Data.InvoiceDate.String())
}

func TestExtractInvoiceRequestShape(t *testing.T) {
	srv := newFakeServer(t, fakeResponse{content: validInvoice})
	client := newTestClient(srv, 1)
	paths := writeImages(t, 3)

	_, err := client.ExtractInvoice(context.Background(), paths)
	require.NoError(t, err)

	var body struct {
		Model          string `json:"model"`
		ResponseFormat struct {
			Type string `json:"type"`
		} `json:"response_format"`
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(<-srv.bodies, &body))

	assert.Equal(t, DefaultModel, body.Model)
	assert.Equal(t, "json_object", body.ResponseFormat.Type)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	assert.Equal(t, "user", body.Messages[1].Role)

	var parts []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL struct {
			URL string `json:"url"`
		} `json:"image_url"`
	}
	require.NoError(t, json.Unmarshal(body.Messages[1].Content, &parts))
	require.Len(t, parts, 4)
	assert.Equal(t, "text", parts[0].Type)
	assert.Contains(t, parts[0].Text, "STRICT JSON")
	assert.Contains(t, parts[0].Text, `"schema_version":"invoice_v1"`)

	for i := 1; i <= 3; i++ {
		want := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("image-%d", i)))
		assert.Equal(t, "image_url", parts[i].Type)
		assert.Equal(t, want, parts[i].ImageURL.URL, "image %d out of order", i)
	}
}

func TestExtractInvoiceNoImages(t *testing.T) {
	srv := newFakeServer(t, fakeResponse{content: validInvoice})
	client := newTestClient(srv, 3)

	_, err := client.ExtractInvoice(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoImages)
	assert.Equal(t, int32(0), srv.calls.Load())
}

func TestExtractInvoiceRetriesUntilSuccess(t *testing.T) {
	const maxRetries = 4
	responses := []fakeResponse{
		{status: http.StatusInternalServerError},
		{content: "Sure! Here is the invoice you asked for."},
		{content: `{"data": {"line_items": [{"quantity": 1, "unit_price": 1}]}}`},
		{content: validInvoice},
	}
	srv := newFakeServer(t, responses...)
	client := newTestClient(srv, maxRetries)

	record, err := client.ExtractInvoice(context.Background(), writeImages(t, 1))
	require.NoError(t, err)
	assert.NotNil(t, record)
	assert.Equal(t, int32(maxRetries), srv.calls.Load())
}

func TestExtractInvoiceSendsIdenticalRequests(t *testing.T) {
	srv := newFakeServer(t, fakeResponse{status: http.StatusBadGateway}, fakeResponse{content: validInvoice})
	client := newTestClient(srv, 2)

	_, err := client.ExtractInvoice(context.Background(), writeImages(t, 2))
	require.NoError(t, err)

	first, second := <-srv.bodies, <-srv.bodies
	assert.JSONEq(t, string(first), string(second))
}

func TestExtractInvoiceExhausted(t *testing.T) {
	tests := []struct {
		name     string
		response fakeResponse
		check    func(t *testing.T, err error)
	}{
		{
			name:     "transport",
			response: fakeResponse{status: http.StatusServiceUnavailable},
			check: func(t *testing.T, err error) {
				var target *TransportError
				assert.True(t, errors.As(err, &target))
			},
		},
		{
			name:     "not json",
			response: fakeResponse{content: "no json here"},
			check: func(t *testing.T, err error) {
				var target *ParseError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, "no json here", target.Content)
				assert.ErrorIs(t, err, ErrNotJSON)
			},
		},
		{
			name:     "top level array",
			response: fakeResponse{content: `[1, 2, 3]`},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNotJSON)
			},
		},
		{
			name:     "schema violation",
			response: fakeResponse{content: `{"data": {"totals": {"total": -5}}}`},
			check: func(t *testing.T, err error) {
				var target *ValidationError
				require.True(t, errors.As(err, &target))
				var verrs invoice.ValidationErrors
				require.True(t, errors.As(err, &verrs))
				assert.Contains(t, verrs.Fields(), "data.totals.total")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer(t, tt.response)
			client := newTestClient(srv, 3)

			_, err := client.ExtractInvoice(context.Background(), writeImages(t, 1))
			require.Error(t, err)

			var exhausted *ExhaustedError
			require.True(t, errors.As(err, &exhausted))
			assert.Equal(t, 3, exhausted.Attempts)
			assert.Equal(t, int32(3), srv.calls.Load())
			tt.check(t, err)
		})
	}
}

func TestExtractInvoiceSingleAttempt(t *testing.T) {
	srv := newFakeServer(t, fakeResponse{status: http.StatusInternalServerError})
	client := newTestClient(srv, 1)

	_, err := client.ExtractInvoice(context.Background(), writeImages(t, 1))

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, exhausted.Attempts)
	assert.Equal(t, int32(1), srv.calls.Load())
}

func TestExtractInvoiceTimeoutIsTransportFailure(t *testing.T) {
	srv := newFakeServer(t, fakeResponse{content: validInvoice, delay: time.Second})
	client := New(Config{
		BaseURL:    srv.URL + "/v1",
		Timeout:    50 * time.Millisecond,
		MaxRetries: 2,
	})

	_, err := client.ExtractInvoice(context.Background(), writeImages(t, 1))

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 2, exhausted.Attempts)

	var transport *TransportError
	assert.True(t, errors.As(err, &transport))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExtractInvoiceMissingBoilerplateSucceeds(t *testing.T) {
	content := `{"data": {"line_items": [{"description": "Consulting", "quantity": 3, "unit_price": 100}]}}`
	srv := newFakeServer(t, fakeResponse{content: content})
	client := newTestClient(srv, 1)

	record, err := client.ExtractInvoice(context.Background(), writeImages(t, 1))
	require.NoError(t, err)

	assert.Equal(t, models.SchemaVersion, record.SchemaVersion)
	assert.Equal(t, models.StatusSuccess, record.Status)
	assert.Equal(t, DefaultModel, record.Model)
	assert.NotNil(t, record.Warnings)
	assert.Empty(t, record.Warnings)
	assert.Equal(t, models.DefaultCurrency, models.Deref(record.Data.Totals.Currency))
}

func TestExtractInvoiceMissingDescriptionFails(t *testing.T) {
	content := `{"data": {"line_items": [{"quantity": 3, "unit_price": 100}]}}`
	srv := newFakeServer(t, fakeResponse{content: content})
	client := newTestClient(srv, 2)

	_, err := client.ExtractInvoice(context.Background(), writeImages(t, 1))

	var verrs invoice.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Contains(t, verrs.Fields(), "data.line_items[0].description")
	assert.ErrorIs(t, err, invoice.ErrMissingRequiredField)
}

func TestExtractInvoiceStopsOnCanceledContext(t *testing.T) {
	srv := newFakeServer(t, fakeResponse{status: http.StatusInternalServerError})
	client := New(Config{
		BaseURL:    srv.URL + "/v1",
		MaxRetries: 5,
		RetryDelay: time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.ExtractInvoice(ctx, writeImages(t, 1))

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, exhausted.Attempts)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExtractInvoiceUnreadableImage(t *testing.T) {
	srv := newFakeServer(t, fakeResponse{content: validInvoice})
	client := newTestClient(srv, 3)

	_, err := client.ExtractInvoice(context.Background(), []string{filepath.Join(t.TempDir(), "missing.png")})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, int32(0), srv.calls.Load())
}
