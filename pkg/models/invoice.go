package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion tags every record produced by this pipeline version.
const SchemaVersion = "invoice_v1"

// DefaultCurrency is used when the model does not report a currency.
const DefaultCurrency = "USD"

// DateLayout is the wire format for invoice dates.
const DateLayout = "2006-01-02"

// Status of an OCR result
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// InvoiceRecord is the validated OCR result returned by the pipeline.
type InvoiceRecord struct {
	SchemaVersion string      `json:"schema_version"`
	Status        string      `json:"status"`             // "success" or "error"
	Model         string      `json:"model"`              // OCR model that produced the record
	Data          InvoiceData `json:"data"`               // Structured invoice payload
	Warnings      []string    `json:"warnings"`           // Earliest detected warning first
	RawText       *string     `json:"raw_text,omitempty"` // Unstructured OCR text kept for audit
}

type InvoiceData struct {
	// Parties
	Vendor   Party `json:"vendor"`
	Customer Party `json:"customer"`

	// References
	InvoiceNumber *string `json:"invoice_number"`
	PurchaseOrder *string `json:"purchase_order"`

	// Dates
	InvoiceDate *Date `json:"invoice_date"`
	DueDate     *Date `json:"due_date"`

	Terms *string `json:"terms"`
	Notes *string `json:"notes"`

	LineItems []LineItem `json:"line_items"`
	Totals    Totals     `json:"totals"`
}

// Party is the vendor or customer block of an invoice.
type Party struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
	TaxID   *string `json:"tax_id"`
	Email   *string `json:"email"`
	Phone   *string `json:"phone"`
}

// LineItem is a single billed position. Quantity and UnitPrice are pointers so
// that a missing value can be told apart from zero during validation. An
// empty Description is valid; only an absent one is rejected on decode.
type LineItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity"`
	UnitPrice   *float64 `json:"unit_price"`
	Total       *float64 `json:"total"`
}

type Totals struct {
	Subtotal  *float64 `json:"subtotal"`
	Tax       *float64 `json:"tax"`
	Discounts *float64 `json:"discounts"` // not bounded below
	Total     *float64 `json:"total"`
	Currency  *string  `json:"currency"`
}

// Date is a calendar date without time of day.
type Date struct {
	time.Time
}

// NewDate returns the Date for the given calendar day.
func NewDate(year int, month time.Month, day int) *Date {
	return &Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (*Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return &Date{Time: t}, nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(DateLayout)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

// NewRecord returns an empty successful record for the given model with the
// boilerplate fields filled in.
func NewRecord(model string) InvoiceRecord {
	return InvoiceRecord{
		SchemaVersion: SchemaVersion,
		Status:        StatusSuccess,
		Model:         model,
		Data: InvoiceData{
			LineItems: []LineItem{},
			Totals:    Totals{Currency: String(DefaultCurrency)},
		},
		Warnings: []string{},
	}
}

// String returns a pointer to s.
func String(s string) *string { return &s }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// Deref returns the value of s or "" when s is nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
