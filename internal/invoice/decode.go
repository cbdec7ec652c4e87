package invoice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"invoiceocr/pkg/models"
)

// Decode converts a defaulted JSON tree into a validated record.
//
// Unknown keys are ignored. Type mismatches and rule violations are reported
// as ValidationErrors.
func Decode(tree map[string]interface{}) (*models.InvoiceRecord, error) {
	if tree == nil {
		return nil, ValidationErrors{NewValidationError("$", nil, ErrNotObject, "payload is empty")}
	}

	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, ValidationErrors{NewValidationError("$", nil, ErrInvalidValue, err.Error())}
	}

	return DecodeJSON(raw)
}

// DecodeJSON decodes and validates a record from its JSON encoding. Fields
// the payload leaves out keep the schema defaults (currency "USD", no line
// items).
func DecodeJSON(raw []byte) (*models.InvoiceRecord, error) {
	record := models.InvoiceRecord{
		Data: models.InvoiceData{
			Totals: models.Totals{Currency: models.String(models.DefaultCurrency)},
		},
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&record); err != nil {
		return nil, ValidationErrors{decodeError(err)}
	}

	if record.Data.LineItems == nil {
		record.Data.LineItems = []models.LineItem{}
	}

	errs := checkPresence(raw)
	if err := Validate(&record); err != nil {
		var rules ValidationErrors
		if !errors.As(err, &rules) {
			return nil, err
		}
		errs = append(errs, rules...)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	return &record, nil
}

// checkPresence reports the required keys the typed decode cannot see: keys
// that are absent, and keys whose null would otherwise decode to a zero
// value. An empty string is a present value.
func checkPresence(raw []byte) ValidationErrors {
	var tree map[string]interface{}
	if err := json.Unmarshal(raw, &tree); err != nil || tree == nil {
		return ValidationErrors{NewValidationError("$", nil, ErrNotObject, "payload must be a JSON object")}
	}

	var errs ValidationErrors
	errs = requireKey(errs, tree, "", "model")
	errs = requireKey(errs, tree, "", "data")

	data, ok := tree["data"].(map[string]interface{})
	if !ok {
		return errs
	}
	for _, key := range []string{"vendor", "customer", "line_items", "totals"} {
		errs = rejectNull(errs, data, "data.", key)
	}

	items, _ := data["line_items"].([]interface{})
	for i, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		errs = requireKey(errs, item, fmt.Sprintf("data.line_items[%d].", i), "description")
	}

	return errs
}

// requireKey fails when key is absent or null.
func requireKey(errs ValidationErrors, m map[string]interface{}, prefix, key string) ValidationErrors {
	value, exists := m[key]
	if !exists || value == nil {
		return append(errs, NewValidationError(prefix+key, nil, ErrMissingRequiredField, "field required"))
	}
	return errs
}

// rejectNull fails when key is present with a null value. Absent keys take
// their defaults.
func rejectNull(errs ValidationErrors, m map[string]interface{}, prefix, key string) ValidationErrors {
	if value, exists := m[key]; exists && value == nil {
		return append(errs, NewValidationError(prefix+key, nil, ErrInvalidValue, "must not be null"))
	}
	return errs
}

// decodeError maps encoding/json failures onto a field-level validation error.
func decodeError(err error) *ValidationError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "$"
		}
		return NewValidationError(field, typeErr.Value, ErrInvalidValue,
			fmt.Sprintf("expected %s", typeErr.Type))
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return NewValidationError("$", nil, ErrInvalidValue, syntaxErr.Error())
	}

	// Custom unmarshalers (dates) do not report the field path.
	return NewValidationError("$", nil, ErrInvalidValue, err.Error())
}
