package invoice

import (
	"errors"
	"fmt"
	"strings"
)

// Common schema errors
var (
	// ErrNotObject is returned when the decoded payload is not a JSON object.
	ErrNotObject = errors.New("payload is not a JSON object")

	// ErrMissingRequiredField is returned when a required field is absent.
	ErrMissingRequiredField = errors.New("missing required invoice field")

	// ErrNegativeAmount is returned when a non-negative numeric field is below zero.
	ErrNegativeAmount = errors.New("amount must be greater than or equal to 0")

	// ErrInvalidValue is returned when a field holds a value of the wrong type or
	// outside its allowed set.
	ErrInvalidValue = errors.New("invalid field value")
)

// ValidationError represents a single rule violation in invoice data.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error for field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// Unwrap returns the sentinel describing the violation class.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, err error, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		Err:     err,
	}
}

// ValidationErrors collects every violation found in one record, in the order
// the fields were checked.
type ValidationErrors []*ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	if len(v) == 1 {
		return v[0].Error()
	}
	msgs := make([]string, 0, len(v))
	for _, e := range v {
		msgs = append(msgs, e.Error())
	}
	return fmt.Sprintf("%d validation errors: %s", len(v), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual violations to errors.Is and errors.As.
func (v ValidationErrors) Unwrap() []error {
	errs := make([]error, len(v))
	for i, e := range v {
		errs[i] = e
	}
	return errs
}

// Fields returns the names of all offending fields.
func (v ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(v))
	for _, e := range v {
		fields = append(fields, e.Field)
	}
	return fields
}
