package invoice

import (
	"fmt"
	"math"

	"invoiceocr/pkg/models"
)

// Validate checks a decoded record against the schema rules and returns every
// violation found, or nil.
func Validate(record *models.InvoiceRecord) error {
	var errs ValidationErrors

	if record.SchemaVersion != models.SchemaVersion {
		errs = append(errs, NewValidationError("schema_version", record.SchemaVersion, ErrInvalidValue,
			fmt.Sprintf("must be %q", models.SchemaVersion)))
	}

	if record.Status != models.StatusSuccess && record.Status != models.StatusError {
		errs = append(errs, NewValidationError("status", record.Status, ErrInvalidValue,
			fmt.Sprintf("must be %q or %q", models.StatusSuccess, models.StatusError)))
	}

	if record.Warnings == nil {
		errs = append(errs, NewValidationError("warnings", nil, ErrInvalidValue, "must be a list"))
	}

	for i, item := range record.Data.LineItems {
		prefix := fmt.Sprintf("data.line_items[%d]", i)

		errs = checkRequiredAmount(errs, prefix+".quantity", item.Quantity)
		errs = checkRequiredAmount(errs, prefix+".unit_price", item.UnitPrice)
		errs = checkOptionalAmount(errs, prefix+".total", item.Total)
	}

	totals := record.Data.Totals
	errs = checkOptionalAmount(errs, "data.totals.subtotal", totals.Subtotal)
	errs = checkOptionalAmount(errs, "data.totals.tax", totals.Tax)
	errs = checkOptionalAmount(errs, "data.totals.total", totals.Total)
	// Discounts are intentionally not bounded below.
	if totals.Discounts != nil && !isFinite(*totals.Discounts) {
		errs = append(errs, NewValidationError("data.totals.discounts", *totals.Discounts, ErrInvalidValue, "must be a finite number"))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkRequiredAmount(errs ValidationErrors, field string, value *float64) ValidationErrors {
	if value == nil {
		return append(errs, NewValidationError(field, nil, ErrMissingRequiredField, "field required"))
	}
	return checkOptionalAmount(errs, field, value)
}

func checkOptionalAmount(errs ValidationErrors, field string, value *float64) ValidationErrors {
	if value == nil {
		return errs
	}
	if !isFinite(*value) {
		return append(errs, NewValidationError(field, *value, ErrInvalidValue, "must be a finite number"))
	}
	if *value < 0 {
		return append(errs, NewValidationError(field, *value, ErrNegativeAmount, "must be greater than or equal to 0"))
	}
	return errs
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
