// Package invoice turns loosely-typed model output into validated invoice
// records.
//
// Decoding happens in two separate phases:
//   - ApplyDefaults fills boilerplate keys a model commonly omits
//     (schema_version, status, model, warnings, data, data.totals) on the raw
//     JSON tree. It never inspects or rewrites values that are present.
//   - Decode performs a strict typed decode of the tree into
//     models.InvoiceRecord and runs the validation rules (required fields,
//     non-negative amounts, status enumeration).
//
// Keeping the phases apart means a response missing only boilerplate succeeds,
// while a response missing real data (for example a line item without a
// description) still fails.
package invoice

import (
	"invoiceocr/pkg/models"
)

// ApplyDefaults fills commonly omitted top-level keys in tree and returns it.
// The map is modified in place. Keys that are present, even with a null
// value, are left untouched.
func ApplyDefaults(tree map[string]interface{}, model string) map[string]interface{} {
	setDefault(tree, "schema_version", models.SchemaVersion)
	setDefault(tree, "status", models.StatusSuccess)
	setDefault(tree, "model", model)
	setDefault(tree, "warnings", []interface{}{})
	setDefault(tree, "data", map[string]interface{}{})

	// A non-object data value is left for Decode to reject.
	if data, ok := tree["data"].(map[string]interface{}); ok {
		setDefault(data, "totals", map[string]interface{}{})
	}

	return tree
}

func setDefault(m map[string]interface{}, key string, value interface{}) {
	if _, exists := m[key]; !exists {
		m[key] = value
	}
}
