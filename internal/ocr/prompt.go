package ocr

import (
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"invoiceocr/pkg/models"
)

const systemPrompt = "You are an OCR model fine-tuned for invoices. Always output valid JSON " +
	"matching the provided schema and NEVER include prose."

const userInstruction = "Extract structured invoice data. Respond with STRICT JSON only. Schema example: %s."

// schemaHint builds the example document embedded in the user instruction.
// Field order follows the record layout so the model sees a stable shape.
func schemaHint(model string) string {
	hint := map[string]interface{}{
		"schema_version": models.SchemaVersion,
		"status":         models.StatusSuccess,
		"model":          model,
		"data": map[string]interface{}{
			"vendor":         map[string]string{"name": "", "address": "", "tax_id": ""},
			"customer":       map[string]string{"name": ""},
			"invoice_number": "",
			"purchase_order": "",
			"invoice_date":   "YYYY-MM-DD",
			"due_date":       "YYYY-MM-DD",
			"terms":          "",
			"notes":          "",
			"line_items": []map[string]interface{}{
				{"description": "", "quantity": 0, "unit_price": 0, "total": 0},
			},
			"totals": map[string]interface{}{
				"subtotal":  0,
				"tax":       0,
				"discounts": 0,
				"total":     0,
				"currency":  models.DefaultCurrency,
			},
		},
		"warnings": []string{},
	}

	// Marshalling a literal of strings and numbers cannot fail.
	b, _ := json.Marshal(hint)
	return string(b)
}

// buildMessages returns the system message followed by one user message that
// carries the instruction and then every page image in order.
func buildMessages(model string, encodedImages []string) []openai.ChatCompletionMessage {
	parts := make([]openai.ChatMessagePart, 0, len(encodedImages)+1)
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: fmt.Sprintf(userInstruction, schemaHint(model)),
	})

	for _, encoded := range encodedImages {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: "data:image/png;base64," + encoded,
			},
		})
	}

	return []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		},
		{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		},
	}
}
