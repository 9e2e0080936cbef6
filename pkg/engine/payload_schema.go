package engine

import (
	"encoding/json"
	"fmt"

	"github.com/docwell/stepflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// checkPayloadShape validates the raw payload against the step's declared
// JSON schema. Shape mismatches are client programming errors (422), distinct
// from the step validator's domain failures (400).
func checkPayloadShape(schema *models.JSONSchema, payload map[string]any) error {
	if schema == nil {
		return nil
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to encode step schema: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewGoLoader(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to run schema validation: %w", err)
	}

	if result.Valid() {
		return nil
	}

	detail := ""
	for i, desc := range result.Errors() {
		if i > 0 {
			detail += "; "
		}

		detail += desc.String()
	}

	return fmt.Errorf("%w: %s", ErrMalformedPayload, detail)
}
