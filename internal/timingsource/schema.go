package timingsource

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

func envelopeSchemaDefinition(data map[string]any) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status":  map[string]any{"type": "integer"},
			"message": map[string]any{"type": []string{"string", "null"}},
			"data":    data,
		},
		"required": []string{"status"},
	}
}

var nullableNumber = map[string]any{"type": []string{"number", "null"}}

// conversationsSchemaDefinition describes GET conversations/ids.
func conversationsSchemaDefinition() map[string]any {
	return envelopeSchemaDefinition(map[string]any{
		"type": []string{"object", "null"},
		"properties": map[string]any{
			"conversation_ids": map[string]any{
				"type":  []string{"array", "null"},
				"items": map[string]any{"type": []string{"integer", "string"}},
			},
		},
	})
}

// timingsSchemaDefinition describes GET monitor/conversations/response_time.
func timingsSchemaDefinition() map[string]any {
	return envelopeSchemaDefinition(map[string]any{
		"type": []string{"object", "null"},
		"properties": map[string]any{
			"data": map[string]any{
				"type": []string{"array", "null"},
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"bot_id":               map[string]any{"type": []string{"integer", "null"}},
						"server_response_time": nullableNumber,
						"llm_response_time":    nullableNumber,
						"fast_response_time":   nullableNumber,
					},
				},
			},
		},
	})
}

type payloadSchemas struct {
	conversations *gojsonschema.Schema
	timings       *gojsonschema.Schema
}

func compileSchemas() (*payloadSchemas, error) {
	conversations, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(conversationsSchemaDefinition()))
	if err != nil {
		return nil, fmt.Errorf("compile conversations schema: %w", err)
	}
	timings, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(timingsSchemaDefinition()))
	if err != nil {
		return nil, fmt.Errorf("compile timings schema: %w", err)
	}
	return &payloadSchemas{conversations: conversations, timings: timings}, nil
}

func validatePayload(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return fmt.Errorf("payload validation failed: %s", strings.Join(errs, ", "))
}
