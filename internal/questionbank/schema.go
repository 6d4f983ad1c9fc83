package questionbank

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const schemaURL = "schema://question-bank.json"

var questionSchema = map[string]any{
	"type":     "object",
	"required": []any{"id", "text", "type"},
	"properties": map[string]any{
		"id":             map[string]any{"type": "string", "minLength": 1},
		"text":           map[string]any{"type": "string", "minLength": 1},
		"type":           map[string]any{"enum": []any{"multiple_choice", "free_text"}},
		"options":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"correct_option": map[string]any{"type": "string"},
		"feedback":       map[string]any{"type": "string"},
	},
	"additionalProperties": false,
}

var fileSchema = map[string]any{
	"type":     "object",
	"required": []any{"lessons"},
	"properties": map[string]any{
		"lessons": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"lesson_id"},
				"properties": map[string]any{
					"lesson_id": map[string]any{"type": "string", "minLength": 1},
					"warmup":    map[string]any{"type": "array", "items": questionSchema},
					"bookmarks": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type":     "object",
							"required": []any{"id", "offset_ms"},
							"properties": map[string]any{
								"id":        map[string]any{"type": "string", "minLength": 1},
								"offset_ms": map[string]any{"type": "integer", "minimum": 0},
								"topic":     map[string]any{"type": "string"},
							},
							"additionalProperties": false,
						},
					},
					"in_lesson": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type":     "object",
							"required": []any{"id", "offset_ms", "questions"},
							"properties": map[string]any{
								"id":        map[string]any{"type": "string", "minLength": 1},
								"offset_ms": map[string]any{"type": "integer", "minimum": 0},
								"questions": map[string]any{"type": "array", "minItems": 1, "items": questionSchema},
							},
							"additionalProperties": false,
						},
					},
				},
				"additionalProperties": false,
			},
		},
	},
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		// The compiler wants a plain JSON value, so round-trip the Go map.
		raw, err := json.Marshal(fileSchema)
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			compileErr = fmt.Errorf("parse schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// validateDocument checks raw YAML against the bank schema.
func validateDocument(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	// yaml.v3 yields Go ints and map[string]any; normalise to JSON values.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("normalise yaml: %w", err)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("normalise yaml: %w", err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
