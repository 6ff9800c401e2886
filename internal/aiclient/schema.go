package aiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// evaluationSchema constrains what the authenticity model may return.
// Scores live in [0,1] and flag severities use the same grades as
// discrepancies.
func evaluationSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"authenticity_score", "confidence"},
		"properties": map[string]any{
			"authenticity_score": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"confidence":         map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"flags": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"type", "severity"},
					"properties": map[string]any{
						"type":        map[string]any{"type": "string", "minLength": 1},
						"severity":    map[string]any{"type": "string", "enum": []string{"low", "medium", "high", "critical"}},
						"description": map[string]any{"type": "string"},
					},
				},
			},
			"recommendations": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	}
}

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func compiled() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		b, err := json.Marshal(evaluationSchema())
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("evaluation.json", bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("evaluation.json")
	})
	return compiledSchema, compileErr
}

// ValidateEvaluation checks a raw model response against the evaluation
// schema.
func ValidateEvaluation(data []byte) error {
	schema, err := compiled()
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal evaluation: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("evaluation does not match schema: %w", err)
	}
	return nil
}
