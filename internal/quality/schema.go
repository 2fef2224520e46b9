// Package quality checks generated output against JSON schemas.
package quality

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/iago/dataset-hub/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidator validates documents against one compiled schema.
type SchemaValidator struct {
	name   string
	schema *jsonschema.Schema
}

func NewSchemaValidator(name string, schemaMap map[string]any) (*SchemaValidator, error) {
	encoded, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal %s schema: %w", name, err)
	}
	resource := name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resource, bytes.NewReader(encoded)); err != nil {
		return nil, fmt.Errorf("add %s schema: %w", name, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return &SchemaValidator{name: name, schema: schema}, nil
}

// MustSchemaValidator panics on an invalid schema. For package-level schemas only.
func MustSchemaValidator(name string, schemaMap map[string]any) *SchemaValidator {
	validator, err := NewSchemaValidator(name, schemaMap)
	if err != nil {
		panic(err)
	}
	return validator
}

// Validate wraps any mismatch in domain.ErrValidationFailure.
func (v *SchemaValidator) Validate(data []byte) error {
	var document any
	if err := json.Unmarshal(data, &document); err != nil {
		return domain.NewTaskError(domain.ErrValidationFailure, v.name+" is not json", err)
	}
	if err := v.schema.Validate(document); err != nil {
		return domain.NewTaskError(domain.ErrValidationFailure, v.name+" does not match schema", err)
	}
	return nil
}

// PersonaSchema describes a generated patient persona.
func PersonaSchema() map[string]any {
	text := map[string]any{"type": "string", "minLength": 1}
	return map[string]any{
		"type": "object",
		"required": []string{
			"age_group",
			"gender",
			"primary_disease",
			"comorbidities",
			"background_history",
			"subjective_complaints",
			"psychosocial_factors",
		},
		"properties": map[string]any{
			"age_group":             text,
			"gender":                text,
			"primary_disease":       text,
			"comorbidities":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"background_history":    text,
			"subjective_complaints": map[string]any{"type": []string{"string", "array"}},
			"psychosocial_factors":  text,
		},
	}
}

// FieldsSchema requires an object carrying every field with a non-null value.
func FieldsSchema(fields []string) map[string]any {
	properties := make(map[string]any, len(fields))
	for _, field := range fields {
		properties[field] = map[string]any{"not": map[string]any{"type": "null"}}
	}
	return map[string]any{
		"type":       "object",
		"required":   fields,
		"properties": properties,
	}
}
