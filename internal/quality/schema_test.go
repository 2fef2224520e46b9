package quality

import (
	"errors"
	"testing"

	"github.com/iago/dataset-hub/internal/domain"
)

func TestPersonaSchemaAcceptsCompletePersona(t *testing.T) {
	validator := MustSchemaValidator("persona", PersonaSchema())
	persona := `{
		"age_group":"70代","gender":"女性","primary_disease":"脳梗塞",
		"comorbidities":["高血圧"],"background_history":"...",
		"subjective_complaints":"歩きにくい","psychosocial_factors":"独居"
	}`

	if err := validator.Validate([]byte(persona)); err != nil {
		t.Fatalf("expected valid persona, got %v", err)
	}
}

func TestPersonaSchemaRejectsMissingField(t *testing.T) {
	validator := MustSchemaValidator("persona", PersonaSchema())

	err := validator.Validate([]byte(`{"age_group":"70代","gender":"女性"}`))
	if !errors.Is(err, domain.ErrValidationFailure) {
		t.Fatalf("expected ErrValidationFailure, got %v", err)
	}
}

func TestFieldsSchemaRequiresEveryField(t *testing.T) {
	validator, err := NewSchemaValidator("goals", FieldsSchema([]string{"short_term_goals", "long_term_goals"}))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if err := validator.Validate([]byte(`{"short_term_goals":"a","long_term_goals":["b"]}`)); err != nil {
		t.Fatalf("expected valid step output, got %v", err)
	}
	if err := validator.Validate([]byte(`{"short_term_goals":"a","long_term_goals":null}`)); !errors.Is(err, domain.ErrValidationFailure) {
		t.Fatalf("expected null field to fail, got %v", err)
	}
	if err := validator.Validate([]byte(`not json`)); !errors.Is(err, domain.ErrValidationFailure) {
		t.Fatalf("expected non-json to fail, got %v", err)
	}
}
