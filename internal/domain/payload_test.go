package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestDecodePayloadSelectsVariantByPipeline(t *testing.T) {
	raw := json.RawMessage(`{"job_id":"abc","pipeline":"persona_generation","source_markdown":"a.md","paper_theme":"a","age_group":"70代","gender":"女性"}`)

	payload, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("expected decode success, got err=%v", err)
	}
	persona, ok := payload.(PersonaPayload)
	if !ok {
		t.Fatalf("expected PersonaPayload, got %T", payload)
	}
	if persona.SourceMarkdown != "a.md" || persona.Target().Key() != "70代_女性" {
		t.Fatalf("unexpected persona payload: %+v", persona)
	}
}

func TestDecodePayloadRejectsUnknownPipeline(t *testing.T) {
	_, err := DecodePayload(json.RawMessage(`{"pipeline":"p","url":"u"}`))
	if !errors.Is(err, ErrUnknownPipeline) {
		t.Fatalf("expected ErrUnknownPipeline, got %v", err)
	}
}

func TestEncodeJobMessageFlattensPayload(t *testing.T) {
	job := &Job{ID: "job-1", Payload: RagSourcePayload{URL: "https://example.org/a", Metadata: ArticleMetadata{DOI: "10.1/x"}}}

	encoded, err := EncodeJobMessage(job)
	if err != nil {
		t.Fatalf("expected encode success, got err=%v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(encoded, &fields); err != nil {
		t.Fatalf("expected valid json, got err=%v", err)
	}
	if fields["job_id"] != "job-1" || fields["pipeline"] != "rag_source" || fields["url"] != "https://example.org/a" {
		t.Fatalf("unexpected job message: %s", encoded)
	}
}

func TestJobJSONKeepsPayloadVariant(t *testing.T) {
	job := Job{
		ID:      "job-2",
		Payload: ParserPayload{SourceMarkdown: "b.md", SourcePersona: "p.json"},
		Status:  JobStatusPending,
		History: []string{"created"},
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("expected marshal success, got err=%v", err)
	}

	var decoded Job
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("expected unmarshal success, got err=%v", err)
	}
	if decoded.Pipeline() != PipelineParser {
		t.Fatalf("expected parser pipeline, got %q", decoded.Pipeline())
	}
	if decoded.Payload.(ParserPayload).SourcePersona != "p.json" {
		t.Fatalf("unexpected payload after round trip: %+v", decoded.Payload)
	}
}

func TestTaskErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("run step: %w", NewTaskError(ErrGenerationFailure, "step 2", cause))

	if !errors.Is(err, ErrGenerationFailure) {
		t.Fatalf("expected error to match its kind")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected error to unwrap to its cause")
	}
	if got := ErrorKind(err); got != "generation_failure" {
		t.Fatalf("expected generation_failure, got %q", got)
	}
	if got := ErrorKind(NewTaskError(ErrMissingInput, "a.md", nil)); got != "missing_input" {
		t.Fatalf("expected missing_input, got %q", got)
	}
}
