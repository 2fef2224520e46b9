package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Pipeline string

const (
	PipelineRagSource Pipeline = "rag_source"
	PipelinePersona   Pipeline = "persona_generation"
	PipelineLoraChain Pipeline = "lora_chain_generation"
	PipelineParser    Pipeline = "parser_finetune"
)

// Pipelines lists every pipeline the hub routes, in stage order.
var Pipelines = []Pipeline{
	PipelineRagSource,
	PipelinePersona,
	PipelineLoraChain,
	PipelineParser,
}

// Payload is the pipeline-specific body of a job. Variants are decoded from
// JSON by their "pipeline" field.
type Payload interface {
	Pipeline() Pipeline
}

type ArticleMetadata struct {
	Title         string `json:"title,omitempty" yaml:"title,omitempty"`
	DOI           string `json:"doi,omitempty" yaml:"doi,omitempty"`
	Journal       string `json:"journal,omitempty" yaml:"journal,omitempty"`
	PublishedDate string `json:"published_date,omitempty" yaml:"published_date,omitempty"`
	FallbackURL   string `json:"fallback_url,omitempty" yaml:"-"`
}

// RagSourcePayload asks a worker to turn a published article into a Markdown source document.
type RagSourcePayload struct {
	URL      string          `json:"url"`
	Metadata ArticleMetadata `json:"metadata"`
}

func (RagSourcePayload) Pipeline() Pipeline { return PipelineRagSource }

type PersonaPayload struct {
	SourceMarkdown string `json:"source_markdown"`
	PaperTheme     string `json:"paper_theme,omitempty"`
	AgeGroup       string `json:"age_group"`
	Gender         string `json:"gender"`
}

func (PersonaPayload) Pipeline() Pipeline { return PipelinePersona }

func (p PersonaPayload) Target() GenerationTarget {
	return GenerationTarget{AgeGroup: p.AgeGroup, Gender: p.Gender}
}

type LoraChainPayload struct {
	SourceMarkdown string `json:"source_markdown"`
	SourcePersona  string `json:"source_persona"`
	AgeGroup       string `json:"age_group,omitempty"`
	Gender         string `json:"gender,omitempty"`
}

func (LoraChainPayload) Pipeline() Pipeline { return PipelineLoraChain }

func (p LoraChainPayload) Target() GenerationTarget {
	return GenerationTarget{AgeGroup: p.AgeGroup, Gender: p.Gender}
}

type ParserPayload struct {
	SourceMarkdown string `json:"source_markdown"`
	SourcePersona  string `json:"source_persona"`
	AgeGroup       string `json:"age_group,omitempty"`
	Gender         string `json:"gender,omitempty"`
}

func (ParserPayload) Pipeline() Pipeline { return PipelineParser }

func (p ParserPayload) Target() GenerationTarget {
	return GenerationTarget{AgeGroup: p.AgeGroup, Gender: p.Gender}
}

// ParsePipeline validates a pipeline name.
func ParsePipeline(name string) (Pipeline, error) {
	candidate := Pipeline(strings.TrimSpace(name))
	for _, known := range Pipelines {
		if candidate == known {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPipeline, name)
}

// DecodePayload reads the discriminator and decodes the matching variant.
// Unknown fields, such as a job_id echoed back by a worker, are ignored.
func DecodePayload(raw json.RawMessage) (Payload, error) {
	var head struct {
		Pipeline string `json:"pipeline"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	pipeline, err := ParsePipeline(head.Pipeline)
	if err != nil {
		return nil, err
	}

	var payload Payload
	switch pipeline {
	case PipelineRagSource:
		var value RagSourcePayload
		err = json.Unmarshal(raw, &value)
		payload = value
	case PipelinePersona:
		var value PersonaPayload
		err = json.Unmarshal(raw, &value)
		payload = value
	case PipelineLoraChain:
		var value LoraChainPayload
		err = json.Unmarshal(raw, &value)
		payload = value
	case PipelineParser:
		var value ParserPayload
		err = json.Unmarshal(raw, &value)
		payload = value
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", pipeline, err)
	}
	return payload, nil
}

// EncodePayload renders a variant as a flat JSON object carrying its "pipeline" field.
func EncodePayload(payload Payload) (json.RawMessage, error) {
	fields, err := payloadFields(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// EncodeJobMessage renders the body returned to a pulling worker: the payload
// fields plus job_id.
func EncodeJobMessage(job *Job) (json.RawMessage, error) {
	fields, err := payloadFields(job.Payload)
	if err != nil {
		return nil, err
	}
	fields["job_id"], _ = json.Marshal(job.ID)
	return json.Marshal(fields)
}

func payloadFields(payload Payload) (map[string]json.RawMessage, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrUnknownPipeline)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", payload.Pipeline(), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", payload.Pipeline(), err)
	}
	fields["pipeline"], _ = json.Marshal(payload.Pipeline())
	return fields, nil
}
