package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iago/dataset-hub/internal/ai"
	"github.com/iago/dataset-hub/internal/artifact"
	"github.com/iago/dataset-hub/internal/chain"
	"github.com/iago/dataset-hub/internal/config"
	"github.com/iago/dataset-hub/internal/domain"
	"github.com/iago/dataset-hub/internal/quality"
)

const loraPaperLimit = 10000

type chainStep struct {
	config.ChainStep
	validator *quality.SchemaValidator
}

// LoraChainHandler builds a rehabilitation plan one section at a time, with a
// checkpoint after every section.
type LoraChainHandler struct {
	sources   Sources
	generator ai.TextGenerator
	profile   ai.ModelProfile
	runner    *chain.Runner
	steps     []chainStep
}

func NewLoraChainHandler(sources Sources, generator ai.TextGenerator, router *ai.ModelRouter, runner *chain.Runner, steps []config.ChainStep) (*LoraChainHandler, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("lora chain needs at least one step")
	}
	compiled := make([]chainStep, 0, len(steps))
	for _, step := range steps {
		validator, err := quality.NewSchemaValidator(step.Name, quality.FieldsSchema(step.Fields))
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, chainStep{ChainStep: step, validator: validator})
	}
	return &LoraChainHandler{
		sources:   sources,
		generator: generator,
		profile:   router.Select(domain.PipelineLoraChain),
		runner:    runner,
		steps:     compiled,
	}, nil
}

type loraRecord struct {
	Instruction string          `json:"instruction"`
	Input       loraInput       `json:"input"`
	Output      json.RawMessage `json:"output"`
}

type loraInput struct {
	PatientPersona      json.RawMessage `json:"patient_persona"`
	RelevantArticleText string          `json:"relevant_article_text"`
}

func (h *LoraChainHandler) Handle(ctx context.Context, task Task) (domain.ResultBody, error) {
	payload, ok := task.Payload.(domain.LoraChainPayload)
	if !ok {
		return domain.ResultBody{}, domain.NewTaskError(domain.ErrUnknownPipeline, "expected lora_chain_generation payload", nil)
	}
	paper, persona, err := readPaperAndPersona(h.sources, payload.SourceMarkdown, payload.SourcePersona)
	if err != nil {
		return domain.ResultBody{}, err
	}
	article := truncateRunes(string(paper), loraPaperLimit)

	accumulated, err := h.runner.Run(ctx, task.localID(), len(h.steps), func(ctx context.Context, index int, previous map[string]json.RawMessage) (map[string]json.RawMessage, error) {
		return h.runStep(ctx, h.steps[index], persona, article, previous)
	})
	if err != nil {
		return domain.ResultBody{}, err
	}

	output, err := json.Marshal(accumulated)
	if err != nil {
		return domain.ResultBody{}, fmt.Errorf("encode plan: %w", err)
	}
	line, err := json.Marshal(loraRecord{
		Instruction: loraInstruction,
		Input:       loraInput{PatientPersona: persona, RelevantArticleText: article},
		Output:      output,
	})
	if err != nil {
		return domain.ResultBody{}, fmt.Errorf("encode lora record: %w", err)
	}
	return domain.ResultBody{Content: string(line), Extension: ".jsonl"}, nil
}

func (h *LoraChainHandler) runStep(ctx context.Context, step chainStep, persona json.RawMessage, article string, previous map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	previousJSON := []byte("{}")
	if len(previous) > 0 {
		encoded, err := json.MarshalIndent(previous, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode previous results: %w", err)
		}
		previousJSON = encoded
	}
	prompt, err := render(chainStepPrompt, map[string]string{
		"Step":        step.Name,
		"Instruction": step.Instruction,
		"Persona":     string(persona),
		"Previous":    string(previousJSON),
		"Paper":       article,
		"Fields":      strings.Join(step.Fields, ", "),
	})
	if err != nil {
		return nil, err
	}

	document, err := generateJSON(ctx, h.generator, h.profile, "", prompt)
	if err != nil {
		return nil, err
	}
	if err := step.validator.Validate(document); err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(document, &fields); err != nil {
		return nil, domain.NewTaskError(domain.ErrValidationFailure, step.Name, err)
	}
	produced := make(map[string]json.RawMessage, len(step.Fields))
	for _, field := range step.Fields {
		produced[field] = fields[field]
	}
	return produced, nil
}

func readPaperAndPersona(sources Sources, markdown, persona string) ([]byte, json.RawMessage, error) {
	paper, err := readInput(sources, artifact.BucketSource, markdown)
	if err != nil {
		return nil, nil, err
	}
	personaData, err := readInput(sources, artifact.BucketPersona, persona)
	if err != nil {
		return nil, nil, err
	}
	var compact map[string]any
	if err := json.Unmarshal(personaData, &compact); err != nil {
		return nil, nil, domain.NewTaskError(domain.ErrMissingInput, "persona "+persona+" is not a json object", err)
	}
	encoded, err := json.Marshal(compact)
	if err != nil {
		return nil, nil, fmt.Errorf("encode persona: %w", err)
	}
	return paper, encoded, nil
}
