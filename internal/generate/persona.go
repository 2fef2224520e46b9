package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/iago/dataset-hub/internal/ai"
	"github.com/iago/dataset-hub/internal/artifact"
	"github.com/iago/dataset-hub/internal/domain"
	"github.com/iago/dataset-hub/internal/quality"
)

const personaPaperLimit = 10000

type PersonaHandler struct {
	sources   Sources
	generator ai.TextGenerator
	profile   ai.ModelProfile
	validator *quality.SchemaValidator
}

func NewPersonaHandler(sources Sources, generator ai.TextGenerator, router *ai.ModelRouter) *PersonaHandler {
	return &PersonaHandler{
		sources:   sources,
		generator: generator,
		profile:   router.Select(domain.PipelinePersona),
		validator: quality.MustSchemaValidator("persona", quality.PersonaSchema()),
	}
}

func (h *PersonaHandler) Handle(ctx context.Context, task Task) (domain.ResultBody, error) {
	payload, ok := task.Payload.(domain.PersonaPayload)
	if !ok {
		return domain.ResultBody{}, domain.NewTaskError(domain.ErrUnknownPipeline, "expected persona_generation payload", nil)
	}
	paper, err := readInput(h.sources, artifact.BucketSource, payload.SourceMarkdown)
	if err != nil {
		return domain.ResultBody{}, err
	}

	theme := payload.PaperTheme
	if strings.TrimSpace(theme) == "" {
		theme = strings.TrimSuffix(payload.SourceMarkdown, filepath.Ext(payload.SourceMarkdown))
	}
	prompt, err := render(personaPrompt, map[string]string{
		"AgeGroup": payload.AgeGroup,
		"Gender":   payload.Gender,
		"Theme":    theme,
		"Paper":    truncateRunes(string(paper), personaPaperLimit),
	})
	if err != nil {
		return domain.ResultBody{}, err
	}

	document, err := generateJSON(ctx, h.generator, h.profile, "", prompt)
	if err != nil {
		return domain.ResultBody{}, err
	}
	if err := h.validator.Validate(document); err != nil {
		return domain.ResultBody{}, err
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, document, "", "  "); err != nil {
		return domain.ResultBody{}, domain.NewTaskError(domain.ErrGenerationFailure, "persona json", err)
	}
	return domain.ResultBody{Content: indented.String(), Extension: ".json"}, nil
}
