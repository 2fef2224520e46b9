package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iago/dataset-hub/internal/ai"
	"github.com/iago/dataset-hub/internal/domain"
)

const parserPaperLimit = 4000

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ParserHandler produces extraction training pairs: fictitious clinical notes
// as input and the persona JSON as the expected answer.
type ParserHandler struct {
	sources   Sources
	generator ai.TextGenerator
	profile   ai.ModelProfile
}

func NewParserHandler(sources Sources, generator ai.TextGenerator, router *ai.ModelRouter) *ParserHandler {
	return &ParserHandler{
		sources:   sources,
		generator: generator,
		profile:   router.Select(domain.PipelineParser),
	}
}

func (h *ParserHandler) Handle(ctx context.Context, task Task) (domain.ResultBody, error) {
	payload, ok := task.Payload.(domain.ParserPayload)
	if !ok {
		return domain.ResultBody{}, domain.NewTaskError(domain.ErrUnknownPipeline, "expected parser_finetune payload", nil)
	}
	paper, persona, err := readPaperAndPersona(h.sources, payload.SourceMarkdown, payload.SourcePersona)
	if err != nil {
		return domain.ResultBody{}, err
	}

	prompt, err := render(parserPrompt, map[string]string{
		"Persona": string(persona),
		"Paper":   truncateRunes(string(paper), parserPaperLimit),
	})
	if err != nil {
		return domain.ResultBody{}, err
	}
	result, err := ai.GenerateWithFallback(ctx, h.generator, h.profile, "", prompt)
	if err != nil {
		return domain.ResultBody{}, generationFailure(err)
	}
	materials := strings.TrimSpace(result.Text)
	if materials == "" {
		return domain.ResultBody{}, domain.NewTaskError(domain.ErrGenerationFailure, "empty clinical notes", nil)
	}

	line, err := json.Marshal(map[string][]chatMessage{
		"messages": {
			{Role: "system", Content: parserSystemMessage},
			{Role: "user", Content: materials},
			{Role: "assistant", Content: string(persona)},
		},
	})
	if err != nil {
		return domain.ResultBody{}, fmt.Errorf("encode parser record: %w", err)
	}
	return domain.ResultBody{Content: string(line), Extension: ".jsonl"}, nil
}
