package worker

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/iago/dataset-hub/internal/artifact"
	"github.com/iago/dataset-hub/internal/domain"
)

const targetsFile = "generation_targets.json"

// Work is a task ready to run plus the context reported back with its result.
type Work struct {
	JobID    string
	LocalID  string
	Payload  domain.Payload
	Original json.RawMessage
}

// Discovery derives the next missing stage from local artifacts alone.
type Discovery struct {
	store artifact.Store
}

func NewDiscovery(store artifact.Store) *Discovery {
	return &Discovery{store: store}
}

func (d *Discovery) Targets() ([]domain.GenerationTarget, error) {
	raw, err := d.store.Read(artifact.BucketAssets, targetsFile)
	if err != nil {
		return nil, err
	}
	var targets []domain.GenerationTarget
	if err := json.Unmarshal(raw, &targets); err != nil {
		return nil, fmt.Errorf("decode %s: %w", targetsFile, err)
	}
	return targets, nil
}

// Next walks documents in name order and targets in plan order and returns the
// first stage whose artifact is missing: persona, then lora, then parser. skip
// excludes ids the caller does not want again.
func (d *Discovery) Next(skip func(id string) bool) (Work, bool, error) {
	targets, err := d.Targets()
	if err != nil {
		return Work{}, false, err
	}
	documents, err := d.store.List(artifact.BucketSource, ".md")
	if err != nil {
		return Work{}, false, err
	}

	for _, markdown := range documents {
		for _, target := range targets {
			personaID := TaskID(markdown, target, StagePersona)
			candidates := []struct {
				id      string
				payload domain.Payload
			}{
				{personaID, domain.PersonaPayload{
					SourceMarkdown: markdown,
					PaperTheme:     strings.TrimSuffix(markdown, filepath.Ext(markdown)),
					AgeGroup:       target.AgeGroup,
					Gender:         target.Gender,
				}},
				{TaskID(markdown, target, StageLora), domain.LoraChainPayload{
					SourceMarkdown: markdown,
					SourcePersona:  personaID + ".json",
					AgeGroup:       target.AgeGroup,
					Gender:         target.Gender,
				}},
				{TaskID(markdown, target, StageParser), domain.ParserPayload{
					SourceMarkdown: markdown,
					SourcePersona:  personaID + ".json",
					AgeGroup:       target.AgeGroup,
					Gender:         target.Gender,
				}},
			}

			for _, candidate := range candidates {
				slot := stageSlots[candidate.payload.Pipeline()]
				if d.store.Exists(slot.bucket, candidate.id+slot.ext) {
					continue
				}
				// later stages wait for this one
				if skip != nil && skip(candidate.id) {
					break
				}
				original, err := domain.EncodePayload(candidate.payload)
				if err != nil {
					return Work{}, false, err
				}
				return Work{JobID: candidate.id, LocalID: candidate.id, Payload: candidate.payload, Original: original}, true, nil
			}
		}
	}
	return Work{}, false, nil
}
