package worker

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/iago/dataset-hub/internal/artifact"
	"github.com/iago/dataset-hub/internal/domain"
)

// Stage is a per-(document, target) step whose output marks it done.
type Stage string

const (
	StagePersona Stage = "persona"
	StageLora    Stage = "lora"
	StageParser  Stage = "parser"
)

// TaskID is the deterministic identity of a stage: every worker derives the
// same id for the same document, target and stage.
func TaskID(markdown string, target domain.GenerationTarget, stage Stage) string {
	name := fmt.Sprintf("%s-%s-%s", markdown, target.Key(), stage)
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)).String()
}

// PersonaFile is the persona artifact name later stages read.
func PersonaFile(markdown string, target domain.GenerationTarget) string {
	return TaskID(markdown, target, StagePersona) + ".json"
}

type artifactSlot struct {
	bucket artifact.Bucket
	ext    string
}

var stageSlots = map[domain.Pipeline]artifactSlot{
	domain.PipelinePersona:   {bucket: artifact.BucketPersona, ext: ".json"},
	domain.PipelineLoraChain: {bucket: artifact.BucketLora, ext: ".jsonl"},
	domain.PipelineParser:    {bucket: artifact.BucketParser, ext: ".jsonl"},
}

// localID recomputes the deterministic identity of a stage payload. Payloads
// without a target (and rag_source jobs) have none.
func localID(payload domain.Payload) (string, bool) {
	var (
		markdown string
		target   domain.GenerationTarget
		stage    Stage
	)
	switch typed := payload.(type) {
	case domain.PersonaPayload:
		markdown, target, stage = typed.SourceMarkdown, typed.Target(), StagePersona
	case domain.LoraChainPayload:
		markdown, target, stage = typed.SourceMarkdown, typed.Target(), StageLora
	case domain.ParserPayload:
		markdown, target, stage = typed.SourceMarkdown, typed.Target(), StageParser
	default:
		return "", false
	}
	if markdown == "" || target.AgeGroup == "" || target.Gender == "" {
		return "", false
	}
	return TaskID(markdown, target, stage), true
}
