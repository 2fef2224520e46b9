package service

import (
	"context"
	"sort"

	"github.com/iago/dataset-hub/internal/domain"
)

// Stage marks shown per cell of the progress matrix.
const (
	MarkPersona = "P"
	MarkLora    = "L"
	MarkParser  = "A"
)

var stageMarks = map[domain.Pipeline]string{
	domain.PipelinePersona:   MarkPersona,
	domain.PipelineLoraChain: MarkLora,
	domain.PipelineParser:    MarkParser,
}

// ProgressCell holds the latest ledger status per stage mark.
type ProgressCell map[string]domain.JobStatus

// Status returns the mark's status, pending when the ledger has no job for it.
func (c ProgressCell) Status(mark string) domain.JobStatus {
	if status, ok := c[mark]; ok {
		return status
	}
	return domain.JobStatusPending
}

type ProgressRow struct {
	Document string
	Cells    []ProgressCell
}

// Progress is the source document x generation target matrix.
type Progress struct {
	Targets []string
	Rows    []ProgressRow
}

// Progress derives the matrix from the jobs currently held by the ledger.
// Columns are the target keys seen in those jobs, sorted.
func (d *Distributor) Progress(ctx context.Context) (Progress, error) {
	jobs, err := d.ledger.Snapshot(ctx)
	if err != nil {
		return Progress{}, err
	}

	matrix := make(map[string]map[string]ProgressCell)
	targetSet := make(map[string]struct{})
	for _, job := range jobs {
		document, target, ok := stageCoordinates(job.Payload)
		if !ok {
			continue
		}
		mark := stageMarks[job.Pipeline()]
		if matrix[document] == nil {
			matrix[document] = make(map[string]ProgressCell)
		}
		if matrix[document][target] == nil {
			matrix[document][target] = make(ProgressCell)
		}
		matrix[document][target][mark] = job.Status
		targetSet[target] = struct{}{}
	}

	progress := Progress{Targets: make([]string, 0, len(targetSet))}
	for target := range targetSet {
		progress.Targets = append(progress.Targets, target)
	}
	sort.Strings(progress.Targets)

	documents := make([]string, 0, len(matrix))
	for document := range matrix {
		documents = append(documents, document)
	}
	sort.Strings(documents)

	for _, document := range documents {
		row := ProgressRow{Document: document, Cells: make([]ProgressCell, len(progress.Targets))}
		for i, target := range progress.Targets {
			row.Cells[i] = matrix[document][target]
		}
		progress.Rows = append(progress.Rows, row)
	}
	return progress, nil
}

func stageCoordinates(payload domain.Payload) (document, target string, ok bool) {
	switch typed := payload.(type) {
	case domain.PersonaPayload:
		return typed.SourceMarkdown, typed.Target().Key(), typed.SourceMarkdown != ""
	case domain.LoraChainPayload:
		return typed.SourceMarkdown, typed.Target().Key(), typed.SourceMarkdown != ""
	case domain.ParserPayload:
		return typed.SourceMarkdown, typed.Target().Key(), typed.SourceMarkdown != ""
	default:
		return "", "", false
	}
}
