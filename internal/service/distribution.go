// Package service implements the hub side of the distribution protocol on top
// of the job ledger and the result sink.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/iago/dataset-hub/internal/domain"
	"github.com/iago/dataset-hub/internal/ledger"
	"github.com/iago/dataset-hub/internal/policy"
	"github.com/iago/dataset-hub/internal/sink"
	"go.uber.org/zap"
)

type Distributor struct {
	ledger  *ledger.Manager
	sink    *sink.ResultHandler
	targets []domain.GenerationTarget
	logger  *zap.Logger
}

func NewDistributor(ledger *ledger.Manager, results *sink.ResultHandler, targets []domain.GenerationTarget, logger *zap.Logger) *Distributor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Distributor{
		ledger:  ledger,
		sink:    results,
		targets: targets,
		logger:  logger,
	}
}

// NextJob claims the oldest pending job for workerID and renders it as the
// flat job message workers receive. ok is false when nothing is pending.
func (d *Distributor) NextJob(ctx context.Context, workerID string) (json.RawMessage, bool, error) {
	if strings.TrimSpace(workerID) == "" {
		workerID = "unknown"
	}
	job, ok, err := d.ledger.Claim(ctx, workerID)
	if err != nil || !ok {
		return nil, false, err
	}
	message, err := domain.EncodeJobMessage(job)
	if err != nil {
		return nil, false, fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return message, true, nil
}

// Submit applies a worker's result. Completed results go to the result sink
// and failures to the dead-letter log, both before the ledger transition.
func (d *Distributor) Submit(ctx context.Context, submission domain.Submission) error {
	pipeline, err := validateSubmission(submission)
	if err != nil {
		return err
	}

	request := ledger.SettleRequest{
		JobID:    submission.JobID,
		Status:   submission.Status,
		WorkerID: submission.WorkerID,
		Fallback: d.fallbackPayload(submission, pipeline),
	}

	switch submission.Status {
	case domain.JobStatusCompleted:
		result := *submission.Result
		filename := ""
		if pipeline == domain.PipelinePersona {
			filename = submission.JobID + result.Extension
		}
		request.Persist = func(*domain.Job) error {
			_, err := d.sink.SaveResult(submission.JobID, pipeline, result, filename)
			return err
		}
	case domain.JobStatusFailed:
		info := domain.ErrorInfo{}
		if submission.Error != nil {
			info = *submission.Error
		}
		if info.WorkerID == "" {
			info.WorkerID = submission.WorkerID
		}
		info.Message = policy.RedactMessage(info.Message)
		request.Message = info.Message
		request.Persist = func(job *domain.Job) error {
			d.sink.SaveError(submission.JobID, pipeline, info, d.resubmitContext(submission, job))
			return nil
		}
	}

	if err := d.ledger.Settle(ctx, request); err != nil {
		return fmt.Errorf("settle job %s: %w", submission.JobID, err)
	}
	return nil
}

func validateSubmission(submission domain.Submission) (domain.Pipeline, error) {
	if strings.TrimSpace(submission.JobID) == "" || submission.Status == "" || submission.Pipeline == "" {
		return "", fmt.Errorf("%w: job_id, status and pipeline are required", domain.ErrInvalidSubmission)
	}
	if !submission.Status.Terminal() {
		return "", fmt.Errorf("%w: status must be completed or failed, got %q", domain.ErrInvalidSubmission, submission.Status)
	}
	pipeline, err := domain.ParsePipeline(string(submission.Pipeline))
	if err != nil {
		return "", err
	}
	if submission.Status == domain.JobStatusCompleted && submission.Result == nil {
		return "", fmt.Errorf("%w: completed submission without result", domain.ErrInvalidSubmission)
	}
	return pipeline, nil
}

// fallbackPayload is what the ledger adopts when it has never seen the job:
// the original job data when it decodes, otherwise an empty payload of the
// submitted pipeline.
func (d *Distributor) fallbackPayload(submission domain.Submission, pipeline domain.Pipeline) domain.Payload {
	if len(submission.OriginalJobData) > 0 {
		payload, err := domain.DecodePayload(submission.OriginalJobData)
		if err == nil && payload.Pipeline() == pipeline {
			return payload
		}
		d.logger.Warn("original job data not usable for adoption",
			zap.String("job_id", submission.JobID),
			zap.String("pipeline", string(pipeline)),
			zap.Error(err),
		)
	}
	payload, err := domain.DecodePayload(json.RawMessage(`{"pipeline":"` + string(pipeline) + `"}`))
	if err != nil {
		return nil
	}
	return payload
}

// resubmitContext is the job context stored with a dead letter: the one the
// worker sent, or the ledger's own payload when the worker sent none.
func (d *Distributor) resubmitContext(submission domain.Submission, job *domain.Job) json.RawMessage {
	original := strings.TrimSpace(string(submission.OriginalJobData))
	if original != "" && original != "null" && original != "{}" {
		return submission.OriginalJobData
	}
	if job == nil || job.Payload == nil {
		return submission.OriginalJobData
	}
	encoded, err := domain.EncodePayload(job.Payload)
	if err != nil {
		d.logger.Warn("job payload not encodable for resubmission",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return submission.OriginalJobData
	}
	return encoded
}

// Resubmit enqueues a dead letter's job context as a brand-new job.
func (d *Distributor) Resubmit(ctx context.Context, jobContext json.RawMessage) (string, error) {
	if len(strings.TrimSpace(string(jobContext))) == 0 || string(jobContext) == "null" {
		return "", fmt.Errorf("%w: empty job context", domain.ErrInvalidSubmission)
	}
	payload, err := domain.DecodePayload(jobContext)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownPipeline) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidSubmission, err)
	}
	jobID, err := d.ledger.Enqueue(ctx, payload)
	if err != nil {
		return "", err
	}
	d.logger.Info("job resubmitted", zap.String("job_id", jobID), zap.String("pipeline", string(payload.Pipeline())))
	return jobID, nil
}

func (d *Distributor) Stats(ctx context.Context) (domain.Stats, error) {
	return d.ledger.Stats(ctx)
}

// DeadLetters returns every readable dead-letter record, newest first.
func (d *Distributor) DeadLetters() ([]domain.DeadLetter, error) {
	records, skipped, err := d.sink.DeadLetters().ReadAll()
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		d.logger.Warn("unreadable dead letter lines skipped", zap.Int("skipped", skipped))
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records, nil
}

// Manifest lists the source documents workers may sync and the generation targets.
func (d *Distributor) Manifest() (domain.Manifest, error) {
	dir, err := d.sink.Dir(domain.PipelineRagSource)
	if err != nil {
		return domain.Manifest{}, err
	}
	manifest := domain.Manifest{
		RagSourceFiles:    make([]string, 0),
		GenerationTargets: d.targets,
	}
	if manifest.GenerationTargets == nil {
		manifest.GenerationTargets = make([]domain.GenerationTarget, 0)
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return manifest, nil
	}
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("list source documents: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") {
			manifest.RagSourceFiles = append(manifest.RagSourceFiles, entry.Name())
		}
	}
	sort.Strings(manifest.RagSourceFiles)
	return manifest, nil
}

// AssetPath resolves a manifest file name to its path. Names that are not a
// plain file name, or that do not exist, are ErrNotFound.
func (d *Distributor) AssetPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: asset %q", domain.ErrNotFound, name)
	}
	dir, err := d.sink.Dir(domain.PipelineRagSource)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: asset %q", domain.ErrNotFound, name)
	}
	return path, nil
}
