// Package worker runs dataset tasks on a worker machine: it discovers missing
// stages from local artifacts, pulls jobs from the hub, and queues every
// outcome in the outbox for delivery.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/iago/dataset-hub/internal/artifact"
	"github.com/iago/dataset-hub/internal/domain"
	"github.com/iago/dataset-hub/internal/generate"
	"github.com/iago/dataset-hub/internal/hubclient"
	"go.uber.org/zap"
)

type Mode string

const (
	ModeAutonomous Mode = "autonomous"
	ModePull       Mode = "pull"
	ModeHybrid     Mode = "hybrid"
)

func ParseMode(value string) (Mode, error) {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(value))); mode {
	case ModeAutonomous, ModePull, ModeHybrid:
		return mode, nil
	case "":
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("unknown worker mode %q", value)
	}
}

type Dispatcher interface {
	Dispatch(ctx context.Context, task generate.Task) (domain.ResultBody, error)
}

type JobSource interface {
	NextJob(ctx context.Context, workerID string) (hubclient.PulledJob, bool, error)
}

type Outbox interface {
	Enqueue(submission domain.Submission) error
}

type Config struct {
	WorkerID     string
	Mode         Mode
	PollInterval time.Duration
}

type Runtime struct {
	config     Config
	dispatcher Dispatcher
	store      artifact.Store
	outbox     Outbox
	discovery  *Discovery
	syncer     *Syncer
	jobs       JobSource
	logger     *zap.Logger

	// failed holds the ids that failed during the current pass.
	mu     sync.Mutex
	failed map[string]struct{}
}

func NewRuntime(config Config, dispatcher Dispatcher, store artifact.Store, outbox Outbox, syncer *Syncer, jobs JobSource, logger *zap.Logger) *Runtime {
	if config.Mode == "" {
		config.Mode = ModeHybrid
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		config:     config,
		dispatcher: dispatcher,
		store:      store,
		outbox:     outbox,
		discovery:  NewDiscovery(store),
		syncer:     syncer,
		jobs:       jobs,
		logger:     logger,
		failed:     make(map[string]struct{}),
	}
}

// Run syncs assets, then executes one task at a time until ctx is cancelled.
// When a pass finds nothing it sleeps PollInterval and syncs again. Tasks
// that failed are skipped for the rest of their pass and retried on the next.
func (r *Runtime) Run(ctx context.Context) {
	r.sync(ctx)
	for {
		if ctx.Err() != nil {
			return
		}
		if r.Step(ctx) {
			continue
		}

		timer := time.NewTimer(r.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		r.resetFailed()
		r.sync(ctx)
	}
}

// Step runs at most one task and reports whether it found one.
func (r *Runtime) Step(ctx context.Context) bool {
	switch r.config.Mode {
	case ModeAutonomous:
		return r.discover(ctx)
	case ModePull:
		return r.pull(ctx)
	default:
		return r.discover(ctx) || r.pull(ctx)
	}
}

func (r *Runtime) sync(ctx context.Context) {
	if r.syncer == nil {
		return
	}
	if _, err := r.syncer.Sync(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("asset sync failed, continuing with local assets", zap.Error(err))
	}
}

func (r *Runtime) discover(ctx context.Context) bool {
	work, ok, err := r.discovery.Next(r.hasFailed)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			r.logger.Info("generation targets not synced yet")
		} else {
			r.logger.Error("discovery failed", zap.Error(err))
		}
		return false
	}
	if !ok {
		return false
	}
	r.execute(ctx, work)
	return true
}

func (r *Runtime) pull(ctx context.Context) bool {
	if r.jobs == nil {
		return false
	}
	job, ok, err := r.jobs.NextJob(ctx, r.config.WorkerID)
	if !ok {
		if err != nil && ctx.Err() == nil {
			r.logger.Warn("get-job failed", zap.Error(err))
		}
		return false
	}
	if err != nil {
		// The hub rejects submissions for pipelines it does not route, so
		// there is nothing useful to report. The job stays processing on the
		// hub.
		r.logger.Error("pulled job not runnable", zap.String("job_id", job.ID), zap.String("pipeline", string(pipelineOf(job.Raw))), zap.Error(err))
		return true
	}

	work := Work{JobID: job.ID, LocalID: job.ID, Payload: job.Payload, Original: job.Raw}
	if id, ok := localID(job.Payload); ok {
		work.LocalID = id
	}
	if slot, ok := stageSlots[job.Payload.Pipeline()]; ok && work.LocalID != job.ID {
		if existing, err := r.store.Read(slot.bucket, work.LocalID+slot.ext); err == nil {
			r.logger.Info("reusing local artifact", zap.String("job_id", job.ID), zap.String("local_id", work.LocalID))
			r.enqueue(completedSubmission(work, r.config.WorkerID, domain.ResultBody{Content: strings.TrimRight(string(existing), "\n"), Extension: slot.ext}))
			return true
		}
	}
	if markdown := sourceMarkdown(job.Payload); markdown != "" && !r.store.Exists(artifact.BucketSource, markdown) {
		r.sync(ctx)
	}
	r.execute(ctx, work)
	return true
}

func (r *Runtime) execute(ctx context.Context, work Work) {
	pipeline := work.Payload.Pipeline()
	logger := r.logger.With(zap.String("job_id", work.JobID), zap.String("pipeline", string(pipeline)))
	logger.Info("task started")
	started := time.Now()

	result, err := r.dispatch(ctx, work)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("task interrupted", zap.Error(err))
			return
		}
		logger.Warn("task failed", zap.String("kind", domain.ErrorKind(err)), zap.Error(err))
		r.markFailed(work.LocalID)
		r.enqueue(failedSubmission(work.JobID, pipeline, r.config.WorkerID, err, work.Original))
		return
	}

	if slot, ok := stageSlots[pipeline]; ok {
		content := result.Content
		if slot.ext == ".jsonl" {
			content = strings.TrimRight(content, "\n") + "\n"
		}
		if err := r.store.Write(slot.bucket, work.LocalID+slot.ext, []byte(content)); err != nil {
			logger.Error("local artifact not written", zap.Error(err))
			r.markFailed(work.LocalID)
			cause := domain.NewTaskError(domain.ErrGenerationFailure, "local artifact not written", err)
			r.enqueue(failedSubmission(work.JobID, pipeline, r.config.WorkerID, cause, work.Original))
			return
		}
	}
	r.clearFailed(work.LocalID)
	r.enqueue(completedSubmission(work, r.config.WorkerID, result))
	logger.Info("task completed", zap.Duration("took", time.Since(started)))
}

// dispatch converts a panic inside a handler into a GenerationFailure.
func (r *Runtime) dispatch(ctx context.Context, work Work) (result domain.ResultBody, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("task panicked", zap.String("job_id", work.JobID), zap.Any("panic", recovered), zap.ByteString("stack", debug.Stack()))
			err = domain.NewTaskError(domain.ErrGenerationFailure, fmt.Sprintf("panic: %v", recovered), nil)
		}
	}()
	return r.dispatcher.Dispatch(ctx, generate.Task{JobID: work.JobID, LocalID: work.LocalID, Payload: work.Payload})
}

func (r *Runtime) enqueue(submission domain.Submission) {
	if err := r.outbox.Enqueue(submission); err != nil {
		r.logger.Error("submission not queued", zap.String("job_id", submission.JobID), zap.Error(err))
	}
}

func (r *Runtime) hasFailed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.failed[id]
	return ok
}

func (r *Runtime) markFailed(id string) {
	r.mu.Lock()
	r.failed[id] = struct{}{}
	r.mu.Unlock()
}

func (r *Runtime) resetFailed() {
	r.mu.Lock()
	clear(r.failed)
	r.mu.Unlock()
}

func (r *Runtime) clearFailed(id string) {
	r.mu.Lock()
	delete(r.failed, id)
	r.mu.Unlock()
}

func completedSubmission(work Work, workerID string, result domain.ResultBody) domain.Submission {
	return domain.Submission{
		JobID:           work.JobID,
		Pipeline:        work.Payload.Pipeline(),
		Status:          domain.JobStatusCompleted,
		Result:          &result,
		OriginalJobData: work.Original,
		WorkerID:        workerID,
	}
}

func failedSubmission(jobID string, pipeline domain.Pipeline, workerID string, cause error, original []byte) domain.Submission {
	return domain.Submission{
		JobID:    jobID,
		Pipeline: pipeline,
		Status:   domain.JobStatusFailed,
		Error: &domain.ErrorInfo{
			Message:  cause.Error(),
			WorkerID: workerID,
			Kind:     domain.ErrorKind(cause),
		},
		OriginalJobData: original,
		WorkerID:        workerID,
	}
}

func sourceMarkdown(payload domain.Payload) string {
	switch typed := payload.(type) {
	case domain.PersonaPayload:
		return typed.SourceMarkdown
	case domain.LoraChainPayload:
		return typed.SourceMarkdown
	case domain.ParserPayload:
		return typed.SourceMarkdown
	default:
		return ""
	}
}

func pipelineOf(raw []byte) domain.Pipeline {
	var head struct {
		Pipeline domain.Pipeline `json:"pipeline"`
	}
	_ = json.Unmarshal(raw, &head)
	return head.Pipeline
}
