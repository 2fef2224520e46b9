// Package ledger tracks hub jobs from creation to a terminal report.
//
// A job id is in exactly one place at a time: the pending FIFO, assigned to a
// worker, or terminal. One mutex serializes every transition.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iago/dataset-hub/internal/domain"
	"github.com/iago/dataset-hub/internal/repository"
	"go.uber.org/zap"
)

// AdoptedWorker is recorded on jobs the hub learns about only when their result arrives.
const AdoptedWorker = "external"

type Manager struct {
	mu     sync.Mutex
	store  repository.JobStore
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewManager(store repository.JobStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Enqueue creates a pending job with a fresh random id.
func (m *Manager) Enqueue(ctx context.Context, payload domain.Payload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("%w: empty payload", domain.ErrUnknownPipeline)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	job := &domain.Job{
		ID:        m.newID(),
		Payload:   payload,
		Status:    domain.JobStatusPending,
		History:   []string{"created"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Insert(ctx, job); err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	if err := m.store.PushPending(ctx, job.ID); err != nil {
		return "", fmt.Errorf("queue job: %w", err)
	}

	m.logger.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("pipeline", string(payload.Pipeline())),
	)
	return job.ID, nil
}

// Claim pops the oldest pending job and assigns it to workerID. ok is false
// when nothing is pending.
func (m *Manager) Claim(ctx context.Context, workerID string) (*domain.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		jobID, err := m.store.PopPending(ctx)
		if errors.Is(err, repository.ErrQueueEmpty) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("pop pending: %w", err)
		}

		job, err := m.store.Get(ctx, jobID)
		if errors.Is(err, repository.ErrNotFound) {
			m.logger.Warn("pending id without job record", zap.String("job_id", jobID))
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("load job %s: %w", jobID, err)
		}

		job.Status = domain.JobStatusProcessing
		job.AssignedWorker = workerID
		job.History = append(job.History, "claimed by "+workerID)
		job.UpdatedAt = m.now()
		if err := m.store.Update(ctx, job); err != nil {
			return nil, false, fmt.Errorf("assign job %s: %w", jobID, err)
		}

		m.logger.Info("job claimed", zap.String("job_id", job.ID), zap.String("worker_id", workerID))
		return job, true, nil
	}
}

// Report moves a job to completed or failed. Unknown ids are logged and ignored.
func (m *Manager) Report(ctx context.Context, jobID string, status domain.JobStatus, message string) error {
	return m.Settle(ctx, SettleRequest{JobID: jobID, Status: status, Message: message})
}

type SettleRequest struct {
	JobID    string
	Status   domain.JobStatus
	Message  string
	WorkerID string

	// Fallback is used to adopt a job the ledger has never seen.
	Fallback domain.Payload

	// Persist runs under the ledger lock after adoption and before the
	// transition, with the job being settled. It is skipped for duplicate
	// reports. An error aborts the transition.
	Persist func(job *domain.Job) error
}

// Settle applies a worker's terminal report. Unknown jobs are adopted from
// Fallback when one is given, otherwise the report is logged and dropped.
func (m *Manager) Settle(ctx context.Context, request SettleRequest) error {
	if !request.Status.Terminal() {
		m.logger.Warn("ignoring non-terminal report",
			zap.String("job_id", request.JobID),
			zap.String("status", string(request.Status)),
		)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, request.JobID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if request.Fallback == nil {
			m.logger.Warn("report for unknown job", zap.String("job_id", request.JobID))
			return nil
		}
		job, err = m.adopt(ctx, request)
		if err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("load job %s: %w", request.JobID, err)
	}

	// A redelivered report must not persist its result a second time.
	if job.Status == request.Status {
		m.logger.Info("duplicate report ignored",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
		)
		return nil
	}

	if request.Persist != nil {
		if err := request.Persist(job); err != nil {
			return err
		}
	}

	if job.Status == domain.JobStatusPending {
		if err := m.store.RemovePending(ctx, job.ID); err != nil {
			return fmt.Errorf("dequeue reported job %s: %w", job.ID, err)
		}
	}

	entry := string(request.Status)
	if request.Message != "" {
		entry += ": " + request.Message
	}
	job.Status = request.Status
	job.AssignedWorker = ""
	job.History = append(job.History, entry)
	job.UpdatedAt = m.now()
	if err := m.store.Update(ctx, job); err != nil {
		return fmt.Errorf("report job %s: %w", job.ID, err)
	}

	m.logger.Info("job reported",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
	)
	return nil
}

func (m *Manager) adopt(ctx context.Context, request SettleRequest) (*domain.Job, error) {
	worker := request.WorkerID
	if worker == "" {
		worker = AdoptedWorker
	}
	now := m.now()
	job := &domain.Job{
		ID:             request.JobID,
		Payload:        request.Fallback,
		Status:         domain.JobStatusProcessing,
		History:        []string{"adopted"},
		AssignedWorker: worker,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("adopt job %s: %w", job.ID, err)
	}
	m.logger.Info("job adopted",
		zap.String("job_id", job.ID),
		zap.String("pipeline", string(job.Pipeline())),
		zap.String("worker_id", worker),
	)
	return job, nil
}

// Stats classifies every job id not pending and not assigned by its stored status.
func (m *Manager) Stats(ctx context.Context) (domain.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs, err := m.store.List(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("list jobs: %w", err)
	}
	pendingIDs, err := m.store.PendingIDs(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("list pending: %w", err)
	}

	pending := make(map[string]struct{}, len(pendingIDs))
	for _, id := range pendingIDs {
		pending[id] = struct{}{}
	}

	stats := domain.Stats{Total: len(jobs), Pending: len(pending)}
	for _, job := range jobs {
		if _, queued := pending[job.ID]; queued {
			continue
		}
		if job.AssignedWorker != "" {
			stats.Processing++
			continue
		}
		switch job.Status {
		case domain.JobStatusCompleted:
			stats.Completed++
		case domain.JobStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Snapshot returns copies of every job in creation order.
func (m *Manager) Snapshot(ctx context.Context) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}
