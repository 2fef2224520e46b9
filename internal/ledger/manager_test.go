package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/iago/dataset-hub/internal/domain"
	"github.com/iago/dataset-hub/internal/repository"
)

func newTestManager() *Manager {
	return NewManager(repository.NewMemoryJobStore(), nil)
}

func personaPayload(name string) domain.Payload {
	return domain.PersonaPayload{SourceMarkdown: name, AgeGroup: "70代", Gender: "女性"}
}

func TestClaimFollowsEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager()

	ids := make([]string, 0, 3)
	for _, name := range []string{"a.md", "b.md", "c.md"} {
		id, err := manager.Enqueue(ctx, personaPayload(name))
		if err != nil {
			t.Fatalf("enqueue %s: %v", name, err)
		}
		ids = append(ids, id)
	}

	for _, want := range ids {
		job, ok, err := manager.Claim(ctx, "worker-1")
		if err != nil || !ok {
			t.Fatalf("expected a job, got ok=%v err=%v", ok, err)
		}
		if job.ID != want {
			t.Fatalf("expected job %s, got %s", want, job.ID)
		}
		if job.Status != domain.JobStatusProcessing || job.AssignedWorker != "worker-1" {
			t.Fatalf("expected claimed job to be processing for worker-1, got %+v", job)
		}
	}

	job, ok, err := manager.Claim(ctx, "worker-1")
	if err != nil || ok || job != nil {
		t.Fatalf("expected empty claim, got job=%v ok=%v err=%v", job, ok, err)
	}
}

func TestConcurrentClaimsNeverShareAJob(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager()
	const total = 200
	for i := 0; i < total; i++ {
		if _, err := manager.Enqueue(ctx, personaPayload(fmt.Sprintf("%d.md", i))); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]string)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		worker := fmt.Sprintf("worker-%d", w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, ok, err := manager.Claim(ctx, worker)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				if previous, dup := seen[job.ID]; dup {
					t.Errorf("job %s claimed by %s and %s", job.ID, previous, worker)
				}
				seen[job.ID] = worker
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct claims, got %d", total, len(seen))
	}
}

func TestReportIsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager()
	id, _ := manager.Enqueue(ctx, personaPayload("a.md"))
	_, _, _ = manager.Claim(ctx, "worker-1")

	if err := manager.Report(ctx, id, domain.JobStatusFailed, "timeout"); err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if err := manager.Report(ctx, id, domain.JobStatusCompleted, ""); err != nil {
		t.Fatalf("report completed: %v", err)
	}

	jobs, _ := manager.Snapshot(ctx)
	if jobs[0].Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", jobs[0].Status)
	}
	if jobs[0].AssignedWorker != "" {
		t.Fatalf("expected assignment cleared, got %q", jobs[0].AssignedWorker)
	}
	stats, _ := manager.Stats(ctx)
	if stats.Completed != 1 || stats.Failed != 0 || stats.Processing != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestDuplicateReportDoesNotGrowHistory(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager()
	id, _ := manager.Enqueue(ctx, personaPayload("a.md"))
	_, _, _ = manager.Claim(ctx, "worker-1")

	_ = manager.Report(ctx, id, domain.JobStatusCompleted, "")
	_ = manager.Report(ctx, id, domain.JobStatusCompleted, "")

	jobs, _ := manager.Snapshot(ctx)
	if got := len(jobs[0].History); got != 3 {
		t.Fatalf("expected history [created claimed completed], got %v", jobs[0].History)
	}
}

func TestDuplicateSettleSkipsPersist(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager()
	id, _ := manager.Enqueue(ctx, personaPayload("a.md"))
	_, _, _ = manager.Claim(ctx, "worker-1")

	persisted := 0
	request := SettleRequest{
		JobID:  id,
		Status: domain.JobStatusCompleted,
		Persist: func(*domain.Job) error {
			persisted++
			return nil
		},
	}
	for i := 0; i < 2; i++ {
		if err := manager.Settle(ctx, request); err != nil {
			t.Fatalf("settle %d: %v", i, err)
		}
	}
	if persisted != 1 {
		t.Fatalf("expected persist once for a redelivered report, got %d", persisted)
	}
}

func TestReportUnknownJobIsIgnored(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager()

	if err := manager.Report(ctx, "nope", domain.JobStatusCompleted, ""); err != nil {
		t.Fatalf("expected unknown report to be swallowed, got %v", err)
	}
	stats, _ := manager.Stats(ctx)
	if stats.Total != 0 {
		t.Fatalf("expected no jobs, got %+v", stats)
	}
}

func TestReportOnPendingJobLeavesQueue(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager()
	id, _ := manager.Enqueue(ctx, personaPayload("a.md"))

	if err := manager.Report(ctx, id, domain.JobStatusFailed, "cancelled"); err != nil {
		t.Fatalf("report: %v", err)
	}
	if _, ok, _ := manager.Claim(ctx, "worker-1"); ok {
		t.Fatalf("expected reported job to be gone from the pending queue")
	}
	stats, _ := manager.Stats(ctx)
	if stats.Pending != 0 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSettleAdoptsUnknownJob(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager()
	persisted := false

	err := manager.Settle(ctx, SettleRequest{
		JobID:    "deterministic-id",
		Status:   domain.JobStatusCompleted,
		WorkerID: "worker-9",
		Fallback: personaPayload("a.md"),
		Persist: func(job *domain.Job) error {
			persisted = job.Pipeline() == domain.PipelinePersona
			return nil
		},
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !persisted {
		t.Fatalf("expected persist to run with the adopted persona job")
	}

	jobs, _ := manager.Snapshot(ctx)
	if len(jobs) != 1 || jobs[0].ID != "deterministic-id" {
		t.Fatalf("expected adopted job, got %+v", jobs)
	}
	if jobs[0].Status != domain.JobStatusCompleted || jobs[0].History[0] != "adopted" {
		t.Fatalf("unexpected adopted job: %+v", jobs[0])
	}
	stats, _ := manager.Stats(ctx)
	if stats.Total != 1 || stats.Completed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSettlePersistFailureKeepsStatus(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager()
	id, _ := manager.Enqueue(ctx, personaPayload("a.md"))
	_, _, _ = manager.Claim(ctx, "worker-1")
	diskFull := errors.New("disk full")

	err := manager.Settle(ctx, SettleRequest{
		JobID:   id,
		Status:  domain.JobStatusCompleted,
		Persist: func(*domain.Job) error { return diskFull },
	})
	if !errors.Is(err, diskFull) {
		t.Fatalf("expected persist error, got %v", err)
	}
	stats, _ := manager.Stats(ctx)
	if stats.Processing != 1 || stats.Completed != 0 {
		t.Fatalf("expected job to stay processing, got %+v", stats)
	}
}

func TestStatsPartitionsJobs(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager()
	for _, name := range []string{"a.md", "b.md", "c.md", "d.md"} {
		_, _ = manager.Enqueue(ctx, personaPayload(name))
	}
	first, _, _ := manager.Claim(ctx, "w")
	second, _, _ := manager.Claim(ctx, "w")
	_, _, _ = manager.Claim(ctx, "w")
	_ = manager.Report(ctx, first.ID, domain.JobStatusCompleted, "")
	_ = manager.Report(ctx, second.ID, domain.JobStatusFailed, "bad json")

	stats, err := manager.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := domain.Stats{Total: 4, Pending: 1, Processing: 1, Completed: 1, Failed: 1}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
}
