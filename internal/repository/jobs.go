package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/iago/dataset-hub/internal/domain"
)

var (
	ErrNotFound   = domain.ErrNotFound
	ErrQueueEmpty = errors.New("pending queue is empty")
)

// JobStore persists job records and the FIFO of pending job ids. It does not
// serialize multi-step operations; the ledger holds the lock around them.
type JobStore interface {
	Insert(ctx context.Context, job *domain.Job) error
	Update(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context) ([]*domain.Job, error)

	PushPending(ctx context.Context, jobID string) error
	PopPending(ctx context.Context) (string, error)
	RemovePending(ctx context.Context, jobID string) error
	PendingIDs(ctx context.Context) ([]string, error)
}

// MemoryJobStore keeps everything in process memory. State is lost on restart.
type MemoryJobStore struct {
	mu      sync.RWMutex
	jobs    map[string]*domain.Job
	order   []string
	pending []string
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]*domain.Job),
	}
}

func (s *MemoryJobStore) Insert(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; !exists {
		s.order = append(s.order, job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryJobStore) Update(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryJobStore) List(_ context.Context) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*domain.Job, 0, len(s.order))
	for _, id := range s.order {
		jobs = append(jobs, s.jobs[id].Clone())
	}
	return jobs, nil
}

func (s *MemoryJobStore) PushPending(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, jobID)
	return nil
}

func (s *MemoryJobStore) PopPending(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return "", ErrQueueEmpty
	}
	head := s.pending[0]
	s.pending[0] = ""
	s.pending = s.pending[1:]
	return head, nil
}

func (s *MemoryJobStore) RemovePending(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.pending[:0]
	for _, id := range s.pending {
		if id != jobID {
			kept = append(kept, id)
		}
	}
	s.pending = kept
	return nil
}

func (s *MemoryJobStore) PendingIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.pending...), nil
}

// sortByCreation orders jobs the way the memory store does for backends that
// cannot preserve insertion order natively.
func sortByCreation(jobs []*domain.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
