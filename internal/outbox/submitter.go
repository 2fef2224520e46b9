package outbox

import (
	"context"
	"time"

	"github.com/iago/dataset-hub/internal/domain"
	"go.uber.org/zap"
)

// Deliverer posts one submission to the hub.
type Deliverer interface {
	Submit(ctx context.Context, submission domain.Submission) error
}

// Submitter drains the outbox periodically. An entry is removed only after the
// hub accepted it, so delivery is at least once.
type Submitter struct {
	outbox    *Outbox
	deliverer Deliverer
	interval  time.Duration
	logger    *zap.Logger
}

func NewSubmitter(outbox *Outbox, deliverer Deliverer, interval time.Duration, logger *zap.Logger) *Submitter {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{outbox: outbox, deliverer: deliverer, interval: interval, logger: logger}
}

func (s *Submitter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Flush(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Flush tries every entry once and returns how many were delivered.
func (s *Submitter) Flush(ctx context.Context) int {
	submissions, err := s.outbox.List()
	if err != nil {
		s.logger.Error("outbox scan failed", zap.Error(err))
		return 0
	}
	if len(submissions) == 0 {
		return 0
	}
	s.logger.Info("delivering outbox", zap.Int("entries", len(submissions)))

	delivered := 0
	for _, submission := range submissions {
		if ctx.Err() != nil {
			break
		}
		if err := s.deliverer.Submit(ctx, submission); err != nil {
			s.logger.Warn("submission not delivered, will retry", zap.String("job_id", submission.JobID), zap.Error(err))
			continue
		}
		if err := s.outbox.Remove(submission.JobID); err != nil {
			s.logger.Error("delivered entry not removed", zap.String("job_id", submission.JobID), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}
