// Package outbox keeps finished task submissions on disk until the hub
// acknowledges them.
package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/iago/dataset-hub/internal/artifact"
	"github.com/iago/dataset-hub/internal/domain"
	"go.uber.org/zap"
)

const corruptSuffix = ".corrupt"

// Outbox stores one {job_id}.json file per pending submission. A later entry
// for the same job replaces the earlier one.
type Outbox struct {
	dir    string
	logger *zap.Logger
}

func New(dir string, logger *zap.Logger) (*Outbox, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create outbox dir: %w", err)
	}
	return &Outbox{dir: dir, logger: logger}, nil
}

func (o *Outbox) path(jobID string) string {
	return filepath.Join(o.dir, filepath.Base(jobID)+".json")
}

func (o *Outbox) Enqueue(submission domain.Submission) error {
	if strings.TrimSpace(submission.JobID) == "" {
		return fmt.Errorf("%w: job_id is required", domain.ErrInvalidSubmission)
	}
	data, err := json.MarshalIndent(submission, "", "  ")
	if err != nil {
		return fmt.Errorf("encode submission %s: %w", submission.JobID, err)
	}
	if err := artifact.WriteFileAtomic(o.path(submission.JobID), data); err != nil {
		return fmt.Errorf("write outbox entry %s: %w", submission.JobID, err)
	}
	o.logger.Info("submission queued", zap.String("job_id", submission.JobID), zap.String("status", string(submission.Status)))
	return nil
}

// List returns every readable entry ordered by job id. Entries that cannot be
// decoded are renamed with a .corrupt suffix and skipped from then on.
func (o *Outbox) List() ([]domain.Submission, error) {
	matches, err := filepath.Glob(filepath.Join(o.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	sort.Strings(matches)

	submissions := make([]domain.Submission, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read outbox entry %s: %w", filepath.Base(path), err)
		}
		var submission domain.Submission
		if err := json.Unmarshal(data, &submission); err != nil || submission.JobID == "" {
			o.quarantine(path, err)
			continue
		}
		submissions = append(submissions, submission)
	}
	return submissions, nil
}

func (o *Outbox) Remove(jobID string) error {
	if err := os.Remove(o.path(jobID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove outbox entry %s: %w", jobID, err)
	}
	return nil
}

func (o *Outbox) quarantine(path string, cause error) {
	if err := os.Rename(path, path+corruptSuffix); err != nil {
		o.logger.Error("corrupt outbox entry not moved", zap.String("path", path), zap.Error(err))
		return
	}
	o.logger.Warn("corrupt outbox entry moved aside", zap.String("path", path+corruptSuffix), zap.Error(cause))
}
