// Package chain runs multi-step generation with a checkpoint after every step,
// so an interrupted chain resumes at the first step that did not finish.
package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/iago/dataset-hub/internal/artifact"
)

// Checkpoint is the persisted progress of one chain.
type Checkpoint struct {
	NextStep           int                        `json:"next_step"`
	AccumulatedResults map[string]json.RawMessage `json:"accumulated_results"`
}

type CheckpointStore interface {
	Load(id string) (Checkpoint, bool, error)
	Save(id string, checkpoint Checkpoint) error
	Clear(id string) error
}

// FileCheckpointStore keeps one {id}.progress.json per chain.
type FileCheckpointStore struct {
	dir string
}

func NewFileCheckpointStore(dir string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create progress dir: %w", err)
	}
	return &FileCheckpointStore{dir: dir}, nil
}

func (s *FileCheckpointStore) path(id string) string {
	return filepath.Join(s.dir, filepath.Base(id)+".progress.json")
}

func (s *FileCheckpointStore) Load(id string) (Checkpoint, bool, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint %s: %w", id, err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return Checkpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	if checkpoint.AccumulatedResults == nil {
		checkpoint.AccumulatedResults = make(map[string]json.RawMessage)
	}
	return checkpoint, true, nil
}

func (s *FileCheckpointStore) Save(id string, checkpoint Checkpoint) error {
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", id, err)
	}
	return artifact.WriteFileAtomic(s.path(id), data)
}

func (s *FileCheckpointStore) Clear(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint %s: %w", id, err)
	}
	return nil
}
