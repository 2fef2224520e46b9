package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// StepFunc runs step index with the fields accumulated by earlier steps and
// returns the fields it produced.
type StepFunc func(ctx context.Context, index int, accumulated map[string]json.RawMessage) (map[string]json.RawMessage, error)

type Runner struct {
	store  CheckpointStore
	logger *zap.Logger
}

func NewRunner(store CheckpointStore, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{store: store, logger: logger}
}

// Run executes steps [checkpoint.NextStep, steps) for chain id. After each
// successful step the checkpoint records the next step and everything
// accumulated so far. A failed step leaves the checkpoint at that step. The
// checkpoint is removed once every step has run.
func (r *Runner) Run(ctx context.Context, id string, steps int, step StepFunc) (map[string]json.RawMessage, error) {
	checkpoint, resumed, err := r.store.Load(id)
	if err != nil {
		r.logger.Warn("discarding unreadable checkpoint", zap.String("chain_id", id), zap.Error(err))
		checkpoint, resumed = Checkpoint{}, false
	}
	if checkpoint.AccumulatedResults == nil {
		checkpoint.AccumulatedResults = make(map[string]json.RawMessage)
	}
	if checkpoint.NextStep < 0 || checkpoint.NextStep > steps {
		checkpoint = Checkpoint{AccumulatedResults: make(map[string]json.RawMessage)}
	}
	if resumed {
		r.logger.Info("resuming chain", zap.String("chain_id", id), zap.Int("next_step", checkpoint.NextStep))
	}

	for index := checkpoint.NextStep; index < steps; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		produced, err := step(ctx, index, checkpoint.AccumulatedResults)
		if err != nil {
			return nil, fmt.Errorf("chain step %d: %w", index, err)
		}
		for key, value := range produced {
			checkpoint.AccumulatedResults[key] = value
		}
		checkpoint.NextStep = index + 1
		if err := r.store.Save(id, checkpoint); err != nil {
			return nil, err
		}
		r.logger.Debug("chain step done", zap.String("chain_id", id), zap.Int("step", index), zap.Int("of", steps))
	}

	if err := r.store.Clear(id); err != nil {
		r.logger.Warn("checkpoint not removed", zap.String("chain_id", id), zap.Error(err))
	}
	return checkpoint.AccumulatedResults, nil
}
