package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"
)

func stepOutputs(calls *[]int, failAt int) StepFunc {
	return func(_ context.Context, index int, accumulated map[string]json.RawMessage) (map[string]json.RawMessage, error) {
		*calls = append(*calls, index)
		if index == failAt {
			return nil, errors.New("generator down")
		}
		if index > 0 {
			if _, ok := accumulated[fmt.Sprintf("field_%d", index-1)]; !ok {
				return nil, fmt.Errorf("step %d did not see field_%d", index, index-1)
			}
		}
		return map[string]json.RawMessage{fmt.Sprintf("field_%d", index): json.RawMessage(fmt.Sprintf(`"value %d"`, index))}, nil
	}
}

func TestRunnerCheckpointsAndResumes(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileCheckpointStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	runner := NewRunner(store, zap.NewNop())

	var firstCalls []int
	if _, err := runner.Run(context.Background(), "job-1", 5, stepOutputs(&firstCalls, 3)); err == nil {
		t.Fatalf("expected step 3 failure")
	}

	checkpoint, ok, err := store.Load("job-1")
	if err != nil || !ok {
		t.Fatalf("expected checkpoint, ok=%v err=%v", ok, err)
	}
	if checkpoint.NextStep != 3 || len(checkpoint.AccumulatedResults) != 3 {
		t.Fatalf("expected next_step=3 with 3 results, got %+v", checkpoint)
	}

	var secondCalls []int
	results, err := runner.Run(context.Background(), "job-1", 5, stepOutputs(&secondCalls, -1))
	if err != nil {
		t.Fatalf("expected resume success, got %v", err)
	}
	if !reflect.DeepEqual(secondCalls, []int{3, 4}) {
		t.Fatalf("expected only steps 3 and 4 to run, got %v", secondCalls)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 accumulated fields, got %d", len(results))
	}
	if _, err := os.Stat(filepath.Join(dir, "job-1.progress.json")); !os.IsNotExist(err) {
		t.Fatalf("expected checkpoint removed after completion, got %v", err)
	}
}

func TestRunnerResumedResultMatchesUninterrupted(t *testing.T) {
	store, _ := NewFileCheckpointStore(t.TempDir())
	runner := NewRunner(store, nil)

	var calls []int
	straight, err := runner.Run(context.Background(), "straight", 5, stepOutputs(&calls, -1))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	_, _ = runner.Run(context.Background(), "interrupted", 5, stepOutputs(&calls, 1))
	resumed, err := runner.Run(context.Background(), "interrupted", 5, stepOutputs(&calls, -1))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}

	if !reflect.DeepEqual(straight, resumed) {
		t.Fatalf("expected equal results, got %v vs %v", straight, resumed)
	}
}

func TestRunnerIgnoresCorruptCheckpoint(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileCheckpointStore(dir)
	if err := os.WriteFile(filepath.Join(dir, "job-2.progress.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var calls []int
	if _, err := NewRunner(store, nil).Run(context.Background(), "job-2", 2, stepOutputs(&calls, -1)); err != nil {
		t.Fatalf("expected fresh run, got %v", err)
	}
	if !reflect.DeepEqual(calls, []int{0, 1}) {
		t.Fatalf("expected both steps, got %v", calls)
	}
}

func TestRunnerStopsOnCancelledContext(t *testing.T) {
	store, _ := NewFileCheckpointStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls []int
	if _, err := NewRunner(store, nil).Run(ctx, "job-3", 2, stepOutputs(&calls, -1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("expected no steps, got %v", calls)
	}
}
