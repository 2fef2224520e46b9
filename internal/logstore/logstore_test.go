package logstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iago/dataset-hub/internal/domain"
)

func TestSeenLogSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "processed.log")

	log, err := OpenSeenLog(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := log.Add("10.1/abc"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := log.Add("10.1/abc"); err != nil {
		t.Fatalf("add duplicate: %v", err)
	}

	reopened, err := OpenSeenLog(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopened.Has("10.1/abc") {
		t.Fatalf("expected id to survive reopen")
	}
	if reopened.Len() != 1 {
		t.Fatalf("expected one id, got %d", reopened.Len())
	}

	raw, _ := os.ReadFile(path)
	if string(raw) != "10.1/abc\n" {
		t.Fatalf("expected a single line, got %q", raw)
	}
}

func TestDeadLetterLogReadAllNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dead_letter_queue.jsonl")
	log := NewDeadLetterLog(path)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "new"} {
		err := log.Append(domain.DeadLetter{
			Timestamp:             base.Add(time.Duration(i) * time.Hour),
			FailedJobID:           id,
			PipelineName:          domain.PipelinePersona,
			ErrorInfo:             domain.ErrorInfo{Message: "boom"},
			JobContextForResubmit: json.RawMessage(`{"pipeline":"persona_generation"}`),
		})
		if err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	file, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	_, _ = file.WriteString("not json\n")
	file.Close()

	records, skipped, err := log.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if skipped != 1 {
		t.Fatalf("expected one skipped line, got %d", skipped)
	}
	if len(records) != 2 || records[0].FailedJobID != "new" {
		t.Fatalf("expected newest first, got %+v", records)
	}
}

func TestDeadLetterLogMissingFileIsEmpty(t *testing.T) {
	records, skipped, err := NewDeadLetterLog(filepath.Join(t.TempDir(), "none.jsonl")).ReadAll()
	if err != nil || skipped != 0 || len(records) != 0 {
		t.Fatalf("expected empty result, got records=%d skipped=%d err=%v", len(records), skipped, err)
	}
}
