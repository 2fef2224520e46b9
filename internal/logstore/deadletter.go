package logstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/iago/dataset-hub/internal/domain"
)

// DeadLetterLog is the JSONL dead-letter queue. Lines are never rewritten.
type DeadLetterLog struct {
	mu   sync.Mutex
	path string
}

func NewDeadLetterLog(path string) *DeadLetterLog {
	return &DeadLetterLog{path: path}
}

func (l *DeadLetterLog) Path() string {
	return l.path
}

func (l *DeadLetterLog) Append(record domain.DeadLetter) error {
	if len(record.JobContextForResubmit) == 0 {
		record.JobContextForResubmit = json.RawMessage("{}")
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := appendLine(l.path, line); err != nil {
		return fmt.Errorf("append dead letter: %w", err)
	}
	return nil
}

// ReadAll returns every parseable record, newest first. Malformed lines are
// skipped and counted.
func (l *DeadLetterLog) ReadAll() ([]domain.DeadLetter, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return []domain.DeadLetter{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open dead letter log: %w", err)
	}
	defer file.Close()

	records := make([]domain.DeadLetter, 0)
	skipped := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record domain.DeadLetter
		if err := json.Unmarshal(line, &record); err != nil {
			skipped++
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read dead letter log: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records, skipped, nil
}
