// Package logstore holds the hub's append-only flat-file logs.
package logstore

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SeenLog is a dedup ledger of external identifiers, one per line.
type SeenLog struct {
	mu   sync.Mutex
	path string
	seen map[string]struct{}
}

// OpenSeenLog loads every identifier already recorded at path. A missing file
// is an empty ledger.
func OpenSeenLog(path string) (*SeenLog, error) {
	log := &SeenLog{path: path, seen: make(map[string]struct{})}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return log, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open seen log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			log.seen[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read seen log: %w", err)
	}
	return log, nil
}

func (l *SeenLog) Has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[strings.TrimSpace(id)]
	return ok
}

// Add records id. Recording an id twice is a no-op.
func (l *SeenLog) Add(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[id]; ok {
		return nil
	}
	if err := appendLine(l.path, []byte(id)); err != nil {
		return fmt.Errorf("append seen log: %w", err)
	}
	l.seen[id] = struct{}{}
	return nil
}

func (l *SeenLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
