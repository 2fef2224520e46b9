package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/iago/dataset-hub/internal/domain"
	"github.com/iago/dataset-hub/internal/logstore"
	"go.uber.org/zap"
)

// FolderMonitor watches the source-document directory. Each new .md file
// yields one persona job per generation target and is then recorded so it is
// never expanded twice.
type FolderMonitor struct {
	dir      string
	enqueuer Enqueuer
	seen     *logstore.SeenLog
	targets  []domain.GenerationTarget
	interval time.Duration
	logger   *zap.Logger

	// expanded holds the targets already enqueued for documents that are not
	// recorded yet, so a retry only enqueues the missing ones.
	expanded map[string]map[string]struct{}
}

func NewFolderMonitor(dir string, enqueuer Enqueuer, seen *logstore.SeenLog, targets []domain.GenerationTarget, interval time.Duration, logger *zap.Logger) *FolderMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FolderMonitor{
		dir:      dir,
		enqueuer: enqueuer,
		seen:     seen,
		targets:  targets,
		interval: interval,
		logger:   logger,
		expanded: make(map[string]map[string]struct{}),
	}
}

// Run rescans on every tick and whenever the watcher reports a change. Without
// a watcher it falls back to the ticker alone.
func (m *FolderMonitor) Run(ctx context.Context) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		m.logger.Error("source dir not created", zap.String("dir", m.dir), zap.Error(err))
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(m.dir)
	}
	if err != nil {
		m.logger.Warn("folder watch unavailable, polling only", zap.String("dir", m.dir), zap.Error(err))
	} else {
		defer watcher.Close()
		events, errs = watcher.Events, watcher.Errors
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Scan(ctx)
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if strings.HasSuffix(event.Name, ".md") && event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				m.Scan(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.logger.Warn("folder watch error", zap.Error(err))
		}
	}
}

// Scan expands every unrecorded document and returns how many jobs it enqueued.
func (m *FolderMonitor) Scan(ctx context.Context) int {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.logger.Warn("source dir not readable", zap.String("dir", m.dir), zap.Error(err))
		return 0
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") && !m.seen.Has(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	enqueued := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return enqueued
		}
		theme := strings.TrimSuffix(name, filepath.Ext(name))
		done := m.expanded[name]
		if done == nil {
			done = make(map[string]struct{}, len(m.targets))
			m.expanded[name] = done
		}
		complete := true
		for _, target := range m.targets {
			if _, ok := done[target.Key()]; ok {
				continue
			}
			_, err := m.enqueuer.Enqueue(ctx, domain.PersonaPayload{
				SourceMarkdown: name,
				PaperTheme:     theme,
				AgeGroup:       target.AgeGroup,
				Gender:         target.Gender,
			})
			if err != nil {
				m.logger.Error("persona job not enqueued", zap.String("source_markdown", name), zap.String("target", target.Key()), zap.Error(err))
				complete = false
				continue
			}
			done[target.Key()] = struct{}{}
			enqueued++
		}
		if !complete {
			continue
		}
		if err := m.seen.Add(name); err != nil {
			m.logger.Error("document not recorded", zap.String("source_markdown", name), zap.Error(err))
			continue
		}
		delete(m.expanded, name)
		m.logger.Info("source document expanded", zap.String("source_markdown", name), zap.Int("jobs", len(m.targets)))
	}
	return enqueued
}
