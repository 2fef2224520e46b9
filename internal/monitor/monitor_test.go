package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/iago/dataset-hub/internal/domain"
	"github.com/iago/dataset-hub/internal/logstore"
	"github.com/iago/dataset-hub/internal/search"
	"go.uber.org/zap"
)

type recordingEnqueuer struct {
	mu       sync.Mutex
	payloads []domain.Payload
	fail     bool
	failKey  string
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, payload domain.Payload) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return "", errors.New("store down")
	}
	if persona, ok := payload.(domain.PersonaPayload); ok && e.failKey != "" && persona.Target().Key() == e.failKey {
		return "", errors.New("store down")
	}
	e.payloads = append(e.payloads, payload)
	return fmt.Sprintf("job-%d", len(e.payloads)), nil
}

func (e *recordingEnqueuer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.payloads)
}

type fakeSearcher struct {
	results map[string]search.Result
}

func (s fakeSearcher) Search(_ context.Context, keyword string, _ int) (search.Result, error) {
	result, ok := s.results[keyword]
	if !ok {
		return search.Result{}, domain.ErrTransport
	}
	return result, nil
}

func article(doi string) search.Article {
	return search.Article{URL: "https://example.org/" + doi + "/_pdf/", Metadata: domain.ArticleMetadata{Title: doi, DOI: doi}}
}

func openSeen(t *testing.T, path string) *logstore.SeenLog {
	t.Helper()
	seen, err := logstore.OpenSeenLog(path)
	if err != nil {
		t.Fatalf("open seen log: %v", err)
	}
	return seen
}

func TestSearchMonitorDedupsByDOI(t *testing.T) {
	seenPath := filepath.Join(t.TempDir(), "processed_jstage_dois.log")
	seen := openSeen(t, seenPath)
	_ = seen.Add("10.1/old")

	searcher := fakeSearcher{results: map[string]search.Result{
		"脳卒中": {Articles: []search.Article{article("10.1/old"), article("10.1/new")}, Total: 2},
		"膝":   {Articles: []search.Article{article("10.1/new"), {URL: "x"}}, Total: 2},
	}}
	enqueuer := &recordingEnqueuer{}
	monitor := NewSearchMonitor(searcher, enqueuer, seen, []string{"脳卒中", "膝", "broken"}, time.Hour, zap.NewNop())

	if enqueued := monitor.RunOnce(context.Background()); enqueued != 1 {
		t.Fatalf("expected 1 new article, got %d", enqueued)
	}
	payload, ok := enqueuer.payloads[0].(domain.RagSourcePayload)
	if !ok || payload.Metadata.DOI != "10.1/new" || payload.URL == "" {
		t.Fatalf("unexpected payload: %+v", enqueuer.payloads[0])
	}

	reopened := openSeen(t, seenPath)
	if !reopened.Has("10.1/new") {
		t.Fatalf("expected DOI persisted to the seen log")
	}
	if enqueued := NewSearchMonitor(searcher, enqueuer, reopened, []string{"脳卒中"}, time.Hour, nil).RunOnce(context.Background()); enqueued != 0 {
		t.Fatalf("expected nothing new after restart, got %d", enqueued)
	}
}

func TestSearchMonitorDoesNotRecordOnEnqueueFailure(t *testing.T) {
	seen := openSeen(t, filepath.Join(t.TempDir(), "dois.log"))
	searcher := fakeSearcher{results: map[string]search.Result{"k": {Articles: []search.Article{article("10.1/a")}}}}

	NewSearchMonitor(searcher, &recordingEnqueuer{fail: true}, seen, []string{"k"}, time.Hour, nil).RunOnce(context.Background())
	if seen.Has("10.1/a") {
		t.Fatalf("expected DOI left unrecorded so the next pass retries it")
	}
}

func TestFolderMonitorExpandsNewDocuments(t *testing.T) {
	dir := t.TempDir()
	seenPath := filepath.Join(t.TempDir(), "processed_markdown.log")
	for _, name := range []string{"b.md", "a.md", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("# x"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	targets := []domain.GenerationTarget{{AgeGroup: "70代", Gender: "女性"}, {AgeGroup: "70代", Gender: "男性"}}
	enqueuer := &recordingEnqueuer{}
	monitor := NewFolderMonitor(dir, enqueuer, openSeen(t, seenPath), targets, time.Hour, nil)

	if enqueued := monitor.Scan(context.Background()); enqueued != 4 {
		t.Fatalf("expected 2 documents x 2 targets, got %d", enqueued)
	}
	first, ok := enqueuer.payloads[0].(domain.PersonaPayload)
	if !ok || first.SourceMarkdown != "a.md" || first.PaperTheme != "a" || first.AgeGroup != "70代" {
		t.Fatalf("unexpected first payload: %+v", enqueuer.payloads[0])
	}
	if enqueued := monitor.Scan(context.Background()); enqueued != 0 {
		t.Fatalf("expected no duplicates on rescan, got %d", enqueued)
	}
	if !openSeen(t, seenPath).Has("b.md") {
		t.Fatalf("expected processed markdown log to survive restart")
	}
}

func TestFolderMonitorRetriesOnlyMissingTargets(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.md"), []byte("# a"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	seen := openSeen(t, filepath.Join(t.TempDir(), "processed_markdown.log"))
	targets := []domain.GenerationTarget{{AgeGroup: "70代", Gender: "女性"}, {AgeGroup: "80代", Gender: "男性"}}
	enqueuer := &recordingEnqueuer{failKey: targets[1].Key()}
	folder := NewFolderMonitor(dir, enqueuer, seen, targets, time.Hour, nil)

	if got := folder.Scan(context.Background()); got != 1 {
		t.Fatalf("expected 1 job while the second target fails, got %d", got)
	}
	if seen.Has("a.md") {
		t.Fatalf("expected partly expanded document to stay unrecorded")
	}

	enqueuer.mu.Lock()
	enqueuer.failKey = ""
	enqueuer.mu.Unlock()
	if got := folder.Scan(context.Background()); got != 1 {
		t.Fatalf("expected only the missing target on retry, got %d", got)
	}
	if !seen.Has("a.md") {
		t.Fatalf("expected document recorded once every target is enqueued")
	}
	if enqueuer.count() != 2 {
		t.Fatalf("expected one job per target, got %d", enqueuer.count())
	}
	keys := map[string]bool{}
	for _, payload := range enqueuer.payloads {
		keys[payload.(domain.PersonaPayload).Target().Key()] = true
	}
	if len(keys) != 2 {
		t.Fatalf("expected both targets exactly once, got %v", keys)
	}
}

func TestFolderMonitorRunPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	enqueuer := &recordingEnqueuer{}
	monitor := NewFolderMonitor(dir, enqueuer, openSeen(t, filepath.Join(t.TempDir(), "seen.log")), []domain.GenerationTarget{{AgeGroup: "20代", Gender: "女性"}}, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(done)
	}()

	if err := os.WriteFile(filepath.Join(dir, "new.md"), []byte("# new"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.After(3 * time.Second)
	for enqueuer.count() == 0 {
		select {
		case <-deadline:
			t.Fatalf("expected new.md to be picked up")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Run to stop after cancel")
	}
	if enqueuer.count() != 1 {
		t.Fatalf("expected exactly one job, got %d", enqueuer.count())
	}
}
