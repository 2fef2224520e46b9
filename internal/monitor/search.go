// Package monitor runs the hub's background producers: a paper-search monitor
// that turns new articles into rag_source jobs and a folder monitor that turns
// new source documents into persona jobs.
package monitor

import (
	"context"
	"time"

	"github.com/iago/dataset-hub/internal/domain"
	"github.com/iago/dataset-hub/internal/logstore"
	"github.com/iago/dataset-hub/internal/search"
	"go.uber.org/zap"
)

type Searcher interface {
	Search(ctx context.Context, keyword string, page int) (search.Result, error)
}

// Enqueuer is the ledger side of a producer.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload domain.Payload) (string, error)
}

// SearchMonitor queries every keyword and enqueues articles whose DOI has not
// been recorded yet. A DOI is recorded only after its job was enqueued.
type SearchMonitor struct {
	searcher Searcher
	enqueuer Enqueuer
	seen     *logstore.SeenLog
	keywords []string
	interval time.Duration
	logger   *zap.Logger
}

func NewSearchMonitor(searcher Searcher, enqueuer Enqueuer, seen *logstore.SeenLog, keywords []string, interval time.Duration, logger *zap.Logger) *SearchMonitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchMonitor{
		searcher: searcher,
		enqueuer: enqueuer,
		seen:     seen,
		keywords: keywords,
		interval: interval,
		logger:   logger,
	}
}

func (m *SearchMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one pass over the keywords and returns how many jobs it enqueued.
func (m *SearchMonitor) RunOnce(ctx context.Context) int {
	enqueued := 0
	for _, keyword := range m.keywords {
		if ctx.Err() != nil {
			return enqueued
		}
		result, err := m.searcher.Search(ctx, keyword, 1)
		if err != nil {
			m.logger.Warn("paper search failed", zap.String("keyword", keyword), zap.Error(err))
			continue
		}

		fresh := 0
		for _, article := range result.Articles {
			doi := article.Metadata.DOI
			if doi == "" || m.seen.Has(doi) {
				continue
			}
			jobID, err := m.enqueuer.Enqueue(ctx, domain.RagSourcePayload{URL: article.URL, Metadata: article.Metadata})
			if err != nil {
				m.logger.Error("article not enqueued", zap.String("doi", doi), zap.Error(err))
				continue
			}
			if err := m.seen.Add(doi); err != nil {
				m.logger.Error("doi not recorded", zap.String("doi", doi), zap.String("job_id", jobID), zap.Error(err))
			}
			fresh++
		}
		m.logger.Info("paper search done", zap.String("keyword", keyword), zap.Int("results", len(result.Articles)), zap.Int("total", result.Total), zap.Int("enqueued", fresh))
		enqueued += fresh
	}
	return enqueued
}
