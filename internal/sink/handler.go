// Package sink writes worker results into per-pipeline output directories and
// records failures in the dead-letter log.
package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/iago/dataset-hub/internal/domain"
	"github.com/iago/dataset-hub/internal/logstore"
	"go.uber.org/zap"
)

const appendExtension = ".jsonl"

// DefaultRoutes maps each pipeline to its directory under the output base.
var DefaultRoutes = map[domain.Pipeline]string{
	domain.PipelineRagSource: "pipeline_1_rag_source",
	domain.PipelinePersona:   filepath.Join("pipeline_2_lora_finetune", "personas"),
	domain.PipelineLoraChain: "pipeline_2_lora_finetune",
	domain.PipelineParser:    "pipeline_3_parser_finetune",
}

// perJobPipelines always get one file per job, even with the append extension.
var perJobPipelines = map[domain.Pipeline]bool{
	domain.PipelineLoraChain: true,
}

type Config struct {
	BaseDir string
	Routes  map[domain.Pipeline]string
}

type ResultHandler struct {
	mu         sync.Mutex
	baseDir    string
	dirs       map[domain.Pipeline]string
	deadLetter *logstore.DeadLetterLog
	logger     *zap.Logger
	now        func() time.Time
}

// NewResultHandler creates every routed directory and the logs directory.
func NewResultHandler(cfg Config, logger *zap.Logger) (*ResultHandler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.BaseDir) == "" {
		cfg.BaseDir = "output"
	}
	if cfg.Routes == nil {
		cfg.Routes = DefaultRoutes
	}

	dirs := make(map[domain.Pipeline]string, len(cfg.Routes))
	for pipeline, rel := range cfg.Routes {
		dir := filepath.Join(cfg.BaseDir, rel)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s output dir: %w", pipeline, err)
		}
		dirs[pipeline] = dir
	}
	logsDir := filepath.Join(cfg.BaseDir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}

	return &ResultHandler{
		baseDir:    cfg.BaseDir,
		dirs:       dirs,
		deadLetter: logstore.NewDeadLetterLog(filepath.Join(logsDir, "dead_letter_queue.jsonl")),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (h *ResultHandler) DeadLetters() *logstore.DeadLetterLog {
	return h.deadLetter
}

// Dir returns the output directory of pipeline.
func (h *ResultHandler) Dir(pipeline domain.Pipeline) (string, error) {
	dir, ok := h.dirs[pipeline]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownPipeline, pipeline)
	}
	return dir, nil
}

// SaveResult stores result and returns the file it was written to.
// Extension ".jsonl" appends to "{pipeline}_dataset.jsonl" unless the pipeline
// keeps one file per job; any other extension writes filename, or
// "{job_id}{ext}" when filename is empty.
func (h *ResultHandler) SaveResult(jobID string, pipeline domain.Pipeline, result domain.ResultBody, filename string) (string, error) {
	dir, err := h.Dir(pipeline)
	if err != nil {
		return "", err
	}
	extension := normalizeExtension(result.Extension)

	h.mu.Lock()
	defer h.mu.Unlock()

	var path string
	if extension == appendExtension && !perJobPipelines[pipeline] {
		path = filepath.Join(dir, string(pipeline)+"_dataset"+appendExtension)
		err = appendRecord(path, result.Content)
	} else {
		name := filepath.Base(strings.TrimSpace(filename))
		if name == "" || name == "." || name == string(filepath.Separator) {
			name = jobID + extension
		}
		path = filepath.Join(dir, name)
		err = os.WriteFile(path, []byte(result.Content), 0o644)
	}
	if err != nil {
		h.logger.Error("result write failed",
			zap.String("job_id", jobID),
			zap.String("pipeline", string(pipeline)),
			zap.String("path", path),
			zap.Error(err),
		)
		return "", fmt.Errorf("write %s result: %w", pipeline, err)
	}

	h.logger.Info("result saved",
		zap.String("job_id", jobID),
		zap.String("pipeline", string(pipeline)),
		zap.String("path", path),
	)
	return path, nil
}

// SaveError appends a dead-letter record carrying originalContext verbatim.
// It never fails; a write error is only logged.
func (h *ResultHandler) SaveError(jobID string, pipeline domain.Pipeline, info domain.ErrorInfo, originalContext json.RawMessage) {
	record := domain.DeadLetter{
		Timestamp:             h.now(),
		FailedJobID:           jobID,
		PipelineName:          pipeline,
		ErrorInfo:             info,
		JobContextForResubmit: originalContext,
	}
	if len(originalContext) > 0 && !json.Valid(originalContext) {
		encoded, _ := json.Marshal(string(originalContext))
		record.JobContextForResubmit = encoded
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.deadLetter.Append(record); err != nil {
		h.logger.Error("dead letter write failed",
			zap.String("job_id", jobID),
			zap.String("pipeline", string(pipeline)),
			zap.Error(err),
		)
		return
	}
	h.logger.Warn("dead letter recorded",
		zap.String("job_id", jobID),
		zap.String("pipeline", string(pipeline)),
		zap.String("error", info.Message),
		zap.String("path", h.deadLetter.Path()),
	)
}

func appendRecord(path, content string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	line := strings.TrimRight(content, "\n") + "\n"
	if _, err := file.WriteString(line); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func normalizeExtension(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" {
		return ".txt"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
