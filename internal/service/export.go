package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	statsSheet       = "Stats"
	deadLettersSheet = "DeadLetters"
)

// ExportXLSX writes a workbook with the ledger stats and every dead letter.
func (d *Distributor) ExportXLSX(ctx context.Context, w io.Writer) error {
	start := time.Now()
	stats, err := d.Stats(ctx)
	if err != nil {
		return err
	}
	records, err := d.DeadLetters()
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", statsSheet); err != nil {
		return fmt.Errorf("xlsx stats sheet: %w", err)
	}
	statRows := [][]any{
		{"status", "count"},
		{"pending", stats.Pending},
		{"processing", stats.Processing},
		{"completed", stats.Completed},
		{"failed", stats.Failed},
		{"total", stats.Total},
	}
	for i, values := range statRows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(statsSheet, cell, &values); err != nil {
			return fmt.Errorf("xlsx stats row: %w", err)
		}
	}

	if _, err := f.NewSheet(deadLettersSheet); err != nil {
		return fmt.Errorf("xlsx dead letter sheet: %w", err)
	}
	headers := []string{"timestamp", "failed_job_id", "pipeline_name", "kind", "worker_id", "message", "job_context_for_resubmit"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(deadLettersSheet, cell, header)
	}
	for i, record := range records {
		row := i + 2
		write := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(deadLettersSheet, cell, value)
		}
		write(1, record.Timestamp.Format(time.RFC3339))
		write(2, record.FailedJobID)
		write(3, string(record.PipelineName))
		write(4, record.ErrorInfo.Kind)
		write(5, record.ErrorInfo.WorkerID)
		write(6, truncate(record.ErrorInfo.Message, 500))
		write(7, string(record.JobContextForResubmit))
	}
	_ = f.SetColWidth(deadLettersSheet, "A", "A", 22)
	_ = f.SetColWidth(deadLettersSheet, "B", "B", 38)
	_ = f.SetColWidth(deadLettersSheet, "C", "E", 22)
	_ = f.SetColWidth(deadLettersSheet, "F", "G", 60)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	d.logger.Info("dead letters exported",
		zap.Int("rows", len(records)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
