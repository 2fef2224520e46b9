package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iago/dataset-hub/internal/domain"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	pipeline        TEXT NOT NULL,
	status          TEXT NOT NULL,
	assigned_worker TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS pending_jobs (
	seq    INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL
);
`

// Fixed width so created_at sorts as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteJobStore is the embedded persistent backend. A single connection keeps
// writers from tripping over SQLITE_BUSY.
type SQLiteJobStore struct {
	db *sql.DB
}

func NewSQLiteJobStore(ctx context.Context, path string) (*SQLiteJobStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteJobStore{db: db}, nil
}

func (s *SQLiteJobStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteJobStore) Insert(ctx context.Context, job *domain.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, pipeline, status, assigned_worker, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pipeline = excluded.pipeline,
			status = excluded.status,
			assigned_worker = excluded.assigned_worker,
			body = excluded.body,
			updated_at = excluded.updated_at
	`,
		job.ID,
		string(job.Pipeline()),
		string(job.Status),
		job.AssignedWorker,
		string(body),
		job.CreatedAt.UTC().Format(sqliteTimeLayout),
		job.UpdatedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteJobStore) Update(ctx context.Context, job *domain.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, assigned_worker = ?, body = ?, updated_at = ?
		WHERE id = ?
	`, string(job.Status), job.AssignedWorker, string(body), job.UpdatedAt.UTC().Format(sqliteTimeLayout), job.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteJobStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM jobs WHERE id = ?`, jobID).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return decodeJob([]byte(body))
}

func (s *SQLiteJobStore) List(ctx context.Context) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM jobs ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*domain.Job, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job, err := decodeJob([]byte(body))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func (s *SQLiteJobStore) PushPending(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO pending_jobs (job_id) VALUES (?)`, jobID); err != nil {
		return fmt.Errorf("push pending: %w", err)
	}
	return nil
}

func (s *SQLiteJobStore) PopPending(ctx context.Context) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin pop: %w", err)
	}
	defer tx.Rollback()

	var (
		seq   int64
		jobID string
	)
	err = tx.QueryRowContext(ctx, `SELECT seq, job_id FROM pending_jobs ORDER BY seq LIMIT 1`).Scan(&seq, &jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrQueueEmpty
		}
		return "", fmt.Errorf("select pending head: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_jobs WHERE seq = ?`, seq); err != nil {
		return "", fmt.Errorf("delete pending head: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit pop: %w", err)
	}
	return jobID, nil
}

func (s *SQLiteJobStore) RemovePending(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_jobs WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("remove pending: %w", err)
	}
	return nil
}

func (s *SQLiteJobStore) PendingIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_id FROM pending_jobs ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func decodeJob(body []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}
