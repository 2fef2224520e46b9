package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iago/dataset-hub/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS hub_jobs (
	id              TEXT PRIMARY KEY,
	pipeline        TEXT NOT NULL,
	status          TEXT NOT NULL,
	assigned_worker TEXT NOT NULL DEFAULT '',
	body            JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS hub_pending_jobs (
	seq    BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL
);
`

type PostgresJobStore struct {
	pool *pgxpool.Pool
}

func NewPostgresJobStore(ctx context.Context, databaseURL string) (*PostgresJobStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create pg schema: %w", err)
	}
	return &PostgresJobStore{pool: pool}, nil
}

func (s *PostgresJobStore) Close() {
	s.pool.Close()
}

func (s *PostgresJobStore) Insert(ctx context.Context, job *domain.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO hub_jobs (id, pipeline, status, assigned_worker, body, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			pipeline = EXCLUDED.pipeline,
			status = EXCLUDED.status,
			assigned_worker = EXCLUDED.assigned_worker,
			body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at
	`,
		job.ID,
		string(job.Pipeline()),
		string(job.Status),
		job.AssignedWorker,
		body,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Update(ctx context.Context, job *domain.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	command, err := s.pool.Exec(ctx, `
		UPDATE hub_jobs
		SET status = $2,
			assigned_worker = $3,
			body = $4,
			updated_at = $5
		WHERE id = $1
	`, job.ID, string(job.Status), job.AssignedWorker, body, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM hub_jobs WHERE id = $1`, jobID).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return decodeJob(body)
}

func (s *PostgresJobStore) List(ctx context.Context) ([]*domain.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT body FROM hub_jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*domain.Job, 0)
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job, err := decodeJob(body)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate jobs: %w", rows.Err())
	}
	return jobs, nil
}

func (s *PostgresJobStore) PushPending(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `INSERT INTO hub_pending_jobs (job_id) VALUES ($1)`, jobID); err != nil {
		return fmt.Errorf("push pending: %w", err)
	}
	return nil
}

// PopPending deletes the oldest queue row. SKIP LOCKED lets several hubs share
// one database without handing out the same row twice.
func (s *PostgresJobStore) PopPending(ctx context.Context) (string, error) {
	var jobID string
	err := s.pool.QueryRow(ctx, `
		DELETE FROM hub_pending_jobs
		WHERE seq = (
			SELECT seq FROM hub_pending_jobs
			ORDER BY seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING job_id
	`).Scan(&jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrQueueEmpty
		}
		return "", fmt.Errorf("pop pending: %w", err)
	}
	return jobID, nil
}

func (s *PostgresJobStore) RemovePending(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM hub_pending_jobs WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("remove pending: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) PendingIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT job_id FROM hub_pending_jobs ORDER BY seq`)
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
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate pending: %w", rows.Err())
	}
	return ids, nil
}
