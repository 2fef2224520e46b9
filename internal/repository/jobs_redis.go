package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iago/dataset-hub/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisJobStore keeps job bodies in a hash and pending ids in a list.
type RedisJobStore struct {
	client     *redis.Client
	jobsKey    string
	pendingKey string
}

func NewRedisJobStore(ctx context.Context, cfg RedisConfig) (*RedisJobStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = "dataset_hub"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisJobStore{
		client:     client,
		jobsKey:    cfg.Prefix + ":jobs",
		pendingKey: cfg.Prefix + ":pending",
	}, nil
}

func (s *RedisJobStore) Close() error {
	return s.client.Close()
}

func (s *RedisJobStore) Insert(ctx context.Context, job *domain.Job) error {
	body, err := job.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := s.client.HSet(ctx, s.jobsKey, job.ID, body).Err(); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *RedisJobStore) Update(ctx context.Context, job *domain.Job) error {
	exists, err := s.client.HExists(ctx, s.jobsKey, job.ID).Result()
	if err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return s.Insert(ctx, job)
}

func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	body, err := s.client.HGet(ctx, s.jobsKey, jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return decodeJob(body)
}

func (s *RedisJobStore) List(ctx context.Context) ([]*domain.Job, error) {
	values, err := s.client.HGetAll(ctx, s.jobsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]*domain.Job, 0, len(values))
	for _, body := range values {
		job, err := decodeJob([]byte(body))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	sortByCreation(jobs)
	return jobs, nil
}

func (s *RedisJobStore) PushPending(ctx context.Context, jobID string) error {
	if err := s.client.RPush(ctx, s.pendingKey, jobID).Err(); err != nil {
		return fmt.Errorf("push pending: %w", err)
	}
	return nil
}

func (s *RedisJobStore) PopPending(ctx context.Context) (string, error) {
	jobID, err := s.client.LPop(ctx, s.pendingKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrQueueEmpty
		}
		return "", fmt.Errorf("pop pending: %w", err)
	}
	return jobID, nil
}

func (s *RedisJobStore) RemovePending(ctx context.Context, jobID string) error {
	if err := s.client.LRem(ctx, s.pendingKey, 0, jobID).Err(); err != nil {
		return fmt.Errorf("remove pending: %w", err)
	}
	return nil
}

func (s *RedisJobStore) PendingIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.LRange(ctx, s.pendingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return ids, nil
}

// reset drops both keys. Used by the contract tests.
func (s *RedisJobStore) reset(ctx context.Context) error {
	return s.client.Del(ctx, s.jobsKey, s.pendingKey).Err()
}
