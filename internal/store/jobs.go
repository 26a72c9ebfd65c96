package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"agenthub.dev/dispatch/internal/model"
)

// Key layout. Job cells carry a fixed retention TTL regardless of outcome;
// queue and processing lists never expire on their own.
//
//	job:{id}:spec | status | result | created_at | completed_at
//	queue:{tenant}
//	processing:{tenant}:{worker}
//	idempotency:{key}
//	usage:{tenant}:{yyyymm}  (hash, field total_cost)
func jobKey(jobID, cell string) string {
	return fmt.Sprintf("job:%s:%s", jobID, cell)
}

func queueKey(tenantID string) string {
	return fmt.Sprintf("queue:%s", tenantID)
}

func processingKey(tenantID, workerID string) string {
	return fmt.Sprintf("processing:%s:%s", tenantID, workerID)
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

func usageKey(tenantID string) string {
	return fmt.Sprintf("usage:%s:%s", tenantID, time.Now().UTC().Format("200601"))
}

type RedisJobStoreConfig struct {
	JobRetention   time.Duration
	IdempotencyTTL time.Duration
}

type RedisJobStore struct {
	client *redis.Client
	cfg    RedisJobStoreConfig
}

func NewRedisJobStore(client *redis.Client, cfg RedisJobStoreConfig) *RedisJobStore {
	if cfg.JobRetention == 0 {
		cfg.JobRetention = 7 * 24 * time.Hour
	}
	if cfg.IdempotencyTTL == 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	return &RedisJobStore{client: client, cfg: cfg}
}

func (s *RedisJobStore) SaveJob(ctx context.Context, job *model.Job) error {
	spec, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.JobID, "spec"), spec, s.cfg.JobRetention)
	pipe.Set(ctx, jobKey(job.JobID, "status"), string(job.Status), s.cfg.JobRetention)
	pipe.Set(ctx, jobKey(job.JobID, "created_at"), job.CreatedAt, s.cfg.JobRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving job: %w", err)
	}
	return nil
}

func (s *RedisJobStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	raw, err := s.client.Get(ctx, jobKey(jobID, "spec")).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting job spec: %w", err)
	}

	var job model.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job spec: %w", err)
	}
	return &job, nil
}

func (s *RedisJobStore) SetStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, jobKey(jobID, "status"), string(status), s.cfg.JobRetention)
	if status.Terminal() {
		pipe.Set(ctx, jobKey(jobID, "completed_at"), time.Now().Unix(), s.cfg.JobRetention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("setting job status: %w", err)
	}
	return nil
}

func (s *RedisJobStore) GetStatus(ctx context.Context, jobID string) (model.JobStatus, error) {
	raw, err := s.client.Get(ctx, jobKey(jobID, "status")).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("getting job status: %w", err)
	}
	return model.JobStatus(raw), nil
}

func (s *RedisJobStore) SaveResult(ctx context.Context, jobID string, result *model.JobResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	if err := s.client.Set(ctx, jobKey(jobID, "result"), raw, s.cfg.JobRetention).Err(); err != nil {
		return fmt.Errorf("saving result: %w", err)
	}
	return nil
}

func (s *RedisJobStore) GetResult(ctx context.Context, jobID string) (*model.JobResult, error) {
	raw, err := s.client.Get(ctx, jobKey(jobID, "result")).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting result: %w", err)
	}

	var result model.JobResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("unmarshaling result: %w", err)
	}
	return &result, nil
}

func (s *RedisJobStore) Enqueue(ctx context.Context, job *model.Job) error {
	entry, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling queue entry: %w", err)
	}
	if err := s.client.RPush(ctx, queueKey(job.TenantID), entry).Err(); err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}
	return nil
}

func (s *RedisJobStore) QueueDepth(ctx context.Context, tenantID string) (int64, error) {
	depth, err := s.client.LLen(ctx, queueKey(tenantID)).Result()
	if err != nil {
		return 0, fmt.Errorf("reading queue depth: %w", err)
	}
	return depth, nil
}

// FetchPending is the reliability core: BLMOVE pops the queue head and lands
// it on the processing list in one server-side step, so a crash between the
// two is impossible. The entry stays on the processing list until AckRemove.
func (s *RedisJobStore) FetchPending(ctx context.Context, tenantID, workerID string, block time.Duration) (*model.Job, error) {
	raw, err := s.client.BLMove(ctx, queueKey(tenantID), processingKey(tenantID, workerID), "LEFT", "LEFT", block).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching pending job: %w", err)
	}

	var job model.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("unmarshaling queue entry: %w", err)
	}
	return &job, nil
}

func (s *RedisJobStore) AckRemove(ctx context.Context, tenantID, workerID, jobID string) (bool, error) {
	key := processingKey(tenantID, workerID)

	entries, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("scanning processing list: %w", err)
	}

	for _, entry := range entries {
		var job model.Job
		if err := json.Unmarshal([]byte(entry), &job); err != nil {
			continue
		}
		if job.JobID != jobID {
			continue
		}
		removed, err := s.client.LRem(ctx, key, 1, entry).Result()
		if err != nil {
			return false, fmt.Errorf("removing processing entry: %w", err)
		}
		return removed > 0, nil
	}
	return false, nil
}

func (s *RedisJobStore) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, idempotencyKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("checking idempotency key: %w", err)
	}
	return n > 0, nil
}

func (s *RedisJobStore) StoreIdempotencyKey(ctx context.Context, key, jobID string) error {
	if err := s.client.Set(ctx, idempotencyKey(key), jobID, s.cfg.IdempotencyTTL).Err(); err != nil {
		return fmt.Errorf("storing idempotency key: %w", err)
	}
	return nil
}

func (s *RedisJobStore) MonthlyUsage(ctx context.Context, tenantID string) (float64, error) {
	raw, err := s.client.HGet(ctx, usageKey(tenantID), "total_cost").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading monthly usage: %w", err)
	}

	cost, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing monthly usage %q: %w", raw, err)
	}
	return cost, nil
}

func (s *RedisJobStore) AddUsage(ctx context.Context, tenantID string, amountUSD float64) error {
	if err := s.client.HIncrByFloat(ctx, usageKey(tenantID), "total_cost", amountUSD).Err(); err != nil {
		return fmt.Errorf("incrementing monthly usage: %w", err)
	}
	return nil
}
