package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"agenthub.dev/dispatch/internal/model"
)

const (
	heartbeatTTL      = 2 * time.Minute
	workerSetKey      = "workers:known"
	violationListCap  = 500
	violationsListKey = "security:violations"
)

func heartbeatKey(workerID string) string {
	return fmt.Sprintf("worker:%s:heartbeat", workerID)
}

// RedisWorkerRegistry keeps worker liveness under a short TTL so a worker
// that stops heartbeating drops off the live list on its own.
type RedisWorkerRegistry struct {
	client *redis.Client
}

func NewRedisWorkerRegistry(client *redis.Client) *RedisWorkerRegistry {
	return &RedisWorkerRegistry{client: client}
}

func (r *RedisWorkerRegistry) SaveHeartbeat(ctx context.Context, hb model.WorkerStatus) error {
	hb.LastSeen = time.Now().Unix()
	raw, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshaling heartbeat: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, heartbeatKey(hb.WorkerID), raw, heartbeatTTL)
	pipe.SAdd(ctx, workerSetKey, hb.WorkerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving heartbeat: %w", err)
	}
	return nil
}

func (r *RedisWorkerRegistry) ListWorkers(ctx context.Context) ([]model.WorkerStatus, error) {
	ids, err := r.client.SMembers(ctx, workerSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing workers: %w", err)
	}

	var workers []model.WorkerStatus
	for _, id := range ids {
		raw, err := r.client.Get(ctx, heartbeatKey(id)).Result()
		if err != nil {
			// Expired heartbeat: the worker is not live.
			continue
		}
		var hb model.WorkerStatus
		if err := json.Unmarshal([]byte(raw), &hb); err != nil {
			continue
		}
		workers = append(workers, hb)
	}
	return workers, nil
}

func (r *RedisWorkerRegistry) RecordViolation(ctx context.Context, v model.SecurityViolation) error {
	v.ReportedAt = time.Now().Unix()
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling violation: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, violationsListKey, raw)
	pipe.LTrim(ctx, violationsListKey, 0, violationListCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording violation: %w", err)
	}
	return nil
}
