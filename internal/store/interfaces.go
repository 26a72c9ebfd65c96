package store

import (
	"context"
	"errors"
	"time"

	"agenthub.dev/dispatch/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// JobStore is the control plane's view of job state: the authoritative job
// record keyed by id, the per-tenant FIFO queue, and the accounting cells
// around them. All mutations go through the store's native atomic
// primitives; there are no compound check-then-write sequences here.
type JobStore interface {
	SaveJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	SetStatus(ctx context.Context, jobID string, status model.JobStatus) error
	GetStatus(ctx context.Context, jobID string) (model.JobStatus, error)
	SaveResult(ctx context.Context, jobID string, result *model.JobResult) error
	GetResult(ctx context.Context, jobID string) (*model.JobResult, error)

	// Enqueue pushes a serialized snapshot of the job to the tail of the
	// tenant's queue. The snapshot is distinct from the record SaveJob wrote.
	Enqueue(ctx context.Context, job *model.Job) error
	QueueDepth(ctx context.Context, tenantID string) (int64, error)

	// FetchPending atomically moves the head of the tenant queue onto the
	// worker's processing list, blocking up to block when the queue is
	// empty. Returns nil when nothing arrived in time.
	FetchPending(ctx context.Context, tenantID, workerID string, block time.Duration) (*model.Job, error)

	// AckRemove deletes the worker's serialized copy of the job from its
	// processing list by value scan. Returns false when no entry matched.
	AckRemove(ctx context.Context, tenantID, workerID, jobID string) (bool, error)

	HasIdempotencyKey(ctx context.Context, key string) (bool, error)
	StoreIdempotencyKey(ctx context.Context, key, jobID string) error

	MonthlyUsage(ctx context.Context, tenantID string) (float64, error)
	AddUsage(ctx context.Context, tenantID string, amountUSD float64) error
}

// WorkerRegistry tracks worker liveness and security violation reports.
type WorkerRegistry interface {
	SaveHeartbeat(ctx context.Context, hb model.WorkerStatus) error
	ListWorkers(ctx context.Context) ([]model.WorkerStatus, error)
	RecordViolation(ctx context.Context, v model.SecurityViolation) error
}

// ProjectStore persists projects and their agent definitions.
type ProjectStore interface {
	GetByID(ctx context.Context, id string) (*model.Project, error)
	Create(ctx context.Context, project *model.Project) error
	Update(ctx context.Context, project *model.Project) error
	ListByTenant(ctx context.Context, tenantID string) ([]model.Project, error)
}
