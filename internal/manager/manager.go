// Package manager is the control-plane service that owns the job lifecycle:
// permission and quota checks, signing, persistence, queueing, status
// resolution, and result acceptance.
package manager

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"agenthub.dev/dispatch/common/logger"
	"agenthub.dev/dispatch/internal/metrics"
	"agenthub.dev/dispatch/internal/model"
	"agenthub.dev/dispatch/internal/signing"
	"agenthub.dev/dispatch/internal/store"
)

var (
	// ErrPermissionDenied is a caller error; retrying without a role or
	// allow-list change cannot succeed.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrQuotaExceeded covers both the monthly cost ceiling and a full
	// tenant queue; callers may retry later.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// ResultNotifier is told when a job reaches a terminal status. The
// orchestration engine uses it to wake waiters without polling.
type ResultNotifier interface {
	NotifyTerminal(jobID string, status model.JobStatus, result *model.JobResult)
}

type Config struct {
	MonthlyCeilingUSD  float64
	MaxQueuedPerTenant int64
	FetchBlock         time.Duration
	DefaultTimeoutSec  int
}

type Manager struct {
	jobs     store.JobStore
	signer   *signing.Signer
	notifier ResultNotifier
	cfg      Config
}

func New(jobs store.JobStore, signer *signing.Signer, cfg Config) *Manager {
	if cfg.FetchBlock == 0 {
		cfg.FetchBlock = 30 * time.Second
	}
	if cfg.DefaultTimeoutSec == 0 {
		cfg.DefaultTimeoutSec = 600
	}
	return &Manager{jobs: jobs, signer: signer, cfg: cfg}
}

// SetNotifier attaches the terminal-status notifier. Wired after
// construction because the orchestrator and manager reference each other.
func (m *Manager) SetNotifier(n ResultNotifier) {
	m.notifier = n
}

// CreateJob validates, signs, persists, and enqueues a new job. Permission
// and quota checks run before any state mutation, so a denial leaves
// nothing behind.
func (m *Manager) CreateJob(ctx context.Context, user model.User, req model.JobCreate) (*model.Job, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TenantID:  logger.Ptr(user.TenantID),
		UserID:    logger.Ptr(user.ID),
		Component: "dispatch.manager",
	})

	if err := m.checkPermissions(user, req); err != nil {
		metrics.JobCreationDenied.WithLabelValues("permission").Inc()
		slog.WarnContext(ctx, "job creation denied", "reason", err)
		return nil, err
	}

	if req.ExecutionLocation == model.ExecutionManagedCloud {
		if err := m.checkQuota(ctx, user.TenantID); err != nil {
			metrics.JobCreationDenied.WithLabelValues("quota").Inc()
			slog.WarnContext(ctx, "quota exceeded", "reason", err)
			return nil, err
		}
	}

	now := time.Now().Unix()
	job := &model.Job{
		JobID:             uuid.NewString(),
		TenantID:          user.TenantID,
		UserID:            user.ID,
		ExecutionLocation: req.ExecutionLocation,
		Provider:          req.Provider,
		Model:             req.Model,
		CreatedAt:         now,
		Status:            model.JobStatusQueued,
		TimeoutSec:        req.TimeoutSec,
		IdempotencyKey:    idempotencyKey(user.ID, req.Model, now),
		Steps:             req.Steps,
		Priority:          req.Priority,
		Metadata:          req.Metadata,
		FileOperations:    req.FileOperations,
	}
	if job.TimeoutSec <= 0 {
		job.TimeoutSec = m.cfg.DefaultTimeoutSec
	}
	if req.ExecutionLocation == model.ExecutionRemoteWorker {
		job.RepoRoot = req.RepoRoot
		job.AllowedPaths = req.AllowedPaths
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{JobID: logger.Ptr(job.JobID)})

	// Best-effort duplicate detection: the check-then-set below is not
	// atomic against the store, so concurrent submissions in the same
	// second can race past it. A collision is logged, never blocking.
	if dup, err := m.jobs.HasIdempotencyKey(ctx, job.IdempotencyKey); err != nil {
		slog.WarnContext(ctx, "idempotency check failed", "error", err)
	} else if dup {
		slog.WarnContext(ctx, "duplicate job request detected",
			"idempotency_key", job.IdempotencyKey)
	}

	sig, err := m.signer.Sign(*job)
	if err != nil {
		return nil, fmt.Errorf("signing job: %w", err)
	}
	job.Signature = sig

	// Depth check before the push. Like the idempotency check this is
	// read-then-write; the ceiling is a soft bound under concurrency.
	depth, err := m.jobs.QueueDepth(ctx, job.TenantID)
	if err != nil {
		return nil, fmt.Errorf("reading queue depth: %w", err)
	}
	if depth >= m.cfg.MaxQueuedPerTenant {
		metrics.JobCreationDenied.WithLabelValues("queue_full").Inc()
		return nil, fmt.Errorf("%w: queue full (max %d queued jobs per tenant)",
			ErrQuotaExceeded, m.cfg.MaxQueuedPerTenant)
	}

	if err := m.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persisting job: %w", err)
	}
	if err := m.jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}
	if err := m.jobs.StoreIdempotencyKey(ctx, job.IdempotencyKey, job.JobID); err != nil {
		slog.WarnContext(ctx, "storing idempotency key failed", "error", err)
	}

	metrics.JobsCreated.WithLabelValues(job.TenantID, string(job.ExecutionLocation)).Inc()
	slog.InfoContext(ctx, "job created and queued",
		"execution_location", job.ExecutionLocation,
		"queue_depth", depth+1)

	return job, nil
}

// GetJobStatus resolves the current status view. Returns store.ErrNotFound
// when the job is unknown or already expired from the store.
func (m *Manager) GetJobStatus(ctx context.Context, jobID string, user model.User) (*model.JobStatusView, error) {
	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !user.Elevated() && (job.UserID != user.ID || job.TenantID != user.TenantID) {
		return nil, fmt.Errorf("%w: cannot access other users' jobs", ErrPermissionDenied)
	}

	status, err := m.jobs.GetStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}

	view := &model.JobStatusView{
		JobID:             jobID,
		Status:            status,
		CreatedAt:         job.CreatedAt,
		ExecutionLocation: job.ExecutionLocation,
		Model:             job.Model,
	}

	if status.Terminal() {
		result, err := m.jobs.GetResult(ctx, jobID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		view.Result = result
	}
	return view, nil
}

// UpdateJobStatus is the worker-facing status transition. Terminal statuses
// persist the result and wake any orchestration waiter.
func (m *Manager) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, result *model.JobResult) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     logger.Ptr(jobID),
		Component: "dispatch.manager",
	})

	if result != nil {
		if err := m.jobs.SaveResult(ctx, jobID, result); err != nil {
			return err
		}
	}
	if err := m.jobs.SetStatus(ctx, jobID, status); err != nil {
		return err
	}

	if status.Terminal() {
		m.recordCompletion(ctx, jobID, status, result)
		if m.notifier != nil {
			m.notifier.NotifyTerminal(jobID, status, result)
		}
	}

	slog.InfoContext(ctx, "job status updated", "status", status)
	return nil
}

// FetchPending hands one queued job to a worker via the store's atomic
// move-on-fetch. A nil job means the long poll timed out empty.
func (m *Manager) FetchPending(ctx context.Context, tenantID, workerID string) (*model.Job, error) {
	job, err := m.jobs.FetchPending(ctx, tenantID, workerID, m.cfg.FetchBlock)
	if err != nil {
		return nil, err
	}
	if job == nil {
		metrics.QueueFetches.WithLabelValues("empty").Inc()
		return nil, nil
	}

	metrics.QueueFetches.WithLabelValues("job").Inc()
	slog.InfoContext(ctx, "job fetched by worker",
		"job_id", job.JobID,
		"tenant_id", tenantID,
		"worker_id", workerID)
	return job, nil
}

// Acknowledge removes the worker's processing-list copy and flips the job
// to RUNNING. A job fetched but never acknowledged stays visible on the
// processing list; recovery of such orphans is a documented extension
// point, not something this method attempts.
func (m *Manager) Acknowledge(ctx context.Context, tenantID, workerID, jobID string) error {
	removed, err := m.jobs.AckRemove(ctx, tenantID, workerID, jobID)
	if err != nil {
		return err
	}
	if !removed {
		slog.WarnContext(ctx, "acknowledged job not found on processing list",
			"job_id", jobID,
			"worker_id", workerID)
	}
	return m.jobs.SetStatus(ctx, jobID, model.JobStatusRunning)
}

func (m *Manager) checkPermissions(user model.User, req model.JobCreate) error {
	if req.ExecutionLocation != model.ExecutionRemoteWorker {
		return nil
	}
	if user.Elevated() {
		return nil
	}
	if len(user.AllowedRoots) == 0 {
		return fmt.Errorf("%w: REMOTE_WORKER execution requires an elevated role or an explicit path allow-list",
			ErrPermissionDenied)
	}
	for _, root := range user.AllowedRoots {
		if req.RepoRoot == root || strings.HasPrefix(req.RepoRoot, root) {
			return nil
		}
	}
	return fmt.Errorf("%w: no allow-list entry covers %s", ErrPermissionDenied, req.RepoRoot)
}

func (m *Manager) checkQuota(ctx context.Context, tenantID string) error {
	cost, err := m.jobs.MonthlyUsage(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("reading monthly usage: %w", err)
	}
	if cost >= m.cfg.MonthlyCeilingUSD {
		return fmt.Errorf("%w: monthly ceiling of $%.2f reached (current usage $%.2f)",
			ErrQuotaExceeded, m.cfg.MonthlyCeilingUSD, cost)
	}
	return nil
}

func (m *Manager) recordCompletion(ctx context.Context, jobID string, status model.JobStatus, result *model.JobResult) {
	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil || job == nil {
		return
	}
	metrics.JobsCompleted.WithLabelValues(job.TenantID, string(status)).Inc()
	metrics.JobDuration.WithLabelValues(string(job.ExecutionLocation)).
		Observe(float64(time.Now().Unix() - job.CreatedAt))

	// Managed-cloud jobs bill against the tenant's monthly ceiling; the
	// worker reports the spend in the result metrics.
	if job.ExecutionLocation != model.ExecutionManagedCloud {
		return
	}
	if cost := resultCost(result); cost > 0 {
		if err := m.jobs.AddUsage(ctx, job.TenantID, cost); err != nil {
			slog.WarnContext(ctx, "recording usage failed", "cost_usd", cost, "error", err)
		}
	}
}

func resultCost(result *model.JobResult) float64 {
	if result == nil {
		return 0
	}
	cost, _ := result.Metrics["cost_usd"].(float64)
	return cost
}

func idempotencyKey(userID, modelName string, unixSecond int64) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s_%s_%d", userID, modelName, unixSecond))
	return fmt.Sprintf("sha256:%x", sum)
}
