package worker

import (
	"context"
	"crypto/ed25519"
	"errors"
	"log/slog"
	"time"

	"agenthub.dev/dispatch/internal/model"
	"agenthub.dev/dispatch/internal/signing"
)

// JobExecutor runs one verified job to completion. Execution failures are
// reported through the result upload, not the error return; an error here
// means the job could not even be attempted.
type JobExecutor interface {
	Execute(ctx context.Context, job model.Job) error
}

// Poller drives the worker's fetch loop. Every job goes through signature
// verification before it is acknowledged or touched in any other way; a
// job that fails verification is reported and dropped.
type Poller struct {
	client       ControlPlane
	executor     JobExecutor
	publicKey    ed25519.PublicKey
	workerID     string
	pollInterval time.Duration
	capabilities []model.Capability

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewPoller(client ControlPlane, executor JobExecutor, publicKey ed25519.PublicKey, workerID string, pollInterval time.Duration, capabilities []model.Capability) *Poller {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Poller{
		client:       client,
		executor:     executor,
		publicKey:    publicKey,
		workerID:     workerID,
		pollInterval: pollInterval,
		capabilities: capabilities,
		stopCh:       make(chan struct{}),
		stoppedCh:    make(chan struct{}),
	}
}

// Run polls until ctx is cancelled or Stop is called. The server holds the
// fetch open, so the local interval only paces error backoff and empty
// responses.
func (p *Poller) Run(ctx context.Context) error {
	defer close(p.stoppedCh)

	slog.InfoContext(ctx, "worker poller started", "worker_id", p.workerID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			slog.InfoContext(ctx, "worker poller stopping")
			return nil
		default:
			if err := p.pollOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				slog.ErrorContext(ctx, "poll failed", "error", err)
				p.sleep(p.pollInterval)
			}
		}
	}
}

func (p *Poller) Stop() {
	close(p.stopCh)
	<-p.stoppedCh
}

func (p *Poller) pollOnce(ctx context.Context) error {
	job, err := p.client.FetchPending(ctx)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	slog.InfoContext(ctx, "job received", "job_id", job.JobID, "worker_id", p.workerID)

	// Trust boundary: nothing else happens to a job that fails this.
	if err := signing.Verify(*job, p.publicKey); err != nil {
		slog.ErrorContext(ctx, "job signature verification failed",
			"job_id", job.JobID, "error", err)
		p.reportViolation(ctx, job.JobID, "INVALID_SIGNATURE", err)
		return nil
	}

	if err := p.client.Acknowledge(ctx, job.JobID); err != nil {
		slog.ErrorContext(ctx, "acknowledge failed", "job_id", job.JobID, "error", err)
		return err
	}

	if err := p.executor.Execute(ctx, *job); err != nil {
		slog.ErrorContext(ctx, "job execution could not start",
			"job_id", job.JobID, "error", err)
	}
	return nil
}

func (p *Poller) reportViolation(ctx context.Context, jobID, violationType string, cause error) {
	v := model.SecurityViolation{
		JobID:         jobID,
		WorkerID:      p.workerID,
		ViolationType: violationType,
		Error:         cause.Error(),
		ReportedAt:    time.Now().Unix(),
	}
	if err := p.client.ReportViolation(ctx, v); err != nil {
		slog.ErrorContext(ctx, "violation report failed", "job_id", jobID, "error", err)
	}
}

// RunHeartbeat posts liveness on interval until ctx is cancelled. Runs as
// its own goroutine next to Run.
func (p *Poller) RunHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.beat(ctx)
		}
	}
}

func (p *Poller) beat(ctx context.Context) {
	if err := p.client.Heartbeat(ctx, "IDLE", p.capabilities); err != nil {
		slog.WarnContext(ctx, "heartbeat failed", "error", err)
	}
}

func (p *Poller) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.stopCh:
	}
}
