package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agenthub.dev/dispatch/internal/model"
)

type terminalEvent struct {
	status model.JobStatus
	result *model.JobResult
}

// StatusReader is the read-only slice of the job store the poll fallback
// needs. Satisfied by store.JobStore.
type StatusReader interface {
	GetStatus(ctx context.Context, jobID string) (model.JobStatus, error)
	GetResult(ctx context.Context, jobID string) (*model.JobResult, error)
}

// Waiter blocks workflow walks until a dispatched job reaches a terminal
// status. The result-submission path fulfills waiters directly through
// NotifyTerminal; a poll ticker against the store covers results that
// land via another server process.
type Waiter struct {
	jobs         StatusReader
	pollInterval time.Duration

	mu      sync.Mutex
	pending map[string]chan terminalEvent
}

func NewWaiter(jobs StatusReader, pollInterval time.Duration) *Waiter {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Waiter{
		jobs:         jobs,
		pollInterval: pollInterval,
		pending:      make(map[string]chan terminalEvent),
	}
}

// NotifyTerminal wakes the waiter registered for jobID, if any. Safe to
// call for jobs nobody is waiting on.
func (w *Waiter) NotifyTerminal(jobID string, status model.JobStatus, result *model.JobResult) {
	w.mu.Lock()
	ch, ok := w.pending[jobID]
	if ok {
		delete(w.pending, jobID)
	}
	w.mu.Unlock()

	if ok {
		// Buffered channel, the send never blocks.
		ch <- terminalEvent{status: status, result: result}
	}
}

// Wait blocks until jobID is terminal, the timeout elapses, or ctx is
// cancelled. The registration happens before the first poll so a result
// arriving in between cannot be missed.
func (w *Waiter) Wait(ctx context.Context, jobID string, timeout time.Duration) (model.JobStatus, *model.JobResult, error) {
	ch := make(chan terminalEvent, 1)

	w.mu.Lock()
	w.pending[jobID] = ch
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.pending, jobID)
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case ev := <-ch:
			return ev.status, ev.result, nil

		case <-ticker.C:
			status, err := w.jobs.GetStatus(ctx, jobID)
			if err != nil {
				continue
			}
			if !status.Terminal() {
				continue
			}
			result, err := w.jobs.GetResult(ctx, jobID)
			if err != nil {
				result = nil
			}
			return status, result, nil

		case <-deadline.C:
			return "", nil, fmt.Errorf("job %s did not finish within %s", jobID, timeout)

		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
}
