package worker_test

import (
	"context"
	"sync"

	"agenthub.dev/dispatch/internal/model"
	"agenthub.dev/dispatch/internal/worker"
)

type mockControlPlane struct {
	mu sync.Mutex

	fetchPendingFn func(ctx context.Context) (*model.Job, error)

	acknowledged []string
	results      map[string]model.JobResult
	violations   []model.SecurityViolation
	heartbeats   int
}

func newMockControlPlane() *mockControlPlane {
	return &mockControlPlane{results: make(map[string]model.JobResult)}
}

func (m *mockControlPlane) FetchPending(ctx context.Context) (*model.Job, error) {
	if m.fetchPendingFn != nil {
		return m.fetchPendingFn(ctx)
	}
	return nil, nil
}

func (m *mockControlPlane) Acknowledge(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acknowledged = append(m.acknowledged, jobID)
	return nil
}

func (m *mockControlPlane) UploadResult(_ context.Context, jobID string, result model.JobResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[jobID] = result
	return nil
}

func (m *mockControlPlane) Heartbeat(context.Context, string, []model.Capability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats++
	return nil
}

func (m *mockControlPlane) ReportViolation(_ context.Context, v model.SecurityViolation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append(m.violations, v)
	return nil
}

func (m *mockControlPlane) ackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acknowledged)
}

func (m *mockControlPlane) violationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.violations)
}

func (m *mockControlPlane) lastViolation() model.SecurityViolation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.violations[len(m.violations)-1]
}

func (m *mockControlPlane) resultFor(jobID string) (model.JobResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[jobID]
	return r, ok
}

type mockExecutor struct {
	mu       sync.Mutex
	executed []model.Job
}

func (m *mockExecutor) Execute(_ context.Context, job model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed = append(m.executed, job)
	return nil
}

func (m *mockExecutor) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executed)
}

// mockRunner scripts command output keyed by the first argument after the
// binary name.
type mockRunner struct {
	runFn func(ctx context.Context, cmd worker.Command) ([]byte, error)
	runs  []worker.Command
}

func (m *mockRunner) Run(ctx context.Context, cmd worker.Command) ([]byte, error) {
	m.runs = append(m.runs, cmd)
	if m.runFn != nil {
		return m.runFn(ctx, cmd)
	}
	return nil, nil
}
