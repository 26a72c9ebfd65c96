package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"agenthub.dev/dispatch/common/id"
	"agenthub.dev/dispatch/common/logger"
	"agenthub.dev/dispatch/internal/metrics"
	"agenthub.dev/dispatch/internal/model"
	"agenthub.dev/dispatch/internal/store"
)

// WorkflowError distinguishes failures callers may retry (transient
// dispatch or store trouble) from fatal ones (bad graph, exhausted
// reviewers, step ceiling).
type WorkflowError struct {
	Err       error
	Retryable bool
}

func (e *WorkflowError) Error() string {
	return e.Err.Error()
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func NewRetryableError(err error) *WorkflowError {
	return &WorkflowError{Err: err, Retryable: true}
}

func NewFatalError(err error) *WorkflowError {
	return &WorkflowError{Err: err, Retryable: false}
}

// JobDispatcher is the slice of the job manager the engine needs.
type JobDispatcher interface {
	CreateJob(ctx context.Context, user model.User, req model.JobCreate) (*model.Job, error)
}

// ResultWaiter blocks until a dispatched job reaches a terminal status.
type ResultWaiter interface {
	Wait(ctx context.Context, jobID string, timeout time.Duration) (model.JobStatus, *model.JobResult, error)
}

type Config struct {
	StepCeiling int
	RetryLimit  int
}

// RunResult is the final account of one workflow walk.
type RunResult struct {
	RunID         string                    `json:"run_id"`
	ProjectID     string                    `json:"project_id"`
	Status        model.JobStatus           `json:"status"`
	StepsExecuted int                       `json:"steps_executed"`
	RetryCount    int                       `json:"retry_count"`
	Artifacts     map[string]map[string]any `json:"artifacts"`
	FailedAgent   string                    `json:"failed_agent,omitempty"`
	Error         string                    `json:"error,omitempty"`
}

// Engine drives workflow runs. Every node executes as a signed job through
// the dispatcher; the engine itself never touches agent output beyond
// routing and artifact bookkeeping.
type Engine struct {
	projects   store.ProjectStore
	dispatcher JobDispatcher
	waiter     ResultWaiter
	events     EventPublisher
	cfg        Config
}

func NewEngine(projects store.ProjectStore, dispatcher JobDispatcher, waiter ResultWaiter, events EventPublisher, cfg Config) *Engine {
	if cfg.StepCeiling <= 0 {
		cfg.StepCeiling = 50
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	return &Engine{
		projects:   projects,
		dispatcher: dispatcher,
		waiter:     waiter,
		events:     events,
		cfg:        cfg,
	}
}

// Execute walks projectID's graph from its entry agent, carrying task as
// the work order. It returns a RunResult for completed and failed runs
// alike; the error return covers runs that could not produce one.
func (e *Engine) Execute(ctx context.Context, user model.User, projectID, task string) (*RunResult, error) {
	project, err := e.projects.GetByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewFatalError(fmt.Errorf("project %s: %w", projectID, err))
		}
		return nil, NewRetryableError(fmt.Errorf("loading project %s: %w", projectID, err))
	}
	if project.TenantID != user.TenantID {
		return nil, NewFatalError(fmt.Errorf("project %s: %w", projectID, store.ErrNotFound))
	}

	graph, err := BuildGraph(project, e.cfg.RetryLimit)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("building workflow graph: %w", err))
	}

	run := &RunResult{
		RunID:     strconv.FormatInt(id.New(), 10),
		ProjectID: projectID,
		Artifacts: make(map[string]map[string]any),
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TenantID:  logger.Ptr(user.TenantID),
		UserID:    logger.Ptr(user.ID),
		ProjectID: logger.Ptr(projectID),
		Component: "dispatch.orchestrator",
	})
	slog.InfoContext(ctx, "workflow run starting",
		"run_id", run.RunID, "entry_agent", graph.Entry(), "agents", len(project.Agents))

	e.publish(ctx, projectID, Event{Type: EventWorkflowStarted, RunID: run.RunID, Detail: logger.Truncate(task, 200)})

	current := graph.Entry()
	state := RouteState{ReviewPassed: true}

	for current != End {
		if run.StepsExecuted >= e.cfg.StepCeiling {
			run.Status = model.JobStatusFailed
			run.Error = fmt.Sprintf("step ceiling of %d reached", e.cfg.StepCeiling)
			e.publish(ctx, projectID, Event{Type: EventWorkflowFailed, RunID: run.RunID, Detail: run.Error})
			metrics.WorkflowRuns.WithLabelValues("step_ceiling").Inc()
			return run, nil
		}

		node, ok := graph.Node(current)
		if !ok {
			return nil, NewFatalError(fmt.Errorf("routing reached undefined agent %s", current))
		}

		run.StepsExecuted++
		metrics.WorkflowSteps.Inc()
		e.publish(ctx, projectID, Event{Type: EventAgentStarted, RunID: run.RunID, AgentID: node.AgentID})

		status, result, err := e.runNode(ctx, user, project, node, task, run)
		if err != nil {
			run.Status = model.JobStatusFailed
			run.FailedAgent = node.AgentID
			run.Error = err.Error()
			e.publish(ctx, projectID, Event{Type: EventAgentFailed, RunID: run.RunID, AgentID: node.AgentID, Detail: run.Error})
			e.publish(ctx, projectID, Event{Type: EventWorkflowFailed, RunID: run.RunID, Detail: run.Error})
			metrics.WorkflowRuns.WithLabelValues("failed").Inc()
			return run, nil
		}

		if status == model.JobStatusFailed {
			run.Status = model.JobStatusFailed
			run.FailedAgent = node.AgentID
			if result != nil && result.Error != "" {
				run.Error = result.Error
			} else {
				run.Error = fmt.Sprintf("agent %s failed", node.AgentID)
			}
			e.publish(ctx, projectID, Event{Type: EventAgentFailed, RunID: run.RunID, AgentID: node.AgentID, Detail: run.Error})
			e.publish(ctx, projectID, Event{Type: EventWorkflowFailed, RunID: run.RunID, Detail: run.Error})
			metrics.WorkflowRuns.WithLabelValues("failed").Inc()
			return run, nil
		}

		if result != nil {
			run.Artifacts[node.AgentID] = result.Output
		}

		state.ReviewPassed = reviewVerdict(node, result)
		next, nextState := graph.Route(current, state)

		// A failed review that cannot route back to a coder (retries
		// exhausted, or no coder to return to) fails the whole run.
		if !state.ReviewPassed && next == End {
			run.Status = model.JobStatusFailed
			run.FailedAgent = node.AgentID
			run.RetryCount = nextState.RetryCount
			run.Error = fmt.Sprintf("review by %s still failing after %d rework attempts", node.AgentID, nextState.RetryCount)
			e.publish(ctx, projectID, Event{Type: EventAgentFailed, RunID: run.RunID, AgentID: node.AgentID, Detail: run.Error})
			e.publish(ctx, projectID, Event{Type: EventWorkflowFailed, RunID: run.RunID, Detail: run.Error})
			metrics.WorkflowRuns.WithLabelValues("failed").Inc()
			return run, nil
		}

		e.publish(ctx, projectID, Event{Type: EventAgentCompleted, RunID: run.RunID, AgentID: node.AgentID})
		current, state = next, nextState
		run.RetryCount = state.RetryCount
	}

	run.Status = model.JobStatusCompleted
	e.publish(ctx, projectID, Event{Type: EventWorkflowFinished, RunID: run.RunID,
		Detail: fmt.Sprintf("%d steps", run.StepsExecuted)})
	metrics.WorkflowRuns.WithLabelValues("completed").Inc()
	slog.InfoContext(ctx, "workflow run finished",
		"run_id", run.RunID, "steps", run.StepsExecuted, "retries", run.RetryCount)
	return run, nil
}

// runNode dispatches one agent's job and waits for it to finish.
func (e *Engine) runNode(ctx context.Context, user model.User, project *model.Project, node model.AgentDefinition, task string, run *RunResult) (model.JobStatus, *model.JobResult, error) {
	req := model.JobCreate{
		Provider: node.Provider,
		Model:    node.Model,
		Steps:    buildSteps(node, task, run.Artifacts),
		Metadata: map[string]any{
			"run_id":     run.RunID,
			"project_id": project.ID,
			"agent_id":   node.AgentID,
			"agent_role": node.Role,
		},
		TimeoutSec: node.Config.TimeoutSec,
	}

	repoRoot := node.Config.RepoRoot
	if repoRoot == "" {
		repoRoot = project.RepoPath
	}
	if repoRoot != "" {
		req.ExecutionLocation = model.ExecutionRemoteWorker
		req.RepoRoot = repoRoot
		req.AllowedPaths = node.Config.AllowedPaths
		if len(req.AllowedPaths) == 0 {
			// Whole-repo access unless the agent definition narrows it.
			req.AllowedPaths = []string{repoRoot}
		}
	} else {
		req.ExecutionLocation = model.ExecutionManagedCloud
	}

	job, err := e.dispatcher.CreateJob(ctx, user, req)
	if err != nil {
		return "", nil, fmt.Errorf("dispatching agent %s: %w", node.AgentID, err)
	}
	e.publish(ctx, project.ID, Event{Type: EventJobCreated, RunID: run.RunID, AgentID: node.AgentID, JobID: job.JobID})

	// The wait outlives the job's own timeout slightly so worker-side
	// timeout results can still arrive as FAILED instead of a wait error.
	waitFor := time.Duration(job.TimeoutSec)*time.Second + 30*time.Second
	status, result, err := e.waiter.Wait(ctx, job.JobID, waitFor)
	if err != nil {
		return "", nil, fmt.Errorf("waiting for agent %s (job %s): %w", node.AgentID, job.JobID, err)
	}
	return status, result, nil
}

func (e *Engine) publish(ctx context.Context, projectID string, ev Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, projectID, ev); err != nil {
		slog.WarnContext(ctx, "workflow event publish failed", "type", ev.Type, "error", err)
	}
}

// reviewVerdict reads the reviewer's pass/fail signal from its output.
// A missing key means passed, so plain agents never trigger re-routing.
func reviewVerdict(node model.AgentDefinition, result *model.JobResult) bool {
	if !node.IsReviewer() || result == nil || result.Output == nil {
		return true
	}
	passed, ok := result.Output["review_passed"].(bool)
	if !ok {
		return true
	}
	return passed
}

// buildSteps turns the agent definition plus accumulated artifacts into
// the work order the job carries.
func buildSteps(node model.AgentDefinition, task string, artifacts map[string]map[string]any) []string {
	steps := make([]string, 0, 3+len(artifacts))
	if node.SystemPrompt != "" {
		steps = append(steps, node.SystemPrompt)
	}
	steps = append(steps, fmt.Sprintf("Task: %s", task))
	for agentID, output := range artifacts {
		if summary, ok := output["summary"].(string); ok && summary != "" {
			steps = append(steps, fmt.Sprintf("Context from %s: %s", agentID, logger.Truncate(summary, 500)))
		}
	}
	if issues := priorReviewIssues(artifacts); len(issues) > 0 {
		steps = append(steps, fmt.Sprintf("Address review findings: %s", strings.Join(issues, "; ")))
	}
	return steps
}

func priorReviewIssues(artifacts map[string]map[string]any) []string {
	var issues []string
	for _, output := range artifacts {
		raw, ok := output["ux_issues"].([]any)
		if !ok {
			continue
		}
		for _, item := range raw {
			if s, ok := item.(string); ok {
				issues = append(issues, s)
			}
		}
	}
	return issues
}
