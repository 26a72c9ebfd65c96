package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agenthub.dev/dispatch/common/logger"
	"agenthub.dev/dispatch/internal/model"
	"agenthub.dev/dispatch/internal/pathguard"
)

// Error types carried in failed results so the control plane can tell
// security events from ordinary execution failures.
const (
	errTypeSecurity     = "SECURITY_VIOLATION"
	errTypePrecondition = "PRECONDITION_FAILED"
	errTypeTimeout      = "EXECUTION_TIMEOUT"
	errTypeExecution    = "EXECUTION_ERROR"
)

type securityError struct {
	err error
}

func (e *securityError) Error() string {
	return e.err.Error()
}

func (e *securityError) Unwrap() error {
	return e.err
}

// preconditionError is a fast failure before any work starts: the repo
// does not satisfy what the agent role needs. Hint tells the operator how
// to fix the workspace.
type preconditionError struct {
	Reason string
	Hint   string
}

func (e *preconditionError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Reason, e.Hint)
}

type ExecConfig struct {
	TaskFile          string
	CompletionMarker  string
	MarkerPoll        time.Duration
	ForbiddenPatterns []string
}

// Executor runs verified jobs: it validates the filesystem scope, writes
// the work order, waits for the completion marker, and uploads the
// collected result. Jobs reach it only after signature verification.
type Executor struct {
	client   ControlPlane
	runner   CommandRunner
	workerID string
	cfg      ExecConfig
}

func NewExecutor(client ControlPlane, runner CommandRunner, workerID string, cfg ExecConfig) *Executor {
	if cfg.TaskFile == "" {
		cfg.TaskFile = "TASK.md"
	}
	if cfg.CompletionMarker == "" {
		cfg.CompletionMarker = ".task_completed"
	}
	if cfg.MarkerPoll <= 0 {
		cfg.MarkerPoll = time.Second
	}
	if cfg.ForbiddenPatterns == nil {
		cfg.ForbiddenPatterns = pathguard.DefaultForbiddenPatterns
	}
	return &Executor{client: client, runner: runner, workerID: workerID, cfg: cfg}
}

// Execute runs job end to end and uploads a terminal result. The error
// return is reserved for result uploads that could not be delivered.
func (e *Executor) Execute(ctx context.Context, job model.Job) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     logger.Ptr(job.JobID),
		WorkerID:  logger.Ptr(e.workerID),
		Component: "dispatch.worker",
	})
	slog.InfoContext(ctx, "starting job execution", "repo_root", job.RepoRoot)

	start := time.Now()
	output, metrics, err := e.run(ctx, job)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		result := model.JobResult{
			Status:          model.JobStatusFailed,
			Error:           err.Error(),
			ErrorType:       classifyError(err),
			ExecutionTimeMS: elapsed,
		}
		if result.ErrorType == errTypeSecurity {
			slog.ErrorContext(ctx, "security violation during execution", "error", err)
			e.reportViolation(ctx, job.JobID, err)
		} else {
			slog.ErrorContext(ctx, "job execution failed", "error", err, "error_type", result.ErrorType)
		}
		return e.client.UploadResult(ctx, job.JobID, result)
	}

	slog.InfoContext(ctx, "job execution completed", "execution_time_ms", elapsed)
	return e.client.UploadResult(ctx, job.JobID, model.JobResult{
		Status:          model.JobStatusCompleted,
		Output:          output,
		ExecutionTimeMS: elapsed,
		Metrics:         metrics,
	})
}

func (e *Executor) run(ctx context.Context, job model.Job) (map[string]any, map[string]any, error) {
	if err := e.validateScope(job); err != nil {
		return nil, nil, err
	}
	if err := e.checkRolePrecondition(job); err != nil {
		return nil, nil, err
	}

	taskPath := filepath.Join(job.RepoRoot, e.cfg.TaskFile)
	if err := os.WriteFile(taskPath, []byte(renderTaskFile(job, e.cfg.CompletionMarker)), 0o644); err != nil {
		return nil, nil, fmt.Errorf("writing work order: %w", err)
	}
	defer e.cleanup(ctx, job.RepoRoot)

	if err := e.waitForCompletion(ctx, job); err != nil {
		return nil, nil, err
	}

	output, metrics := e.collectResults(ctx, job)
	return output, metrics, nil
}

// validateScope rejects jobs whose repo root or declared file operations
// fall outside the signed filesystem scope.
func (e *Executor) validateScope(job model.Job) error {
	if job.RepoRoot == "" {
		return &securityError{err: errors.New("job missing repo_root")}
	}

	info, err := os.Stat(job.RepoRoot)
	if err != nil {
		return &securityError{err: fmt.Errorf("repo_root does not exist: %s", job.RepoRoot)}
	}
	if !info.IsDir() {
		return &securityError{err: fmt.Errorf("repo_root is not a directory: %s", job.RepoRoot)}
	}

	for _, op := range job.FileOperations {
		if _, err := pathguard.Validate(op.Path, job.RepoRoot, job.AllowedPaths, e.cfg.ForbiddenPatterns); err != nil {
			return &securityError{err: fmt.Errorf("file operation %s %s: %w", op.Action, op.Path, err)}
		}
	}
	return nil
}

// checkRolePrecondition fails fast when the workspace cannot support the
// agent role the job was dispatched for.
func (e *Executor) checkRolePrecondition(job model.Job) error {
	role, _ := job.Metadata["agent_role"].(string)

	switch role {
	case model.RoleReviewer, model.RoleQA:
		if !hasReviewableSources(job.RepoRoot) {
			return &preconditionError{
				Reason: "no reviewable source files in repository",
				Hint:   "run a coding agent first or point the project at a populated repository",
			}
		}
	case model.RoleCoder, model.RoleDeveloper:
		if err := checkWritable(job.RepoRoot); err != nil {
			return &preconditionError{
				Reason: "repository is not writable: " + err.Error(),
				Hint:   "fix permissions on the repo root for the worker user",
			}
		}
	case "GIT", "DEPLOY":
		if _, err := os.Stat(filepath.Join(job.RepoRoot, ".git")); err != nil {
			return &preconditionError{
				Reason: "repository has no .git directory",
				Hint:   "initialize git or correct repo_root before dispatching git jobs",
			}
		}
	}
	return nil
}

// waitForCompletion polls for the completion marker until the job's
// timeout elapses. The agent tool drops the marker when it is done.
func (e *Executor) waitForCompletion(ctx context.Context, job model.Job) error {
	markerPath := filepath.Join(job.RepoRoot, e.cfg.CompletionMarker)
	timeout := time.Duration(job.TimeoutSec) * time.Second

	ticker := time.NewTicker(e.cfg.MarkerPoll)
	defer ticker.Stop()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := os.Stat(markerPath); err == nil {
				return nil
			}
		case <-deadline.C:
			return fmt.Errorf("completion marker %s not created within %s: timeout", e.cfg.CompletionMarker, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// collectResults gathers what changed. Diff collection is best effort;
// a repo without git still produces a result.
func (e *Executor) collectResults(ctx context.Context, job model.Job) (map[string]any, map[string]any) {
	output := map[string]any{
		"execution_log": "task completed by agent tool",
	}
	metrics := map[string]any{}

	diff, err := e.runner.Run(ctx, Command{
		Name: "git",
		Args: []string{"diff", "--unified=3", "HEAD"},
		Dir:  job.RepoRoot,
	})
	if err != nil {
		slog.WarnContext(ctx, "git diff unavailable", "error", err)
		output["diff"] = ""
		return output, metrics
	}
	output["diff"] = string(diff)

	names, err := e.runner.Run(ctx, Command{
		Name: "git",
		Args: []string{"diff", "--name-only", "HEAD"},
		Dir:  job.RepoRoot,
	})
	var modified []string
	if err == nil {
		for _, line := range strings.Split(strings.TrimSpace(string(names)), "\n") {
			if line != "" {
				modified = append(modified, line)
			}
		}
	}
	output["files_modified"] = modified

	metrics["lines_added"] = strings.Count(string(diff), "\n+")
	metrics["lines_removed"] = strings.Count(string(diff), "\n-")
	metrics["files_touched"] = len(modified)
	return output, metrics
}

func (e *Executor) cleanup(ctx context.Context, repoRoot string) {
	for _, name := range []string{e.cfg.TaskFile, e.cfg.CompletionMarker} {
		if err := os.Remove(filepath.Join(repoRoot, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.WarnContext(ctx, "artifact cleanup failed", "file", name, "error", err)
		}
	}
}

func (e *Executor) reportViolation(ctx context.Context, jobID string, cause error) {
	v := model.SecurityViolation{
		JobID:         jobID,
		WorkerID:      e.workerID,
		ViolationType: "PATH_VIOLATION",
		Error:         cause.Error(),
		ReportedAt:    time.Now().Unix(),
	}
	if err := e.client.ReportViolation(ctx, v); err != nil {
		slog.ErrorContext(ctx, "violation report failed", "job_id", jobID, "error", err)
	}
}

func classifyError(err error) string {
	var secErr *securityError
	if errors.As(err, &secErr) {
		return errTypeSecurity
	}
	var preErr *preconditionError
	if errors.As(err, &preErr) {
		return errTypePrecondition
	}
	if strings.Contains(err.Error(), "timeout") {
		return errTypeTimeout
	}
	return errTypeExecution
}

// renderTaskFile builds the work order the agent tool picks up from the
// repo root.
func renderTaskFile(job model.Job, marker string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# CODING TASK\n\n")
	fmt.Fprintf(&b, "**Job ID**: `%s`\n", job.JobID)
	fmt.Fprintf(&b, "**Created**: %d\n", job.CreatedAt)
	fmt.Fprintf(&b, "**Timeout**: %ds\n\n", job.TimeoutSec)

	b.WriteString("## Steps\n\n")
	if len(job.Steps) == 0 {
		b.WriteString("(no steps specified)\n")
	}
	for i, step := range job.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}

	b.WriteString("\n## Files to Modify\n\n")
	if len(job.FileOperations) == 0 {
		b.WriteString("(no specific file operations)\n")
	}
	for _, op := range job.FileOperations {
		fmt.Fprintf(&b, "- **%s** `%s`", op.Action, op.Path)
		if op.Description != "" {
			fmt.Fprintf(&b, ": %s", op.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n## Restrictions\n\n")
	fmt.Fprintf(&b, "- Do NOT modify files outside: `%s`\n", strings.Join(job.AllowedPaths, "`, `"))
	b.WriteString("- Do NOT connect to external services\n")

	fmt.Fprintf(&b, "\n**IMPORTANT**: when complete, create the file `%s`.\n", marker)
	b.WriteString("\nThis task is digitally signed and verified. Do not modify this file.\n")

	return b.String()
}

// hasReviewableSources reports whether the repo contains at least one
// regular file outside hidden directories.
func hasReviewableSources(repoRoot string) bool {
	found := false
	_ = filepath.WalkDir(repoRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != repoRoot && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		found = true
		return filepath.SkipAll
	})
	return found
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".write-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
