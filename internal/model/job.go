package model

type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether the status ends the job lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type ExecutionLocation string

const (
	ExecutionRemoteWorker ExecutionLocation = "REMOTE_WORKER"
	ExecutionManagedCloud ExecutionLocation = "MANAGED_CLOUD"
)

type FileAction string

const (
	FileActionCreate FileAction = "CREATE"
	FileActionModify FileAction = "MODIFY"
	FileActionDelete FileAction = "DELETE"
)

// FileOperation declares an intended filesystem write. The worker validates
// every declared path against the job's scope before executing anything.
type FileOperation struct {
	Action      FileAction `json:"action"`
	Path        string     `json:"path"`
	Description string     `json:"description,omitempty"`
}

// Job is the signed, dispatchable unit of work. The signature covers every
// field except Signature itself; any mutation after signing invalidates it.
type Job struct {
	JobID             string            `json:"job_id"`
	TenantID          string            `json:"tenant_id"`
	UserID            string            `json:"user_id"`
	ExecutionLocation ExecutionLocation `json:"execution_location"`
	Provider          string            `json:"provider"`
	Model             string            `json:"model"`
	CreatedAt         int64             `json:"created_at"`
	Status            JobStatus         `json:"status"`
	TimeoutSec        int               `json:"timeout_sec"`
	IdempotencyKey    string            `json:"idempotency_key"`
	Steps             []string          `json:"steps"`
	Priority          int               `json:"priority"`
	Metadata          map[string]any    `json:"metadata"`
	FileOperations    []FileOperation   `json:"file_operations"`
	RetryCount        int               `json:"retry_count"`
	ReassignCount     int               `json:"reassign_count"`

	// Filesystem scope, present only for REMOTE_WORKER jobs.
	RepoRoot     string   `json:"repo_root,omitempty"`
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// Attached once, after construction. Never part of the signed payload.
	Signature string `json:"signature,omitempty"`
}

// JobCreate is the request a caller submits to create a job.
type JobCreate struct {
	ExecutionLocation ExecutionLocation `json:"execution_location"`
	Provider          string            `json:"provider"`
	Model             string            `json:"model"`
	TimeoutSec        int               `json:"timeout_sec"`
	Steps             []string          `json:"steps"`
	Priority          int               `json:"priority"`
	Metadata          map[string]any    `json:"metadata"`
	FileOperations    []FileOperation   `json:"file_operations"`
	RepoRoot          string            `json:"repo_root,omitempty"`
	AllowedPaths      []string          `json:"allowed_paths,omitempty"`
}

// JobResult is the terminal payload a worker uploads.
type JobResult struct {
	Status          JobStatus      `json:"status"`
	Output          map[string]any `json:"output,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorType       string         `json:"error_type,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms,omitempty"`
	Metrics         map[string]any `json:"metrics,omitempty"`
}

// JobStatusView is what status queries return: current status plus the
// result once the job is terminal.
type JobStatusView struct {
	JobID             string            `json:"job_id"`
	Status            JobStatus         `json:"status"`
	CreatedAt         int64             `json:"created_at"`
	ExecutionLocation ExecutionLocation `json:"execution_location"`
	Model             string            `json:"model"`
	Result            *JobResult        `json:"result,omitempty"`
}
