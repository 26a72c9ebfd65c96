package dto

import (
	"agenthub.dev/dispatch/internal/model"
)

type CreateJobRequest struct {
	ExecutionLocation string                 `json:"execution_location" binding:"required,oneof=REMOTE_WORKER MANAGED_CLOUD"`
	Provider          string                 `json:"provider" binding:"omitempty,max=64"`
	Model             string                 `json:"model" binding:"omitempty,max=128"`
	TimeoutSec        int                    `json:"timeout_sec" binding:"omitempty,min=1,max=86400"`
	Steps             []string               `json:"steps" binding:"omitempty,max=100"`
	Priority          int                    `json:"priority" binding:"omitempty,min=0,max=10"`
	Metadata          map[string]any         `json:"metadata"`
	FileOperations    []FileOperationRequest `json:"file_operations" binding:"omitempty,dive"`
	RepoRoot          string                 `json:"repo_root" binding:"omitempty,max=4096"`
	AllowedPaths      []string               `json:"allowed_paths" binding:"omitempty,max=100"`
}

type FileOperationRequest struct {
	Action      string `json:"action" binding:"required,oneof=CREATE MODIFY DELETE"`
	Path        string `json:"path" binding:"required,max=4096"`
	Description string `json:"description" binding:"omitempty,max=1024"`
}

func (r CreateJobRequest) ToModel() model.JobCreate {
	ops := make([]model.FileOperation, 0, len(r.FileOperations))
	for _, op := range r.FileOperations {
		ops = append(ops, model.FileOperation{
			Action:      model.FileAction(op.Action),
			Path:        op.Path,
			Description: op.Description,
		})
	}
	return model.JobCreate{
		ExecutionLocation: model.ExecutionLocation(r.ExecutionLocation),
		Provider:          r.Provider,
		Model:             r.Model,
		TimeoutSec:        r.TimeoutSec,
		Steps:             r.Steps,
		Priority:          r.Priority,
		Metadata:          r.Metadata,
		FileOperations:    ops,
		RepoRoot:          r.RepoRoot,
		AllowedPaths:      r.AllowedPaths,
	}
}

type CreateJobResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

func ToCreateJobResponse(job *model.Job) CreateJobResponse {
	return CreateJobResponse{
		JobID:     job.JobID,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
	}
}

type UploadResultRequest struct {
	Status          string         `json:"status" binding:"required,oneof=COMPLETED FAILED"`
	Output          map[string]any `json:"output"`
	Error           string         `json:"error" binding:"omitempty,max=8192"`
	ErrorType       string         `json:"error_type" binding:"omitempty,max=64"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	Metrics         map[string]any `json:"metrics"`
}

func (r UploadResultRequest) ToModel() *model.JobResult {
	return &model.JobResult{
		Status:          model.JobStatus(r.Status),
		Output:          r.Output,
		Error:           r.Error,
		ErrorType:       r.ErrorType,
		ExecutionTimeMS: r.ExecutionTimeMS,
		Metrics:         r.Metrics,
	}
}

type HeartbeatRequest struct {
	WorkerID     string             `json:"worker_id" binding:"required,max=128"`
	Status       string             `json:"status" binding:"required,oneof=IDLE BUSY"`
	Capabilities []model.Capability `json:"capabilities"`
}

type ViolationRequest struct {
	JobID         string `json:"job_id" binding:"required,max=128"`
	WorkerID      string `json:"worker_id" binding:"omitempty,max=128"`
	ViolationType string `json:"violation_type" binding:"required,max=64"`
	Error         string `json:"error" binding:"omitempty,max=8192"`
}

type QueueDepthResponse struct {
	TenantID string `json:"tenant_id"`
	Depth    int64  `json:"depth"`
}
