package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"agenthub.dev/dispatch/internal/http/dto"
	"agenthub.dev/dispatch/internal/http/middleware"
	"agenthub.dev/dispatch/internal/manager"
	"agenthub.dev/dispatch/internal/model"
	"agenthub.dev/dispatch/internal/store"
)

// JobService is the slice of the job manager the HTTP layer uses.
type JobService interface {
	CreateJob(ctx context.Context, user model.User, req model.JobCreate) (*model.Job, error)
	GetJobStatus(ctx context.Context, jobID string, user model.User) (*model.JobStatusView, error)
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, result *model.JobResult) error
	FetchPending(ctx context.Context, tenantID, workerID string) (*model.Job, error)
	Acknowledge(ctx context.Context, tenantID, workerID, jobID string) error
}

type JobHandler struct {
	jobs JobService
}

func NewJobHandler(jobs JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

func (h *JobHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid job request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.jobs.CreateJob(ctx, user, req.ToModel())
	if err != nil {
		switch {
		case errors.Is(err, manager.ErrPermissionDenied):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, manager.ErrQuotaExceeded):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		default:
			slog.ErrorContext(ctx, "job creation failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.ToCreateJobResponse(job))
}

func (h *JobHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	view, err := h.jobs.GetJobStatus(ctx, c.Param("id"), user)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		case errors.Is(err, manager.ErrPermissionDenied):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			slog.ErrorContext(ctx, "status lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve job status"})
		}
		return
	}

	c.JSON(http.StatusOK, view)
}

// Pending is the worker long poll. The request holds until a job arrives
// or the fetch block elapses; an empty queue answers 204.
func (h *JobHandler) Pending(c *gin.Context) {
	ctx := c.Request.Context()

	tenantID := c.DefaultQuery("tenant", "default")
	workerID := middleware.WorkerID(c)

	job, err := h.jobs.FetchPending(ctx, tenantID, workerID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.Status(http.StatusNoContent)
			return
		}
		slog.ErrorContext(ctx, "pending fetch failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch pending job"})
		return
	}
	if job == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) Acknowledge(c *gin.Context) {
	ctx := c.Request.Context()

	tenantID := c.DefaultQuery("tenant", "default")
	if err := h.jobs.Acknowledge(ctx, tenantID, middleware.WorkerID(c), c.Param("id")); err != nil {
		slog.ErrorContext(ctx, "acknowledge failed", "job_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to acknowledge job"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

func (h *JobHandler) Result(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.UploadResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid result payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID := c.Param("id")
	if err := h.jobs.UpdateJobStatus(ctx, jobID, model.JobStatus(req.Status), req.ToModel()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		slog.ErrorContext(ctx, "result upload failed", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store result"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "stored"})
}
