package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"agenthub.dev/dispatch/internal/http/dto"
	"agenthub.dev/dispatch/internal/http/middleware"
	"agenthub.dev/dispatch/internal/metrics"
	"agenthub.dev/dispatch/internal/model"
)

// WorkerRegistry mirrors store.WorkerRegistry for mockability.
type WorkerRegistry interface {
	SaveHeartbeat(ctx context.Context, hb model.WorkerStatus) error
	ListWorkers(ctx context.Context) ([]model.WorkerStatus, error)
	RecordViolation(ctx context.Context, v model.SecurityViolation) error
}

// QueueInspector exposes per-tenant queue depth for operators.
type QueueInspector interface {
	QueueDepth(ctx context.Context, tenantID string) (int64, error)
}

type WorkerHandler struct {
	registry WorkerRegistry
	queues   QueueInspector
}

func NewWorkerHandler(registry WorkerRegistry, queues QueueInspector) *WorkerHandler {
	return &WorkerHandler{registry: registry, queues: queues}
}

func (h *WorkerHandler) Heartbeat(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hb := model.WorkerStatus{
		WorkerID:     req.WorkerID,
		Status:       req.Status,
		Capabilities: req.Capabilities,
		LastSeen:     time.Now().Unix(),
	}
	if err := h.registry.SaveHeartbeat(ctx, hb); err != nil {
		slog.ErrorContext(ctx, "heartbeat save failed", "worker_id", req.WorkerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record heartbeat"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *WorkerHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	workers, err := h.registry.ListWorkers(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "worker listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list workers"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"workers": workers})
}

// Violation records a worker-side trust boundary report. These are
// security events: logged loudly, persisted, counted.
func (h *WorkerHandler) Violation(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ViolationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v := model.SecurityViolation{
		JobID:         req.JobID,
		WorkerID:      req.WorkerID,
		ViolationType: req.ViolationType,
		Error:         req.Error,
		ReportedAt:    time.Now().Unix(),
	}
	if v.WorkerID == "" {
		v.WorkerID = middleware.WorkerID(c)
	}

	slog.ErrorContext(ctx, "security violation reported",
		"job_id", v.JobID,
		"worker_id", v.WorkerID,
		"violation_type", v.ViolationType,
		"detail", v.Error)
	metrics.SecurityViolations.WithLabelValues(v.ViolationType).Inc()
	if v.ViolationType == "INVALID_SIGNATURE" {
		metrics.SignatureRejections.Inc()
	}

	if err := h.registry.RecordViolation(ctx, v); err != nil {
		slog.ErrorContext(ctx, "violation persistence failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record violation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// QueueDepth reports how many jobs a tenant has queued.
func (h *WorkerHandler) QueueDepth(c *gin.Context) {
	ctx := c.Request.Context()

	tenantID := c.Param("tenant")
	depth, err := h.queues.QueueDepth(ctx, tenantID)
	if err != nil {
		slog.ErrorContext(ctx, "queue depth lookup failed", "tenant_id", tenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue depth"})
		return
	}

	c.JSON(http.StatusOK, dto.QueueDepthResponse{TenantID: tenantID, Depth: depth})
}
