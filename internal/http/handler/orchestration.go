package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"agenthub.dev/dispatch/common/id"
	"agenthub.dev/dispatch/internal/http/dto"
	"agenthub.dev/dispatch/internal/http/middleware"
	"agenthub.dev/dispatch/internal/model"
	"agenthub.dev/dispatch/internal/orchestrator"
	"agenthub.dev/dispatch/internal/store"
)

// WorkflowRunner executes a project workflow end to end.
type WorkflowRunner interface {
	Execute(ctx context.Context, user model.User, projectID, task string) (*orchestrator.RunResult, error)
}

type OrchestrationHandler struct {
	engine   WorkflowRunner
	projects store.ProjectStore
}

func NewOrchestrationHandler(engine WorkflowRunner, projects store.ProjectStore) *OrchestrationHandler {
	return &OrchestrationHandler{engine: engine, projects: projects}
}

// Execute runs the workflow synchronously and returns the full run
// account. Long workflows are expected; clients follow progress on the
// events stream while this request is open.
func (h *OrchestrationHandler) Execute(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	var req dto.ExecuteWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.engine.Execute(ctx, user, c.Param("id"), req.Task)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		var wfErr *orchestrator.WorkflowError
		if errors.As(err, &wfErr) && !wfErr.Retryable {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		slog.ErrorContext(ctx, "workflow execution failed", "project_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "workflow execution failed"})
		return
	}

	c.JSON(http.StatusOK, dto.ToWorkflowRunResponse(run))
}

func (h *OrchestrationHandler) CreateProject(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	var req dto.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project := req.ToModel(user.TenantID)
	project.ID = strconv.FormatInt(id.New(), 10)

	// Reject graphs that could never run before persisting them.
	if _, err := orchestrator.BuildGraph(project, 3); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	if err := h.projects.Create(ctx, project); err != nil {
		slog.ErrorContext(ctx, "project creation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create project"})
		return
	}

	c.JSON(http.StatusCreated, dto.ToProjectResponse(project))
}

func (h *OrchestrationHandler) GetProject(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	project, err := h.projects.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		slog.ErrorContext(ctx, "project lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load project"})
		return
	}
	if project.TenantID != user.TenantID {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		return
	}

	c.JSON(http.StatusOK, dto.ToProjectResponse(project))
}

func (h *OrchestrationHandler) ListProjects(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	projects, err := h.projects.ListByTenant(ctx, user.TenantID)
	if err != nil {
		slog.ErrorContext(ctx, "project listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list projects"})
		return
	}

	out := make([]dto.ProjectResponse, 0, len(projects))
	for i := range projects {
		out = append(out, dto.ToProjectResponse(&projects[i]))
	}
	c.JSON(http.StatusOK, gin.H{"projects": out})
}
