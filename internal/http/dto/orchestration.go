package dto

import (
	"agenthub.dev/dispatch/internal/model"
	"agenthub.dev/dispatch/internal/orchestrator"
)

type ExecuteWorkflowRequest struct {
	Task string `json:"task" binding:"required,min=1,max=8192"`
}

type WorkflowRunResponse struct {
	RunID         string                    `json:"run_id"`
	ProjectID     string                    `json:"project_id"`
	Status        string                    `json:"status"`
	StepsExecuted int                       `json:"steps_executed"`
	RetryCount    int                       `json:"retry_count"`
	Artifacts     map[string]map[string]any `json:"artifacts"`
	FailedAgent   string                    `json:"failed_agent,omitempty"`
	Error         string                    `json:"error,omitempty"`
}

func ToWorkflowRunResponse(run *orchestrator.RunResult) WorkflowRunResponse {
	return WorkflowRunResponse{
		RunID:         run.RunID,
		ProjectID:     run.ProjectID,
		Status:        string(run.Status),
		StepsExecuted: run.StepsExecuted,
		RetryCount:    run.RetryCount,
		Artifacts:     run.Artifacts,
		FailedAgent:   run.FailedAgent,
		Error:         run.Error,
	}
}

type AgentDefinitionRequest struct {
	AgentID      string   `json:"agent_id" binding:"required,max=128"`
	Role         string   `json:"role" binding:"required,max=64"`
	Provider     string   `json:"provider" binding:"omitempty,max=64"`
	Model        string   `json:"model" binding:"omitempty,max=128"`
	SystemPrompt string   `json:"system_prompt" binding:"omitempty,max=16384"`
	NextAgents   []string `json:"next_agents" binding:"omitempty,max=16"`

	RepoRoot     string   `json:"repo_root" binding:"omitempty,max=4096"`
	AllowedPaths []string `json:"allowed_paths" binding:"omitempty,max=100"`
	RetryLimit   int      `json:"retry_limit" binding:"omitempty,min=1,max=10"`
	TimeoutSec   int      `json:"timeout_sec" binding:"omitempty,min=1,max=86400"`
}

type CreateProjectRequest struct {
	Name         string                   `json:"name" binding:"required,min=1,max=255"`
	RepoPath     string                   `json:"repo_path" binding:"omitempty,max=4096"`
	EntryAgentID string                   `json:"entry_agent_id" binding:"required,max=128"`
	Agents       []AgentDefinitionRequest `json:"agents" binding:"required,min=1,dive"`
}

func (r CreateProjectRequest) ToModel(tenantID string) *model.Project {
	agents := make([]model.AgentDefinition, 0, len(r.Agents))
	for _, a := range r.Agents {
		agents = append(agents, model.AgentDefinition{
			AgentID:      a.AgentID,
			Role:         a.Role,
			Provider:     a.Provider,
			Model:        a.Model,
			SystemPrompt: a.SystemPrompt,
			NextAgents:   a.NextAgents,
			Config: model.AgentConfig{
				RepoRoot:     a.RepoRoot,
				AllowedPaths: a.AllowedPaths,
				RetryLimit:   a.RetryLimit,
				TimeoutSec:   a.TimeoutSec,
			},
		})
	}
	return &model.Project{
		TenantID:     tenantID,
		Name:         r.Name,
		RepoPath:     r.RepoPath,
		EntryAgentID: r.EntryAgentID,
		Agents:       agents,
	}
}

type ProjectResponse struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	RepoPath     string                  `json:"repo_path"`
	EntryAgentID string                  `json:"entry_agent_id"`
	Agents       []model.AgentDefinition `json:"agents"`
}

func ToProjectResponse(p *model.Project) ProjectResponse {
	return ProjectResponse{
		ID:           p.ID,
		Name:         p.Name,
		RepoPath:     p.RepoPath,
		EntryAgentID: p.EntryAgentID,
		Agents:       p.Agents,
	}
}
