package model

// Agent roles with special routing in the workflow graph. Role is free-form;
// anything else is treated as a plain sequential node.
const (
	RolePlanner   = "PLANNER"
	RoleCoder     = "CODER"
	RoleDeveloper = "DEVELOPER"
	RoleQA        = "QA"
	RoleReviewer  = "REVIEWER"
)

// AgentConfig carries role-specific overrides for a workflow node.
type AgentConfig struct {
	RepoRoot     string   `json:"repo_root,omitempty"`
	AllowedPaths []string `json:"allowed_paths,omitempty"`
	RetryLimit   int      `json:"retry_limit,omitempty"`
	TimeoutSec   int      `json:"timeout_sec,omitempty"`
}

// AgentDefinition is a named workflow node owned by a Project. The workflow
// graph is derived by connecting AgentID -> NextAgents across a project's
// definitions.
type AgentDefinition struct {
	AgentID      string      `json:"agent_id"`
	Role         string      `json:"role"`
	Provider     string      `json:"provider"`
	Model        string      `json:"model"`
	SystemPrompt string      `json:"system_prompt"`
	NextAgents   []string    `json:"next_agents"`
	Config       AgentConfig `json:"config"`
}

// IsReviewer reports whether this node gets reviewer routing: its job result
// can send the workflow back to a coder node.
func (a AgentDefinition) IsReviewer() bool {
	return a.Role == RoleQA || a.Role == RoleReviewer
}

func (a AgentDefinition) IsCoder() bool {
	return a.Role == RoleCoder || a.Role == RoleDeveloper
}

type Project struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	Name         string            `json:"name"`
	RepoPath     string            `json:"repo_path"`
	EntryAgentID string            `json:"entry_agent_id"`
	Agents       []AgentDefinition `json:"agents"`
}
