package model

type Role string

const (
	RoleElevated Role = "ELEVATED"
	RoleStandard Role = "STANDARD"
)

// User is the resolved identity of a caller. Authentication itself happens
// outside this system; handlers receive a User already attached to the
// request context.
type User struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Role     Role   `json:"role"`

	// AllowedRoots is the per-user allow-list of path prefixes a standard
	// user may target with REMOTE_WORKER jobs. Empty means none.
	AllowedRoots []string `json:"allowed_roots"`
}

func (u User) Elevated() bool {
	return u.Role == RoleElevated
}

// Worker liveness as reported by heartbeats.
type WorkerStatus struct {
	WorkerID     string       `json:"worker_id"`
	Status       string       `json:"status"`
	Capabilities []Capability `json:"capabilities"`
	LastSeen     int64        `json:"last_seen"`
}

type Capability struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// SecurityViolation is a worker-side report of a job that failed the trust
// boundary (bad signature, path escape). These are security events, not
// ordinary job failures.
type SecurityViolation struct {
	JobID         string `json:"job_id"`
	WorkerID      string `json:"worker_id"`
	ViolationType string `json:"violation_type"`
	Error         string `json:"error"`
	ReportedAt    int64  `json:"reported_at"`
}
