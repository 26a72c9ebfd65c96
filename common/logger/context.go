package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so handlers and loops never repeat
// job_id/tenant_id on every log call.
type LogFields struct {
	JobID     *string // Job UUID
	TenantID  *string // Tenant isolation boundary
	UserID    *string // Requesting user
	WorkerID  *string // Remote worker identifier
	ProjectID *string // Project owning a workflow execution
	AgentID   *string // Workflow node being executed
	Component string  // Component name (e.g., "dispatch.manager")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.JobID != nil {
		result.JobID = new.JobID
	}
	if new.TenantID != nil {
		result.TenantID = new.TenantID
	}
	if new.UserID != nil {
		result.UserID = new.UserID
	}
	if new.WorkerID != nil {
		result.WorkerID = new.WorkerID
	}
	if new.ProjectID != nil {
		result.ProjectID = new.ProjectID
	}
	if new.AgentID != nil {
		result.AgentID = new.AgentID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{JobID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
