package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Workflow event types, in the order a healthy run emits them.
const (
	EventWorkflowStarted  = "WORKFLOW_STARTED"
	EventAgentStarted     = "AGENT_STARTED"
	EventJobCreated       = "JOB_CREATED"
	EventAgentCompleted   = "AGENT_COMPLETED"
	EventAgentFailed      = "AGENT_FAILED"
	EventWorkflowFinished = "WORKFLOW_FINISHED"
	EventWorkflowFailed   = "WORKFLOW_FAILED"
)

// Event is one entry on a project's workflow stream.
type Event struct {
	Type    string
	RunID   string
	AgentID string
	JobID   string
	Detail  string
}

// EventPublisher pushes workflow progress somewhere observers can follow.
type EventPublisher interface {
	Publish(ctx context.Context, projectID string, ev Event) error
}

// EventStreamKey is the Redis stream carrying a project's workflow events.
// The SSE handler reads the same key.
func EventStreamKey(projectID string) string {
	return fmt.Sprintf("workflow-events:project-%s", projectID)
}

type redisPublisher struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisPublisher(client *redis.Client, logger *slog.Logger) EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisPublisher{client: client, logger: logger}
}

func (p *redisPublisher) Publish(ctx context.Context, projectID string, ev Event) error {
	fields := map[string]any{
		"type":   ev.Type,
		"run_id": ev.RunID,
	}
	if ev.AgentID != "" {
		fields["agent_id"] = ev.AgentID
	}
	if ev.JobID != "" {
		fields["job_id"] = ev.JobID
	}
	if ev.Detail != "" {
		fields["detail"] = ev.Detail
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: EventStreamKey(projectID),
		MaxLen: 1000,
		Approx: true,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("publish workflow event: %w", err)
	}

	p.logger.InfoContext(ctx, "workflow event published",
		"project_id", projectID, "run_id", ev.RunID, "type", ev.Type, "agent_id", ev.AgentID)
	return nil
}
