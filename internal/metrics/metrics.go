package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_jobs_created_total",
		Help: "Jobs created, by execution location.",
	}, []string{"tenant", "location"})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_jobs_completed_total",
		Help: "Jobs reaching a terminal status.",
	}, []string{"tenant", "status"})

	JobCreationDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_job_creation_denied_total",
		Help: "Job creation failures, by reason (permission, quota, queue_full).",
	}, []string{"reason"})

	QueueFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_queue_fetches_total",
		Help: "Queue fetch attempts, by outcome (job, empty).",
	}, []string{"outcome"})

	SignatureRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_signature_rejections_total",
		Help: "Jobs discarded by workers for failed signature verification.",
	})

	SecurityViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_security_violations_total",
		Help: "Security violation reports received, by type.",
	}, []string{"type"})

	WorkflowSteps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_workflow_steps_total",
		Help: "Workflow graph nodes executed.",
	})

	WorkflowRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_workflow_runs_total",
		Help: "Workflow executions, by outcome.",
	}, []string{"outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_job_duration_seconds",
		Help:    "Wall time between job creation and terminal status.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"location"})
)
