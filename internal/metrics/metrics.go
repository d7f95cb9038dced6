// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nudgebot_notifications_total",
		Help: "Notification jobs by kind and outcome.",
	}, []string{"kind", "outcome"})

	GenerationFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nudgebot_generation_fallbacks_total",
		Help: "Generations replaced by a template message.",
	}, []string{"reason"})

	ToolDispatch = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nudgebot_tool_dispatch_total",
		Help: "Tool executions by tool name.",
	}, []string{"tool"})

	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nudgebot_publish_failures_total",
		Help: "Realtime publish errors by event type.",
	}, []string{"event"})

	JobsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nudgebot_jobs_retried_total",
		Help: "Notification jobs re-enqueued after a retryable failure.",
	})
)
