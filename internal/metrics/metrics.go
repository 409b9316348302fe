// Package metrics registers the Prometheus instrumentation for the API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkflowRuns counts workflow executions by terminal status.
	WorkflowRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scholar",
		Subsystem: "workflow",
		Name:      "runs_total",
		Help:      "Workflow executions by terminal status.",
	}, []string{"status"})

	// WorkflowDuration observes end-to-end workflow run latency.
	WorkflowDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scholar",
		Subsystem: "workflow",
		Name:      "run_duration_seconds",
		Help:      "End-to-end workflow run duration.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// WorkflowTokens counts LLM tokens consumed by workflow runs.
	WorkflowTokens = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scholar",
		Subsystem: "workflow",
		Name:      "tokens_total",
		Help:      "LLM tokens consumed by workflow runs.",
	})

	// LLMRequests counts upstream LLM calls by outcome.
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scholar",
		Subsystem: "llm",
		Name:      "requests_total",
		Help:      "Upstream LLM requests by outcome.",
	}, []string{"outcome"})

	// SearchRequests counts web search calls by outcome.
	SearchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scholar",
		Subsystem: "search",
		Name:      "requests_total",
		Help:      "Web search requests by outcome.",
	}, []string{"outcome"})

	// HTTPRequests counts API requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scholar",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by method and status class.",
	}, []string{"method", "status"})
)
