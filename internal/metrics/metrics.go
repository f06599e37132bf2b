// Package metrics exposes the library's Prometheus collectors. Registration
// happens at init through promauto; binaries that serve /metrics pick them up
// from the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "immagent_turns_total",
		Help: "Completed agent advancement turns",
	}, []string{"status"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "immagent_turn_duration_seconds",
		Help:    "End-to-end duration of one advancement turn",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "immagent_llm_requests_total",
		Help: "LLM completion requests",
	}, []string{"model", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "immagent_llm_request_duration_seconds",
		Help:    "LLM completion request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"model"})

	ToolExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "immagent_tool_executions_total",
		Help: "Tool executions dispatched through the gateway",
	}, []string{"tool", "status"})

	AssetsSavedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "immagent_assets_saved_total",
		Help: "Assets written by cascade saves",
	}, []string{"kind"})

	GCDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "immagent_gc_deleted_total",
		Help: "Orphaned assets removed by garbage collection",
	}, []string{"kind"})
)
