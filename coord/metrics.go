package coord

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightart_requests_submitted_total",
		Help: "Total number of external requests submitted",
	}, []string{"kind"})
	supersededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightart_requests_superseded_total",
		Help: "Total number of requests cancelled or replaced before completion",
	}, []string{"kind"})
	appliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightart_requests_applied_total",
		Help: "Total number of successful results applied",
	}, []string{"kind"})
	failedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightart_requests_failed_total",
		Help: "Total number of requests that errored or timed out",
	}, []string{"kind"})
	staleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightart_results_stale_total",
		Help: "Total number of results dropped because their request was superseded",
	}, []string{"kind"})
	latencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lightart_request_latency_seconds",
		Help:    "External call latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"kind"})
)
