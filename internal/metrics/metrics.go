// Package metrics declares the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jobwatch"

// Variables declared for metrics.
var (
	PollCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polls_total",
		Help:      "Counter of status polls against the pipeline backend.",
	}, []string{"job_type", "outcome"})

	JobTransitionCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_transitions_total",
		Help:      "Counter of job state machine transitions.",
	}, []string{"job_type", "state"})

	ActiveJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_jobs",
		Help:      "Gauge of jobs currently being polled.",
	}, []string{"job_type"})

	SimulationCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "simulations_total",
		Help:      "Counter of what-if simulation requests.",
	}, []string{"kind", "outcome"})

	ValidationCacheCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validation_cache_total",
		Help:      "Counter of validation cache lookups by source.",
	}, []string{"track", "source"})

	HTTPRequestCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Counter of API requests served.",
	}, []string{"method", "status"})
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Handler serves the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
