package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ProjectCacheLookups counts project lookups by cache layer (request, fallback) and result (hit, miss).
	ProjectCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "project_cache_lookups_total",
			Help: "Project cache lookups by layer and result",
		},
		[]string{"layer", "result"},
	)

	TrialDemotions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trial_demotions_total",
			Help: "Trial projects demoted to the basic plan",
		},
	)

	LicenseChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_checks_total",
			Help: "Calls to the license authority by utilization type and outcome",
		},
		[]string{"type", "outcome"},
	)

	LicenseGateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_gate_decisions_total",
			Help: "License gate decisions by route and decision",
		},
		[]string{"route", "decision"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		ProjectCacheLookups,
		TrialDemotions,
		LicenseChecks,
		LicenseGateDecisions,
	)
}
