package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProofsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool_proof", Name: "proofs_created_total", Help: "Total proofs created in realtime"},
		[]string{"type"},
	)
	ProofsGenerated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool_proof", Name: "proofs_generated_total", Help: "Total proofs created by batch generation"})
	Certifications  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool_proof", Name: "certifications_total", Help: "Total accepted certifications"},
		[]string{"role", "leg"},
	)
	CertificationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool_proof", Name: "certification_rejections_total", Help: "Total rejected certifications"},
		[]string{"reason"},
	)
	DispatchResults = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool_proof", Name: "dispatch_results_total", Help: "Registry dispatch outcomes"},
		[]string{"status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool_proof", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carpool_proof",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
