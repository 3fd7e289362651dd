package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Reconciliation
	ReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciliations_total",
			Help: "Reconcile calls by evidence source and result",
		},
		[]string{"source", "result"}, // approved|rejected|pending|replayed|mismatch|conflict|error
	)
	IntegrityMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_integrity_mismatches_total",
			Help: "Gateway evidence whose amount or currency did not match the recorded charge",
		},
	)

	// Gateway
	GatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_request_duration_seconds",
			Help:    "Latency of payment gateway calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "result"}, // initialize|verify, ok|rejected|unavailable|not_found
	)

	// Sweep
	SweepRepairs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_sweep_repairs_total",
			Help: "Bookings repaired by the reconciliation sweep",
		},
	)
	SweepVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_sweep_verifications_total",
			Help: "Stale pending payments re-verified by the sweep",
		},
		[]string{"result"},
	)
)

// Handler serves /metrics.
var Handler = promhttp.Handler
