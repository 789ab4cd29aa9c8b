package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "titlescout"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served",
		},
	)
)

// Billing event metrics
var (
	BillingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_events_total",
			Help:      "Total number of billing webhook events by disposition",
		},
		[]string{"type", "outcome"},
	)

	WebhookSignatureFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_signature_failures_total",
			Help:      "Total number of webhook deliveries rejected for bad signatures",
		},
	)
)

// Entitlement metrics
var (
	QuotaDenials = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_denials_total",
			Help:      "Total number of queries denied by the daily quota",
		},
	)

	SeatDenials = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seat_denials_total",
			Help:      "Total number of invitation acceptances denied by the seat ceiling",
		},
	)

	ResourceLimitDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_limit_denials_total",
			Help:      "Total number of resource creations denied by entitlement limits",
		},
		[]string{"resource"},
	)

	InvitationsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invitations_accepted_total",
			Help:      "Total number of invitations accepted",
		},
	)
)

// Background job metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Background jobs reaching a terminal state, by type and status",
		},
		[]string{"type", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Background job run time distribution",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"type"},
	)

	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Current number of jobs being executed",
		},
	)

	JobRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_retries_total",
			Help:      "Failed job attempts that were rescheduled",
		},
		[]string{"type"},
	)

	HistoryRowsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_rows_reclaimed_total",
			Help:      "Total number of expired search history rows deleted by the cleanup job",
		},
	)
)
