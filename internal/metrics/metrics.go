// Package metrics exposes Prometheus instrumentation for the ledger.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts HTTP requests by method, route and status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saldo_http_requests_total",
			Help: "HTTP requests processed, by method, route and status code.",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration observes HTTP request latency by route.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saldo_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// ClearingsTotal counts clearing submissions by outcome: committed,
	// rejected or transport_failure.
	ClearingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saldo_clearings_total",
			Help: "Clearing submissions, by outcome.",
		},
		[]string{"outcome"},
	)

	// ClearedAmountCents accumulates committed clearing volume.
	ClearedAmountCents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "saldo_cleared_amount_cents_total",
			Help: "Total committed clearing volume in cents.",
		},
	)

	// EventsPublished counts clearing events handed to the broker.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saldo_events_published_total",
			Help: "Clearing events published, by result.",
		},
		[]string{"result"},
	)
)

// Clearing outcome label values.
const (
	OutcomeCommitted        = "committed"
	OutcomeRejected         = "rejected"
	OutcomeTransportFailure = "transport_failure"
)

// Event publish result label values.
const (
	ResultPublished = "published"
	ResultFailed    = "failed"
)

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
