package observability

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genjobs_submitted_total",
		Help: "The total number of submitted generation jobs",
	}, []string{"type"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genjobs_processed_total",
		Help: "The total number of processed generation jobs",
	}, []string{"type", "status"}) // status: completed, failed, retried, cancelled, duplicate

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "genjobs_duration_seconds",
		Help:    "Duration of generation job processing.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"type"})

	CreditsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_consumed_total",
		Help: "Credits debited for job reservations",
	})

	CreditsRefunded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_refunded_total",
		Help: "Credits returned by compensating refunds",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_events_dropped_total",
		Help: "Job events published to users with no open connection",
	})
)

// Handler returns the Prometheus exposition handler for mounting on an
// existing router.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer runs a standalone HTTP server exposing /metrics,
// used by the worker service which has no API router.
func StartMetricsServer(addr string, logger *slog.Logger) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
}
