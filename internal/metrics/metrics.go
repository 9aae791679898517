// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	PostsImported   *prometheus.CounterVec
	JobsScheduled   *prometheus.CounterVec
	Compensations   prometheus.Counter
	FailuresLogged  *prometheus.CounterVec
	ResyncsDue      prometheus.Counter
	UpstreamErrors  prometheus.Counter
	ImportDurations prometheus.Histogram
}

// New registers the service collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PostsImported: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skystack",
			Name:      "posts_imported_total",
			Help:      "Posts imported, by import mode (create, resync, backfill).",
		}, []string{"mode"}),
		JobsScheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skystack",
			Name:      "jobs_scheduled_total",
			Help:      "Delayed jobs submitted to the task queue, by submission status.",
		}, []string{"operation", "status"}),
		Compensations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "skystack",
			Name:      "compensations_total",
			Help:      "Partial-state reversals run after failed newsletter creation.",
		}),
		FailuresLogged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skystack",
			Name:      "failures_logged_total",
			Help:      "Failure-log entries written, by operation.",
		}, []string{"operation"}),
		ResyncsDue: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "skystack",
			Name:      "resyncs_due_total",
			Help:      "Newsletters selected by the due-for-resync scan.",
		}),
		UpstreamErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "skystack",
			Name:      "upstream_errors_total",
			Help:      "Content-source fetches that failed.",
		}),
		ImportDurations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "skystack",
			Name:      "import_duration_seconds",
			Help:      "Wall time of one import pass.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

// NewUnregistered returns collectors bound to a private registry, for tests
// and for components that run without a metrics endpoint.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
