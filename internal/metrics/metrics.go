// Package metrics is the additive Prometheus surface (GET /v1/metrics):
// counters for the outbox dispatcher and task processor, the operational
// constants spec.md §9 says belong in config rather than package globals
// are exactly the kind of thing worth counting alongside.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every counter the dispatcher and processor increment,
// plus the private prometheus registry they're bound to. Constructed once
// per process and threaded down through constructors like every other
// collaborator, never reached for as a package-level global.
type Registry struct {
	reg *prometheus.Registry

	EventsPublished prometheus.Counter
	EventsRecovered prometheus.Counter
	TasksCompleted  prometheus.Counter
	TasksFailed     prometheus.Counter
	RowsProcessed   prometheus.Counter
	RowsErrored     prometheus.Counter
}

// New registers every counter against a fresh registry, so tests and
// multiple process instances never collide on prometheus's default global
// registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Registry{
		reg: reg,
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox events published to the message bus.",
		}),
		EventsRecovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "outbox_events_recovered_total",
			Help: "Stale PROCESSING events reset back to NEW.",
		}),
		TasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tasks_completed_total",
			Help: "Tasks finalized COMPLETED.",
		}),
		TasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tasks_failed_total",
			Help: "Tasks finalized FAILED.",
		}),
		RowsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "reservation_rows_processed_total",
			Help: "Spreadsheet rows examined across all tasks.",
		}),
		RowsErrored: factory.NewCounter(prometheus.CounterOpts{
			Name: "reservation_rows_errored_total",
			Help: "Spreadsheet rows rejected by validation.",
		}),
	}
}

// Handler returns the promhttp handler for GET /v1/metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
