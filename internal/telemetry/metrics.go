// Package telemetry exposes the engine's Prometheus metrics.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkio_jobs_started_total",
		Help: "Jobs submitted, by kind",
	}, []string{"kind"})

	JobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkio_jobs_finished_total",
		Help: "Jobs reaching a terminal state, by kind and status",
	}, []string{"kind", "status"})

	RowsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bulkio_rows_processed_total",
		Help: "Import rows processed across all jobs",
	})

	MutationsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkio_mutations_executed_total",
		Help: "Bulk mutations executed, by operation type",
	}, []string{"op"})

	ActiveJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bulkio_jobs_active",
		Help: "Jobs currently executing",
	})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bulkio_queue_depth",
		Help: "Submitted jobs awaiting a worker",
	})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsStarted,
			JobsFinished,
			RowsProcessed,
			MutationsExecuted,
			ActiveJobs,
			QueueDepth,
		)
	})
	return promhttp.Handler()
}
