package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "media_jobs_submitted_total", Help: "Jobs accepted for processing"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "media_jobs_failed_total", Help: "Jobs that ended in a job-level fatal error"})
	QueueRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "media_queue_rejections_total", Help: "Submissions rejected because the work queue was full"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "media_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	ItemsCompleted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "media_items_completed_total", Help: "Items that finished successfully"})
	ItemsFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "media_items_failed_total", Help: "Items that failed in the pipeline"})
	QueueDepth       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "media_queue_depth", Help: "Items waiting in the work queue"})
	BusyWorkers      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "media_workers_busy", Help: "Workers currently executing an item"})
	ArtifactBytes    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "media_artifact_bytes", Help: "Bytes held in the in-memory artifact store"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsFailed,
			QueueRejects,
			RateLimitRejects,
			ItemsCompleted,
			ItemsFailed,
			QueueDepth,
			BusyWorkers,
			ArtifactBytes,
		)
	})
	return promhttp.Handler()
}
