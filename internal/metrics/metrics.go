// Package metrics holds the Prometheus collectors for the transcription
// pipeline, the model registry and the job queue. HTTP-level metrics live
// in the httpapi package.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"scriberd/internal/events"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriberd",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Total number of finished jobs by terminal status",
		},
		[]string{"status"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scriberd",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of pipeline stages in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	stageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriberd",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Total stage failures by stage and failure kind",
		},
		[]string{"stage", "kind"},
	)

	modelsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scriberd",
			Subsystem: "models",
			Name:      "loaded",
			Help:      "Number of models currently resident",
		},
	)

	modelLoadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scriberd",
			Subsystem: "models",
			Name:      "loads_total",
			Help:      "Total number of model loads",
		},
	)

	modelEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scriberd",
			Subsystem: "models",
			Name:      "evictions_total",
			Help:      "Total number of model evictions",
		},
	)

	deviceFreeMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "scriberd",
			Subsystem: "device",
			Name:      "free_mb",
			Help:      "Estimated free memory per device in MB",
		},
		[]string{"device"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scriberd",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Jobs waiting in the scheduler queue",
		},
	)
)

func init() {
	prometheus.MustRegister(
		jobsTotal,
		stageDuration,
		stageFailures,
		modelsLoaded,
		modelLoadsTotal,
		modelEvictionsTotal,
		deviceFreeMB,
		queueDepth,
	)
}

// ObserveStage records one completed stage run.
func ObserveStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// IncStageFailure counts a stage failure. kind is a coarse classification
// such as "model_load", "unavailable" or "inference".
func IncStageFailure(stage, kind string) {
	if kind == "" {
		kind = "unknown"
	}
	stageFailures.WithLabelValues(stage, kind).Inc()
}

// IncJob counts one job reaching a terminal status.
func IncJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth publishes the current queue depth.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// SetDeviceFree publishes the estimated free memory for one device.
func SetDeviceFree(device string, mb int) {
	deviceFreeMB.WithLabelValues(device).Set(float64(mb))
}

// Publisher forwards model lifecycle events into the collectors. It
// satisfies events.Publisher so the registry needs no metrics import.
type Publisher struct{}

func (Publisher) Publish(e events.Event) {
	switch e.Name {
	case "model_loaded":
		modelLoadsTotal.Inc()
		modelsLoaded.Inc()
	case "model_evicted":
		modelEvictionsTotal.Inc()
		modelsLoaded.Dec()
	}
}
