// Package metrics provides Prometheus metrics for the task pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siteqa_tasks_submitted_total",
			Help: "Total number of tasks accepted by the submission endpoint",
		},
	)
	TasksCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siteqa_tasks_completed_total",
			Help: "Total number of tasks that finished with an answer",
		},
	)
	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteqa_tasks_failed_total",
			Help: "Total number of failed pipeline runs by stage",
		},
		[]string{"stage"},
	)
	TasksRetried = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siteqa_tasks_retried_total",
			Help: "Total number of queue-level retry redeliveries",
		},
	)
	ExtractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "siteqa_extraction_duration_seconds",
			Help:    "Headless-browser extraction duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		},
	)
	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "siteqa_generation_duration_seconds",
			Help:    "Inference call duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	GenerationTokens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siteqa_generation_tokens_total",
			Help: "Total inference tokens consumed",
		},
	)
	QueueScheduled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "siteqa_queue_scheduled",
			Help: "Entries waiting for delivery",
		},
	)
	QueueProcessing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "siteqa_queue_processing",
			Help: "Entries currently leased to workers",
		},
	)
	WorkersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "siteqa_workers_busy",
			Help: "Pipelines currently running",
		},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteqa_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "siteqa_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func RecordTaskFailed(stage string) {
	TasksFailed.WithLabelValues(stage).Inc()
}

func RecordExtraction(duration time.Duration) {
	ExtractionDuration.Observe(duration.Seconds())
}

func RecordGeneration(duration time.Duration, tokens int) {
	GenerationDuration.Observe(duration.Seconds())
	GenerationTokens.Add(float64(tokens))
}

func UpdateQueueDepth(scheduled, processing int64) {
	QueueScheduled.Set(float64(scheduled))
	QueueProcessing.Set(float64(processing))
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
