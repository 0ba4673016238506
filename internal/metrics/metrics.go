// Package metrics holds the Prometheus collectors shared by the API and workers.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksProcessed counts finished tasks.
	// Labels:
	//   - task: task name, e.g. "extract_data"
	//   - outcome: "success" or "failure"
	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixpursuit_tasks_processed_total",
			Help: "Total number of processed tasks",
		},
		[]string{"task", "outcome"},
	)

	// TaskDuration measures task handler latency.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixpursuit_task_duration_seconds",
			Help:    "Duration of task handlers in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"task"},
	)

	// TasksEnqueued counts tasks handed to the dispatcher.
	TasksEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixpursuit_tasks_enqueued_total",
			Help: "Total number of enqueued tasks",
		},
		[]string{"task", "queue"},
	)

	// ImagesIngested counts images created by the ingestion pipeline.
	// Labels:
	//   - outcome: "created" or "skipped"
	ImagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixpursuit_images_ingested_total",
			Help: "Total number of images handled by the ingestion pipeline",
		},
		[]string{"outcome"},
	)

	// TrainingSteps counts tag predictor optimisation steps.
	TrainingSteps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pixpursuit_training_steps_total",
			Help: "Total number of tag predictor training steps",
		},
	)

	// TagVocabularySize is the current width of the predictor output layer.
	TagVocabularySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixpursuit_tag_vocabulary_size",
			Help: "Number of tags known to the tag predictor, tombstones included",
		},
	)

	// HTTPRequests counts API requests.
	// Labels:
	//   - method: HTTP method
	//   - route: chi route pattern, e.g. "/api/v1/albums/{id}"
	//   - status: response status code
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixpursuit_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration measures API request latency.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixpursuit_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// FaceClusters is the number of clusters found by the last face grouping run.
	FaceClusters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixpursuit_face_clusters",
			Help: "Number of face clusters found by the last grouping run",
		},
	)
)

// RecordRequest records one served API request.
func RecordRequest(method, route string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTask records the outcome and duration of one task.
func RecordTask(task string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	TasksProcessed.WithLabelValues(task, outcome).Inc()
	TaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}
