package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RoboflowMetrics tracks outbound calls to the Roboflow APIs.
type RoboflowMetrics struct {
	callsTotal      *prometheus.CounterVec
	callDuration    *prometheus.HistogramVec
	annotateRetries prometheus.Counter
	predictions     prometheus.Histogram
	trainingJobs    *prometheus.CounterVec
}

// NewRoboflowMetrics creates and registers Roboflow metrics.
func NewRoboflowMetrics(registry *prometheus.Registry) (*RoboflowMetrics, error) {
	m := &RoboflowMetrics{
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roboflow_calls_total",
				Help: "Total number of Roboflow API calls",
			},
			[]string{"operation", "status"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roboflow_call_duration_seconds",
				Help:    "Duration of Roboflow API calls",
				Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
			},
			[]string{"operation"},
		),
		annotateRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roboflow_annotate_retries_total",
			Help: "Total number of annotate retry attempts",
		}),
		predictions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roboflow_predictions_per_image",
			Help:    "Number of predictions returned per inference call",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
		trainingJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "training_jobs_total",
				Help: "Total number of finished training jobs",
			},
			[]string{"status"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *RoboflowMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.callsTotal, m.callDuration, m.annotateRetries, m.predictions, m.trainingJobs}
}

// Describe implements prometheus.Collector
func (m *RoboflowMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *RoboflowMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordCall records one API call.
func (m *RoboflowMetrics) RecordCall(operation string, err error, duration time.Duration) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.callsTotal.WithLabelValues(operation, status).Inc()
	m.callDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAnnotateRetry counts one annotate retry.
func (m *RoboflowMetrics) RecordAnnotateRetry() {
	m.annotateRetries.Inc()
}

// RecordPredictions records the prediction count of one inference.
func (m *RoboflowMetrics) RecordPredictions(n int) {
	m.predictions.Observe(float64(n))
}

// RecordTrainingJob records a finished training job.
func (m *RoboflowMetrics) RecordTrainingJob(status string) {
	m.trainingJobs.WithLabelValues(status).Inc()
}
