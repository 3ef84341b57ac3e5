package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AnnotationMetrics tracks annotation reconciliation and feedback synthesis.
type AnnotationMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	lockWait          prometheus.Histogram
	softDeleted       prometheus.Counter
	live              *prometheus.GaugeVec
	feedbackLogs      *prometheus.CounterVec
	alertsSent        *prometheus.CounterVec
}

// NewAnnotationMetrics creates and registers annotation metrics.
func NewAnnotationMetrics(registry *prometheus.Registry) (*AnnotationMetrics, error) {
	m := &AnnotationMetrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "annotation_operations_total",
				Help: "Total number of annotation operations",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "annotation_operation_duration_seconds",
				Help:    "Duration of annotation operations",
				Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
			},
			[]string{"operation"},
		),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "annotation_sync_lock_wait_seconds",
			Help:    "Time spent waiting for the per-image sync lock",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		}),
		softDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annotation_soft_deleted_total",
			Help: "Total number of annotations soft-deleted by sync",
		}),
		live: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "annotations_live",
				Help: "Non-deleted annotations by lineage type",
			},
			[]string{"annotation_type"},
		),
		feedbackLogs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedback_logs_synthesized_total",
				Help: "Total number of feedback logs written by sync synthesis",
			},
			[]string{"feedback_type"},
		),
		alertsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alert_notifications_total",
				Help: "Total number of alert notifications delivered",
			},
			[]string{"channel", "status"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AnnotationMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.operationsTotal, m.operationDuration, m.lockWait, m.softDeleted, m.live, m.feedbackLogs, m.alertsSent,
	}
}

// Describe implements prometheus.Collector
func (m *AnnotationMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *AnnotationMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordOperation records an annotation operation outcome.
func (m *AnnotationMetrics) RecordOperation(operation string, err error, duration time.Duration) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLockWait records how long a sync waited for its lock.
func (m *AnnotationMetrics) RecordLockWait(d time.Duration) {
	m.lockWait.Observe(d.Seconds())
}

// AddSoftDeleted counts annotations soft-deleted by a sync.
func (m *AnnotationMetrics) AddSoftDeleted(n int) {
	m.softDeleted.Add(float64(n))
}

// SetAnnotationCounts replaces the live annotation gauge. Types missing
// from counts are dropped.
func (m *AnnotationMetrics) SetAnnotationCounts(counts map[string]int64) {
	m.live.Reset()
	for t, n := range counts {
		m.live.WithLabelValues(t).Set(float64(n))
	}
}

// RecordFeedbackLog counts a synthesized feedback log.
func (m *AnnotationMetrics) RecordFeedbackLog(feedbackType string) {
	m.feedbackLogs.WithLabelValues(feedbackType).Inc()
}

// RecordAlertNotification counts an alert delivery attempt.
func (m *AnnotationMetrics) RecordAlertNotification(channel string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.alertsSent.WithLabelValues(channel, status).Inc()
}
