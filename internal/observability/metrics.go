// Package observability provides Prometheus metrics for the gridlens API,
// the Roboflow integration and annotation reconciliation. Sentry error
// telemetry lives in the telemetry package.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridlens/gridlens/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry   *prometheus.Registry
	HTTP       *metrics.HTTPMetrics
	Roboflow   *metrics.RoboflowMetrics
	Annotation *metrics.AnnotationMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// Each call uses its own registry, so tests can create instances freely.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	roboflowMetrics, err := metrics.NewRoboflowMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Roboflow metrics: %w", err)
	}

	annotationMetrics, err := metrics.NewAnnotationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create annotation metrics: %w", err)
	}

	return &Metrics{
		registry:   registry,
		HTTP:       httpMetrics,
		Roboflow:   roboflowMetrics,
		Annotation: annotationMetrics,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
