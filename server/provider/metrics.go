package provider

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// initializeMetrics sets up Prometheus metrics
func (m *Manager) initializeMetrics(registry *prometheus.Registry) error {
	m.healthCheckDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "citegate_provider_health_check_duration_seconds",
		Help: "Duration of provider health checks",
	})

	m.healthCheckErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "citegate_provider_health_check_errors_total",
		Help: "Number of health check errors by provider",
	}, []string{"provider"})

	m.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "citegate_provider_request_latency_seconds",
		Help: "Latency of provider requests",
	}, []string{"provider"})

	m.deduplicatedRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "citegate_deduplicated_requests_total",
		Help: "Number of requests served by an identical in-flight request",
	})

	m.healthyProviders = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "citegate_healthy_providers",
		Help: "Provider health (1=healthy, 0=unhealthy)",
	}, []string{"provider"})

	for _, c := range []prometheus.Collector{
		m.healthCheckDuration,
		m.healthCheckErrors,
		m.requestLatency,
		m.deduplicatedRequests,
		m.healthyProviders,
	} {
		if err := registry.Register(c); err != nil {
			return fmt.Errorf("register provider metrics: %w", err)
		}
	}
	return nil
}

// GetHealthCheckErrors returns the health check errors counter for testing
func (m *Manager) GetHealthCheckErrors() *prometheus.CounterVec {
	return m.healthCheckErrors
}
