// Package telemetry exposes Prometheus metrics for detection passes and the HTTP API.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/opensource-finance/leadwatch/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leadwatch"

// Metrics holds the collectors for one registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	detectorDuration *prometheus.HistogramVec
	detectorErrors   *prometheus.CounterVec
	alertsGenerated  *prometheus.CounterVec
	scansTotal       *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates metrics on a fresh registry with Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newMetrics(reg)
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		detectorDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "detect",
				Name:      "detector_duration_seconds",
				Help:      "Duration of a single detector query and classification",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			},
			[]string{"detector"},
		),

		detectorErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "detect",
				Name:      "detector_errors_total",
				Help:      "Total number of detector failures",
			},
			[]string{"detector"},
		),

		alertsGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "detect",
				Name:      "alerts_generated_total",
				Help:      "Total number of alerts generated",
			},
			[]string{"type", "severity"},
		),

		scansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "detect",
				Name:      "scans_total",
				Help:      "Total number of detection passes",
			},
			[]string{"trigger", "status"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			},
			[]string{"method", "route"},
		),
	}
}

// ObserveDetector records one detector run.
func (m *Metrics) ObserveDetector(detector string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.detectorDuration.WithLabelValues(detector).Observe(elapsed.Seconds())
	if err != nil {
		m.detectorErrors.WithLabelValues(detector).Inc()
	}
}

// RecordAlerts counts generated alerts by type and severity.
func (m *Metrics) RecordAlerts(alerts []domain.FraudAlert) {
	if m == nil {
		return
	}
	for _, a := range alerts {
		m.alertsGenerated.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	}
}

// RecordScan counts one full pass. trigger is e.g. "api", "request" or "interval".
func (m *Metrics) RecordScan(trigger string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.scansTotal.WithLabelValues(trigger, status).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
