// Package metrics exposes service, jog and export activity as Prometheus
// metrics.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds all Prometheus metrics. It implements core.MetricsRecorder
// and core.ActiveRunsRecorder.
type Recorder struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ActiveRuns        prometheus.Gauge

	JogsTotal     *prometheus.CounterVec
	JogsInFlight  prometheus.Gauge
	ExportsTotal  *prometheus.CounterVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil reg uses the default
// Prometheus registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Recorder{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offsetcore_operations_total",
				Help: "Service operations by name and outcome",
			},
			[]string{"operation", "outcome"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "offsetcore_operation_duration_seconds",
				Help:    "Service operation latency",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"operation"},
		),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "offsetcore_active_runs",
			Help: "Calibration runs currently open",
		}),
		JogsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offsetcore_jogs_total",
				Help: "Jog requests by outcome (completed, failed, dropped)",
			},
			[]string{"outcome"},
		),
		JogsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "offsetcore_jogs_in_flight",
			Help: "Jog requests awaiting the robot",
		}),
		ExportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offsetcore_exports_total",
				Help: "Run report exports by outcome",
			},
			[]string{"outcome"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offsetcore_http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDurations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "offsetcore_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Observe implements core.MetricsRecorder.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	r.OperationsTotal.WithLabelValues(operation, outcome(success)).Inc()
	r.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetActiveRuns implements core.ActiveRunsRecorder.
func (r *Recorder) SetActiveRuns(n int) {
	r.ActiveRuns.Set(float64(n))
}

// JogStarted records a jog handed to the robot.
func (r *Recorder) JogStarted() { r.JogsInFlight.Inc() }

// JogFinished records the end of a dispatched jog.
func (r *Recorder) JogFinished(err error) {
	r.JogsInFlight.Dec()
	if err != nil {
		r.JogsTotal.WithLabelValues("failed").Inc()
		return
	}
	r.JogsTotal.WithLabelValues("completed").Inc()
}

// JogDropped records a jog rejected because too many were outstanding.
func (r *Recorder) JogDropped() { r.JogsTotal.WithLabelValues("dropped").Inc() }

// ExportFinished records the outcome of one report export.
func (r *Recorder) ExportFinished(err error) {
	r.ExportsTotal.WithLabelValues(outcome(err == nil)).Inc()
}

// ObserveHTTP records one served request.
func (r *Recorder) ObserveHTTP(method, route string, status int, duration time.Duration) {
	r.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	r.HTTPDurations.WithLabelValues(method, route).Observe(duration.Seconds())
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
