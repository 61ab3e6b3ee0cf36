// Package metrics exposes Prometheus collectors for scans, registrations
// and HTTP traffic. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/campusops/qrgate/internal/qrgate/types"
)

type Metrics struct {
	scanVerdicts    *prometheus.CounterVec
	scanDuration    *prometheus.HistogramVec
	handlerFailures *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	sweepRows       *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers every collector on reg. Pass prometheus.DefaultRegisterer
// in the server and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		scanVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrgate",
			Name:      "scan_verdicts_total",
			Help:      "Scan verdicts by validation result, action type and channel.",
		}, []string{"result", "action_type", "channel"}),
		scanDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qrgate",
			Name:      "scan_duration_seconds",
			Help:      "Time to reach a scan verdict.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"channel"}),
		handlerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrgate",
			Name:      "action_handler_failures_total",
			Help:      "Action handler errors after an accepted scan.",
		}, []string{"action_type"}),
		registrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrgate",
			Name:      "device_registrations_total",
			Help:      "Device registration transitions by status.",
		}, []string{"status"}),
		sweepRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrgate",
			Name:      "sweep_rows_total",
			Help:      "Rows changed by the background sweeper.",
		}, []string{"kind"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrgate",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qrgate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) ObserveScan(result types.ValidationResult, actionType, channel string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.scanVerdicts.WithLabelValues(string(result), actionType, channel).Inc()
	m.scanDuration.WithLabelValues(channel).Observe(elapsed.Seconds())
}

func (m *Metrics) HandlerFailed(actionType string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(actionType).Inc()
}

func (m *Metrics) Registration(status types.VerificationStatus) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) Swept(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepRows.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
