package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderdMetrics wraps the collectors tracking the order engine.
type OrderdMetrics struct {
	transitions   *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	confirmations *prometheus.HistogramVec
	inflight      prometheus.Gauge
	sourceErrors  *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	throttles     *prometheus.CounterVec
}

var (
	orderdMetricsOnce sync.Once
	orderdRegistry    *OrderdMetrics
)

// Orderd returns the lazily-initialised metrics registry for orderd.
func Orderd() *OrderdMetrics {
	orderdMetricsOnce.Do(func() {
		orderdRegistry = &OrderdMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "trustlink",
				Subsystem: "orderd",
				Name:      "transitions_total",
				Help:      "Dispatched order transitions segmented by action and final state.",
			}, []string{"action", "state"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "trustlink",
				Subsystem: "orderd",
				Name:      "rejections_total",
				Help:      "Transitions refused before any write, by action and reason class.",
			}, []string{"action", "reason"}),
			confirmations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "trustlink",
				Subsystem: "orderd",
				Name:      "confirmation_seconds",
				Help:      "Time from ledger submission to a final receipt.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900},
			}, []string{"action"}),
			inflight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "trustlink",
				Subsystem: "orderd",
				Name:      "transitions_inflight",
				Help:      "Orders with an outstanding pending transition.",
			}),
			sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "trustlink",
				Subsystem: "orderd",
				Name:      "source_errors_total",
				Help:      "Failed reads against the ledger or advisory store.",
			}, []string{"source"}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "trustlink",
				Subsystem: "orderd",
				Name:      "listing_dropped_total",
				Help:      "Orders omitted from listings because the ledger read failed.",
			}, []string{"listing"}),
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "trustlink",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "trustlink",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "trustlink",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by the per-client rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			orderdRegistry.transitions,
			orderdRegistry.rejections,
			orderdRegistry.confirmations,
			orderdRegistry.inflight,
			orderdRegistry.sourceErrors,
			orderdRegistry.dropped,
			orderdRegistry.requests,
			orderdRegistry.latency,
			orderdRegistry.throttles,
		)
	})
	return orderdRegistry
}

// RecordTransition counts a transition reaching state.
func (m *OrderdMetrics) RecordTransition(action, state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(label(action), label(state)).Inc()
}

// RecordRejection counts a transition refused before dispatch.
func (m *OrderdMetrics) RecordRejection(action, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(label(action), label(reason)).Inc()
}

// ObserveConfirmation records how long a ledger write took to settle.
func (m *OrderdMetrics) ObserveConfirmation(action string, d time.Duration) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(label(action)).Observe(d.Seconds())
}

// SetInflight publishes the number of orders with a pending transition.
func (m *OrderdMetrics) SetInflight(n int) {
	if m == nil {
		return
	}
	m.inflight.Set(float64(n))
}

// RecordSourceError counts a failed read against source.
func (m *OrderdMetrics) RecordSourceError(source string) {
	if m == nil {
		return
	}
	m.sourceErrors.WithLabelValues(label(source)).Inc()
}

// RecordDropped counts orders omitted from a listing.
func (m *OrderdMetrics) RecordDropped(listing string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dropped.WithLabelValues(label(listing)).Add(float64(n))
}

// ObserveRequest records the outcome of an HTTP request. The status code
// should be the one ultimately written to the response writer.
func (m *OrderdMetrics) ObserveRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if status == 0 {
		status = 200
	}
	route = label(route)
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(d.Seconds())
}

// RecordThrottle counts a rate limited request.
func (m *OrderdMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(label(route)).Inc()
}

func label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}
