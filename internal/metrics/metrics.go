// Package metrics holds the Prometheus instruments of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	AuthDecisionsTotal *prometheus.CounterVec
	KeyOperationsTotal *prometheus.CounterVec
	ActivePostTypes    prometheus.Gauge
	RouterReloadsTotal prometheus.Counter

	RelationsBreakerOpen prometheus.Gauge

	gatherer prometheus.Gatherer
}

var durationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWith(reg, reg)
}

// NewWith registers all metrics on reg and serves them from gatherer.
func NewWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cptrest",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cptrest",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"method", "route"},
		),
		AuthDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cptrest",
				Subsystem: "auth",
				Name:      "decisions_total",
				Help:      "API key gate decisions by outcome",
			},
			[]string{"outcome"},
		),
		KeyOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cptrest",
				Subsystem: "keys",
				Name:      "operations_total",
				Help:      "API key lifecycle operations",
			},
			[]string{"op"},
		),
		ActivePostTypes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cptrest",
			Name:      "active_post_types",
			Help:      "Number of post types routed in the current plan",
		}),
		RouterReloadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cptrest",
			Name:      "router_reloads_total",
			Help:      "Number of times the route plan was rebuilt",
		}),
		RelationsBreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cptrest",
			Subsystem: "relations",
			Name:      "breaker_open",
			Help:      "1 while the relationship provider circuit breaker is open",
		}),
		gatherer: gatherer,
	}
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// AuthDecision records a gate outcome: pass, allow, unauthenticated,
// forbidden or error.
func (m *Metrics) AuthDecision(outcome string) {
	if m == nil {
		return
	}
	m.AuthDecisionsTotal.WithLabelValues(outcome).Inc()
}

// KeyOperation records a key lifecycle operation.
func (m *Metrics) KeyOperation(op string) {
	if m == nil {
		return
	}
	m.KeyOperationsTotal.WithLabelValues(op).Inc()
}

// RouterReloaded records a rebuilt plan with n routed post types.
func (m *Metrics) RouterReloaded(n int) {
	if m == nil {
		return
	}
	m.RouterReloadsTotal.Inc()
	m.ActivePostTypes.Set(float64(n))
}

// BreakerState records the relationship breaker state.
func (m *Metrics) BreakerState(open bool) {
	if m == nil {
		return
	}
	if open {
		m.RelationsBreakerOpen.Set(1)
	} else {
		m.RelationsBreakerOpen.Set(0)
	}
}
