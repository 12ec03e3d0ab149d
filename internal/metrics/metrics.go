// Package metrics holds the service's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reviewgate"

type Metrics struct {
	dispatchItems   *prometheus.CounterVec
	statusCallbacks *prometheus.CounterVec
	gateRatings     *prometheus.CounterVec
	breakerState    prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_items_total",
			Help:      "Dispatch worker items by kind (initial, nudge) and outcome.",
		}, []string{"kind", "outcome"}),
		statusCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_callbacks_total",
			Help:      "Accepted delivery status callbacks by reported status.",
		}, []string{"status"}),
		gateRatings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_ratings_total",
			Help:      "Sentiment gate ratings by route (public, private).",
		}, []string{"route"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_breaker_state",
			Help:      "SMS gateway circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.dispatchItems, m.statusCallbacks, m.gateRatings, m.breakerState)
	}
	return m
}

func (m *Metrics) DispatchItem(kind, outcome string) {
	if m == nil {
		return
	}
	m.dispatchItems.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) StatusCallback(status string) {
	if m == nil {
		return
	}
	m.statusCallbacks.WithLabelValues(status).Inc()
}

func (m *Metrics) GateRating(route string) {
	if m == nil {
		return
	}
	m.gateRatings.WithLabelValues(route).Inc()
}

func (m *Metrics) BreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}
