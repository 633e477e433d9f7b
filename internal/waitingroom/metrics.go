/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package waitingroom

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Decision label values for the admissions counter.
const (
	metricsLabelDecision = "decision"

	metricsDecisionAdmit   = "admit"
	metricsDecisionEnqueue = "enqueue"
)

// PrometheusMetrics contains the waiting-room metrics.
type PrometheusMetrics struct {
	QueueLength    prometheus.Gauge
	ActiveVisitors prometheus.Gauge
	Admissions     *prometheus.CounterVec
	Promotions     prometheus.Counter
	Evictions      prometheus.Counter
	TickErrors     prometheus.Counter
}

// NewPrometheusMetrics creates a new metrics collector for the waiting room.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waiting_room_queue_length",
			Help: "Number of visitors currently waiting in the queue.",
		}),
		ActiveVisitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waiting_room_active_visitors",
			Help: "Number of visitors currently in the active set.",
		}),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waiting_room_admission_decisions_total",
			Help: "Admission decisions made, partitioned by outcome.",
		}, []string{metricsLabelDecision}),
		Promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waiting_room_promotions_total",
			Help: "Visitors promoted from the queue into the active set.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waiting_room_evictions_total",
			Help: "Visitors evicted from the active set after liveness expiry.",
		}),
		TickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waiting_room_reconciliation_tick_errors_total",
			Help: "Reconciliation ticks abandoned because of a store error.",
		}),
	}
}

// MustRegisterMetrics registers metrics in Prometheus client and panics if any error occurs.
// Implements service.MetricsRegisterer.
func (m *PrometheusMetrics) MustRegisterMetrics() {
	prometheus.MustRegister(
		m.QueueLength,
		m.ActiveVisitors,
		m.Admissions,
		m.Promotions,
		m.Evictions,
		m.TickErrors,
	)
}

// UnregisterMetrics unregisters metrics in Prometheus client.
// Implements service.MetricsRegisterer.
func (m *PrometheusMetrics) UnregisterMetrics() {
	prometheus.Unregister(m.QueueLength)
	prometheus.Unregister(m.ActiveVisitors)
	prometheus.Unregister(m.Admissions)
	prometheus.Unregister(m.Promotions)
	prometheus.Unregister(m.Evictions)
	prometheus.Unregister(m.TickErrors)
}
