// Package metrics holds the relay's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "callrelay"

// Call outcomes.
const (
	OutcomeAccepted     = "accepted"
	OutcomeRejected     = "rejected"
	OutcomeEnded        = "ended"
	OutcomeFailed       = "failed"
	OutcomeNoAnswer     = "no_answer"
	OutcomeDisconnected = "disconnected"
)

type Metrics struct {
	Connections      prometheus.Gauge
	CallsActive      prometheus.Gauge
	CallsTotal       *prometheus.CounterVec
	MessagesTotal    *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec
	PhaseTransitions *prometheus.CounterVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Identities currently bound to a live connection.",
		}),
		CallsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Calls currently tracked.",
		}),
		CallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Call resolutions by outcome; an accepted call is counted again when it ends.",
		}, []string{"outcome"}),
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages by type.",
		}, []string{"type"}),
		DeliveryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Outbound events that could not be queued, by type.",
		}, []string{"type"}),
		PhaseTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Call phase changes.",
		}, []string{"from", "to"}),
	}
}
