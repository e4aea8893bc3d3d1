package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowEngineMetrics groups the collectors describing escrow engine activity.
type EscrowEngineMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	votes       *prometheus.CounterVec
	trust       *prometheus.CounterVec
}

// NotifierMetrics tracks simulated SMS delivery.
type NotifierMetrics struct {
	messages  *prometheus.CounterVec
	throttled *prometheus.CounterVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowEngineMetrics

	notifierMetricsOnce sync.Once
	notifierRegistry    *NotifierMetrics
)

// EscrowMetrics returns the lazily-initialised escrow engine registry.
func EscrowMetrics() *EscrowEngineMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowEngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spaza",
				Subsystem: "escrow",
				Name:      "operations_total",
				Help:      "Escrow engine operations segmented by operation and outcome kind.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "spaza",
				Subsystem: "escrow",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for escrow engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spaza",
				Subsystem: "escrow",
				Name:      "transitions_total",
				Help:      "Committed escrow state transitions.",
			}, []string{"from", "to"}),
			votes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spaza",
				Subsystem: "escrow",
				Name:      "votes_total",
				Help:      "Arbitrator ballots recorded by decision.",
			}, []string{"decision"}),
			trust: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spaza",
				Subsystem: "reputation",
				Name:      "adjustments_total",
				Help:      "Trust score settlements segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			escrowRegistry.operations,
			escrowRegistry.latency,
			escrowRegistry.transitions,
			escrowRegistry.votes,
			escrowRegistry.trust,
		)
	})
	return escrowRegistry
}

// Observe records one engine call. Outcome should be "ok" or a stable error
// kind such as "InvalidState".
func (m *EscrowEngineMetrics) Observe(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	op := normaliseLabel(operation, "unknown")
	m.operations.WithLabelValues(op, normaliseLabel(outcome, "ok")).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordTransition counts a committed state change.
func (m *EscrowEngineMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(normaliseLabel(from, "none"), normaliseLabel(to, "none")).Inc()
}

// RecordVote counts an accepted ballot.
func (m *EscrowEngineMetrics) RecordVote(decision string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(normaliseLabel(decision, "unknown")).Inc()
}

// RecordTrustSettlement counts a trust ledger update for one party.
func (m *EscrowEngineMetrics) RecordTrustSettlement(outcome string) {
	if m == nil {
		return
	}
	m.trust.WithLabelValues(normaliseLabel(outcome, "unknown")).Inc()
}

// Notifier returns the lazily-initialised notifier registry.
func Notifier() *NotifierMetrics {
	notifierMetricsOnce.Do(func() {
		notifierRegistry = &NotifierMetrics{
			messages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spaza",
				Subsystem: "notifier",
				Name:      "messages_total",
				Help:      "Simulated SMS messages segmented by carrier and kind.",
			}, []string{"carrier", "kind"}),
			throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spaza",
				Subsystem: "notifier",
				Name:      "throttled_total",
				Help:      "Messages rejected by the send rate limiter.",
			}, []string{"carrier"}),
		}
		prometheus.MustRegister(notifierRegistry.messages, notifierRegistry.throttled)
	})
	return notifierRegistry
}

// RecordMessage counts a delivered message.
func (m *NotifierMetrics) RecordMessage(carrier, kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(normaliseLabel(carrier, "unknown"), normaliseLabel(kind, "unknown")).Inc()
}

// RecordThrottle counts a message dropped by the rate limiter.
func (m *NotifierMetrics) RecordThrottle(carrier string) {
	if m == nil {
		return
	}
	m.throttled.WithLabelValues(normaliseLabel(carrier, "unknown")).Inc()
}

func normaliseLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
