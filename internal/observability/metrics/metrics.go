package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters/histograms for conversation turns and
// the booking write path.
type BookingMetrics struct {
	turnsTotal          *prometheus.CounterVec
	turnLatency         *prometheus.HistogramVec
	slotConflicts       prometheus.Counter
	activeSessions      prometheus.Gauge
	collaboratorFailure *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doctalk",
			Subsystem: "booking",
			Name:      "turns_total",
			Help:      "Conversation turns handled, by intent and resulting action",
		}, []string{"intent", "action"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "doctalk",
			Subsystem: "booking",
			Name:      "turn_latency_seconds",
			Help:      "Latency of a conversation turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"intent"}),
		slotConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "doctalk",
			Subsystem: "booking",
			Name:      "slot_conflicts_total",
			Help:      "Bookings lost to a concurrent writer at the atomic insert",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "doctalk",
			Subsystem: "booking",
			Name:      "active_sessions",
			Help:      "Sessions with a turn in progress",
		}),
		collaboratorFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doctalk",
			Subsystem: "voice",
			Name:      "collaborator_failures_total",
			Help:      "Failures of external collaborators by pipeline stage",
		}, []string{"stage"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.turnLatency, m.slotConflicts, m.activeSessions, m.collaboratorFailure)
	return m
}

func (m *BookingMetrics) ObserveTurn(intent, action string, d time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(intent, action).Inc()
	m.turnLatency.WithLabelValues(intent).Observe(d.Seconds())
}

func (m *BookingMetrics) ObserveSlotConflict() {
	if m == nil {
		return
	}
	m.slotConflicts.Inc()
}

func (m *BookingMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// ObserveCollaboratorFailure counts a failed stage: stt, nlu, tts, or turn.
func (m *BookingMetrics) ObserveCollaboratorFailure(stage string) {
	if m == nil {
		return
	}
	m.collaboratorFailure.WithLabelValues(stage).Inc()
}
