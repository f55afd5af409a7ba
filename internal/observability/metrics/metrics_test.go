package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveTurn("book_appointment", "confirmation_required", 20*time.Millisecond)
	m.ObserveTurn("book_appointment", "confirmation_required", 30*time.Millisecond)
	m.ObserveSlotConflict()
	m.SetActiveSessions(3)
	m.ObserveCollaboratorFailure("tts")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turnsTotal.WithLabelValues("book_appointment", "confirmation_required")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.slotConflicts))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.collaboratorFailure.WithLabelValues("tts")))
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveTurn("general", "no_action", time.Millisecond)
	m.ObserveSlotConflict()
	m.SetActiveSessions(1)
	m.ObserveCollaboratorFailure("stt")
}
