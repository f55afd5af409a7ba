package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/doctalk-booking/internal/appointment"
	"github.com/hackgods/doctalk-booking/internal/session"
)

// Wednesday, mid-morning.
var fixedNow = time.Date(2026, 10, 14, 10, 15, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type fixture struct {
	repo  *appointment.MemoryRepository
	orch  *Orchestrator
	smith appointment.Doctor
	brown appointment.Doctor
}

func newFixture(t *testing.T, opts ...session.ManagerOption) *fixture {
	t.Helper()
	repo := appointment.NewMemoryRepository()
	return newFixtureWithRepo(t, repo, repo, opts...)
}

func newFixtureWithRepo(t *testing.T, mem *appointment.MemoryRepository, repo appointment.Repository, opts ...session.ManagerOption) *fixture {
	t.Helper()
	f := &fixture{repo: mem}
	f.smith = mem.AddDoctor(appointment.Doctor{FirstName: "Sarah", LastName: "Smith", Specialty: "Family Medicine", IsActive: true, IsAvailable: true})
	f.brown = mem.AddDoctor(appointment.Doctor{FirstName: "Emily", LastName: "Brown", Specialty: "Cardiology", IsActive: true, IsAvailable: true})

	svc := appointment.NewService(repo, nil, appointment.WithClock(clock))
	mgr := session.NewManager(session.NewMemoryStore(0), opts...)
	f.orch = New(mgr, svc, time.UTC, clock)
	return f
}

func (f *fixture) turn(t *testing.T, sessionID, intent, transcript string, kv ...string) Result {
	t.Helper()
	return f.orch.HandleTurn(context.Background(), TurnRequest{
		SessionID:  sessionID,
		Transcript: transcript,
		Intent:     intent,
		Entities:   entities(kv...),
	})
}

func (f *fixture) phase(t *testing.T, sessionID string) session.Phase {
	t.Helper()
	st, err := f.orch.Sessions().Snapshot(context.Background(), sessionID)
	require.NoError(t, err)
	return st.Phase
}

type booked struct {
	doctor appointment.Doctor
	at     time.Time
}

func (f *fixture) patientWithAppointments(name string, slots ...booked) *appointment.Patient {
	first, last, _ := strings.Cut(name, " ")
	p := f.repo.AddPatient(appointment.NewPatient{Code: "P001", FirstName: first, LastName: last})
	for _, s := range slots {
		f.repo.AddAppointment(appointment.Appointment{
			PatientID:       p.ID,
			PatientName:     p.FullName(),
			DoctorName:      s.doctor.DisplayName(),
			AppointmentDate: s.at,
		})
	}
	return p
}

func entities(kv ...string) map[string]*string {
	out := make(map[string]*string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		v := kv[i+1]
		out[kv[i]] = &v
	}
	return out
}

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 10, day, hour, minute, 0, 0, time.UTC)
}

func TestBookThenConfirmCreatesAppointment(t *testing.T) {
	f := newFixture(t)

	res := f.turn(t, "s1", IntentBook, "I'd like to see Dr. Smith tomorrow at 2pm",
		"patient_name", "Alice Cooper", "doctor", "Dr. Smith", "date", "tomorrow", "time", "14:00")
	require.Equal(t, ActionConfirmationRequired, res.Action, res.Message)
	require.NotNil(t, res.Booking)
	assert.Equal(t, "Alice Cooper", res.Booking.PatientName)
	assert.Contains(t, res.Message, "Dr. Sarah Smith")
	assert.Contains(t, res.Message, "Thursday, October 15, 2026 at 2:00 PM")
	assert.Equal(t, session.PhaseConfirming, f.phase(t, "s1"))
	assert.Empty(t, f.repo.Appointments(), "no writes before confirmation")

	res = f.turn(t, "s1", IntentConfirm, "yes please")
	require.Equal(t, ActionAppointmentCreated, res.Action, res.Message)
	require.NotNil(t, res.Appointment)
	assert.Equal(t, "scheduled", res.Appointment.Status)
	assert.Equal(t, "Dr. Sarah Smith", res.Appointment.DoctorName)
	assert.Equal(t, "Alice Cooper", res.Appointment.PatientName)
	assert.Equal(t, appointment.DefaultReason, res.Appointment.Reason)
	assert.True(t, res.Appointment.Date.Equal(at(15, 14, 0)))
	assert.True(t, res.Appointment.ProvisionalPatient)
	assert.Equal(t, session.PhaseCommitted, f.phase(t, "s1"))

	appts := f.repo.Appointments()
	require.Len(t, appts, 1)
	require.NotNil(t, appts[0].Notes)
	assert.Contains(t, *appts[0].Notes, "Booked via voice on")

	events := f.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, appointment.EventAppointmentCreated, events[0].EventType)
}

func TestConfirmReusesExistingPatient(t *testing.T) {
	f := newFixture(t)
	f.patientWithAppointments("Alice Cooper")

	res := f.turn(t, "s1", IntentConfirm, "",
		"patient_name", "Alice Cooper", "doctor", "Brown", "date", "2026-10-16", "time", "09:30", "reason", "Chest pain follow-up")
	require.Equal(t, ActionAppointmentCreated, res.Action, res.Message)
	assert.False(t, res.Appointment.ProvisionalPatient)
	assert.Equal(t, "Dr. Emily Brown", res.Appointment.DoctorName)
	assert.Equal(t, "Chest pain follow-up", res.Appointment.Reason)
}

func TestSlotsAccumulateAcrossTurns(t *testing.T) {
	f := newFixture(t)

	res := f.turn(t, "s1", IntentBook, "Hi, my name is Alice Cooper")
	require.Equal(t, ActionValidationFailed, res.Action)
	assert.Equal(t, []string{"doctor_name", "date", "time"}, res.Missing)

	res = f.turn(t, "s1", IntentBook, "I'd like to see Dr. Brown", "doctor", "Dr. Brown")
	require.Equal(t, ActionValidationFailed, res.Action)
	assert.Equal(t, []string{"date", "time"}, res.Missing)

	res = f.turn(t, "s1", IntentBook, "tomorrow at 2 pm")
	require.Equal(t, ActionConfirmationRequired, res.Action, res.Message)
	assert.Equal(t, "Alice Cooper", res.Booking.PatientName)
	assert.Equal(t, "Dr. Brown", res.Booking.DoctorName)
	assert.Equal(t, "tomorrow", res.Booking.Date)
	assert.Equal(t, "14:00", res.Booking.Time)
}

func TestIncompleteBookingListsMissingFields(t *testing.T) {
	f := newFixture(t)

	res := f.turn(t, "s1", IntentBook, "", "patient_name", "Alice Cooper", "doctor", "Dr. Smith")
	assert.Equal(t, ActionValidationFailed, res.Action)
	assert.Equal(t, []string{"date", "time"}, res.Missing)
	assert.Contains(t, res.Suggestions, "Dr. Sarah Smith")
	assert.Contains(t, res.Suggestions, "Dr. Emily Brown")
	assert.Contains(t, res.Suggestions[len(res.Suggestions)-1], "For example")
	assert.Equal(t, session.PhaseCollecting, f.phase(t, "s1"))
}

func TestConfirmIncompleteIsValidationFailure(t *testing.T) {
	f := newFixture(t)

	res := f.turn(t, "s1", IntentConfirm, "yes", "patient_name", "Alice Cooper")
	assert.Equal(t, ActionValidationFailed, res.Action)
	assert.Empty(t, f.repo.Appointments())
}

func TestBookedSlotSuggestsAlternatives(t *testing.T) {
	f := newFixture(t)
	f.repo.AddAppointment(appointment.Appointment{
		PatientID:       uuid.New(),
		PatientName:     "Bob Stone",
		DoctorName:      f.smith.DisplayName(),
		AppointmentDate: at(15, 14, 0),
	})

	res := f.turn(t, "s1", IntentConfirm, "",
		"patient_name", "Alice Cooper", "doctor", "Dr. Smith", "date", "tomorrow", "time", "2 PM")
	require.Equal(t, ActionSlotUnavailable, res.Action, res.Message)
	require.NotEmpty(t, res.Slots)
	assert.Len(t, res.Slots, 10)
	assert.True(t, res.Slots[0].Equal(at(15, 9, 0)))
	for _, s := range res.Slots {
		assert.False(t, s.Equal(at(15, 14, 0)))
	}
	assert.Len(t, f.repo.Appointments(), 1)
	assert.Equal(t, session.PhaseRejected, f.phase(t, "s1"))

	// The next turn starts collecting again.
	res = f.turn(t, "s1", IntentBook, "", "time", "15:00")
	assert.Equal(t, ActionConfirmationRequired, res.Action)
}

func TestUnknownDoctor(t *testing.T) {
	f := newFixture(t)

	res := f.turn(t, "s1", IntentConfirm, "",
		"patient_name", "Alice Cooper", "doctor", "Dr. House", "date", "tomorrow", "time", "14:00")
	assert.Equal(t, ActionDoctorNotFound, res.Action)
	assert.ElementsMatch(t, []string{"Dr. Sarah Smith", "Dr. Emily Brown"}, res.Suggestions)
	assert.Empty(t, f.repo.Appointments())
}

func TestPastDateTimeIsRejected(t *testing.T) {
	f := newFixture(t)

	res := f.turn(t, "s1", IntentConfirm, "",
		"patient_name", "Alice Cooper", "doctor", "Dr. Smith", "date", "yesterday at 3pm")
	assert.Equal(t, ActionInvalidDateTime, res.Action)
	assert.Contains(t, res.Message, "already passed")
	assert.NotEmpty(t, res.Suggestions)
	assert.Empty(t, f.repo.Appointments())
	assert.Empty(t, f.repo.Events())
}

func TestResetClearsSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.turn(t, "s1", IntentBook, "", "patient_name", "Alice Cooper", "doctor", "Dr. Smith")
	require.Equal(t, ActionValidationFailed, res.Action)

	require.NoError(t, f.orch.Reset(ctx, "s1"))
	history, err := f.orch.History(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, history)

	res = f.turn(t, "s1", IntentBook, "", "date", "tomorrow", "time", "14:00")
	assert.Equal(t, ActionValidationFailed, res.Action)
	assert.Equal(t, []string{"patient_name", "doctor_name"}, res.Missing)
}

func TestHistoryIsBounded(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 7; i++ {
		f.turn(t, "s1", IntentGeneral, fmt.Sprintf("turn %d", i))
	}

	history, err := f.orch.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, "turn 2", history[0].UserText)
	assert.Equal(t, "turn 6", history[4].UserText)
	assert.NotEmpty(t, history[4].SystemText)
}

func TestCancelWithSeveralAppointmentsAsksWhichOne(t *testing.T) {
	f := newFixture(t)
	f.patientWithAppointments("John Smith",
		booked{f.smith, at(16, 10, 0)},
		booked{f.brown, at(19, 11, 0)},
	)

	res := f.turn(t, "s1", IntentCancel, "I need to cancel my appointment", "patient_name", "John Smith")
	require.Equal(t, ActionMultipleAppointments, res.Action, res.Message)
	require.Len(t, res.Appointments, 2)
	assert.Equal(t, "Dr. Sarah Smith", res.Appointments[0].DoctorName)
	assert.Equal(t, "Dr. Emily Brown", res.Appointments[1].DoctorName)
	for _, a := range f.repo.Appointments() {
		assert.Equal(t, appointment.StatusScheduled, a.Status)
	}
	assert.Empty(t, f.repo.Events())

	// A follow-up naming only the doctor resolves against the pending list.
	res = f.turn(t, "s1", IntentGeneral, "the one with Dr. Brown", "doctor", "Dr. Brown")
	require.Equal(t, ActionAppointmentCancelled, res.Action, res.Message)
	assert.Equal(t, "Dr. Emily Brown", res.Appointment.DoctorName)
	assert.Equal(t, "cancelled", res.Appointment.Status)

	st, err := f.orch.Sessions().Snapshot(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, st.Pending)
}

func TestCancelNarrowsByDate(t *testing.T) {
	f := newFixture(t)
	f.patientWithAppointments("John Smith",
		booked{f.smith, at(16, 10, 0)},
		booked{f.brown, at(19, 11, 0)},
	)

	res := f.turn(t, "s1", IntentCancel, "", "patient_name", "John Smith", "date", "friday")
	require.Equal(t, ActionAppointmentCancelled, res.Action, res.Message)
	assert.True(t, res.Appointment.Date.Equal(at(16, 10, 0)))
}

func TestCancelSingleAppointment(t *testing.T) {
	f := newFixture(t)
	f.patientWithAppointments("John Smith", booked{f.brown, at(19, 11, 0)})

	res := f.turn(t, "s1", IntentCancel, "please cancel", "patient_name", "John Smith")
	require.Equal(t, ActionAppointmentCancelled, res.Action, res.Message)

	events := f.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, appointment.EventAppointmentCancelled, events[0].EventType)

	res = f.turn(t, "s1", IntentCancel, "please cancel", "patient_name", "John Smith")
	assert.Equal(t, ActionNoAppointments, res.Action)
}

func TestCancelNeedsPatient(t *testing.T) {
	f := newFixture(t)

	res := f.turn(t, "s1", IntentCancel, "cancel my appointment")
	assert.Equal(t, ActionPatientInfoNeeded, res.Action)

	res = f.turn(t, "s2", IntentCancel, "", "patient_name", "Nobody Known")
	assert.Equal(t, ActionPatientNotFound, res.Action)
	assert.NotEmpty(t, res.Suggestions)
}

func TestCancelPastAppointmentsAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.patientWithAppointments("John Smith", booked{f.brown, at(12, 11, 0)})

	res := f.turn(t, "s1", IntentCancel, "", "patient_name", "John Smith")
	assert.Equal(t, ActionNoAppointments, res.Action)
}

func TestRescheduleInOneTurn(t *testing.T) {
	f := newFixture(t)
	f.patientWithAppointments("John Smith", booked{f.smith, at(16, 10, 0)})

	res := f.turn(t, "s1", IntentReschedule, "",
		"patient_name", "John Smith", "date", "2026-10-19", "time", "15:00")
	require.Equal(t, ActionAppointmentRescheduled, res.Action, res.Message)
	require.NotNil(t, res.Appointment.PreviousDate)
	assert.True(t, res.Appointment.PreviousDate.Equal(at(16, 10, 0)))
	assert.True(t, res.Appointment.Date.Equal(at(19, 15, 0)))

	appts := f.repo.Appointments()
	require.Len(t, appts, 1)
	assert.True(t, appts[0].AppointmentDate.Equal(at(19, 15, 0)))
	assert.Equal(t, appointment.EventAppointmentRescheduled, f.repo.Events()[0].EventType)
}

func TestRescheduleAsksForNewTimeThenMoves(t *testing.T) {
	f := newFixture(t)
	f.patientWithAppointments("John Smith",
		booked{f.smith, at(16, 10, 0)},
		booked{f.brown, at(19, 11, 0)},
	)

	res := f.turn(t, "s1", IntentReschedule, "I need to move my appointment", "patient_name", "John Smith")
	require.Equal(t, ActionShowForReschedule, res.Action)
	assert.Len(t, res.Appointments, 2)

	res = f.turn(t, "s1", IntentReschedule, "the one with Dr. Smith", "doctor", "Dr. Smith")
	require.Equal(t, ActionShowForReschedule, res.Action)
	require.Len(t, res.Appointments, 1)
	assert.Equal(t, "Dr. Sarah Smith", res.Appointments[0].DoctorName)

	res = f.turn(t, "s1", IntentGeneral, "", "date", "2026-10-20", "time", "09:00")
	require.Equal(t, ActionAppointmentRescheduled, res.Action, res.Message)
	assert.Equal(t, "Dr. Sarah Smith", res.Appointment.DoctorName)
	assert.True(t, res.Appointment.Date.Equal(at(20, 9, 0)))
}

func TestRescheduleIntoBookedSlot(t *testing.T) {
	f := newFixture(t)
	f.patientWithAppointments("John Smith", booked{f.smith, at(16, 10, 0)})
	f.repo.AddAppointment(appointment.Appointment{
		PatientID:       uuid.New(),
		PatientName:     "Bob Stone",
		DoctorName:      f.smith.DisplayName(),
		AppointmentDate: at(19, 15, 0),
	})

	res := f.turn(t, "s1", IntentReschedule, "",
		"patient_name", "John Smith", "date", "2026-10-19", "time", "15:00")
	assert.Equal(t, ActionSlotUnavailable, res.Action)
	assert.NotEmpty(t, res.Slots)
}

func TestOtherIntentsLeavePhaseAlone(t *testing.T) {
	f := newFixture(t)
	f.turn(t, "s1", IntentBook, "",
		"patient_name", "Alice Cooper", "doctor", "Dr. Smith", "date", "tomorrow", "time", "14:00")
	require.Equal(t, session.PhaseConfirming, f.phase(t, "s1"))

	res := f.turn(t, "s1", IntentEmergency, "I have chest pain")
	assert.Equal(t, ActionNoAction, res.Action)
	assert.Equal(t, MessageEmergency, res.Message)
	assert.Equal(t, session.PhaseConfirming, f.phase(t, "s1"))

	res = f.turn(t, "s1", "something_new", "what are your hours?")
	assert.Equal(t, ActionNoAction, res.Action)
	assert.Equal(t, session.PhaseConfirming, f.phase(t, "s1"))
}

func TestCheckAvailability(t *testing.T) {
	f := newFixture(t)

	res := f.turn(t, "s1", IntentCheckAvailability, "is Dr. Brown free tomorrow?", "doctor", "Dr. Brown", "date", "tomorrow")
	assert.Equal(t, ActionNoAction, res.Action)
	require.Len(t, res.Slots, 10)
	assert.True(t, res.Slots[0].Equal(at(15, 9, 0)))
}

func TestConcurrentConfirmsBookOnce(t *testing.T) {
	f := newFixture(t)
	const callers = 16

	results := make([]Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.turn(t, fmt.Sprintf("caller-%d", i), IntentConfirm, "",
				"patient_name", fmt.Sprintf("Caller%d Jones", i), "doctor", "Dr. Smith", "date", "tomorrow", "time", "14:00")
		}(i)
	}
	wg.Wait()

	created := 0
	for _, r := range results {
		switch r.Action {
		case ActionAppointmentCreated:
			created++
		case ActionSlotUnavailable:
		default:
			t.Errorf("unexpected action %s: %s", r.Action, r.Message)
		}
	}
	assert.Equal(t, 1, created)

	scheduled := 0
	for _, a := range f.repo.Appointments() {
		if a.Status != appointment.StatusCancelled && a.AppointmentDate.Equal(at(15, 14, 0)) {
			scheduled++
		}
	}
	assert.Equal(t, 1, scheduled)
}

type failingRepo struct {
	*appointment.MemoryRepository
}

func (failingRepo) ListDoctors(context.Context) ([]appointment.Doctor, error) {
	return nil, errors.New("connection refused")
}

func TestInfrastructureFailureIsGenericError(t *testing.T) {
	mem := appointment.NewMemoryRepository()
	f := newFixtureWithRepo(t, mem, failingRepo{mem})

	res := f.turn(t, "s1", IntentBook, "", "patient_name", "Alice Cooper")
	assert.Equal(t, ActionError, res.Action)
	assert.Equal(t, MessageError, res.Message)

	history, err := f.orch.History(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, history, "failed turn is not remembered")
}

type stalledRepo struct {
	*appointment.MemoryRepository
}

func (stalledRepo) ListDoctors(ctx context.Context) ([]appointment.Doctor, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSlowTurnTimesOut(t *testing.T) {
	mem := appointment.NewMemoryRepository()
	f := newFixtureWithRepo(t, mem, stalledRepo{mem}, session.WithTurnTimeout(50*time.Millisecond))

	res := f.turn(t, "s1", IntentBook, "", "patient_name", "Alice Cooper")
	assert.Equal(t, ActionError, res.Action)
	assert.Equal(t, session.PhaseCollecting, f.phase(t, "s1"))
}

type slowRosterRepo struct {
	*appointment.MemoryRepository
	slow atomic.Bool
}

// ListDoctors ignores ctx once slow is set, like a driver stuck on I/O.
func (r *slowRosterRepo) ListDoctors(ctx context.Context) ([]appointment.Doctor, error) {
	if r.slow.Load() {
		time.Sleep(120 * time.Millisecond)
	}
	return r.MemoryRepository.ListDoctors(ctx)
}

func TestTimedOutConfirmNeverBooks(t *testing.T) {
	mem := appointment.NewMemoryRepository()
	repo := &slowRosterRepo{MemoryRepository: mem}
	f := newFixtureWithRepo(t, mem, repo, session.WithTurnTimeout(50*time.Millisecond))

	res := f.turn(t, "s1", IntentBook, "",
		"patient_name", "Alice Cooper", "doctor", "Dr. Smith", "date", "tomorrow", "time", "14:00")
	require.Equal(t, ActionConfirmationRequired, res.Action, res.Message)

	repo.slow.Store(true)
	res = f.turn(t, "s1", IntentConfirm, "yes")
	assert.Equal(t, ActionError, res.Action)

	time.Sleep(200 * time.Millisecond)
	repo.slow.Store(false)
	// A fresh turn only starts once the abandoned one has fully returned.
	assert.Eventually(t, func() bool {
		return f.orch.Sessions().Turn(context.Background(), "s1", func(context.Context, *session.State) error { return nil }) == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, f.repo.Appointments(), "caller was told the turn failed")
	assert.Equal(t, session.PhaseConfirming, f.phase(t, "s1"))
}

func TestMissingSessionID(t *testing.T) {
	f := newFixture(t)
	res := f.turn(t, "", IntentBook, "hello")
	assert.Equal(t, ActionValidationFailed, res.Action)
}
