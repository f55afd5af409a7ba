package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/hackgods/doctalk-booking/internal/appointment"
	"github.com/hackgods/doctalk-booking/internal/datetime"
	"github.com/hackgods/doctalk-booking/internal/dialogue"
	"github.com/hackgods/doctalk-booking/internal/doctor"
	"github.com/hackgods/doctalk-booking/internal/patient"
	"github.com/hackgods/doctalk-booking/internal/session"
)

// findPatient resolves the caller for cancel and reschedule. A nil patient
// with a non-empty Result means the turn ends with that Result.
func (o *Orchestrator) findPatient(ctx context.Context, st *session.State, slots dialogue.SlotSet, purpose string) (*appointment.Patient, Result, error) {
	lookup := patient.Lookup{Name: slots.PatientName, Phone: slots.Phone}
	if lookup.Empty() {
		st.ClearPending()
		return nil, patientInfoNeeded(purpose), nil
	}

	p, err := o.patients.Resolve(ctx, lookup)
	if err != nil {
		if errors.Is(err, appointment.ErrPatientNotFound) {
			st.ClearPending()
			return nil, Result{
				Action:      ActionPatientNotFound,
				Message:     "I couldn't find a patient record under that name or phone number.",
				Errors:      []string{"patient not found"},
				Suggestions: []string{"Check the spelling of your full name", "Tell me the phone number on file"},
			}, nil
		}
		return nil, Result{}, err
	}
	return p, Result{}, nil
}

// upcoming lists the patient's future scheduled appointments, narrowed to
// the pending candidates of op when a prior turn left some.
func (o *Orchestrator) upcoming(ctx context.Context, st *session.State, p *appointment.Patient, op string) ([]appointment.Appointment, error) {
	from := o.now()
	appts, err := o.repo.ListPatientAppointments(ctx, p.ID, appointment.AppointmentFilter{
		From:     &from,
		Statuses: []appointment.AppointmentStatus{appointment.StatusScheduled},
	})
	if err != nil {
		return nil, fmt.Errorf("list patient appointments: %w", err)
	}

	if st.PendingOp == op && len(st.Pending) > 0 {
		pending := lo.Filter(appts, func(a appointment.Appointment, _ int) bool {
			return lo.Contains(st.Pending, a.ID.String())
		})
		if len(pending) > 0 {
			return pending, nil
		}
	}
	return appts, nil
}

func (o *Orchestrator) cancel(ctx context.Context, st *session.State, heard, slots dialogue.SlotSet) (Result, error) {
	p, res, err := o.findPatient(ctx, st, slots, "To cancel your appointment")
	if p == nil {
		return res, err
	}

	appts, err := o.upcoming(ctx, st, p, IntentCancel)
	if err != nil {
		return Result{}, err
	}
	if len(appts) == 0 {
		st.ClearPending()
		return noAppointments(), nil
	}

	candidates := appts
	if len(appts) > 1 {
		candidates = o.narrowForCancel(appts, heard)
	}
	if len(candidates) != 1 {
		if len(candidates) == 0 {
			candidates = appts
		}
		st.PendingOp = IntentCancel
		st.Pending = idsOf(candidates)
		return Result{
			Action:       ActionMultipleAppointments,
			Message:      fmt.Sprintf("You have %d upcoming appointments: %s. Which one would you like to cancel?", len(candidates), listing(candidates, o.dates.Location())),
			Appointments: o.localViews(candidates),
			Suggestions:  []string{"Name the doctor", "Name the date"},
		}, nil
	}

	target := candidates[0]
	st.ClearPending()
	cancelled, err := o.service.Cancel(ctx, target.ID)
	if err != nil {
		if errors.Is(err, appointment.ErrInvalidStatusTransition) {
			return Result{
				Action:      ActionCancellationFailed,
				Message:     "That appointment could not be cancelled. It may already be cancelled or completed.",
				Errors:      []string{err.Error()},
				Suggestions: []string{"Ask for your upcoming appointments"},
			}, nil
		}
		return Result{}, err
	}

	st.Phase = session.PhaseCommitted
	view := o.localView(*cancelled)
	return Result{
		Action:      ActionAppointmentCancelled,
		Message:     fmt.Sprintf("Your appointment with %s on %s has been cancelled.", cancelled.DoctorName, datetime.Describe(view.Date)),
		Appointment: &view,
	}, nil
}

func (o *Orchestrator) reschedule(ctx context.Context, st *session.State, heard, slots dialogue.SlotSet) (Result, error) {
	p, res, err := o.findPatient(ctx, st, slots, "To reschedule your appointment")
	if p == nil {
		return res, err
	}

	appts, err := o.upcoming(ctx, st, p, IntentReschedule)
	if err != nil {
		return Result{}, err
	}
	if len(appts) == 0 {
		st.ClearPending()
		return noAppointments(), nil
	}

	candidates := appts
	if len(appts) > 1 {
		if narrowed := filterByDoctor(appts, heard.DoctorName); len(narrowed) > 0 {
			candidates = narrowed
		}
	}

	if len(candidates) != 1 || heard.Date == "" || heard.Time == "" {
		st.PendingOp = IntentReschedule
		st.Pending = idsOf(candidates)
		msg := fmt.Sprintf("You have %d upcoming appointments: %s. Which one would you like to move, and to when?", len(candidates), listing(candidates, o.dates.Location()))
		if len(candidates) == 1 {
			msg = fmt.Sprintf("Your appointment is with %s on %s. What new date and time would you like?",
				candidates[0].DoctorName, datetime.Describe(candidates[0].AppointmentDate.In(o.dates.Location())))
		}
		return Result{
			Action:       ActionShowForReschedule,
			Message:      msg,
			Appointments: o.localViews(candidates),
			Suggestions:  []string{datetime.Example},
		}, nil
	}

	target := candidates[0]
	ts, err := o.dates.Normalize(heard.Date, heard.Time)
	if err != nil {
		return invalidDateTime(err), nil
	}

	doc, err := o.doctors.Find(ctx, target.DoctorName)
	if err != nil {
		if errors.Is(err, appointment.ErrDoctorNotFound) {
			roster, rosterErr := o.doctors.Roster(ctx)
			if rosterErr != nil {
				return Result{}, rosterErr
			}
			return doctorNotFound(target.DoctorName, roster), nil
		}
		return Result{}, err
	}

	free, alternatives, err := o.avail.Check(ctx, *doc, ts)
	if err != nil {
		return Result{}, fmt.Errorf("check availability: %w", err)
	}
	if !free {
		return slotUnavailable(target.DoctorName, ts, alternatives), nil
	}

	moved, err := o.service.Reschedule(ctx, target, ts)
	if err != nil {
		switch {
		case errors.Is(err, appointment.ErrSlotConflict), errors.Is(err, appointment.ErrSlotBeingBooked):
			return o.lostRace(ctx, *doc, ts)
		case errors.Is(err, appointment.ErrInvalidStatusTransition):
			st.ClearPending()
			return Result{
				Action:      ActionNoAppointments,
				Message:     "That appointment can no longer be rescheduled.",
				Errors:      []string{err.Error()},
				Suggestions: []string{"Book a new appointment"},
			}, nil
		}
		return Result{}, err
	}

	st.ClearPending()
	st.Phase = session.PhaseCommitted
	view := o.localView(*moved)
	previous := target.AppointmentDate.In(o.dates.Location())
	view.PreviousDate = &previous
	return Result{
		Action: ActionAppointmentRescheduled,
		Message: fmt.Sprintf("Your appointment with %s has been moved from %s to %s.",
			moved.DoctorName, datetime.Describe(previous), datetime.Describe(view.Date)),
		Appointment: &view,
	}, nil
}

// narrowForCancel keeps candidates matching the doctor and date named in
// this turn; a time narrows further. Unparseable fragments filter nothing.
func (o *Orchestrator) narrowForCancel(appts []appointment.Appointment, heard dialogue.SlotSet) []appointment.Appointment {
	out := filterByDoctor(appts, heard.DoctorName)
	loc := o.dates.Location()

	if heard.Date != "" {
		if day, err := o.dates.ParseDate(heard.Date); err == nil {
			out = lo.Filter(out, func(a appointment.Appointment, _ int) bool {
				return datetime.StartOfDay(a.AppointmentDate.In(loc)).Equal(day)
			})
		}
	}
	if heard.Time != "" {
		if clock, err := o.dates.ParseClock(heard.Time); err == nil {
			out = lo.Filter(out, func(a appointment.Appointment, _ int) bool {
				local := a.AppointmentDate.In(loc)
				return local.Hour() == clock.Hour && local.Minute() == clock.Minute
			})
		}
	}
	return out
}

// filterByDoctor keeps appointments whose doctor name contains the spoken
// doctor token ("smith" matches "Dr. John Smith").
func filterByDoctor(appts []appointment.Appointment, spoken string) []appointment.Appointment {
	token := doctor.CleanName(spoken)
	if token == "" {
		return appts
	}
	return lo.Filter(appts, func(a appointment.Appointment, _ int) bool {
		return strings.Contains(doctor.CleanName(a.DoctorName), token)
	})
}

func noAppointments() Result {
	return Result{
		Action:      ActionNoAppointments,
		Message:     "I couldn't find any upcoming appointments for you.",
		Suggestions: []string{"Book a new appointment"},
	}
}

func idsOf(appts []appointment.Appointment) []string {
	return lo.Map(appts, func(a appointment.Appointment, _ int) string { return a.ID.String() })
}

func (o *Orchestrator) localView(a appointment.Appointment) AppointmentView {
	v := viewOf(a)
	v.Date = a.AppointmentDate.In(o.dates.Location())
	return v
}

func (o *Orchestrator) localViews(appts []appointment.Appointment) []AppointmentView {
	views := viewsOf(appts)
	loc := o.dates.Location()
	for i := range views {
		views[i].Date = views[i].Date.In(loc)
	}
	return views
}
