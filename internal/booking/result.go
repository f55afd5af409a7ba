package booking

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/hackgods/doctalk-booking/internal/appointment"
	"github.com/hackgods/doctalk-booking/internal/datetime"
	"github.com/hackgods/doctalk-booking/internal/dialogue"
)

type Action string

const (
	ActionValidationFailed       Action = "validation_failed"
	ActionConfirmationRequired   Action = "confirmation_required"
	ActionDoctorNotFound         Action = "doctor_not_found"
	ActionPatientNotFound        Action = "patient_not_found"
	ActionPatientInfoNeeded      Action = "patient_info_needed"
	ActionSlotUnavailable        Action = "slot_unavailable"
	ActionInvalidDateTime        Action = "invalid_datetime"
	ActionAppointmentCreated     Action = "appointment_created"
	ActionAppointmentCancelled   Action = "appointment_cancelled"
	ActionAppointmentRescheduled Action = "appointment_rescheduled"
	ActionMultipleAppointments   Action = "multiple_appointments_found"
	ActionNoAppointments         Action = "no_appointments_found"
	ActionShowForReschedule      Action = "show_appointments_for_reschedule"
	ActionCancellationFailed     Action = "cancellation_failed"
	ActionNoAction               Action = "no_action"
	ActionError                  Action = "error"
)

const (
	MessageError     = "Sorry, there was an error processing your request. Please try again."
	MessageEmergency = "If this is a medical emergency, please hang up and call 911 or go to the nearest emergency room right away."
)

// Result is the outcome of one turn. Domain outcomes, failures included,
// are always expressed as a Result.
type Result struct {
	Action       Action            `json:"action"`
	Message      string            `json:"message"`
	Errors       []string          `json:"errors,omitempty"`
	Suggestions  []string          `json:"suggestions,omitempty"`
	Missing      []string          `json:"missing,omitempty"`
	Slots        []time.Time       `json:"slots,omitempty"`
	Appointment  *AppointmentView  `json:"appointment,omitempty"`
	Appointments []AppointmentView `json:"appointments,omitempty"`
	Booking      *dialogue.SlotSet `json:"booking,omitempty"`
}

type AppointmentView struct {
	ID                 string     `json:"id"`
	PatientName        string     `json:"patient_name"`
	DoctorName         string     `json:"doctor_name"`
	Date               time.Time  `json:"appointment_date"`
	PreviousDate       *time.Time `json:"previous_date,omitempty"`
	DurationMinutes    int        `json:"duration_minutes"`
	Status             string     `json:"status"`
	Reason             string     `json:"reason"`
	ProvisionalPatient bool       `json:"provisional_patient,omitempty"`
}

func viewOf(a appointment.Appointment) AppointmentView {
	return AppointmentView{
		ID:              a.ID.String(),
		PatientName:     a.PatientName,
		DoctorName:      a.DoctorName,
		Date:            a.AppointmentDate,
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Reason:          a.ReasonOrDefault(),
	}
}

func viewsOf(appts []appointment.Appointment) []AppointmentView {
	return lo.Map(appts, func(a appointment.Appointment, _ int) AppointmentView {
		return viewOf(a)
	})
}

// ErrorResult is the generic apology returned for infrastructure failures.
func ErrorResult() Result {
	return Result{
		Action:      ActionError,
		Message:     MessageError,
		Suggestions: []string{"Please repeat your request"},
	}
}

var fieldPrompts = map[string]string{
	dialogue.FieldPatientName: "your full name",
	dialogue.FieldDoctor:      "which doctor you would like to see",
	dialogue.FieldDate:        "the date",
	dialogue.FieldTime:        "the time",
}

const exampleBooking = `For example: "My name is Alice Cooper, I'd like to see Dr. Smith tomorrow at 2 PM"`

func validationFailed(missing []string, doctors []string) Result {
	prompts := lo.Map(missing, func(f string, _ int) string { return fieldPrompts[f] })
	return Result{
		Action:      ActionValidationFailed,
		Message:     fmt.Sprintf("I'd be happy to help you book an appointment. I still need %s.", joinWords(prompts)),
		Errors:      lo.Map(missing, func(f string, _ int) string { return "missing " + f }),
		Missing:     missing,
		Suggestions: append(append([]string{}, doctors...), exampleBooking),
	}
}

func invalidDateTime(err error) Result {
	msg := "I couldn't understand that date or time."
	if errors.Is(err, datetime.ErrPastDateTime) {
		msg = "That time has already passed. Please choose a future date and time."
	}
	return Result{
		Action:      ActionInvalidDateTime,
		Message:     msg,
		Errors:      []string{err.Error()},
		Suggestions: []string{datetime.Example},
	}
}

func slotUnavailable(doctorName string, ts time.Time, alternatives []time.Time) Result {
	res := Result{
		Action:  ActionSlotUnavailable,
		Message: fmt.Sprintf("%s is not available on %s.", doctorName, datetime.Describe(ts)),
		Errors:  []string{"slot unavailable"},
		Slots:   alternatives,
	}
	if len(alternatives) == 0 {
		res.Message += " There are no open slots in the next two weeks."
		res.Suggestions = []string{"Try another doctor"}
		return res
	}
	res.Message += " The next open time is " + datetime.Describe(alternatives[0]) + "."
	res.Suggestions = lo.Map(alternatives, func(t time.Time, _ int) string { return datetime.Describe(t) })
	return res
}

func listing(appts []appointment.Appointment, loc *time.Location) string {
	lines := lo.Map(appts, func(a appointment.Appointment, i int) string {
		return fmt.Sprintf("%d. %s on %s", i+1, a.DoctorName, datetime.Describe(a.AppointmentDate.In(loc)))
	})
	return strings.Join(lines, "; ")
}

func joinWords(words []string) string {
	switch len(words) {
	case 0:
		return ""
	case 1:
		return words[0]
	case 2:
		return words[0] + " and " + words[1]
	}
	return strings.Join(words[:len(words)-1], ", ") + " and " + words[len(words)-1]
}
