package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotConflict        = errors.New("slot already has a scheduled appointment")
)

// Repository contains all DB interactions needed by the booking core.
type Repository interface {
	ListDoctors(ctx context.Context) ([]Doctor, error)

	FindPatientByPhone(ctx context.Context, digits string) (*Patient, error)
	FindPatientByName(ctx context.Context, firstName, lastName string) (*Patient, error)
	CreatePatient(ctx context.Context, p NewPatient) (*Patient, error)

	ListPatientAppointments(ctx context.Context, patientID uuid.UUID, f AppointmentFilter) ([]Appointment, error)
	ListDoctorAppointments(ctx context.Context, doctorName string, f AppointmentFilter) ([]Appointment, error)

	// InsertAppointment is an atomic conditional write: it returns
	// ErrSlotConflict when a non-cancelled appointment already holds
	// (doctor_name, appointment_date).
	InsertAppointment(ctx context.Context, a NewAppointment) (*Appointment, error)
	// RescheduleAppointment moves a scheduled appointment, with the same
	// conflict guarantee as InsertAppointment.
	RescheduleAppointment(ctx context.Context, id uuid.UUID, newDate time.Time) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// Completion worker
	FindScheduledBefore(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
