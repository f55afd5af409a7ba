package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

const (
	DefaultDurationMinutes = 30
	DefaultReason          = "General consultation"

	// ProvisionalPrefix marks patient codes created without verification.
	ProvisionalPrefix = "TEMP_"
)

// WorkingHours is one weekday's bookable window, in clinic local time.
type WorkingHours struct {
	Start       string `json:"start"` // "09:00"
	End         string `json:"end"`   // "17:00"
	IsAvailable bool   `json:"is_available"`
}

// DefaultWorkingHours returns Mon-Fri 09:00-17:00 and a closed weekend.
func DefaultWorkingHours() map[time.Weekday]WorkingHours {
	hours := make(map[time.Weekday]WorkingHours, 7)
	for d := time.Monday; d <= time.Friday; d++ {
		hours[d] = WorkingHours{Start: "09:00", End: "17:00", IsAvailable: true}
	}
	hours[time.Saturday] = WorkingHours{Start: "09:00", End: "13:00", IsAvailable: false}
	hours[time.Sunday] = WorkingHours{Start: "09:00", End: "13:00", IsAvailable: false}
	return hours
}

type Doctor struct {
	ID           uuid.UUID
	Code         string
	FirstName    string
	LastName     string
	Specialty    string
	Department   *string
	IsActive     bool
	IsAvailable  bool
	WorkingHours map[time.Weekday]WorkingHours
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DisplayName is the canonical name stored on appointments.
func (d Doctor) DisplayName() string {
	return "Dr. " + strings.TrimSpace(d.FirstName+" "+d.LastName)
}

type Patient struct {
	ID          uuid.UUID
	Code        string
	FirstName   string
	LastName    string
	Phone       *string
	PhoneDigits *string
	Email       *string
	Notes       *string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// IsProvisional reports whether the record was created from an unverified
// voice booking.
func (p Patient) IsProvisional() bool {
	return strings.HasPrefix(p.Code, ProvisionalPrefix)
}

type NewPatient struct {
	Code        string
	FirstName   string
	LastName    string
	Phone       *string
	PhoneDigits *string
	Email       *string
	Notes       *string
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	PatientName     string
	PatientPhone    *string
	DoctorName      string
	AppointmentDate time.Time
	DurationMinutes int
	Status          AppointmentStatus
	Reason          *string
	Notes           *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ReasonOrDefault returns the visit reason, falling back to a general consultation.
func (a Appointment) ReasonOrDefault() string {
	if a.Reason == nil || strings.TrimSpace(*a.Reason) == "" {
		return DefaultReason
	}
	return *a.Reason
}

type NewAppointment struct {
	PatientID       uuid.UUID
	PatientName     string
	PatientPhone    *string
	DoctorName      string
	AppointmentDate time.Time
	DurationMinutes int
	Reason          *string
	Notes           *string
}

// AppointmentFilter narrows appointment listings. Zero values mean unbounded.
type AppointmentFilter struct {
	From     *time.Time // inclusive
	To       *time.Time // exclusive
	Statuses []AppointmentStatus
}

func (f AppointmentFilter) matches(a Appointment) bool {
	if f.From != nil && a.AppointmentDate.Before(*f.From) {
		return false
	}
	if f.To != nil && !a.AppointmentDate.Before(*f.To) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if a.Status == s {
			return true
		}
	}
	return false
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
