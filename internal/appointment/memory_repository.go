package appointment

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository. A single mutex makes the
// slot check and insert atomic, mirroring the unique index in Postgres.
// Writes refuse a cancelled context, as a Postgres statement would.
type MemoryRepository struct {
	mu           sync.Mutex
	doctors      []Doctor
	patients     map[uuid.UUID]*Patient
	appointments map[uuid.UUID]*Appointment
	events       []EventLog
	now          func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:     make(map[uuid.UUID]*Patient),
		appointments: make(map[uuid.UUID]*Appointment),
		now:          time.Now,
	}
}

// AddDoctor registers a doctor; missing ids, codes and hours are filled in.
func (r *MemoryRepository) AddDoctor(d Doctor) Doctor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Code == "" {
		d.Code = "D" + strings.ToUpper(d.ID.String()[:8])
	}
	if d.WorkingHours == nil {
		d.WorkingHours = DefaultWorkingHours()
	}
	now := r.now()
	d.CreatedAt, d.UpdatedAt = now, now
	r.doctors = append(r.doctors, d)
	return d
}

// AddPatient registers an existing, verified patient.
func (r *MemoryRepository) AddPatient(p NewPatient) *Patient {
	created, _ := r.CreatePatient(context.Background(), p)
	return created
}

// AddAppointment stores an appointment as-is, bypassing conflict checks.
// Intended for fixtures.
func (r *MemoryRepository) AddAppointment(a Appointment) *Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	if a.DurationMinutes == 0 {
		a.DurationMinutes = DefaultDurationMinutes
	}
	stored := a
	r.appointments[a.ID] = &stored
	cp := stored
	return &cp
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventLog(nil), r.events...)
}

// Appointments returns a copy of every stored appointment ordered by date.
func (r *MemoryRepository) Appointments() []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(func(Appointment) bool { return true })
}

func (r *MemoryRepository) ListDoctors(_ context.Context) ([]Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Doctor, 0, len(r.doctors))
	for _, d := range r.doctors {
		if d.IsActive {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		return out[i].FirstName < out[j].FirstName
	})
	return out, nil
}

func (r *MemoryRepository) FindPatientByPhone(_ context.Context, digits string) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.firstPatientLocked(func(p *Patient) bool {
		return p.PhoneDigits != nil && *p.PhoneDigits == digits
	})
}

func (r *MemoryRepository) FindPatientByName(_ context.Context, firstName, lastName string) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.firstPatientLocked(func(p *Patient) bool {
		return strings.EqualFold(p.FirstName, firstName) && strings.EqualFold(p.LastName, lastName)
	})
}

func (r *MemoryRepository) firstPatientLocked(match func(*Patient) bool) (*Patient, error) {
	var found *Patient
	for _, p := range r.patients {
		if !p.IsActive || !match(p) {
			continue
		}
		if found == nil || p.CreatedAt.Before(found.CreatedAt) {
			found = p
		}
	}
	if found == nil {
		return nil, ErrPatientNotFound
	}
	cp := *found
	return &cp, nil
}

func (r *MemoryRepository) CreatePatient(ctx context.Context, p NewPatient) (*Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	created := &Patient{
		ID:          uuid.New(),
		Code:        p.Code,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Phone:       p.Phone,
		PhoneDigits: p.PhoneDigits,
		Email:       p.Email,
		Notes:       p.Notes,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.patients[created.ID] = created
	cp := *created
	return &cp, nil
}

func (r *MemoryRepository) ListPatientAppointments(_ context.Context, patientID uuid.UUID, f AppointmentFilter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sortedLocked(func(a Appointment) bool {
		return a.PatientID == patientID && f.matches(a)
	}), nil
}

func (r *MemoryRepository) ListDoctorAppointments(_ context.Context, doctorName string, f AppointmentFilter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sortedLocked(func(a Appointment) bool {
		return a.DoctorName == doctorName && f.matches(a)
	}), nil
}

func (r *MemoryRepository) sortedLocked(keep func(Appointment) bool) []Appointment {
	var out []Appointment
	for _, a := range r.appointments {
		if keep(*a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AppointmentDate.Before(out[j].AppointmentDate)
	})
	return out
}

func (r *MemoryRepository) slotTakenLocked(doctorName string, at time.Time, except uuid.UUID) bool {
	for id, a := range r.appointments {
		if id == except || a.Status == StatusCancelled {
			continue
		}
		if a.DoctorName == doctorName && a.AppointmentDate.Equal(at) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) InsertAppointment(ctx context.Context, a NewAppointment) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slotTakenLocked(a.DoctorName, a.AppointmentDate, uuid.Nil) {
		return nil, ErrSlotConflict
	}

	duration := a.DurationMinutes
	if duration <= 0 {
		duration = DefaultDurationMinutes
	}
	now := r.now()
	created := &Appointment{
		ID:              uuid.New(),
		PatientID:       a.PatientID,
		PatientName:     a.PatientName,
		PatientPhone:    a.PatientPhone,
		DoctorName:      a.DoctorName,
		AppointmentDate: a.AppointmentDate,
		DurationMinutes: duration,
		Status:          StatusScheduled,
		Reason:          a.Reason,
		Notes:           a.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.appointments[created.ID] = created
	cp := *created
	return &cp, nil
}

func (r *MemoryRepository) RescheduleAppointment(ctx context.Context, id uuid.UUID, newDate time.Time) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != StatusScheduled {
		return nil, ErrAppointmentNotFound
	}
	if r.slotTakenLocked(a.DoctorName, newDate, id) {
		return nil, ErrSlotConflict
	}
	a.AppointmentDate = newDate
	a.UpdatedAt = r.now()
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	if to != StatusCancelled && r.slotTakenLocked(a.DoctorName, a.AppointmentDate, id) {
		return nil, ErrSlotConflict
	}
	a.Status = to
	a.UpdatedAt = r.now()
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) FindScheduledBefore(_ context.Context, cutoff time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sortedLocked(func(a Appointment) bool {
		end := a.AppointmentDate.Add(time.Duration(a.DurationMinutes) * time.Minute)
		return a.Status == StatusScheduled && end.Before(cutoff)
	}), nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	return nil
}
