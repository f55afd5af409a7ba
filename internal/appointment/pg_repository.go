package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation is the SQLSTATE raised by the active-slot unique index.
const pgUniqueViolation = "23505"

// pgxQuerier is satisfied by *pgxpool.Pool and by pgxmock pools.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool pgxQuerier
}

var _ Repository = (*PgRepository)(nil)

func NewPgRepository(pool pgxQuerier) *PgRepository {
	return &PgRepository{pool: pool}
}

const (
	doctorColumns      = `id, code, first_name, last_name, specialty, department, is_active, is_available, working_hours, created_at, updated_at`
	patientColumns     = `id, code, first_name, last_name, phone, phone_digits, email, notes, is_active, created_at, updated_at`
	appointmentColumns = `id, patient_id, patient_name, patient_phone, doctor_name, appointment_date, duration_minutes, status, reason, notes, created_at, updated_at`
)

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var hours []byte

	err := row.Scan(
		&d.ID,
		&d.Code,
		&d.FirstName,
		&d.LastName,
		&d.Specialty,
		&d.Department,
		&d.IsActive,
		&d.IsAvailable,
		&hours,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.WorkingHours, err = DecodeWorkingHours(hours)
	if err != nil {
		return nil, fmt.Errorf("doctor %s working hours: %w", d.Code, err)
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Code,
		&p.FirstName,
		&p.LastName,
		&p.Phone,
		&p.PhoneDigits,
		&p.Email,
		&p.Notes,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PatientName,
		&a.PatientPhone,
		&a.DoctorName,
		&a.AppointmentDate,
		&a.DurationMinutes,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// appendFilter adds the filter's predicates to a query whose WHERE clause
// already holds len(args) placeholders.
func appendFilter(query string, args []any, f AppointmentFilter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(query)

	if f.From != nil {
		args = append(args, *f.From)
		fmt.Fprintf(&sb, " AND appointment_date >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		fmt.Fprintf(&sb, " AND appointment_date < $%d", len(args))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		fmt.Fprintf(&sb, " AND status = ANY($%d)", len(args))
	}
	sb.WriteString(" ORDER BY appointment_date ASC")

	return sb.String(), args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Interface methods

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE is_active = true
		ORDER BY last_name, first_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) FindPatientByPhone(ctx context.Context, digits string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE phone_digits = $1
		  AND is_active = true
		ORDER BY created_at ASC
		LIMIT 1
	`, digits)
	return scanPatient(row)
}

func (r *PgRepository) FindPatientByName(ctx context.Context, firstName, lastName string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE lower(first_name) = lower($1)
		  AND lower(last_name) = lower($2)
		  AND is_active = true
		ORDER BY created_at ASC
		LIMIT 1
	`, firstName, lastName)
	return scanPatient(row)
}

func (r *PgRepository) CreatePatient(ctx context.Context, p NewPatient) (*Patient, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, code, first_name, last_name, phone, phone_digits, email, notes, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, now(), now())
		RETURNING `+patientColumns,
		id, p.Code, p.FirstName, p.LastName, p.Phone, p.PhoneDigits, p.Email, p.Notes)

	return scanPatient(row)
}

func (r *PgRepository) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, f AppointmentFilter) ([]Appointment, error) {
	query, args := appendFilter(`
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1`, []any{patientID}, f)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListDoctorAppointments(ctx context.Context, doctorName string, f AppointmentFilter) ([]Appointment, error) {
	query, args := appendFilter(`
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_name = $1`, []any{doctorName}, f)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a NewAppointment) (*Appointment, error) {
	id := uuid.New()
	duration := a.DurationMinutes
	if duration <= 0 {
		duration = DefaultDurationMinutes
	}

	// The partial unique index on (doctor_name, appointment_date) makes this
	// a single atomic check-and-insert; DO NOTHING yields no row on conflict.
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, patient_name, patient_phone, doctor_name, appointment_date, duration_minutes, status, reason, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'scheduled', $8, $9, now(), now())
		ON CONFLICT (doctor_name, appointment_date) WHERE status <> 'cancelled' DO NOTHING
		RETURNING `+appointmentColumns,
		id, a.PatientID, a.PatientName, a.PatientPhone, a.DoctorName, a.AppointmentDate, duration, a.Reason, a.Notes)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) || isUniqueViolation(err) {
			return nil, ErrSlotConflict
		}
		return nil, err
	}
	return appt, nil
}

func (r *PgRepository) RescheduleAppointment(ctx context.Context, id uuid.UUID, newDate time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_date = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'scheduled'
		RETURNING `+appointmentColumns,
		id, newDate)

	appt, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotConflict
		}
		return nil, err
	}
	return appt, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) FindScheduledBefore(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND appointment_date + make_interval(mins => duration_minutes) < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// EncodeWorkingHours serializes hours keyed by lowercase weekday name.
func EncodeWorkingHours(hours map[time.Weekday]WorkingHours) ([]byte, error) {
	out := make(map[string]WorkingHours, len(hours))
	for day, wh := range hours {
		out[strings.ToLower(day.String())] = wh
	}
	return json.Marshal(out)
}

// DecodeWorkingHours is the inverse of EncodeWorkingHours. Empty input
// yields the default schedule.
func DecodeWorkingHours(data []byte) (map[time.Weekday]WorkingHours, error) {
	if len(data) == 0 || string(data) == "null" {
		return DefaultWorkingHours(), nil
	}

	var raw map[string]WorkingHours
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	hours := make(map[time.Weekday]WorkingHours, len(raw))
	for name, wh := range raw {
		day, ok := parseWeekday(name)
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		hours[day] = wh
	}
	return hours, nil
}

func parseWeekday(name string) (time.Weekday, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return d, true
		}
	}
	return 0, false
}
