package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/doctalk-booking/internal/redis"
	"github.com/hackgods/doctalk-booking/pkg/logger"
)

const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
)

var (
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// Publisher fans booking events out beyond the event_logs table.
type Publisher interface {
	Publish(ctx context.Context, ev EventLog) error
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	publisher Publisher
	log       *logger.Logger
	now       func() time.Time
}

type ServiceOption func(*Service)

func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

func WithLogger(l *logger.Logger) ServiceOption {
	return func(s *Service) { s.log = logger.OrNop(l) }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService wires the repository and slot locker. A nil locker falls back
// to an in-process one.
func NewService(repo Repository, locker redisclient.Locker, opts ...ServiceOption) *Service {
	if locker == nil {
		locker = redisclient.NewLocalLocker()
	}
	s := &Service{
		repo:   repo,
		locker: locker,
		log:    logger.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repository exposes the underlying store for read paths.
func (s *Service) Repository() Repository {
	return s.repo
}

// Book inserts a scheduled appointment. The Redis slot lock keeps
// concurrent bookers off the same slot; the repository's conditional insert
// is the final arbiter and reports ErrSlotConflict on a lost race.
func (s *Service) Book(ctx context.Context, a NewAppointment) (*Appointment, error) {
	var created *Appointment

	key := redisclient.SlotKey(a.DoctorName, a.AppointmentDate)
	err := s.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		if err := lockCtx.Err(); err != nil {
			return err
		}
		appt, err := s.repo.InsertAppointment(lockCtx, a)
		if err != nil {
			if errors.Is(err, ErrSlotConflict) {
				return err
			}
			return fmt.Errorf("insert appointment: %w", err)
		}

		created = appt
		s.logEvent(lockCtx, appt.ID, EventAppointmentCreated, map[string]any{
			"patient_id":       appt.PatientID.String(),
			"doctor_name":      appt.DoctorName,
			"appointment_date": appt.AppointmentDate,
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return created, nil
}

// Cancel moves a scheduled appointment to cancelled. A lost transition
// (already cancelled or completed) is ErrInvalidStatusTransition.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusScheduled, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{
		"doctor_name":      updated.DoctorName,
		"appointment_date": updated.AppointmentDate,
	})
	return updated, nil
}

// Reschedule moves a scheduled appointment to newDate under the lock for
// the target slot.
func (s *Service) Reschedule(ctx context.Context, current Appointment, newDate time.Time) (*Appointment, error) {
	var moved *Appointment

	key := redisclient.SlotKey(current.DoctorName, newDate)
	err := s.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		if err := lockCtx.Err(); err != nil {
			return err
		}
		appt, err := s.repo.RescheduleAppointment(lockCtx, current.ID, newDate)
		if err != nil {
			if errors.Is(err, ErrSlotConflict) {
				return err
			}
			if errors.Is(err, ErrAppointmentNotFound) {
				return ErrInvalidStatusTransition
			}
			return fmt.Errorf("reschedule appointment: %w", err)
		}

		moved = appt
		s.logEvent(lockCtx, appt.ID, EventAppointmentRescheduled, map[string]any{
			"doctor_name": appt.DoctorName,
			"old_date":    current.AppointmentDate,
			"new_date":    appt.AppointmentDate,
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return moved, nil
}

// CompletePastAppointments is intended to be called by the worker periodically.
// It returns how many appointments were marked completed.
func (s *Service) CompletePastAppointments(ctx context.Context) (int, error) {
	past, err := s.repo.FindScheduledBefore(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("find past scheduled appointments: %w", err)
	}

	completed := 0
	for _, appt := range past {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled, StatusCompleted)
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				s.log.Warn("failed to complete appointment", zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			}
			continue
		}
		completed++
		s.logEvent(ctx, appt.ID, EventAppointmentCompleted, map[string]any{
			"reason": "worker",
		})
	}

	return completed, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}

	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("failed to publish event",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}
}
