// Package availability computes bookable slots from working hours and
// existing appointments.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/doctalk-booking/internal/appointment"
	"github.com/hackgods/doctalk-booking/internal/datetime"
)

const (
	DefaultInterval = 30 * time.Minute
	SuggestionLimit = 10
	LookaheadDays   = 14
)

// Source supplies a doctor's appointments; appointment.Repository satisfies it.
type Source interface {
	ListDoctorAppointments(ctx context.Context, doctorName string, f appointment.AppointmentFilter) ([]appointment.Appointment, error)
}

// DoctorAvailability is one doctor's schedule and bookings, evaluated at a
// fixed instant.
type DoctorAvailability struct {
	DoctorID     uuid.UUID
	DoctorName   string
	Bookable     bool
	WorkingHours map[time.Weekday]appointment.WorkingHours
	Booked       map[int64]struct{}

	interval time.Duration
	loc      *time.Location
	now      time.Time
}

// NewDoctorAvailability evaluates doc's schedule at now. Booked holds the
// start times of non-cancelled appointments.
func NewDoctorAvailability(doc appointment.Doctor, booked []time.Time, interval time.Duration, loc *time.Location, now time.Time) DoctorAvailability {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if loc == nil {
		loc = time.UTC
	}
	hours := doc.WorkingHours
	if hours == nil {
		hours = appointment.DefaultWorkingHours()
	}

	set := make(map[int64]struct{}, len(booked))
	for _, ts := range booked {
		set[ts.Unix()] = struct{}{}
	}

	return DoctorAvailability{
		DoctorID:     doc.ID,
		DoctorName:   doc.DisplayName(),
		Bookable:     doc.IsActive && doc.IsAvailable,
		WorkingHours: hours,
		Booked:       set,
		interval:     interval,
		loc:          loc,
		now:          now,
	}
}

// FreeSlots lists the open slot starts on day, in order.
func (a DoctorAvailability) FreeSlots(day time.Time) []time.Time {
	start, end, ok := a.window(day)
	if !ok {
		return nil
	}

	var slots []time.Time
	for ts := start; !ts.Add(a.interval).After(end); ts = ts.Add(a.interval) {
		if !ts.After(a.now) {
			continue
		}
		if _, taken := a.Booked[ts.Unix()]; taken {
			continue
		}
		slots = append(slots, ts)
	}
	return slots
}

// IsSlotFree reports whether ts is one of FreeSlots for its day.
func (a DoctorAvailability) IsSlotFree(ts time.Time) bool {
	for _, s := range a.FreeSlots(ts) {
		if s.Equal(ts) {
			return true
		}
	}
	return false
}

func (a DoctorAvailability) window(day time.Time) (time.Time, time.Time, bool) {
	if !a.Bookable {
		return time.Time{}, time.Time{}, false
	}
	local := datetime.StartOfDay(day.In(a.loc))

	wh, ok := a.WorkingHours[local.Weekday()]
	if !ok || !wh.IsAvailable {
		return time.Time{}, time.Time{}, false
	}

	open, err := parseHHMM(wh.Start)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	closing, err := parseHHMM(wh.End)
	if err != nil || !closing.After(open) {
		return time.Time{}, time.Time{}, false
	}

	start := time.Date(local.Year(), local.Month(), local.Day(), open.Hour(), open.Minute(), 0, 0, a.loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), closing.Hour(), closing.Minute(), 0, 0, a.loc)
	return start, end, true
}

func parseHHMM(s string) (time.Time, error) {
	t, err := time.Parse(datetime.ClockLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("working hours %q: %w", s, err)
	}
	return t, nil
}

type Engine struct {
	source   Source
	interval time.Duration
	loc      *time.Location
	now      func() time.Time
}

type Option func(*Engine)

func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(source Source, loc *time.Location, opts ...Option) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	e := &Engine{
		source:   source,
		interval: DefaultInterval,
		loc:      loc,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Availability loads doc's non-cancelled bookings for day.
func (e *Engine) Availability(ctx context.Context, doc appointment.Doctor, day time.Time) (DoctorAvailability, error) {
	from := datetime.StartOfDay(day.In(e.loc))
	to := from.AddDate(0, 0, 1)

	appts, err := e.source.ListDoctorAppointments(ctx, doc.DisplayName(), appointment.AppointmentFilter{
		From:     &from,
		To:       &to,
		Statuses: []appointment.AppointmentStatus{appointment.StatusScheduled, appointment.StatusCompleted},
	})
	if err != nil {
		return DoctorAvailability{}, fmt.Errorf("load bookings for %s: %w", doc.DisplayName(), err)
	}

	booked := make([]time.Time, 0, len(appts))
	for _, a := range appts {
		booked = append(booked, a.AppointmentDate)
	}
	return NewDoctorAvailability(doc, booked, e.interval, e.loc, e.now()), nil
}

// Check reports whether ts is bookable. When it is not, the returned slots
// are alternatives: the rest of that day, or the next open days when the
// day is full, capped at SuggestionLimit.
func (e *Engine) Check(ctx context.Context, doc appointment.Doctor, ts time.Time) (bool, []time.Time, error) {
	avail, err := e.Availability(ctx, doc, ts)
	if err != nil {
		return false, nil, err
	}
	if avail.IsSlotFree(ts) {
		return true, nil, nil
	}

	slots, err := e.Suggest(ctx, doc, ts)
	if err != nil {
		return false, nil, err
	}
	return false, slots, nil
}

// Suggest returns up to SuggestionLimit free slots on day, falling back to
// the following days when the day itself has none.
func (e *Engine) Suggest(ctx context.Context, doc appointment.Doctor, day time.Time) ([]time.Time, error) {
	avail, err := e.Availability(ctx, doc, day)
	if err != nil {
		return nil, err
	}
	slots := avail.FreeSlots(day)
	if len(slots) > 0 {
		return capSlots(slots, SuggestionLimit), nil
	}

	next := datetime.StartOfDay(day.In(e.loc)).AddDate(0, 0, 1)
	return e.NextAvailable(ctx, doc, next, SuggestionLimit)
}

// NextAvailable collects up to limit free slots at or after from, scanning
// at most LookaheadDays days.
func (e *Engine) NextAvailable(ctx context.Context, doc appointment.Doctor, from time.Time, limit int) ([]time.Time, error) {
	if limit <= 0 {
		limit = SuggestionLimit
	}
	from = from.In(e.loc)
	day := datetime.StartOfDay(from)

	var out []time.Time
	for i := 0; i < LookaheadDays && len(out) < limit; i++ {
		avail, err := e.Availability(ctx, doc, day)
		if err != nil {
			return nil, err
		}
		for _, s := range avail.FreeSlots(day) {
			if s.Before(from) {
				continue
			}
			out = append(out, s)
			if len(out) == limit {
				break
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return out, nil
}

func capSlots(slots []time.Time, limit int) []time.Time {
	if len(slots) > limit {
		return slots[:limit]
	}
	return slots
}
