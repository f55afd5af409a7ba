// Package booking drives a conversation from free-form turns to a
// confirmed, conflict-free appointment change.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/hackgods/doctalk-booking/internal/appointment"
	"github.com/hackgods/doctalk-booking/internal/availability"
	"github.com/hackgods/doctalk-booking/internal/datetime"
	"github.com/hackgods/doctalk-booking/internal/dialogue"
	"github.com/hackgods/doctalk-booking/internal/doctor"
	"github.com/hackgods/doctalk-booking/internal/observability/metrics"
	"github.com/hackgods/doctalk-booking/internal/patient"
	"github.com/hackgods/doctalk-booking/internal/session"
	"github.com/hackgods/doctalk-booking/pkg/logger"
)

const (
	IntentBook              = "book_appointment"
	IntentCancel            = "cancel_appointment"
	IntentReschedule        = "reschedule_appointment"
	IntentConfirm           = "confirm_appointment"
	IntentCheckAvailability = "check_availability"
	IntentInquiry           = "inquiry"
	IntentEmergency         = "emergency"
	IntentGeneral           = "general"
)

// doctorSuggestionLimit caps the roster names offered on a failed turn.
const doctorSuggestionLimit = 5

// TurnRequest is one analyzed utterance.
type TurnRequest struct {
	SessionID  string             `json:"session_id"`
	Transcript string             `json:"transcript"`
	Intent     string             `json:"intent"`
	Entities   map[string]*string `json:"entities"`
}

type Orchestrator struct {
	sessions  *session.Manager
	service   *appointment.Service
	repo      appointment.Repository
	doctors   *doctor.Directory
	patients  *patient.Resolver
	avail     *availability.Engine
	dates     *datetime.Normalizer
	extractor func(roster []appointment.Doctor) dialogue.Extractor
	metrics   *metrics.BookingMetrics
	log       *logger.Logger
	now       func() time.Time
}

type Option func(*Orchestrator)

func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.log = logger.OrNop(l) }
}

func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithExtractor replaces the roster-driven pattern extractor used to fill
// slots the NLU left empty.
func WithExtractor(fn func(roster []appointment.Doctor) dialogue.Extractor) Option {
	return func(o *Orchestrator) { o.extractor = fn }
}

// New builds an orchestrator over one appointment service. Dates resolve in
// loc against now.
func New(sessions *session.Manager, service *appointment.Service, loc *time.Location, now func() time.Time, opts ...Option) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	repo := service.Repository()
	o := &Orchestrator{
		sessions: sessions,
		service:  service,
		repo:     repo,
		doctors:  doctor.NewDirectory(repo),
		patients: patient.NewResolver(repo, now),
		dates:    datetime.NewNormalizer(loc, now),
		extractor: func(roster []appointment.Doctor) dialogue.Extractor {
			return dialogue.NewPatternExtractor(roster)
		},
		log: logger.Nop(),
		now: now,
	}
	o.avail = availability.NewEngine(repo, loc, availability.WithClock(now))
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithInterval sets the slot granularity of the availability engine.
func WithInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.avail = availability.NewEngine(o.repo, o.dates.Location(), availability.WithClock(o.now), availability.WithInterval(d))
	}
}

func (o *Orchestrator) Availability() *availability.Engine { return o.avail }

func (o *Orchestrator) Doctors() *doctor.Directory { return o.doctors }

func (o *Orchestrator) Dates() *datetime.Normalizer { return o.dates }

func (o *Orchestrator) Sessions() *session.Manager { return o.sessions }

// HandleTurn runs one turn for req.SessionID. Turns of one session are
// serialized; an infrastructure failure or timeout yields an error result
// and leaves the session as it was.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) Result {
	start := o.now()
	intent := normalizeIntent(req.Intent)
	log := o.log.WithSession(req.SessionID).With(zap.String("intent", intent))

	if strings.TrimSpace(req.SessionID) == "" {
		return Result{
			Action:      ActionValidationFailed,
			Message:     "A session id is required.",
			Errors:      []string{"missing session_id"},
			Suggestions: []string{"Start a new session"},
		}
	}

	// handled is only read after Turn returns nil, i.e. after fn finished.
	var handled Result
	err := o.sessions.Turn(ctx, req.SessionID, func(ctx context.Context, st *session.State) error {
		o.metrics.SetActiveSessions(o.sessions.Active())

		r, err := o.handle(ctx, st, intent, req)
		if err != nil {
			return err
		}
		handled = r
		return nil
	})
	var res Result
	if err == nil {
		res = handled
	} else {
		stage := "turn"
		if errors.Is(err, session.ErrTurnTimeout) {
			stage = "timeout"
		}
		log.Error("turn failed", zap.String("stage", stage), zap.Error(err))
		o.metrics.ObserveCollaboratorFailure(stage)
		res = ErrorResult()
	}

	o.metrics.ObserveTurn(intent, string(res.Action), o.now().Sub(start))
	log.Info("turn handled", zap.String("action", string(res.Action)))
	return res
}

// Reset forgets everything about a session.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	return o.sessions.Reset(ctx, sessionID)
}

// History returns the remembered turns of a session, oldest first.
func (o *Orchestrator) History(ctx context.Context, sessionID string) ([]dialogue.Turn, error) {
	st, err := o.sessions.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return st.Context.Turns(), nil
}

func (o *Orchestrator) handle(ctx context.Context, st *session.State, intent string, req TurnRequest) (Result, error) {
	if st.Phase == session.PhaseCommitted || st.Phase == session.PhaseRejected {
		st.Phase = session.PhaseCollecting
	}
	// A bare follow-up ("the one with Dr. Smith") continues a pending
	// cancel or reschedule.
	if st.PendingOp != "" && (intent == IntentGeneral || intent == IntentInquiry) {
		intent = st.PendingOp
	}

	roster, err := o.doctors.Roster(ctx)
	if err != nil {
		return Result{}, err
	}

	extractor := o.extractor(roster)
	current := dialogue.FromEntities(req.Entities)
	slots := withEmbeddedTime(dialogue.Resolve(current, req.Transcript, st.Context, extractor))
	// heard is what this turn alone said; it drives disambiguation.
	heard := withEmbeddedTime(current.FillFrom(extractor.Extract(req.Transcript)))

	var res Result
	switch intent {
	case IntentBook:
		res = o.book(st, roster, slots)
	case IntentConfirm:
		res, err = o.confirm(ctx, st, roster, slots)
	case IntentCancel:
		res, err = o.cancel(ctx, st, heard, slots)
	case IntentReschedule:
		res, err = o.reschedule(ctx, st, heard, slots)
	case IntentEmergency:
		res = Result{Action: ActionNoAction, Message: MessageEmergency, Suggestions: []string{"Call 911"}}
	case IntentCheckAvailability:
		res, err = o.checkAvailability(ctx, roster, slots)
	default:
		res = Result{
			Action:      ActionNoAction,
			Message:     "I can help you book, cancel, or reschedule an appointment. What would you like to do?",
			Suggestions: []string{"Book an appointment", "Cancel an appointment", "Reschedule an appointment"},
		}
	}
	if err != nil {
		return Result{}, err
	}

	st.Context.Append(dialogue.Turn{
		UserText:   req.Transcript,
		SystemText: res.Message,
		Timestamp:  o.now(),
		Slots:      current,
	})
	return res, nil
}

func (o *Orchestrator) book(st *session.State, roster []appointment.Doctor, slots dialogue.SlotSet) Result {
	st.ClearPending()
	if !slots.Complete() {
		st.Phase = session.PhaseCollecting
		return validationFailed(slots.Missing(), doctor.Names(roster, doctorSuggestionLimit))
	}

	st.Phase = session.PhaseConfirming
	doctorName := slots.DoctorName
	if doc, ok := doctor.Match(roster, slots.DoctorName); ok {
		doctorName = doc.DisplayName()
	}
	when := slots.Date + " at " + slots.Time
	if ts, err := o.dates.Normalize(slots.Date, slots.Time); err == nil {
		when = datetime.Describe(ts)
	}

	echo := slots
	return Result{
		Action:      ActionConfirmationRequired,
		Message:     fmt.Sprintf("Let me confirm: an appointment for %s with %s on %s. Shall I book it?", slots.PatientName, doctorName, when),
		Booking:     &echo,
		Suggestions: []string{"Yes, please book it", "Change the time"},
	}
}

func (o *Orchestrator) confirm(ctx context.Context, st *session.State, roster []appointment.Doctor, slots dialogue.SlotSet) (Result, error) {
	st.ClearPending()
	if !slots.Complete() {
		st.Phase = session.PhaseCollecting
		return validationFailed(slots.Missing(), doctor.Names(roster, doctorSuggestionLimit)), nil
	}

	st.Phase = session.PhaseExecuting
	res, err := o.execute(ctx, roster, slots)
	if err != nil {
		return Result{}, err
	}
	if res.Action == ActionAppointmentCreated {
		st.Phase = session.PhaseCommitted
	} else {
		st.Phase = session.PhaseRejected
	}
	return res, nil
}

func (o *Orchestrator) execute(ctx context.Context, roster []appointment.Doctor, slots dialogue.SlotSet) (Result, error) {
	doc, err := o.resolveDoctor(ctx, slots)
	if err != nil {
		if errors.Is(err, appointment.ErrDoctorNotFound) {
			return doctorNotFound(slots.DoctorName, roster), nil
		}
		return Result{}, err
	}

	ts, err := o.dates.Normalize(slots.Date, slots.Time)
	if err != nil {
		return invalidDateTime(err), nil
	}

	free, alternatives, err := o.avail.Check(ctx, *doc, ts)
	if err != nil {
		return Result{}, fmt.Errorf("check availability: %w", err)
	}
	if !free {
		return slotUnavailable(doc.DisplayName(), ts, alternatives), nil
	}

	p, provisioned, err := o.patients.ResolveOrProvision(ctx, patient.Lookup{Name: slots.PatientName, Phone: slots.Phone})
	if err != nil {
		if errors.Is(err, patient.ErrNameRequired) {
			return patientInfoNeeded("To book your appointment"), nil
		}
		return Result{}, err
	}

	na := appointment.NewAppointment{
		PatientID:       p.ID,
		PatientName:     p.FullName(),
		PatientPhone:    p.Phone,
		DoctorName:      doc.DisplayName(),
		AppointmentDate: ts,
		DurationMinutes: appointment.DefaultDurationMinutes,
		Notes:           lo.ToPtr("Booked via voice on " + o.now().In(o.dates.Location()).Format("2006-01-02 15:04")),
	}
	if slots.Reason != "" {
		na.Reason = lo.ToPtr(slots.Reason)
	} else {
		na.Reason = lo.ToPtr(appointment.DefaultReason)
	}

	created, err := o.service.Book(ctx, na)
	if err != nil {
		if errors.Is(err, appointment.ErrSlotConflict) || errors.Is(err, appointment.ErrSlotBeingBooked) {
			return o.lostRace(ctx, *doc, ts)
		}
		return Result{}, err
	}

	view := o.localView(*created)
	view.ProvisionalPatient = provisioned
	return Result{
		Action:      ActionAppointmentCreated,
		Message:     fmt.Sprintf("Your appointment with %s on %s is confirmed.", created.DoctorName, datetime.Describe(view.Date)),
		Appointment: &view,
	}, nil
}

// lostRace reports a slot taken by a concurrent writer, with availability
// reloaded after the conflict.
func (o *Orchestrator) lostRace(ctx context.Context, doc appointment.Doctor, ts time.Time) (Result, error) {
	o.metrics.ObserveSlotConflict()
	o.log.Info("slot taken by a concurrent booking",
		zap.String("doctor_name", doc.DisplayName()),
		zap.Time("appointment_date", ts))

	alternatives, err := o.avail.Suggest(ctx, doc, ts)
	if err != nil {
		return Result{}, fmt.Errorf("suggest slots: %w", err)
	}
	return slotUnavailable(doc.DisplayName(), ts, alternatives), nil
}

func (o *Orchestrator) resolveDoctor(ctx context.Context, slots dialogue.SlotSet) (*appointment.Doctor, error) {
	if slots.DoctorID != "" {
		doc, err := o.doctors.FindByID(ctx, slots.DoctorID)
		if err == nil || !errors.Is(err, appointment.ErrDoctorNotFound) || slots.DoctorName == "" {
			return doc, err
		}
	}
	return o.doctors.Find(ctx, slots.DoctorName)
}

func (o *Orchestrator) checkAvailability(ctx context.Context, roster []appointment.Doctor, slots dialogue.SlotSet) (Result, error) {
	res := Result{Action: ActionNoAction}
	if !slots.HasDoctor() {
		res.Message = "Which doctor would you like to check availability for?"
		res.Suggestions = doctor.Names(roster, doctorSuggestionLimit)
		return res, nil
	}

	doc, err := o.resolveDoctor(ctx, slots)
	if err != nil {
		if errors.Is(err, appointment.ErrDoctorNotFound) {
			nf := doctorNotFound(slots.DoctorName, roster)
			res.Message, res.Suggestions = nf.Message, nf.Suggestions
			return res, nil
		}
		return Result{}, err
	}

	day := o.dates.Today()
	if slots.Date != "" {
		if d, err := o.dates.ParseDate(slots.Date); err == nil {
			day = d
		}
	}
	free, err := o.avail.Suggest(ctx, *doc, day)
	if err != nil {
		return Result{}, fmt.Errorf("suggest slots: %w", err)
	}
	if len(free) == 0 {
		res.Message = fmt.Sprintf("%s has no open slots in the next two weeks.", doc.DisplayName())
		res.Suggestions = doctor.Names(roster, doctorSuggestionLimit)
		return res, nil
	}
	res.Message = fmt.Sprintf("%s is available on %s.", doc.DisplayName(), datetime.Describe(free[0]))
	res.Slots = free
	res.Suggestions = lo.Map(free, func(t time.Time, _ int) string { return datetime.Describe(t) })
	return res, nil
}

func doctorNotFound(name string, roster []appointment.Doctor) Result {
	msg := "I couldn't find that doctor."
	if name != "" {
		msg = fmt.Sprintf("I couldn't find a doctor named %s.", name)
	}
	return Result{
		Action:      ActionDoctorNotFound,
		Message:     msg + " Which of our doctors would you like to see?",
		Errors:      []string{"doctor not found"},
		Suggestions: doctor.Names(roster, doctorSuggestionLimit),
	}
}

func patientInfoNeeded(purpose string) Result {
	return Result{
		Action:      ActionPatientInfoNeeded,
		Message:     purpose + ", I need your full name or the phone number on file.",
		Errors:      []string{"missing patient_name"},
		Missing:     []string{dialogue.FieldPatientName, dialogue.FieldPhone},
		Suggestions: []string{"Tell me your full name", "Tell me your phone number"},
	}
}

// withEmbeddedTime fills an empty time from the date fragment, as in
// "yesterday at 3pm".
func withEmbeddedTime(s dialogue.SlotSet) dialogue.SlotSet {
	if s.Time == "" {
		if t, ok := datetime.FindTime(s.Date); ok {
			s.Time = t
		}
	}
	return s
}

var knownIntents = map[string]bool{
	IntentBook: true, IntentCancel: true, IntentReschedule: true, IntentConfirm: true,
	IntentCheckAvailability: true, IntentInquiry: true, IntentEmergency: true, IntentGeneral: true,
}

func normalizeIntent(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if knownIntents[s] {
		return s
	}
	return IntentGeneral
}
