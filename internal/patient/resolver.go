// Package patient matches callers to patient records and provisions
// unverified records for new callers.
package patient

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"

	"github.com/hackgods/doctalk-booking/internal/appointment"
)

const DefaultRegion = "US"

var ErrNameRequired = errors.New("patient name is required")

var (
	phoneRe    = regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}|\d{10}`)
	nonDigitRe = regexp.MustCompile(`\D`)
)

// Store is the slice of appointment.Repository the resolver uses.
type Store interface {
	FindPatientByPhone(ctx context.Context, digits string) (*appointment.Patient, error)
	FindPatientByName(ctx context.Context, firstName, lastName string) (*appointment.Patient, error)
	CreatePatient(ctx context.Context, p appointment.NewPatient) (*appointment.Patient, error)
}

// Lookup carries the caller-supplied fragments.
type Lookup struct {
	Name  string
	Phone string
}

func (l Lookup) Empty() bool {
	return strings.TrimSpace(l.Name) == "" && strings.TrimSpace(l.Phone) == ""
}

type Resolver struct {
	store  Store
	region string
	now    func() time.Time
}

func NewResolver(store Store, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{store: store, region: DefaultRegion, now: now}
}

// Resolve finds an existing patient. A phone number (in either fragment)
// is tried first; an exact first+last name match is the fallback.
func (r *Resolver) Resolve(ctx context.Context, l Lookup) (*appointment.Patient, error) {
	digits := FindPhone(l.Phone, r.region)
	if digits == "" {
		digits = FindPhone(l.Name, r.region)
	}

	if digits != "" {
		p, err := r.store.FindPatientByPhone(ctx, digits)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, appointment.ErrPatientNotFound) {
			return nil, fmt.Errorf("find patient by phone: %w", err)
		}
	}

	first, last, ok := SplitName(l.Name)
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	p, err := r.store.FindPatientByName(ctx, first, last)
	if err != nil {
		if errors.Is(err, appointment.ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("find patient by name: %w", err)
	}
	return p, nil
}

// Provision creates an unverified patient whose code carries the
// provisional prefix.
func (r *Resolver) Provision(ctx context.Context, l Lookup) (*appointment.Patient, error) {
	name := stripPhone(l.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	first, last, ok := SplitName(name)
	if !ok {
		first, last = name, ""
	}

	now := r.now()
	np := appointment.NewPatient{
		Code:      ProvisionalCode(now),
		FirstName: titleCase(first),
		LastName:  titleCase(last),
		Notes:     ptr("Patient created via voice booking on " + now.Format("2006-01-02 15:04")),
	}

	rawPhone := strings.TrimSpace(l.Phone)
	digits := FindPhone(rawPhone, r.region)
	if digits == "" {
		if m := phoneRe.FindString(l.Name); m != "" {
			rawPhone, digits = m, NormalizePhone(m, r.region)
		}
	}
	if digits != "" {
		np.Phone = ptr(rawPhone)
		np.PhoneDigits = ptr(digits)
	}

	p, err := r.store.CreatePatient(ctx, np)
	if err != nil {
		return nil, fmt.Errorf("create provisional patient: %w", err)
	}
	return p, nil
}

// ResolveOrProvision returns an existing patient or a new provisional one,
// reporting which.
func (r *Resolver) ResolveOrProvision(ctx context.Context, l Lookup) (*appointment.Patient, bool, error) {
	p, err := r.Resolve(ctx, l)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, appointment.ErrPatientNotFound) {
		return nil, false, err
	}

	p, err = r.Provision(ctx, l)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// ProvisionalCode is TEMP_<yyyymmdd><8 hex>.
func ProvisionalCode(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return appointment.ProvisionalPrefix + now.Format("20060102") + suffix
}

// MatchPhone returns the first phone-like sequence in text as written.
func MatchPhone(text string) string {
	return phoneRe.FindString(text)
}

// FindPhone returns the normalized digits of the first phone-like
// sequence in text, or "".
func FindPhone(text, region string) string {
	m := MatchPhone(text)
	if m == "" {
		return ""
	}
	return NormalizePhone(m, region)
}

// NormalizePhone reduces raw to its national significant number, falling
// back to plain digit stripping when libphonenumber cannot parse it.
func NormalizePhone(raw, region string) string {
	if num, err := phonenumbers.Parse(raw, region); err == nil {
		if nsn := phonenumbers.GetNationalSignificantNumber(num); nsn != "" {
			return nsn
		}
	}
	digits := nonDigitRe.ReplaceAllString(raw, "")
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	return digits
}

// SplitName splits into first token and remaining tokens; it fails for
// fewer than two tokens.
func SplitName(name string) (string, string, bool) {
	parts := strings.Fields(stripPhone(name))
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], strings.Join(parts[1:], " "), true
}

func stripPhone(s string) string {
	return strings.Join(strings.Fields(phoneRe.ReplaceAllString(s, " ")), " ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

func ptr(s string) *string { return &s }
