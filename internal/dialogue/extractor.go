package dialogue

import (
	"regexp"
	"strings"

	"github.com/hackgods/doctalk-booking/internal/appointment"
	"github.com/hackgods/doctalk-booking/internal/datetime"
	"github.com/hackgods/doctalk-booking/internal/doctor"
	"github.com/hackgods/doctalk-booking/internal/patient"
)

// Extractor pulls slot values out of raw utterance text.
type Extractor interface {
	Extract(text string) SlotSet
}

var nameRe = regexp.MustCompile(`(?i:\b(?:my name is|i am|i'm|this is|name is))\s+([A-Z][A-Za-z'\-]+(?:\s+[A-Z][A-Za-z'\-]+)+)`)

type alias struct {
	re   *regexp.Regexp
	name string
}

// PatternExtractor is a best-effort regex extractor over a doctor roster.
type PatternExtractor struct {
	// tiers[i] holds every doctor's i-th alias, so full names are tried
	// across the roster before any last-name-only match.
	tiers [][]alias
}

func NewPatternExtractor(roster []appointment.Doctor) *PatternExtractor {
	e := &PatternExtractor{}
	for _, doc := range roster {
		for i, a := range doctor.Aliases(doc) {
			if a == "" {
				continue
			}
			for len(e.tiers) <= i {
				e.tiers = append(e.tiers, nil)
			}
			e.tiers[i] = append(e.tiers[i], alias{
				re:   regexp.MustCompile(`\b` + regexp.QuoteMeta(a) + `\b`),
				name: doc.DisplayName(),
			})
		}
	}
	return e
}

func (e *PatternExtractor) Extract(text string) SlotSet {
	var s SlotSet
	rest := text

	if m := nameRe.FindStringSubmatchIndex(rest); m != nil {
		s.PatientName = strings.TrimSpace(rest[m[2]:m[3]])
		rest = rest[:m[2]] + " " + rest[m[3]:]
	}

	if phone := patient.MatchPhone(rest); phone != "" {
		s.Phone = phone
		rest = strings.Replace(rest, phone, " ", 1)
	}

	s.DoctorName = e.matchDoctor(strings.ToLower(rest))

	if d, ok := datetime.FindDate(rest); ok {
		s.Date = d
	}
	if t, ok := datetime.FindTime(rest); ok {
		s.Time = t
	}
	return s
}

func (e *PatternExtractor) matchDoctor(lower string) string {
	for _, tier := range e.tiers {
		for _, a := range tier {
			if a.re.MatchString(lower) {
				return a.name
			}
		}
	}
	return ""
}
