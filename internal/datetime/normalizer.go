// Package datetime turns spoken date and time fragments into clinic-local
// timestamps.
package datetime

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidDateTime = errors.New("invalid date or time")
	ErrUnparseableDate = fmt.Errorf("%w: unrecognized date", ErrInvalidDateTime)
	ErrUnparseableTime = fmt.Errorf("%w: unrecognized time", ErrInvalidDateTime)
	ErrPastDateTime    = fmt.Errorf("%w: requested time is in the past", ErrInvalidDateTime)
)

// Example is the corrective phrasing offered alongside a normalization failure.
const Example = `Try: "tomorrow at 2 PM" or "2026-12-25 at 14:30"`

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

var (
	isoDateRe = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	usDateRe  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	relDateRe = regexp.MustCompile(`\b(day after tomorrow|tomorrow|today|yesterday|next week)\b`)
	weekdayRe = regexp.MustCompile(`\b(?:(next|this)\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)

	meridiemRe = regexp.MustCompile(`(?:^|[^\d:])(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	clock24Re  = regexp.MustCompile(`(?:^|[^\d])(\d{1,2}):(\d{2})(?::(\d{2}))?`)
	bareHourRe = regexp.MustCompile(`^(\d{1,2})$`)
	namedTimes = regexp.MustCompile(`\b(noon|midday|midnight)\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Clock is a wall-clock time at minute precision.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On returns the clock applied to day's calendar date in day's location.
func (c Clock) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, day.Location())
}

type Normalizer struct {
	loc *time.Location
	now func() time.Time
}

// NewNormalizer resolves fragments in loc relative to now. Nil arguments
// default to UTC and time.Now.
func NewNormalizer(loc *time.Location, now func() time.Time) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{loc: loc, now: now}
}

func (n *Normalizer) Location() *time.Location { return n.loc }

// Now is the current instant in the clinic location.
func (n *Normalizer) Now() time.Time { return n.now().In(n.loc) }

// Today is midnight of the current clinic day.
func (n *Normalizer) Today() time.Time { return StartOfDay(n.Now()) }

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Normalize combines a date and a time fragment into a future timestamp.
// An empty time fragment falls back to a time embedded in the date
// fragment ("yesterday at 3pm", "2026-12-25T14:30").
func (n *Normalizer) Normalize(dateFragment, timeFragment string) (time.Time, error) {
	day, err := n.ParseDate(dateFragment)
	if err != nil {
		return time.Time{}, err
	}

	if strings.TrimSpace(timeFragment) == "" {
		timeFragment = dateFragment
	}
	clock, err := n.ParseClock(timeFragment)
	if err != nil {
		return time.Time{}, err
	}

	ts := clock.On(day)
	if !ts.After(n.Now()) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrPastDateTime, ts.Format(time.RFC3339))
	}
	return ts, nil
}

// ParseDate resolves a date fragment to midnight of that clinic day.
func (n *Normalizer) ParseDate(fragment string) (time.Time, error) {
	s := clean(fragment)
	if s == "" {
		return time.Time{}, ErrUnparseableDate
	}
	today := n.Today()

	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		return n.calendarDate(m[1], m[2], m[3], fragment)
	}
	if m := usDateRe.FindStringSubmatch(s); m != nil {
		return n.calendarDate(m[3], m[1], m[2], fragment)
	}
	if m := relDateRe.FindStringSubmatch(s); m != nil {
		switch m[1] {
		case "today":
			return today, nil
		case "tomorrow":
			return today.AddDate(0, 0, 1), nil
		case "day after tomorrow":
			return today.AddDate(0, 0, 2), nil
		case "yesterday":
			return today.AddDate(0, 0, -1), nil
		case "next week":
			return today.AddDate(0, 0, 7), nil
		}
	}
	if m := weekdayRe.FindStringSubmatch(s); m != nil {
		return NextWeekday(today, weekdays[m[2]]), nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableDate, fragment)
}

// NextWeekday returns the first day strictly after today falling on wd.
func NextWeekday(today time.Time, wd time.Weekday) time.Time {
	ahead := (int(wd) - int(today.Weekday()) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	return today.AddDate(0, 0, ahead)
}

func (n *Normalizer) calendarDate(year, month, day, fragment string) (time.Time, error) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)

	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, n.loc)
	// time.Date normalizes overflow; reject anything that moved.
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableDate, fragment)
	}
	return t, nil
}

// ParseClock reads a 12-hour, 24-hour or named time of day.
func (n *Normalizer) ParseClock(fragment string) (Clock, error) {
	c, ok := FindClock(fragment)
	if !ok {
		return Clock{}, fmt.Errorf("%w: %q", ErrUnparseableTime, fragment)
	}
	return c, nil
}

// FindClock extracts the first time of day mentioned in text.
func FindClock(text string) (Clock, bool) {
	s := clean(text)
	if s == "" {
		return Clock{}, false
	}

	if m := meridiemRe.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour >= 1 && hour <= 12 && minute <= 59 {
			switch {
			case m[3] == "pm" && hour != 12:
				hour += 12
			case m[3] == "am" && hour == 12:
				hour = 0
			}
			return Clock{Hour: hour, Minute: minute}, true
		}
	}

	if m := clock24Re.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return Clock{}, false
		}
		return Clock{Hour: hour, Minute: minute}, true
	}

	if m := namedTimes.FindStringSubmatch(s); m != nil {
		if m[1] == "midnight" {
			return Clock{}, true
		}
		return Clock{Hour: 12}, true
	}

	if m := bareHourRe.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		if hour <= 23 {
			return Clock{Hour: hour}, true
		}
	}

	return Clock{}, false
}

// FindDate returns the first date expression in text, as written.
func FindDate(text string) (string, bool) {
	s := clean(text)
	for _, re := range []*regexp.Regexp{isoDateRe, usDateRe, relDateRe, weekdayRe} {
		if m := re.FindString(s); m != "" {
			return m, true
		}
	}
	return "", false
}

// FindTime returns the first time expression in text, normalized to HH:MM.
func FindTime(text string) (string, bool) {
	c, ok := FindClock(text)
	if !ok {
		return "", false
	}
	return c.String(), true
}

// Describe renders ts for a spoken confirmation.
func Describe(ts time.Time) string {
	return ts.Format("Monday, January 2, 2006 at 3:04 PM")
}

func clean(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("p.m.", "pm", "a.m.", "am", "p.m", "pm", "a.m", "am", "o'clock", "").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
