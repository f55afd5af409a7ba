package datetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday, mid-morning.
var fixedNow = time.Date(2026, 10, 14, 10, 15, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(time.UTC, func() time.Time { return fixedNow })
}

func TestParseDate(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		in   string
		want string
	}{
		{"today", "2026-10-14"},
		{"Tomorrow", "2026-10-15"},
		{"the day after tomorrow", "2026-10-16"},
		{"yesterday at 3pm", "2026-10-13"},
		{"next week", "2026-10-21"},
		{"friday", "2026-10-16"},
		{"next Monday", "2026-10-19"},
		{"this tuesday", "2026-10-20"},
		{"wednesday", "2026-10-21"},
		{"2026-12-25", "2026-12-25"},
		{"2026-12-25T14:30:00Z", "2026-12-25"},
		{"12/25/2026", "2026-12-25"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := n.ParseDate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Format(DateLayout))
			assert.Equal(t, 0, got.Hour())
		})
	}
}

func TestParseDateRejects(t *testing.T) {
	n := newTestNormalizer()

	for _, in := range []string{"", "someday", "2026-02-30", "13/45/2026"} {
		_, err := n.ParseDate(in)
		assert.ErrorIs(t, err, ErrUnparseableDate, in)
		assert.ErrorIs(t, err, ErrInvalidDateTime, in)
	}
}

func TestISODateRoundTrip(t *testing.T) {
	n := newTestNormalizer()
	for _, in := range []string{"2026-01-01", "2027-02-28", "2028-02-29", "2030-12-31"} {
		got, err := n.ParseDate(in)
		require.NoError(t, err)
		assert.Equal(t, in, got.Format(DateLayout))
	}
}

func TestTomorrowIgnoresTimeOfDay(t *testing.T) {
	for _, hour := range []int{0, 9, 23} {
		now := time.Date(2026, 10, 14, hour, 59, 0, 0, time.UTC)
		n := NewNormalizer(time.UTC, func() time.Time { return now })

		got, err := n.ParseDate("tomorrow")
		require.NoError(t, err)
		assert.Equal(t, "2026-10-15", got.Format(DateLayout))
	}
}

func TestParseClock(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		in   string
		want string
	}{
		{"2 PM", "14:00"},
		{"2:30pm", "14:30"},
		{"2:30 p.m.", "14:30"},
		{"12 am", "00:00"},
		{"12pm", "12:00"},
		{"9 a.m.", "09:00"},
		{"14:00", "14:00"},
		{"14:00:45", "14:00"},
		{"noon", "12:00"},
		{"midnight", "00:00"},
		{"around 3 o'clock pm", "15:00"},
		{"16", "16:00"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := n.ParseClock(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseClockRejects(t *testing.T) {
	n := newTestNormalizer()
	for _, in := range []string{"", "later", "25:00", "13 pm", "10:75"} {
		_, err := n.ParseClock(in)
		assert.ErrorIs(t, err, ErrUnparseableTime, in)
	}
}

func TestNormalize(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.Normalize("tomorrow", "2 PM")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC), got)

	got, err = n.Normalize("2026-12-25T14:30", "")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 12, 25, 14, 30, 0, 0, time.UTC), got)

	got, err = n.Normalize("today", "11:00")
	require.NoError(t, err)
	assert.Equal(t, 11, got.Hour())
}

func TestNormalizePast(t *testing.T) {
	n := newTestNormalizer()

	_, err := n.Normalize("yesterday at 3pm", "")
	assert.ErrorIs(t, err, ErrPastDateTime)
	assert.ErrorIs(t, err, ErrInvalidDateTime)

	// At or before now is past.
	_, err = n.Normalize("today", "10:15")
	assert.ErrorIs(t, err, ErrPastDateTime)
}

func TestNormalizeMissingTime(t *testing.T) {
	n := newTestNormalizer()
	_, err := n.Normalize("tomorrow", "")
	assert.ErrorIs(t, err, ErrUnparseableTime)
}

func TestNormalizeUsesClinicLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// 02:00 UTC on the 15th is still the 14th in New York.
	now := time.Date(2026, 10, 15, 2, 0, 0, 0, time.UTC)
	n := NewNormalizer(loc, func() time.Time { return now })

	got, err := n.Normalize("tomorrow", "9am")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-15 09:00", got.Format("2006-01-02 15:04"))
	assert.Equal(t, loc, got.Location())
}

func TestFindDateAndTime(t *testing.T) {
	d, ok := FindDate("Can I come in next Friday around 3:30 pm?")
	require.True(t, ok)
	assert.Equal(t, "next friday", d)

	tm, ok := FindTime("Can I come in next Friday around 3:30 pm?")
	require.True(t, ok)
	assert.Equal(t, "15:30", tm)

	_, ok = FindDate("hello there")
	assert.False(t, ok)
}

func TestNextWeekdayWraps(t *testing.T) {
	wed := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, wed.AddDate(0, 0, 7), NextWeekday(wed, time.Wednesday))
	assert.Equal(t, wed.AddDate(0, 0, 1), NextWeekday(wed, time.Thursday))
	assert.Equal(t, wed.AddDate(0, 0, 6), NextWeekday(wed, time.Tuesday))
}
