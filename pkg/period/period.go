package period

import (
	"strings"
	"time"
)

// Period is a billing period code
type Period string

const (
	Monthly   Period = "monthly"
	Quarterly Period = "quarterly"
	Biannual  Period = "biannual"
	Annual    Period = "annual"
)

// All returns every supported period in ascending length
func All() []Period {
	return []Period{Monthly, Quarterly, Biannual, Annual}
}

// Parse converts a string into a Period. The second return value is false
// for unknown codes.
func Parse(s string) (Period, bool) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

// Valid reports whether p is a known period code
func (p Period) Valid() bool {
	switch p {
	case Monthly, Quarterly, Biannual, Annual:
		return true
	}
	return false
}

// Delta returns the calendar delta of a period. Unknown codes fall back to monthly.
func Delta(p Period) (years, months int) {
	switch p {
	case Quarterly:
		return 0, 3
	case Biannual:
		return 0, 6
	case Annual:
		return 1, 0
	default:
		return 0, 1
	}
}

// Add returns t advanced by one full period. When the target month is shorter
// than the day of t, the result is clamped to the last day of that month
// (2024-01-31 + 1 month = 2024-02-29).
func Add(t time.Time, p Period) time.Time {
	years, months := Delta(p)
	return addMonths(t, years*12+months)
}

func addMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	first := time.Date(year, month+time.Month(n), 1, hour, min, sec, t.Nanosecond(), t.Location())
	if last := daysIn(first); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, min, sec, t.Nanosecond(), t.Location())
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// EndDate returns the inclusive end of a period starting at start:
// start + delta - 1 day.
func EndDate(start time.Time, p Period) time.Time {
	return Add(start, p).AddDate(0, 0, -1)
}

// EstimatedDays approximates the length of a period in days: 30 per month and
// 365 per year.
func EstimatedDays(p Period) int {
	years, months := Delta(p)
	if years > 0 {
		return 365 * years
	}
	if months > 0 {
		return 30 * months
	}
	return 30
}
