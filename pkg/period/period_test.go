package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestEndDate(t *testing.T) {
	tests := []struct {
		name   string
		start  time.Time
		period Period
		want   time.Time
	}{
		{"monthly", date(2024, time.January, 10), Monthly, date(2024, time.February, 9)},
		{"quarterly", date(2024, time.January, 10), Quarterly, date(2024, time.April, 9)},
		{"biannual", date(2024, time.January, 10), Biannual, date(2024, time.July, 9)},
		{"annual", date(2024, time.January, 10), Annual, date(2025, time.January, 9)},
		{"unknown falls back to monthly", date(2024, time.January, 10), Period("weekly"), date(2024, time.February, 9)},
		{"month end clamps in leap year", date(2024, time.January, 31), Monthly, date(2024, time.February, 28)},
		{"month end clamps", date(2023, time.January, 31), Monthly, date(2023, time.February, 27)},
		{"leap day annual", date(2024, time.February, 29), Annual, date(2025, time.February, 27)},
		{"year rollover", date(2024, time.December, 15), Monthly, date(2025, time.January, 14)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EndDate(tt.start, tt.period)
			assert.Equal(t, tt.want, got)
			// Pure: a second call yields the same value
			assert.Equal(t, got, EndDate(tt.start, tt.period))
		})
	}
}

func TestEndDate_PreservesClockAndLocation(t *testing.T) {
	loc := time.FixedZone("WAT", 3600)
	start := time.Date(2024, time.March, 1, 23, 15, 0, 0, loc)

	got := EndDate(start, Monthly)
	assert.Equal(t, time.Date(2024, time.March, 31, 23, 15, 0, 0, loc), got)
}

func TestDelta(t *testing.T) {
	years, months := Delta(Annual)
	assert.Equal(t, 1, years)
	assert.Equal(t, 0, months)

	years, months = Delta(Period(""))
	assert.Equal(t, 0, years)
	assert.Equal(t, 1, months)
}

func TestEstimatedDays(t *testing.T) {
	assert.Equal(t, 30, EstimatedDays(Monthly))
	assert.Equal(t, 90, EstimatedDays(Quarterly))
	assert.Equal(t, 180, EstimatedDays(Biannual))
	assert.Equal(t, 365, EstimatedDays(Annual))
	assert.Equal(t, 30, EstimatedDays(Period("bogus")))
}

func TestParse(t *testing.T) {
	p, ok := Parse(" Quarterly ")
	assert.True(t, ok)
	assert.Equal(t, Quarterly, p)

	_, ok = Parse("fortnightly")
	assert.False(t, ok)
}
