package proration

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkedDaysFixedPeriodicities(t *testing.T) {
	spans := []Window{
		{Start: Date(2025, time.February, 1), End: Date(2025, time.February, 15)},
		{Start: Date(2025, time.January, 1), End: Date(2025, time.January, 31)},
		{Start: Date(2025, time.March, 1), End: Date(2025, time.March, 3)},
		{},
	}
	for _, span := range spans {
		span.Periodicity = PeriodicityBiweekly
		assert.Equal(t, 15, WorkedDays(span))
		span.Periodicity = PeriodicityWeekly
		assert.Equal(t, 7, WorkedDays(span))
	}
}

func TestWorkedDaysMonthly(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  int
	}{
		{"january", Date(2025, time.January, 1), Date(2025, time.January, 31), 31},
		{"leap february", Date(2024, time.February, 1), Date(2024, time.February, 29), 29},
		{"february", Date(2025, time.February, 1), Date(2025, time.February, 28), 28},
		{"april", Date(2025, time.April, 1), Date(2025, time.April, 30), 30},
		{"inverted", Date(2025, time.April, 30), Date(2025, time.April, 1), FallbackWorkedDays},
		{"missing", time.Time{}, Date(2025, time.April, 1), FallbackWorkedDays},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WorkedDays(Window{Start: tt.start, End: tt.end, Periodicity: PeriodicityMonthly})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWorkedDaysFromStringsFallsBackOnGarbage(t *testing.T) {
	assert.Equal(t, 30, WorkedDaysFromStrings(PeriodicityMonthly, "not-a-date", "2025-01-31"))
	assert.Equal(t, 30, WorkedDaysFromStrings(PeriodicityMonthly, "2025-01-01", ""))
	assert.Equal(t, 29, WorkedDaysFromStrings(PeriodicityMonthly, "2024-02-01", "2024-02-29"))
	assert.Equal(t, 15, WorkedDaysFromStrings(PeriodicityBiweekly, "garbage", "garbage"))
}

func TestCalendarDaysBetween(t *testing.T) {
	got, err := CalendarDaysBetweenStrings("2025-01-15", "2025-02-15")
	require.NoError(t, err)
	assert.Equal(t, 32, got)

	assert.Equal(t, 1, CalendarDaysBetween(Date(2025, time.May, 5), Date(2025, time.May, 5)))
	assert.Equal(t, 3, CalendarDaysBetween(Date(2024, time.December, 30), Date(2025, time.January, 1)))
	assert.Equal(t, 366, CalendarDaysBetween(Date(2024, time.January, 1), Date(2024, time.December, 31)))
	assert.Equal(t, 0, CalendarDaysBetween(Date(2025, time.May, 5), Date(2025, time.May, 4)))

	_, err = CalendarDaysBetweenStrings("2025-13-01", "2025-02-15")
	require.Error(t, err)
}

func TestWindowContainsAndOverlaps(t *testing.T) {
	w := Window{Start: Date(2025, time.March, 1), End: Date(2025, time.March, 15)}
	assert.True(t, w.Contains(Date(2025, time.March, 1)))
	assert.True(t, w.Contains(time.Date(2025, time.March, 15, 23, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(Date(2025, time.March, 16)))

	next := Window{Start: Date(2025, time.March, 16), End: Date(2025, time.March, 31)}
	assert.False(t, w.Overlaps(next))
	assert.True(t, w.Overlaps(Window{Start: Date(2025, time.March, 15), End: Date(2025, time.March, 20)}))
}

func TestLegalHourlyDivisor(t *testing.T) {
	tests := []struct {
		date time.Time
		want int
	}{
		{Date(2023, time.July, 14), 240},
		{Date(2023, time.July, 15), 235},
		{Date(2024, time.July, 14), 235},
		{Date(2024, time.July, 15), 230},
		{Date(2025, time.July, 15), 220},
		{Date(2026, time.December, 1), 210},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LegalHourlyDivisor(tt.date), tt.date.Format(dateLayout))
	}
}

func TestLegalSurchargeRateProgressiveSchedule(t *testing.T) {
	tests := []struct {
		kind SurchargeKind
		date time.Time
		want string
	}{
		{SurchargeSundayHoliday, Date(2025, time.June, 30), "0.75"},
		{SurchargeSundayHoliday, Date(2025, time.July, 1), "0.8"},
		{SurchargeSundayHoliday, Date(2026, time.July, 1), "0.9"},
		{SurchargeSundayHoliday, Date(2027, time.July, 1), "1"},
		{SurchargeNight, Date(2025, time.January, 1), "0.35"},
		{SurchargeOvertimeDay, Date(2025, time.January, 1), "0.25"},
		{SurchargeSundayOvertimeNight, Date(2025, time.January, 1), "1.5"},
	}
	for _, tt := range tests {
		got, err := LegalSurchargeRate(tt.kind, tt.date)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "%s on %s: got %s", tt.kind, tt.date.Format(dateLayout), got)
	}

	_, err := LegalSurchargeRate("bogus", Date(2025, time.January, 1))
	require.Error(t, err)
}

func TestSurchargeValue(t *testing.T) {
	tables := DefaultTables()
	salary := decimal.NewFromInt(2_300_000)
	date := Date(2025, time.March, 10) // divisor 230

	overtime, err := tables.SurchargeValue(salary, decimal.NewFromInt(2), SurchargeOvertimeDay, date)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(25_000).Equal(overtime), "got %s", overtime)

	night, err := tables.SurchargeValue(salary, decimal.NewFromInt(4), SurchargeNight, date)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(14_000).Equal(night), "got %s", night)
}

func TestParsePeriodicity(t *testing.T) {
	p, err := ParsePeriodicity(" Biweekly ")
	require.NoError(t, err)
	assert.Equal(t, PeriodicityBiweekly, p)

	_, err = ParsePeriodicity("daily")
	require.Error(t, err)
}
